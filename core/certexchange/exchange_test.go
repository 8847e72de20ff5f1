package certexchange

import (
	"context"
	"crypto/rand"
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larmo-project/larmo/crypto/bignum"
	"github.com/larmo-project/larmo/crypto/certs"
	"github.com/larmo-project/larmo/crypto/keys"
)

var testPrime = bignum.FromUint64(2692367)

const testPassword = "correct horse"

func newTestCA(t *testing.T) *certs.CertificateAuthority {
	t.Helper()
	kp, err := keys.Generate(keys.Ed25519())
	require.NoError(t, err)
	ca, err := certs.NewAuthority(certs.CommonName("LarmoCN"), kp, certs.DefaultRootDays)
	require.NoError(t, err)
	return ca
}

func startServer(t *testing.T, ca *certs.CertificateAuthority) *Server {
	t.Helper()
	srv, err := NewServer("tcp", "127.0.0.1:0", testPassword, ca, WithSafePrime(testPrime))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func newTestClient(t *testing.T, srv *Server, password string) *Client {
	t.Helper()
	addr := srv.Addr()
	require.NotNil(t, addr)
	return NewClient("tcp", addr.String(), password, WithClientSafePrime(testPrime))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestObtainCertificate(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)
	client := newTestClient(t, srv, testPassword)

	clientKP, err := keys.Generate(keys.Ed25519())
	require.NoError(t, err)

	bundle, err := client.ObtainCertificate(testContext(t), clientKP, certs.CommonName("client"))
	require.NoError(t, err)

	ok, err := bundle.Client.Verify(ca.KeyPair())
	require.NoError(t, err)
	assert.True(t, ok)

	cn, _ := bundle.Client.GetSubjectName().Get("CN")
	assert.Equal(t, "client", cn)
	issuerCN, _ := bundle.Client.GetIssuerName().Get("CN")
	assert.Equal(t, "LarmoCN", issuerCN)

	wantHash, err := ca.RootCertificate().GetHash()
	require.NoError(t, err)
	gotHash, err := bundle.Root.GetHash()
	require.NoError(t, err)
	assert.Equal(t, wantHash, gotHash)
}

func TestConfirmRootHash(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)
	client := newTestClient(t, srv, testPassword)

	hash, err := ca.RootCertificate().GetHash()
	require.NoError(t, err)

	match, err := client.ConfirmRootHash(testContext(t), hash)
	require.NoError(t, err)
	assert.True(t, match)

	bogus := make([]byte, 32)
	_, err = rand.Read(bogus)
	require.NoError(t, err)
	match, err = client.ConfirmRootHash(testContext(t), bogus)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestWrongPasswordFailsHandshake(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)
	client := newTestClient(t, srv, "wrong password")

	clientKP, err := keys.Generate(keys.Ed25519())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.ObtainCertificate(ctx, clientKP, certs.CommonName("client"))
	assert.Error(t, err)
}

func TestMalformedCSRGetsErrorCode(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)
	client := newTestClient(t, srv, testPassword)

	resp, err := client.roundTrip(testContext(t), &CertClientMessage{
		CertRequest: &CertRequest{Request: []byte("not a csr")},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, ErrorCodeCertification, *resp.ErrorCode)
}

func TestUnknownRequestGetsErrorCode(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)
	client := newTestClient(t, srv, testPassword)

	resp, err := client.roundTrip(testContext(t), &CertClientMessage{})
	require.NoError(t, err)
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, ErrorCodeUnknownRequest, *resp.ErrorCode)
}

func TestUnixEndpoint(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not available")
	}
	ca := newTestCA(t)
	sock := filepath.Join(t.TempDir(), "larmo.sock")

	srv, err := NewServer("unix", sock, testPassword, ca, WithSafePrime(testPrime))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	client := NewClient("unix", sock, testPassword, WithClientSafePrime(testPrime))
	hash, err := ca.RootCertificate().GetHash()
	require.NoError(t, err)
	match, err := client.ConfirmRootHash(testContext(t), hash)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestServerStopIsIdempotent(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)

	// a connected client keeps a session alive through Stop
	addr := srv.Addr()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	srv.Stop()
	srv.Stop()

	require.NoError(t, srv.Start()) // restart on a fresh port is allowed
	srv.Stop()
}

func TestServeSequentialClients(t *testing.T) {
	ca := newTestCA(t)
	srv := startServer(t, ca)
	client := newTestClient(t, srv, testPassword)

	for i := 0; i < 3; i++ {
		kp, err := keys.Generate(keys.Ed25519())
		require.NoError(t, err)
		bundle, err := client.ObtainCertificate(testContext(t), kp, certs.CommonName("client"))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), bundle.Client.SerialNumber().Int64())
	}
}
