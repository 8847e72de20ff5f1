package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larmo-project/larmo/crypto/bignum"
	"github.com/larmo-project/larmo/crypto/speke"
)

var testPrime = bignum.FromUint64(2692367)

func newSpeke(t *testing.T, id, password string, reg *speke.Registry) *speke.SPEKE {
	t.Helper()
	sp, err := speke.NewWithRegistry(id, password, testPrime, reg)
	require.NoError(t, err)
	return sp
}

// tcpPair returns two ends of a loopback TCP connection. Unlike net.Pipe
// it buffers writes, so both peers can send at once the way they do over a
// real socket.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- accepted{conn, err}
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	acc := <-ch
	require.NoError(t, acc.err)
	return dialed, acc.conn
}

func newSessionPair(t *testing.T, passwordA, passwordB string) (*Session, *Session) {
	t.Helper()
	reg := speke.NewRegistry()
	connA, connB := tcpPair(t)
	a := NewSession(connA, newSpeke(t, "a", passwordA, reg))
	b := NewSession(connB, newSpeke(t, "b", passwordB, reg))
	t.Cleanup(func() {
		a.Close(Stopped)
		b.Close(Stopped)
	})
	return a, b
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond,
		"state did not reach %v (was %v when waiting began)", want, s.State())
}

// waitAuthenticated polls SendMessage until key confirmation completes.
func waitAuthenticated(t *testing.T, s *Session, probe []byte) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.SendMessage(probe) == nil
	}, 2*time.Second, 5*time.Millisecond)
}

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recorder) handle(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, data)
}

func (r *recorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

func TestSessionHandshakeAndExchange(t *testing.T) {
	a, b := newSessionPair(t, "pw", "pw")

	var recA, recB recorder
	require.NoError(t, a.Run(recA.handle))
	require.NoError(t, b.Run(recB.handle))

	waitAuthenticated(t, a, []byte("probe"))

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range msgs {
		require.NoError(t, a.SendMessage(m))
	}

	require.Eventually(t, func() bool { return len(recB.snapshot()) >= 4 },
		2*time.Second, 5*time.Millisecond)
	got := recB.snapshot()
	assert.Equal(t, [][]byte{[]byte("probe"), []byte("one"), []byte("two"), []byte("three")}, got)
}

func TestSessionQueuesUntilHandlerInstalled(t *testing.T) {
	a, b := newSessionPair(t, "pw", "pw")

	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))

	waitAuthenticated(t, b, []byte("first"))
	require.NoError(t, b.SendMessage([]byte("second")))

	// give the frames time to arrive and queue
	time.Sleep(50 * time.Millisecond)

	var rec recorder
	a.SetMessageHandler(rec.handle)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, rec.snapshot())
}

func TestSessionKeyConfirmationFailure(t *testing.T) {
	a, b := newSessionPair(t, "pw1", "pw2")

	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))

	waitState(t, a, StoppedKeyConfirmationFailed)
	waitState(t, b, StoppedKeyConfirmationFailed)
}

func TestSendBeforeAuthentication(t *testing.T) {
	reg := speke.NewRegistry()
	connA, connB := tcpPair(t)
	defer connB.Close()
	s := NewSession(connA, newSpeke(t, "a", "pw", reg))
	defer s.Close(Stopped)

	assert.ErrorIs(t, s.SendMessage([]byte("early")), ErrSessionClosed)

	require.NoError(t, s.Run(nil))
	assert.ErrorIs(t, s.SendMessage([]byte("early")), ErrNotAuthenticated)
}

func TestSendAfterClose(t *testing.T) {
	a, b := newSessionPair(t, "pw", "pw")
	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))
	waitAuthenticated(t, a, []byte("probe"))

	a.Close(Stopped)
	assert.Equal(t, Stopped, a.State())
	assert.ErrorIs(t, a.SendMessage([]byte("late")), ErrSessionClosed)
}

func TestSessionPeerDisconnect(t *testing.T) {
	a, b := newSessionPair(t, "pw", "pw")
	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))
	waitAuthenticated(t, a, []byte("probe"))

	b.Close(Stopped)
	waitState(t, a, StoppedPeerDisconnected)
}

func TestSessionRunTwice(t *testing.T) {
	a, b := newSessionPair(t, "pw", "pw")
	require.NoError(t, a.Run(nil))
	require.NoError(t, b.Run(nil))
	assert.ErrorIs(t, a.Run(nil), ErrAlreadyStarted)
}

func TestOversizedFrameClosesImmediately(t *testing.T) {
	reg := speke.NewRegistry()
	connA, raw := net.Pipe()
	s := NewSession(connA, newSpeke(t, "a", "pw", reg))
	defer s.Close(Stopped)
	go drain(raw)
	require.NoError(t, s.Run(nil))

	hdr := []byte{0, 0, 0, 0, 0, 0, 0, 0x7f} // huge little-endian length
	_, err := raw.Write(hdr)
	require.NoError(t, err)

	waitState(t, s, StoppedPeerBadBehavior)
}

func TestGarbageFramesAccrueBadBehavior(t *testing.T) {
	reg := speke.NewRegistry()
	connA, raw := net.Pipe()
	s := NewSession(connA, newSpeke(t, "a", "pw", reg))
	defer s.Close(Stopped)
	go drain(raw)
	require.NoError(t, s.Run(nil))

	for i := 0; i < BadBehaviorLimit; i++ {
		require.NoError(t, writeFrame(raw, []byte{0xff, 0x00, 0x13}))
	}
	waitState(t, s, StoppedPeerBadBehavior)
}

func TestDuplicateInitDataCountsAsBadBehavior(t *testing.T) {
	reg := speke.NewRegistry()
	connA, raw := net.Pipe()
	s := NewSession(connA, newSpeke(t, "a", "pw", reg))
	defer s.Close(Stopped)

	peer := newSpeke(t, "b", "pw", reg)
	go drain(raw)
	require.NoError(t, s.Run(nil))

	init := &Message{InitData: &InitData{ID: peer.ID(), PublicKey: peer.PublicKey()}}
	require.NoError(t, writeFrame(raw, init.Marshal()))
	// two duplicates plus one garbage frame reach the limit
	require.NoError(t, writeFrame(raw, init.Marshal()))
	require.NoError(t, writeFrame(raw, init.Marshal()))
	require.NoError(t, writeFrame(raw, []byte{0xff}))

	waitState(t, s, StoppedPeerBadBehavior)
}

func TestInvalidPublicKeyStopsSession(t *testing.T) {
	reg := speke.NewRegistry()
	connA, raw := net.Pipe()
	s := NewSession(connA, newSpeke(t, "a", "pw", reg))
	defer s.Close(Stopped)
	go drain(raw)
	require.NoError(t, s.Run(nil))

	init := &Message{InitData: &InitData{ID: "b", PublicKey: bignum.FromUint64(1).Bytes()}}
	require.NoError(t, writeFrame(raw, init.Marshal()))

	waitState(t, s, StoppedPeerPublicKeyOrIDInvalid)
}

func TestTamperedSignedDataIsNotDelivered(t *testing.T) {
	reg := speke.NewRegistry()
	connA, raw := net.Pipe()
	s := NewSession(connA, newSpeke(t, "a", "pw", reg))
	defer s.Close(Stopped)

	// Run blocks on the synchronous pipe until runRawHandshake reads the
	// opening InitData
	var rec recorder
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(rec.handle) }()

	peer := newSpeke(t, "b", "pw", reg)
	runRawHandshake(t, raw, peer)
	require.NoError(t, <-runErr)

	// three frames with zeroed HMACs: nothing delivered, session closed
	for i := 0; i < BadBehaviorLimit; i++ {
		sd := &Message{SignedData: &SignedData{
			Data:          []byte("forged"),
			HmacSignature: make([]byte, 64),
		}}
		require.NoError(t, writeFrame(raw, sd.Marshal()))
	}

	waitState(t, s, StoppedPeerBadBehavior)
	assert.Empty(t, rec.snapshot())
}

// runRawHandshake drives the peer half of the handshake by hand over a raw
// connection, leaving the Session authenticated.
func runRawHandshake(t *testing.T, raw net.Conn, peer *speke.SPEKE) {
	t.Helper()

	// session's opening InitData
	payload, err := readFrame(raw, DefaultMaxFrameSize)
	require.NoError(t, err)
	msg, err := UnmarshalMessage(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.InitData)
	require.NoError(t, peer.ProvideRemotePublicKeyIDPair(msg.InitData.PublicKey, msg.InitData.ID))

	// our InitData; the session answers with its key confirmation
	init := &Message{InitData: &InitData{ID: peer.ID(), PublicKey: peer.PublicKey()}}
	require.NoError(t, writeFrame(raw, init.Marshal()))

	payload, err = readFrame(raw, DefaultMaxFrameSize)
	require.NoError(t, err)
	msg, err = UnmarshalMessage(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.KeyConfirmation)
	ok, err := peer.ConfirmKey(msg.KeyConfirmation.Data)
	require.NoError(t, err)
	require.True(t, ok)

	kcd, err := peer.KeyConfirmationData()
	require.NoError(t, err)
	require.NoError(t, writeFrame(raw, (&Message{KeyConfirmation: &KeyConfirmation{Data: kcd}}).Marshal()))
}

// drain discards whatever the session writes so its sends never block on
// the synchronous pipe.
func drain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
