package certexchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/larmo-project/larmo/core/session"
	"github.com/larmo-project/larmo/crypto/bignum"
	"github.com/larmo-project/larmo/crypto/certs"
	"github.com/larmo-project/larmo/crypto/keys"
	"github.com/larmo-project/larmo/crypto/speke"
	"github.com/larmo-project/larmo/internal/logger"
)

// Common errors
var (
	ErrCertificationFailed = errors.New("server could not certify the request")
	ErrRequestRejected     = errors.New("server rejected the request")
	ErrUnexpectedResponse  = errors.New("unexpected server response")
	ErrBundleInvalid       = errors.New("issued certificate does not verify against the root")
)

// Bundle is the result of a certificate request: the CA root and the
// freshly issued client certificate, already cross-verified.
type Bundle struct {
	Root   *certs.Certificate
	Client *certs.Certificate
}

// Client obtains certificates from a Server over password-authenticated
// sessions. Each operation dials a fresh connection.
type Client struct {
	network  string
	address  string
	password string

	prime    *bignum.BigNum
	maxFrame uint64
	log      logger.Logger
}

// ClientOption adjusts client construction.
type ClientOption func(*Client)

// WithClientSafePrime overrides the exchange modulus.
func WithClientSafePrime(p *bignum.BigNum) ClientOption {
	return func(c *Client) { c.prime = p }
}

// WithClientMaxFrameSize overrides the frame cap.
func WithClientMaxFrameSize(n uint64) ClientOption {
	return func(c *Client) { c.maxFrame = n }
}

// WithClientLogger overrides the default logger.
func WithClientLogger(log logger.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the given endpoint; the network is "tcp"
// or "unix".
func NewClient(network, address, password string, opts ...ClientOption) *Client {
	c := &Client{
		network:  network,
		address:  address,
		password: password,
		prime:    speke.SafePrime,
		maxFrame: session.DefaultMaxFrameSize,
		log:      logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObtainCertificate builds a CSR for the key pair, sends it over an
// authenticated session, and returns the issued bundle.
func (c *Client) ObtainCertificate(ctx context.Context, kp *keys.KeyPair, name certs.Name) (*Bundle, error) {
	req, err := certs.NewRequest(kp, name)
	if err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(ctx, &CertClientMessage{
		CertRequest: &CertRequest{Request: req.ToDER()},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.ErrorCode != nil && *resp.ErrorCode == ErrorCodeCertification:
		return nil, ErrCertificationFailed
	case resp.ErrorCode != nil:
		return nil, fmt.Errorf("%w: error code %d", ErrRequestRejected, *resp.ErrorCode)
	case resp.CertBundle == nil:
		return nil, ErrUnexpectedResponse
	}

	root, err := certs.FromDer(resp.CertBundle.RootCert)
	if err != nil {
		return nil, fmt.Errorf("parsing root certificate: %w", err)
	}
	client, err := certs.FromDer(resp.CertBundle.ClientCert)
	if err != nil {
		return nil, fmt.Errorf("parsing client certificate: %w", err)
	}

	ok, err := client.VerifyIssuedBy(root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBundleInvalid
	}
	return &Bundle{Root: root, Client: client}, nil
}

// ConfirmRootHash asks the server whether hash matches its root
// certificate.
func (c *Client) ConfirmRootHash(ctx context.Context, hash []byte) (bool, error) {
	resp, err := c.roundTrip(ctx, &CertClientMessage{
		ConfirmRequest: &ConfirmRequest{CertHash: hash},
	})
	if err != nil {
		return false, err
	}
	if resp.ConfirmResponse == nil {
		return false, ErrUnexpectedResponse
	}
	return resp.ConfirmResponse.Response, nil
}

// roundTrip dials, authenticates, sends one request and waits for one
// response.
func (c *Client) roundTrip(ctx context.Context, msg *CertClientMessage) (*CertServerMessage, error) {
	sess, responses, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close(session.Stopped)

	if err := c.awaitConfirmed(ctx, sess); err != nil {
		return nil, err
	}
	if err := sess.SendMessage(msg.Marshal()); err != nil {
		return nil, err
	}

	select {
	case resp := <-responses:
		return resp, nil
	case <-sess.Done():
		return nil, fmt.Errorf("session closed while waiting for response: %s", sess.State())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) connect(ctx context.Context) (*session.Session, <-chan *CertServerMessage, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s endpoint %s: %w", c.network, c.address, err)
	}

	// A fresh identifier and registry per connection: the server counts
	// this identifier for the first time, so both sides stamp the exchange
	// with counter value 1.
	sp, err := speke.NewWithRegistry("client-"+uuid.NewString(), c.password, c.prime, speke.NewRegistry())
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	sess := session.NewSession(conn, sp, session.WithMaxFrameSize(c.maxFrame))
	responses := make(chan *CertServerMessage, 4)

	err = sess.Run(func(raw []byte) {
		resp, err := UnmarshalServerMessage(raw)
		if err != nil {
			c.log.Warn("discarding undecodable server response", logger.Error(err))
			return
		}
		select {
		case responses <- resp:
		default:
		}
	})
	if err != nil {
		sess.Close(session.StoppedError)
		return nil, nil, err
	}
	return sess, responses, nil
}

func (c *Client) awaitConfirmed(ctx context.Context, sess *session.Session) error {
	select {
	case <-sess.Confirmed():
		return nil
	case <-sess.Done():
		return fmt.Errorf("session closed during handshake: %s", sess.State())
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for key confirmation")
	}
}
