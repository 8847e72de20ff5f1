// Package certexchange distributes certificates over password-authenticated
// sessions. The server accepts stream connections, runs a SPEKE handshake
// on each, and answers authenticated requests: certify a CSR, or confirm
// that the client's cached root certificate hash still matches the CA.
package certexchange

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/larmo-project/larmo/core/session"
	"github.com/larmo-project/larmo/crypto/bignum"
	"github.com/larmo-project/larmo/crypto/certs"
	"github.com/larmo-project/larmo/crypto/speke"
	"github.com/larmo-project/larmo/internal/logger"
	"github.com/larmo-project/larmo/internal/metrics"
)

// ServerID is the SPEKE identifier the server presents to every client.
const ServerID = "server"

// DefaultValidityDays is the validity of certificates issued over the
// exchange.
const DefaultValidityDays = 365

// ErrServerRunning rejects a second Start.
var ErrServerRunning = errors.New("cert exchange server already running")

// Server listens on a TCP or unix stream endpoint and serves certificate
// exchange sessions.
type Server struct {
	network  string
	address  string
	password string
	ca       *certs.CertificateAuthority
	caHash   []byte

	prime        *bignum.BigNum
	registry     *speke.Registry
	validityDays int
	maxFrame     uint64
	log          logger.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	sessions []*session.Session

	group errgroup.Group
}

// ServerOption adjusts server construction.
type ServerOption func(*Server)

// WithSafePrime overrides the exchange modulus; tests use a small prime to
// stay fast.
func WithSafePrime(p *bignum.BigNum) ServerOption {
	return func(s *Server) { s.prime = p }
}

// WithValidityDays overrides the issued certificate validity.
func WithValidityDays(days int) ServerOption {
	return func(s *Server) { s.validityDays = days }
}

// WithMaxFrameSize overrides the per-session frame cap.
func WithMaxFrameSize(n uint64) ServerOption {
	return func(s *Server) { s.maxFrame = n }
}

// WithLogger overrides the default logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer creates a server for the given endpoint. The network is "tcp"
// or "unix"; the protocol is identical on both.
func NewServer(network, address, password string, ca *certs.CertificateAuthority, opts ...ServerOption) (*Server, error) {
	caHash, err := ca.RootCertificate().GetHash()
	if err != nil {
		return nil, fmt.Errorf("hashing root certificate: %w", err)
	}

	s := &Server{
		network:      network,
		address:      address,
		password:     password,
		ca:           ca,
		caHash:       caHash,
		prime:        speke.SafePrime,
		registry:     speke.NewRegistry(),
		validityDays: DefaultValidityDays,
		maxFrame:     session.DefaultMaxFrameSize,
		log:          logger.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the bound listener address; useful when the configured
// address had port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the endpoint and begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerRunning
	}

	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		return fmt.Errorf("binding %s endpoint %s: %w", s.network, s.address, err)
	}
	s.listener = ln
	s.running = true

	s.group.Go(func() error {
		s.acceptLoop(ln)
		return nil
	})

	s.log.Info("cert exchange server started",
		logger.String("network", s.network),
		logger.String("address", ln.Addr().String()))
	return nil
}

// Stop closes the listener and every live session, then waits for the
// accept loop to exit. It is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ln := s.listener
	sessions := s.sessions
	s.sessions = nil
	s.mu.Unlock()

	ln.Close()
	for _, sess := range sessions {
		sess.Close(session.Stopped)
		metrics.SessionsClosed.WithLabelValues(sess.State().String()).Inc()
	}
	metrics.SessionsActive.Set(0)
	s.group.Wait()

	s.log.Info("cert exchange server stopped")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.log.Error("accepting connection", logger.Error(err))
			}
			return
		}

		sp, err := speke.NewWithRegistry(ServerID, s.password, s.prime, s.registry)
		if err != nil {
			s.log.Error("constructing speke state", logger.Error(err))
			conn.Close()
			continue
		}

		sess := session.NewSession(conn, sp, session.WithMaxFrameSize(s.maxFrame))

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			sess.Close(session.Stopped)
			return
		}
		s.sessions = append(s.sessions, sess)
		s.sweepLocked()
		metrics.SessionsAccepted.Inc()
		metrics.SessionsActive.Set(float64(len(s.sessions)))
		s.mu.Unlock()

		if err := sess.Run(func(msg []byte) { s.handleMessage(msg, sess) }); err != nil {
			s.log.Error("starting session", logger.Error(err))
		}
	}
}

// sweepLocked drops sessions that reached a terminal state. Callers hold
// s.mu.
func (s *Server) sweepLocked() {
	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		st := sess.State()
		if st.IsTerminal() {
			metrics.SessionsClosed.WithLabelValues(st.String()).Inc()
			continue
		}
		kept = append(kept, sess)
	}
	s.sessions = kept
}

// handleMessage answers one authenticated request. Failures become error
// codes, not disconnections, so a client can tell a bad request from a bad
// session.
func (s *Server) handleMessage(raw []byte, sess *session.Session) {
	var out CertServerMessage

	msg, err := UnmarshalClientMessage(raw)
	switch {
	case err != nil || (msg.CertRequest == nil && msg.ConfirmRequest == nil):
		code := ErrorCodeUnknownRequest
		out.ErrorCode = &code
		metrics.RequestErrors.WithLabelValues(strconv.Itoa(int(code))).Inc()
	case msg.CertRequest != nil:
		bundle, err := s.certify(msg.CertRequest.Request)
		if err != nil {
			s.log.Warn("certificate request rejected", logger.Error(err))
			code := ErrorCodeCertification
			out.ErrorCode = &code
			metrics.RequestErrors.WithLabelValues(strconv.Itoa(int(code))).Inc()
		} else {
			out.CertBundle = bundle
			metrics.CertificatesIssued.Inc()
		}
	case msg.ConfirmRequest != nil:
		match := bytes.Equal(msg.ConfirmRequest.CertHash, s.caHash)
		out.ConfirmResponse = &ConfirmResponse{Response: match}
		metrics.ConfirmRequests.WithLabelValues(strconv.FormatBool(match)).Inc()
	}

	if err := sess.SendMessage(out.Marshal()); err != nil {
		// a session that closed mid-reply is not worth logging
		if sess.State() == session.Running {
			s.log.Error("sending exchange response", logger.Error(err))
		}
	}
}

func (s *Server) certify(requestDER []byte) (*CertBundle, error) {
	req, err := certs.RequestFromDER(requestDER)
	if err != nil {
		return nil, err
	}
	cert, err := s.ca.Certify(req, s.validityDays)
	if err != nil {
		return nil, err
	}
	clientDER, err := cert.ToDer()
	if err != nil {
		return nil, err
	}
	rootDER, err := s.ca.RootCertificate().ToDer()
	if err != nil {
		return nil, err
	}
	return &CertBundle{RootCert: rootDER, ClientCert: clientDER}, nil
}
