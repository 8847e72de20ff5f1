// Package session drives a SPEKE exchange over a connected stream. A
// Session frames messages with an 8-byte little-endian length prefix,
// feeds handshake messages to its SPEKE instance, accounts for peer
// misbehavior, and delivers authenticated application plaintext to a
// message handler in strict arrival order.
package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/larmo-project/larmo/crypto/speke"
)

// BadBehaviorLimit is the number of malformed or unverifiable frames a
// peer may send before the session closes.
const BadBehaviorLimit = 3

// Common errors
var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrNotAuthenticated = errors.New("key confirmation not completed")
)

// MessageHandler receives authenticated application plaintext. The HMAC
// signature is already verified when the handler runs. A session never
// invokes its handler concurrently with itself.
type MessageHandler func(data []byte)

// Session owns one connection and one SPEKE instance. All exported
// methods are safe for concurrent use.
type Session struct {
	conn     net.Conn
	speke    *speke.SPEKE
	maxFrame uint64

	mu             sync.Mutex
	state          State
	badBehavior    int
	remoteProvided bool
	confirmed      bool
	confirmedCh    chan struct{}
	done           chan struct{}

	writeMu sync.Mutex

	// deliverMu serializes handler invocation and queue draining so
	// delivery stays FIFO even across SetMessageHandler.
	deliverMu sync.Mutex
	handlerMu sync.Mutex
	handler   MessageHandler
	queue     [][]byte
}

// Option adjusts session construction.
type Option func(*Session)

// WithMaxFrameSize overrides the frame length cap.
func WithMaxFrameSize(n uint64) Option {
	return func(s *Session) { s.maxFrame = n }
}

// NewSession wraps an already connected stream and an already constructed
// SPEKE instance. The session takes ownership of both.
func NewSession(conn net.Conn, sp *speke.SPEKE, opts ...Option) *Session {
	s := &Session{
		conn:        conn,
		speke:       sp,
		maxFrame:    DefaultMaxFrameSize,
		state:       Idle,
		confirmedCh: make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run installs the handler, sends the opening InitData and starts the
// read loop. It may be called once.
func (s *Session) Run(handler MessageHandler) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = Running
	s.mu.Unlock()

	s.SetMessageHandler(handler)

	init := &Message{InitData: &InitData{
		ID:        s.speke.ID(),
		PublicKey: s.speke.PublicKey(),
	}}

	// Hold the write lock across starting the read loop so the opening
	// InitData cannot be overtaken by a KeyConfirmation written from the
	// loop.
	s.writeMu.Lock()
	go s.readLoop()
	err := writeFrame(s.conn, init.Marshal())
	s.writeMu.Unlock()

	if err != nil {
		s.Close(StoppedError)
		return err
	}
	return nil
}

// SetMessageHandler installs (or replaces) the message handler and drains
// any plaintext queued while no handler was set, in arrival order.
func (s *Session) SetMessageHandler(handler MessageHandler) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.handlerMu.Lock()
	s.handler = handler
	queued := s.queue
	s.queue = nil
	s.handlerMu.Unlock()

	if handler == nil {
		return
	}
	for _, m := range queued {
		handler(m)
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Confirmed returns a channel closed once the peer's key-confirmation tag
// has been verified.
func (s *Session) Confirmed() <-chan struct{} {
	return s.confirmedCh
}

// Done returns a channel closed when the read loop has exited and the
// session is terminal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendMessage authenticates data under the shared key and writes it as a
// SignedData frame. It fails with ErrNotAuthenticated before the peers
// confirmed their keys and with ErrSessionClosed on a terminal session.
func (s *Session) SendMessage(data []byte) error {
	s.mu.Lock()
	switch {
	case s.state.IsTerminal() || s.state == Idle:
		s.mu.Unlock()
		return ErrSessionClosed
	case !s.confirmed:
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.mu.Unlock()

	sig, err := s.speke.HmacSign(data)
	if err != nil {
		return err
	}
	return s.writeMessage(&Message{SignedData: &SignedData{
		Data:          data,
		HmacSignature: sig,
	}})
}

// Close stops the session, leaving it in the given terminal state. It is
// idempotent; when it returns, the read loop has exited, the secrets are
// wiped, and no further handler invocations will occur. Close must not be
// called from the session's own message handler.
func (s *Session) Close(state State) {
	if !state.IsTerminal() {
		state = Stopped
	}

	s.mu.Lock()
	wasIdle := s.state == Idle
	if !s.state.IsTerminal() {
		s.state = state
	}
	s.mu.Unlock()

	s.conn.Close()
	if wasIdle {
		// no read loop to wait for
		s.speke.Wipe()
		close(s.done)
		return
	}
	<-s.done
}

func (s *Session) readLoop() {
	defer close(s.done)
	// the read loop is the last user of the SPEKE state; wipe on the way
	// out, after no handler can run anymore
	defer s.speke.Wipe()

	for {
		payload, err := readFrame(s.conn, s.maxFrame)
		if err != nil {
			s.finish(readErrorState(err))
			return
		}

		msg, err := UnmarshalMessage(payload)
		if err != nil {
			if s.tick() {
				return
			}
			continue
		}

		if !s.dispatch(msg) {
			return
		}
	}
}

// dispatch handles one decoded message; it reports false when the session
// has reached a terminal state.
func (s *Session) dispatch(msg *Message) bool {
	switch {
	case msg.InitData != nil:
		return s.handleInitData(msg.InitData)
	case msg.KeyConfirmation != nil:
		return s.handleKeyConfirmation(msg.KeyConfirmation)
	case msg.SignedData != nil:
		return s.handleSignedData(msg.SignedData)
	}
	return !s.tick()
}

func (s *Session) handleInitData(init *InitData) bool {
	s.mu.Lock()
	duplicate := s.remoteProvided
	s.mu.Unlock()
	if duplicate {
		return !s.tick()
	}

	err := s.speke.ProvideRemotePublicKeyIDPair(init.PublicKey, init.ID)
	switch {
	case errors.Is(err, speke.ErrPeerPublicKeyInvalid),
		errors.Is(err, speke.ErrPeerIdentifierInvalid):
		s.finish(StoppedPeerPublicKeyOrIDInvalid)
		return false
	case err != nil:
		return !s.tick()
	}

	s.mu.Lock()
	s.remoteProvided = true
	s.mu.Unlock()

	kcd, err := s.speke.KeyConfirmationData()
	if err != nil {
		s.finish(StoppedError)
		return false
	}
	if err := s.writeMessage(&Message{KeyConfirmation: &KeyConfirmation{Data: kcd}}); err != nil {
		s.finish(StoppedError)
		return false
	}
	return true
}

func (s *Session) handleKeyConfirmation(kc *KeyConfirmation) bool {
	ok, err := s.speke.ConfirmKey(kc.Data)
	if err != nil {
		// confirmation before InitData is a protocol violation
		return !s.tick()
	}
	if !ok {
		s.finish(StoppedKeyConfirmationFailed)
		return false
	}

	s.mu.Lock()
	if !s.confirmed {
		s.confirmed = true
		close(s.confirmedCh)
	}
	s.mu.Unlock()
	return true
}

func (s *Session) handleSignedData(sd *SignedData) bool {
	ok, err := s.speke.ConfirmHmacSignature(sd.HmacSignature, sd.Data)
	if err != nil || !ok {
		return !s.tick()
	}
	s.deliver(sd.Data)
	return true
}

func (s *Session) deliver(data []byte) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.handlerMu.Lock()
	handler := s.handler
	if handler == nil {
		s.queue = append(s.queue, data)
		s.handlerMu.Unlock()
		return
	}
	s.handlerMu.Unlock()
	handler(data)
}

// tick records one bad-behavior event; it reports true when the limit is
// reached and the session has been closed.
func (s *Session) tick() bool {
	s.mu.Lock()
	s.badBehavior++
	limit := s.badBehavior >= BadBehaviorLimit
	s.mu.Unlock()

	if limit {
		s.finish(StoppedPeerBadBehavior)
	}
	return limit
}

// finish transitions to a terminal state from within the read loop.
func (s *Session) finish(state State) {
	s.mu.Lock()
	if !s.state.IsTerminal() {
		s.state = state
	}
	s.mu.Unlock()
	s.conn.Close()
}

func (s *Session) writeMessage(msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeFrame(s.conn, msg.Marshal())
}

func readErrorState(err error) State {
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		return StoppedPeerBadBehavior
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET):
		// a peer that closes with unread data resets the connection
		return StoppedPeerDisconnected
	case errors.Is(err, net.ErrClosed):
		// local Close already picked the state
		return Stopped
	default:
		return StoppedError
	}
}
