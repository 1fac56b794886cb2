// Package client implements the GoChat client connection session: JOIN
// handshake, background read loop and bounded reconnection.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/NicolasHaas/gochat/pkg/protocol"
)

var (
	// ErrConnectionRefused means nothing is listening at the server address.
	ErrConnectionRefused = errors.New("client: connection refused, is the server running?")
	// ErrDuplicateID means the server answered JOIN with REJECT_JOIN.
	ErrDuplicateID = errors.New("client: user id already in use")
	// ErrNotConnected is returned by Send when there is no open connection.
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("client: already connected")
	// ErrSessionClosed is returned by Connect when Quit ran before the
	// handshake completed.
	ErrSessionClosed = errors.New("client: session closed")
)

// State represents the session's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateListening
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateListening:
		return "LISTENING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MessageHandler receives every decoded inbound message, including the
// handshake reply.
type MessageHandler interface {
	HandleMessage(msg protocol.Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(msg protocol.Message)

// HandleMessage calls f(msg).
func (f MessageHandlerFunc) HandleMessage(msg protocol.Message) { f(msg) }

// ConnectionListener is told about connection loss and recovery.
// OnLostConnection(true) means a reconnection is about to be attempted;
// OnLostConnection(false) means the session gave up.
type ConnectionListener interface {
	OnLostConnection(attemptReconnection bool)
	OnReconnected()
}

// Dialer opens the transport connection. *net.Dialer and *tls.Dialer
// implement it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Options tunes a Session. The zero value is usable.
type Options struct {
	TLS              bool          // dial with TLS 1.3, accepting self-signed certs
	Dialer           Dialer        // overrides the default dialer (and TLS)
	DialTimeout      time.Duration // default 5s
	HandshakeTimeout time.Duration // max wait for the JOIN reply, default 10s
	MaxAttempts      int           // reconnection attempts, default 3

	// Backoff returns the delay before reconnection attempt n (1-based).
	// Default: 800ms * n.
	Backoff func(attempt int) time.Duration
	// Sleep blocks for d. Default: time.Sleep.
	Sleep func(d time.Duration)
}

// DefaultBackoff waits 800ms, 1600ms, 2400ms, ...
func DefaultBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 800 * time.Millisecond
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Dialer == nil {
		nd := &net.Dialer{Timeout: o.DialTimeout}
		if o.TLS {
			o.Dialer = &tls.Dialer{
				NetDialer: nd,
				Config: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // self-signed server certs (TOFU model)
					MinVersion:         tls.VersionTLS13,
				},
			}
		} else {
			o.Dialer = nd
		}
	}
	return o
}

// Session owns one outbound connection to the chat server.
type Session struct {
	opts     Options
	handler  MessageHandler
	listener ConnectionListener

	mu       sync.Mutex
	state    State
	conn     net.Conn
	userID   string
	addr     string // last server address
	attempts int
	closing  bool
	pending  net.Conn // connection still in its JOIN handshake
	done     chan struct{}

	writeMu sync.Mutex
}

// NewSession creates an idle session. handler and listener may be nil.
func NewSession(handler MessageHandler, listener ConnectionListener, opts Options) *Session {
	if handler == nil {
		handler = MessageHandlerFunc(func(protocol.Message) {})
	}
	if listener == nil {
		listener = nopListener{}
	}
	done := make(chan struct{})
	close(done)
	return &Session{
		opts:     opts.withDefaults(),
		handler:  handler,
		listener: listener,
		state:    StateIdle,
		done:     done,
	}
}

// Connect validates the inputs, dials host:port, sends JOIN and waits for
// the first reply. On success the reply is dispatched and a background read
// loop is started.
func (s *Session) Connect(ctx context.Context, userID, host, port string) error {
	if err := Validate(userID, host, port); err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateHandshaking, StateListening, StateReconnecting:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.userID = userID
	s.addr = net.JoinHostPort(host, port)
	s.attempts = 0
	s.closing = false
	s.state = StateConnecting
	s.mu.Unlock()

	conn, r, first, err := s.dialAndJoin(ctx, StateConnecting, StateHandshaking)

	s.mu.Lock()
	if s.closing {
		s.state = StateDisconnected
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSessionClosed
	}
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	s.conn = conn
	s.state = StateListening
	s.done = done
	s.mu.Unlock()

	slog.Info("connected", "user", userID, "addr", s.addr)
	s.handler.HandleMessage(first)
	go s.run(conn, r, done)
	return nil
}

// dialAndJoin opens a connection to the last known address and performs the
// JOIN handshake, reporting dialing and handshaking as the session state
// while each step runs. The connection is visible to Quit while the
// handshake is pending. It fails with ErrSessionClosed once Quit has run.
func (s *Session) dialAndJoin(ctx context.Context, dialing, handshaking State) (net.Conn, *protocol.Reader, protocol.Message, error) {
	s.mu.Lock()
	addr, userID := s.addr, s.userID
	if s.closing {
		s.mu.Unlock()
		return nil, nil, protocol.Message{}, ErrSessionClosed
	}
	s.state = dialing
	s.mu.Unlock()

	conn, err := s.opts.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, nil, protocol.Message{}, fmt.Errorf("%w: %s", ErrConnectionRefused, addr)
		}
		return nil, nil, protocol.Message{}, fmt.Errorf("client: connect %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, nil, protocol.Message{}, ErrSessionClosed
	}
	s.state = handshaking
	s.pending = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending == conn {
			s.pending = nil
		}
		s.mu.Unlock()
	}()

	fail := func(err error) (net.Conn, *protocol.Reader, protocol.Message, error) {
		_ = conn.Close()
		if s.isClosing() {
			err = ErrSessionClosed
		}
		return nil, nil, protocol.Message{}, err
	}

	if err := protocol.WriteMessage(conn, protocol.Join(userID)); err != nil {
		return fail(fmt.Errorf("client: send join: %w", err))
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	r := protocol.NewReader(conn)
	reply, err := r.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("client: read join reply: %w", err))
	}
	_ = conn.SetReadDeadline(time.Time{})

	if reply.Type == protocol.TypeRejectJoin {
		return fail(ErrDuplicateID)
	}
	return conn, r, reply, nil
}

// run is the single background task of a connected session. It reads until
// the connection fails, then applies the reconnection policy.
func (s *Session) run(conn net.Conn, r *protocol.Reader, done chan struct{}) {
	defer close(done)
	for {
		err := s.readLoop(r)
		_ = conn.Close()

		if s.isClosing() {
			slog.Debug("connection closed")
			return
		}

		if isConnectionLost(err) {
			slog.Warn("lost connection to server", "err", err)
			s.listener.OnLostConnection(true)
		} else {
			slog.Error("read error", "err", err)
		}

		var ok bool
		conn, r, ok = s.reconnect()
		if !ok {
			return
		}
	}
}

func (s *Session) readLoop(r *protocol.Reader) error {
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			return err
		}
		s.handler.HandleMessage(msg)
	}
}

// reconnect retries the handshake against the last address. Attempt n sleeps
// Backoff(n) first. ok is false when the session gave up or was closed.
func (s *Session) reconnect() (net.Conn, *protocol.Reader, bool) {
	s.setState(StateReconnecting)
	for {
		s.mu.Lock()
		if s.closing {
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()
			return nil, nil, false
		}
		if s.attempts >= s.opts.MaxAttempts {
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()
			slog.Error("giving up reconnecting", "attempts", s.opts.MaxAttempts)
			s.listener.OnLostConnection(false)
			return nil, nil, false
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.opts.Sleep(s.opts.Backoff(attempt))

		conn, r, first, err := s.dialAndJoin(context.Background(), StateReconnecting, StateReconnecting)
		if err != nil {
			if !errors.Is(err, ErrSessionClosed) {
				slog.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
			}
			continue
		}

		s.mu.Lock()
		if s.closing {
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()
			_ = conn.Close()
			return nil, nil, false
		}
		s.conn = conn
		s.state = StateListening
		s.attempts = 0
		s.mu.Unlock()

		slog.Info("reconnected", "attempt", attempt)
		s.handler.HandleMessage(first)
		s.listener.OnReconnected()
		return conn, r, true
	}
}

// Send writes msg to the server.
func (s *Session) Send(msg protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	listening := s.state == StateListening
	s.mu.Unlock()
	if conn == nil || !listening {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteMessage(conn, msg)
}

func (s *Session) send(msg protocol.Message) {
	if err := s.Send(msg); err != nil {
		slog.Debug("send dropped", "type", msg.Type, "err", err)
	}
}

// SendChat sends text to recipient (a user id or protocol.GroupID).
func (s *Session) SendChat(recipient, text string) {
	s.send(protocol.Chat(s.UserID(), recipient, text))
}

// RequestDetails asks the server for the details of targetID.
func (s *Session) RequestDetails(targetID string) {
	s.send(protocol.DetailsRequest(s.UserID(), targetID))
}

// ToggleStatus flips this user's ACTIVE/INACTIVE status.
func (s *Session) ToggleStatus() {
	s.send(protocol.StatusUpdate(s.UserID()))
}

// OpenPrivateChat notifies targetID that a private chat was opened.
func (s *Session) OpenPrivateChat(targetID string) {
	s.send(protocol.OpenPrivate(s.UserID(), targetID))
}

// Quit closes the connection deliberately, including one still in its
// handshake. No callbacks fire afterwards.
func (s *Session) Quit() error {
	s.mu.Lock()
	s.closing = true
	s.state = StateDisconnected
	conn, pending := s.conn, s.pending
	s.conn, s.pending = nil, nil
	s.mu.Unlock()

	if pending != nil {
		_ = pending.Close()
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("client: close: %w", err)
	}
	return nil
}

// Done returns a channel that is closed when the background task exits,
// either after Quit or after reconnection gave up.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the id used for the last Connect.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// isConnectionLost reports whether err means the server went away, as
// opposed to a protocol or local failure.
func isConnectionLost(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

type nopListener struct{}

func (nopListener) OnLostConnection(bool) {}
func (nopListener) OnReconnected()        {}
