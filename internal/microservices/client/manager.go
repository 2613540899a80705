package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"echohub/internal/microservices/tcp"
	wsconn "echohub/internal/microservices/websocket"
	"echohub/internal/protocol"

	"github.com/gorilla/websocket"
)

const DefaultGreeting = "Hello, Server!"

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrUnsupportedScheme = errors.New("unsupported address scheme")
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handlers are invoked one at a time, in arrival order, from the
// connection's reader goroutine. Nil handlers are skipped.
type Handlers struct {
	OnConnect    func()
	OnClientID   func(id string)
	OnMessage    func(payload string)
	OnDisconnect func(err error) // exactly once per connection; nil after Close
	OnError      func(err error)
}

// Manager owns the client side of a single connection to the server.
type Manager struct {
	handlers    Handlers
	greeting    string
	sendGreet   bool
	dialTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	state    State
	conn     protocol.Conn
	clientID string
	closing  bool // Close was called for the current connection
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

type Option func(*Manager)

func WithHandlers(h Handlers) Option {
	return func(m *Manager) { m.handlers = h }
}

// WithGreeting sets the message sent right after the connection opens.
func WithGreeting(text string) Option {
	return func(m *Manager) {
		m.greeting = text
		m.sendGreet = true
	}
}

func WithoutGreeting() Option {
	return func(m *Manager) { m.sendGreet = false }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		greeting:    DefaultGreeting,
		sendGreet:   true,
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts connecting to address and returns immediately. Dialing and
// reading happen in the background; outcomes are reported via Handlers.
// Supported schemes are ws, wss and tcp. Cancelling ctx closes the
// connection.
func (m *Manager) Connect(ctx context.Context, address string, params protocol.Params) error {
	target, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", address, err)
	}
	switch target.Scheme {
	case "ws", "wss", "tcp":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}

	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.state == StateClosed {
		m.done = make(chan struct{})
	}
	connCtx, cancel := context.WithCancel(ctx)
	m.state = StateConnecting
	m.clientID = ""
	m.closing = false
	m.conn = nil
	m.cancel = cancel
	done := m.done
	m.mu.Unlock()

	m.logger.Info("client_connecting", "address", target.Redacted())
	go m.run(connCtx, target, params, done)
	return nil
}

func (m *Manager) run(ctx context.Context, target *url.URL, params protocol.Params, done chan struct{}) {
	conn, err := m.dial(ctx, target, params)
	if err != nil {
		m.finish(done, fmt.Errorf("dial %s: %w", target.Redacted(), err))
		return
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		m.finish(done, nil)
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.mu.Unlock()

	// close on ctx cancellation; Close is idempotent
	go func() {
		select {
		case <-ctx.Done():
			_ = m.Close()
		case <-done:
		}
	}()

	m.logger.Info("client_connected", "remote_addr", conn.RemoteAddr())
	if m.handlers.OnConnect != nil {
		m.handlers.OnConnect()
	}
	if m.sendGreet {
		if err := m.Send(m.greeting); err != nil {
			m.logger.Warn("client_greeting_failed", "error", err.Error())
		}
	}

	m.finish(done, m.readLoop(conn))
}

func (m *Manager) dial(ctx context.Context, target *url.URL, params protocol.Params) (protocol.Conn, error) {
	switch target.Scheme {
	case "tcp":
		d := net.Dialer{Timeout: m.dialTimeout}
		raw, err := d.DialContext(ctx, "tcp", target.Host)
		if err != nil {
			return nil, err
		}
		conn := tcp.NewClientConnection(raw, tcp.ConnOptions{})
		hs, err := protocol.NewHandshakeEvent(params)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err := conn.WriteEvent(hs); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("send handshake: %w", err)
		}
		return conn, nil
	default:
		u := *target
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()

		dialer := websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: m.dialTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, err
		}
		// the server drives the heartbeat; gorilla answers pings on read
		return wsconn.NewConn(ws, wsconn.ConnOptions{PongWait: -1}), nil
	}
}

// readLoop dispatches inbound events until the transport goes away and
// returns the terminal error.
func (m *Manager) readLoop(conn protocol.Conn) error {
	for {
		e, err := conn.ReadEvent()
		if err != nil {
			if protocol.IsAdvisory(err) {
				m.reportError(err)
				continue
			}
			return err
		}

		switch e.Name {
		case protocol.EventClientID:
			id, err := e.Text()
			if err != nil {
				m.reportError(err)
				continue
			}
			m.mu.Lock()
			m.clientID = id
			m.mu.Unlock()
			m.logger.Info("client_id_assigned", "client_id", id)
			if m.handlers.OnClientID != nil {
				m.handlers.OnClientID(id)
			}
		case protocol.EventMessage:
			payload, err := e.Text()
			if err != nil {
				m.reportError(err)
				continue
			}
			m.logger.Debug("client_message_received", "payload", payload)
			if m.handlers.OnMessage != nil {
				m.handlers.OnMessage(payload)
			}
		case protocol.EventError:
			text, _ := e.Text()
			m.reportError(fmt.Errorf("server error: %s", text))
		default:
			m.reportError(fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, e.Name))
		}
	}
}

func (m *Manager) reportError(err error) {
	m.logger.Warn("client_error", "error", err.Error())
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
	}
}

// finish moves to Closed and fires OnDisconnect for this connection.
func (m *Manager) finish(done chan struct{}, cause error) {
	m.mu.Lock()
	closing := m.closing
	conn := m.conn
	m.state = StateClosed
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	if closing {
		cause = nil
	} else if errors.Is(cause, net.ErrClosed) {
		cause = io.EOF
	}
	if cause != nil && !errors.Is(cause, io.EOF) {
		m.reportError(cause)
	}
	m.logger.Info("client_disconnected", "reason", causeString(cause))
	if m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(cause)
	}
	close(done)
}

func causeString(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}

// Send writes one message. It returns ErrNotConnected unless the
// connection is open, and has no effect on the network then.
func (m *Manager) Send(payload string) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteEvent(protocol.NewTextEvent(protocol.EventMessage, payload)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Close tears the connection down. OnDisconnect then fires with nil.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateClosed || m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	conn, cancel := m.conn, m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel() // aborts a dial in progress
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Done is closed once the current connection is fully torn down.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// ClientID returns the identifier assigned by the server, or "".
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
