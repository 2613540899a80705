package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"echohub/internal/microservices/session"
	"echohub/internal/protocol"
)

var errServerClosed = errors.New("tcp server closed")

// Config for the TCP listener.
type Config struct {
	Host             string
	Port             int           // 0 picks a free port
	HandshakeTimeout time.Duration // wait for the handshake line
	Conn             ConnOptions
}

// TCPServer accepts raw TCP connections speaking newline-delimited JSON and
// hands each one to the shared hub.
type TCPServer struct {
	cfg    Config
	hub    *session.Hub
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	quitChan chan struct{} // closed by Shutdown
	wg       sync.WaitGroup // accept loop and handshakes; sessions are tracked by the hub
}

// constructor for TCPServer
func NewServer(cfg Config, hub *session.Hub, logger *slog.Logger) *TCPServer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "tcp_server"),
		quitChan: make(chan struct{}),
	}
}

// Start binds the listener and accepts in the background. A bind failure
// is returned as *session.BindError. Sessions inherit ctx.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("tcp server already started on %s", s.listener.Addr())
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &session.BindError{Addr: addr, Err: err}
	}
	s.listener = listener
	s.logger.Info("tcp_server_started", "address", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, listener)
	}()
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("tcp_accept_failed", "error", err.Error())
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// handle the lifecycle of a single client connection. The handshake phase
// counts towards s.wg; once handed to the hub the session is the hub's.
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	client := NewClientConnection(conn, s.cfg.Conn)
	s.logger.Debug("tcp_accepted", "remote_addr", client.RemoteAddr())

	params, err := s.handshake(ctx, client)
	s.wg.Done()
	if err != nil {
		s.logger.Info("tcp_handshake_aborted",
			"remote_addr", client.RemoteAddr(),
			"error", err.Error(),
		)
		_ = client.Close()
		return
	}
	if err := s.hub.Serve(ctx, client, params, "tcp"); err != nil {
		s.logger.Warn("tcp_session_ended", "remote_addr", client.RemoteAddr(), "error", err.Error())
	}
}

// handshake reads the handshake line. Shutdown or ctx cancellation closes
// the connection so a silent client cannot outlive the listener.
func (s *TCPServer) handshake(ctx context.Context, client *ClientConnection) (protocol.Params, error) {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-s.quitChan:
		case <-ctx.Done():
		case <-finished:
			return
		}
		_ = client.Close()
	}()

	params, err := client.ReadHandshake(s.cfg.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	select {
	case <-s.quitChan:
		return nil, errServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return params, nil
	}
}

// Addr returns the bound address, or "" before Start.
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting. Open sessions are left to the hub and to the
// context passed to Start.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	select {
	case <-s.quitChan:
		s.mu.Unlock()
		return nil
	default:
		close(s.quitChan) // signal the accept loop
	}
	s.mu.Unlock()
	if listener == nil {
		return nil
	}

	s.logger.Info("tcp_server_stopping")
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close tcp listener: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("tcp_server_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
