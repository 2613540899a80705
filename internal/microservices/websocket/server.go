package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"echohub/internal/microservices/session"
	"echohub/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config for the WebSocket listener.
type Config struct {
	Host             string
	Port             int // 0 picks a free port
	Path             string
	HandshakeTimeout time.Duration
	Conn             ConnOptions
}

// Server is the WebSocket transport listener. It shares the gin router with
// the health, stats and metrics endpoints.
type Server struct {
	cfg      Config
	hub      *session.Hub
	logger   *slog.Logger
	router   *gin.Engine
	upgrader *websocket.Upgrader

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	ready      atomic.Bool
	serveDone  chan struct{}
}

func NewServer(cfg Config, hub *session.Hub, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/socket"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger.With("component", "ws_server"),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			// any origin may connect; there is no authentication layer
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))

	r.GET(s.cfg.Path, WSHandler(s.hub, s.upgrader, s.cfg.Conn, s.logger))
	r.GET("/healthz", HealthHandler())
	r.GET("/readyz", ReadyHandler(s))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/connections", ConnectionsHandler(s.hub.Registry()))
	}
	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener and serves in the background. A bind failure is
// returned as *session.BindError. Sessions inherit ctx: cancelling it
// closes every connection accepted here.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("ws server already started on %s", s.listener.Addr())
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &session.BindError{Addr: addr, Err: err}
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.serveDone = make(chan struct{})
	s.ready.Store(true)

	s.logger.Info("ws_server_started",
		"address", ln.Addr().String(),
		"path", s.cfg.Path,
	)

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ws_server_error", "error", err.Error())
		}
	}(s.httpServer, s.serveDone)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready reports whether the listener is accepting connections.
func (s *Server) Ready() bool { return s.ready.Load() }

// Shutdown stops accepting connections. Upgraded connections are hijacked
// and untracked by net/http, so open sessions keep running until their
// context is cancelled or the hub closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpServer, s.serveDone
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.ready.Store(false)
	s.logger.Info("ws_server_stopping")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown ws server: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("ws_server_stopped")
	return nil
}
