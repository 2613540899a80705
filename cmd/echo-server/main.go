package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echohub/internal/config"
	"echohub/internal/logging"
	"echohub/internal/microservices/session"
	"echohub/internal/microservices/tcp"
	"echohub/internal/microservices/websocket"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// listener is a transport accepting connections for the hub.
type listener interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Addr() string
}

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// Setup structured logging
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// sessions outlive the signal so listeners stop accepting first
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	hub := session.NewHub(
		session.WithLogger(logger),
		session.WithRateLimit(cfg.MessageRateLimit, cfg.MessageBurst),
	)

	listeners := []listener{
		websocket.NewServer(websocket.Config{
			Host:             cfg.WSHost,
			Port:             cfg.WSPort,
			Path:             cfg.WSPath,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Conn: websocket.ConnOptions{
				WriteWait:      cfg.WriteWait,
				MaxMessageSize: int64(cfg.MaxMessageSize),
			},
		}, hub, logger),
	}
	if cfg.TCPEnabled() {
		listeners = append(listeners, tcp.NewServer(tcp.Config{
			Host:             cfg.WSHost,
			Port:             cfg.TCPPort,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Conn: tcp.ConnOptions{
				WriteWait:      cfg.WriteWait,
				IdleTimeout:    cfg.TCPIdleTimeout,
				MaxMessageSize: cfg.MaxMessageSize,
			},
		}, hub, logger))
	}

	logger.Info("starting_echo_server",
		"env", cfg.GoEnv,
		"ws_port", cfg.WSPort,
		"ws_path", cfg.WSPath,
		"tcp_port", cfg.TCPPort,
		"rate_limit", cfg.MessageRateLimit,
	)

	var started []listener
	for _, l := range listeners {
		if err := l.Start(sessionCtx); err != nil {
			shutdownListeners(started, cfg.ShutdownTimeout, logger)
			var bindErr *session.BindError
			if errors.As(err, &bindErr) {
				logger.Error("listener_bind_failed", "address", bindErr.Addr)
			}
			return err
		}
		started = append(started, l)
	}

	<-ctx.Done()
	logger.Info("received_shutdown_signal")

	err := shutdownListeners(started, cfg.ShutdownTimeout, logger)

	closed := hub.Close()
	cancelSessions()
	logger.Info("sessions_closed", "count", closed)

	done := make(chan struct{})
	go func() {
		hub.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("server_stopped_gracefully")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("shutdown_timeout", "remaining", hub.Registry().Len())
	}
	return err
}

// shutdownListeners stops every listener in parallel.
func shutdownListeners(listeners []listener, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := l.Shutdown(ctx); err != nil {
				logger.Warn("listener_shutdown_failed", "address", l.Addr(), "error", err.Error())
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
