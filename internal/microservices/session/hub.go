package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"echohub/internal/metrics"
	"echohub/internal/protocol"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Hub owns the registry and turns accepted transport connections into
// sessions. Every transport listener shares one Hub.
type Hub struct {
	registry *Registry
	newID    func() string
	logger   *slog.Logger

	rateLimit rate.Limit // 0 = unlimited
	burst     int

	mu      sync.Mutex // guards closing and admission
	closing bool
	wg      sync.WaitGroup
}

type Option func(*Hub)

// WithIDGenerator replaces the uuid generator. The generator must return
// ids that are unique among open connections.
func WithIDGenerator(gen func() string) Option {
	return func(h *Hub) {
		h.newID = gen
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithRateLimit paces inbound messages per session. Messages over the limit
// wait for a token; they are never dropped. perSecond <= 0 disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Hub) {
		if perSecond <= 0 {
			h.rateLimit = 0
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.rateLimit = rate.Limit(perSecond)
		h.burst = burst
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.registry = NewRegistry(h.logger)
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

// Serve runs one connection from accept to Closed and blocks until then.
// The connection is always closed when Serve returns. After Close, Serve
// refuses new connections with ErrHubClosed.
func (h *Hub) Serve(ctx context.Context, conn protocol.Conn, params protocol.Params, transport string) error {
	id := h.newID()
	var limiter *rate.Limiter
	if h.rateLimit > 0 {
		limiter = rate.NewLimiter(h.rateLimit, h.burst)
	}
	s := newSession(id, params, transport, conn, h.registry, limiter, h.logger)

	// admission and registration happen under one lock so Close either
	// sees the session in the registry or Serve sees closing
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.Info("client_rejected_hub_closed", "transport", transport)
		return ErrHubClosed
	}
	err := h.registry.Add(id, s)
	if err == nil {
		h.wg.Add(1)
	}
	h.mu.Unlock()

	if err != nil {
		// never registered, so no registry cleanup; just drop the transport
		_ = conn.Close()
		metrics.ErrorsTotal.WithLabelValues("register").Inc()
		h.logger.Error("client_register_failed",
			"client_id", id,
			"transport", transport,
			"error", err.Error(),
		)
		return fmt.Errorf("register connection: %w", err)
	}
	defer h.wg.Done()
	metrics.ConnectionsTotal.WithLabelValues(transport).Inc()

	if err := s.run(ctx); err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	return nil
}

// CloseAll force-closes every open session. New connections are still
// accepted afterwards.
func (h *Hub) CloseAll() int {
	return h.registry.CloseAll()
}

// Close stops admitting connections and force-closes every open session.
// It returns the number of sessions closed. Safe to call more than once.
func (h *Hub) Close() int {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	return h.registry.CloseAll()
}

// Wait blocks until every Serve call has returned.
func (h *Hub) Wait() {
	h.wg.Wait()
}
