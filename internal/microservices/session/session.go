package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"echohub/internal/metrics"
	"echohub/internal/protocol"

	"golang.org/x/time/rate"
)

// inboundQueueSize bounds how many decoded frames wait for the session loop.
const inboundQueueSize = 16

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// inbound is one item on the session's event queue: a decoded frame, an
// advisory error, or the terminal transport error.
type inbound struct {
	event    protocol.Event
	err      error
	terminal bool
}

// Session drives one connection through Connecting -> Open -> Closed.
type Session struct {
	id        string
	params    protocol.Params
	transport string
	conn      protocol.Conn
	registry  *Registry
	limiter   *rate.Limiter // nil = unlimited
	logger    *slog.Logger

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
	startedAt time.Time
}

func newSession(id string, params protocol.Params, transport string, conn protocol.Conn, registry *Registry, limiter *rate.Limiter, logger *slog.Logger) *Session {
	if params == nil {
		params = protocol.Params{}
	}
	return &Session{
		id:        id,
		params:    params,
		transport: transport,
		conn:      conn,
		registry:  registry,
		limiter:   limiter,
		logger:    logger.With("client_id", id, "transport", transport),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

// Params returns a copy of the handshake parameters.
func (s *Session) Params() protocol.Params { return maps.Clone(s.params) }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reached Closed and cleanup ran.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close moves the session to Closed. Safe to call concurrently and repeatedly.
func (s *Session) Close() error {
	s.close("closed_by_server", nil)
	return nil
}

// run blocks for the lifetime of the connection. The session must already
// be registered.
func (s *Session) run(ctx context.Context) error {
	s.logger.Info("client_connected",
		"remote_addr", s.conn.RemoteAddr(),
		"params", s.params,
	)

	queue := make(chan inbound, inboundQueueSize)
	go s.readLoop(queue)

	if err := s.conn.WriteEvent(protocol.NewTextEvent(protocol.EventClientID, s.id)); err != nil {
		s.close("handshake_failed", err)
		return err
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		// closed while the client id was in flight
		return nil
	}
	s.logger.Info("client_open")

	for {
		select {
		case <-ctx.Done():
			s.close("shutdown", nil)
			return nil
		case <-s.done:
			return nil
		case in := <-queue:
			if in.terminal {
				s.close("disconnect", in.err)
				return nil
			}
			if in.err != nil {
				s.onTransportError(in.err)
				continue
			}
			if err := s.handle(ctx, in.event); err != nil {
				s.close("write_failed", err)
				return err
			}
		}
	}
}

// handle applies the echo rule. Only write failures are returned.
func (s *Session) handle(ctx context.Context, e protocol.Event) error {
	if e.Name != protocol.EventMessage {
		s.onTransportError(fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, e.Name))
		return nil
	}
	payload, err := e.Text()
	if err != nil {
		s.onTransportError(err)
		return nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			// only fails once ctx is done; the loop picks that up next
			return nil
		}
	}
	s.logger.Debug("message_received", "payload", payload)
	if err := s.conn.WriteEvent(protocol.Echo(payload)); err != nil {
		return err
	}
	metrics.MessagesEchoed.Inc()
	return nil
}

func (s *Session) onTransportError(err error) {
	metrics.ErrorsTotal.WithLabelValues("transport").Inc()
	s.logger.Warn("client_transport_error", "error", err.Error())
}

// readLoop feeds the event queue until the transport goes away.
func (s *Session) readLoop(queue chan<- inbound) {
	for {
		e, err := s.conn.ReadEvent()
		if err != nil && !protocol.IsAdvisory(err) {
			s.enqueue(queue, inbound{err: err, terminal: true})
			return
		}
		if !s.enqueue(queue, inbound{event: e, err: err}) {
			return
		}
	}
}

func (s *Session) enqueue(queue chan<- inbound, in inbound) bool {
	select {
	case queue <- in:
		return true
	case <-s.done:
		return false
	}
}

// close performs the Closed transition and registry cleanup exactly once.
func (s *Session) close(reason string, cause error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		removed := s.registry.Remove(s.id)
		_ = s.conn.Close()
		close(s.done)
		metrics.SessionDurationSec.Observe(time.Since(s.startedAt).Seconds())

		attrs := []any{"reason", reason, "removed", removed}
		switch {
		case cause == nil || isExpectedClose(cause):
			s.logger.Info("client_disconnected", attrs...)
		default:
			metrics.ErrorsTotal.WithLabelValues("disconnect").Inc()
			s.logger.Warn("client_disconnected", append(attrs, "error", cause.Error())...)
		}
	})
}

func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
