package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"echohub/internal/metrics"
)

// Handle is what the registry stores for an open connection. The registry
// references handles, it never owns them.
type Handle interface {
	ID() string
	Close() error
}

// Registry is the single source of truth for which identifiers are open.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle // key: connection id
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]Handle),
		logger:  logger,
	}
}

// Add registers handle under id.
func (r *Registry) Add(id string, handle Handle) error {
	if id == "" {
		return ErrEmptyIdentifier
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id)
	}
	r.handles[id] = handle
	metrics.ActiveConnections.Inc()
	r.logger.Debug("client_added", "client_id", id)
	return nil
}

// Remove unregisters id. Removing an absent id is a no-op; the result
// reports whether an entry was actually removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[id]; !exists {
		return false
	}
	delete(r.handles, id)
	metrics.ActiveConnections.Dec()
	r.logger.Debug("client_removed", "client_id", id)
	return true
}

// Lookup returns the handle for id or ErrNotFound.
func (r *Registry) Lookup(id string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return handle, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// IDs returns a sorted snapshot of the open identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll closes every registered handle and returns how many were closed.
// Handles remove themselves, so they are closed outside the lock.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			r.logger.Warn("client_close_failed", "client_id", h.ID(), "error", err.Error())
		}
	}
	return len(handles)
}
