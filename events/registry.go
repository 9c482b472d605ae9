package events

import (
	"errors"
	"sync"

	"github.com/breez/quiz-sync/metrics"
)

var (
	ErrHandleClosed = errors.New("handle closed")
	ErrSlowConsumer = errors.New("subscriber send buffer full")
)

// Handle is one subscriber's notification channel. Send must not block;
// Close must be idempotent.
type Handle interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// Registry holds the handles whose channels have not been observed closed.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		handles: make(map[string]Handle),
		metrics: m,
	}
}

func (r *Registry) Register(h Handle) {
	r.mu.Lock()
	r.handles[h.ID()] = h
	n := len(r.handles)
	r.mu.Unlock()
	r.report(n)
}

// Unregister removes h and reports whether it was present. Unknown or
// already removed handles are ignored.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	current, ok := r.handles[h.ID()]
	if ok && current == h {
		delete(r.handles, h.ID())
	}
	n := len(r.handles)
	r.mu.Unlock()
	if ok && current == h {
		r.report(n)
		return true
	}
	return false
}

// Snapshot copies the current membership so callers can iterate without
// holding the lock.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	return handles
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// CloseAll empties the registry and closes every handle that was in it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]Handle)
	r.mu.Unlock()
	r.report(0)

	for _, h := range handles {
		_ = h.Close()
	}
}

func (r *Registry) report(n int) {
	if r.metrics != nil {
		r.metrics.Subscribers.Set(float64(n))
	}
}
