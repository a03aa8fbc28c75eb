package registry

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultMaxConnections is the default global cap on live sessions.
const DefaultMaxConnections = 1000

// ErrConnectionLimit is returned by Admit when the registry is at capacity.
var ErrConnectionLimit = errors.New("registry: connection limit reached")

// Registry is the set of live sessions, indexed by id, plus an auxiliary
// queue-name -> subscriber-id index kept in sync on every subscribe,
// unsubscribe, and removal. The subscriber index is derived state, never
// an independent source of truth: Subscribe/Unsubscribe/Remove all update
// both the session and the index under the same lock so a SubscribersOf
// snapshot can never observe a session whose own subscription set
// disagrees with it.
type Registry struct {
	maxConnections int

	mu          sync.RWMutex
	sessions    map[string]*Session
	subscribers map[string]map[string]struct{} // queue -> session ids

	admitted atomic.Int64
	rejected atomic.Int64
}

// New creates a registry with the given connection cap; a cap of 0 selects
// DefaultMaxConnections.
func New(maxConnections int) *Registry {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	return &Registry{
		maxConnections: maxConnections,
		sessions:       make(map[string]*Session),
		subscribers:    make(map[string]map[string]struct{}),
	}
}

// Admit inserts a session, failing with ErrConnectionLimit if the registry
// is already at capacity.
func (r *Registry) Admit(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxConnections {
		r.rejected.Add(1)
		return ErrConnectionLimit
	}
	r.sessions[s.ID] = s
	r.admitted.Add(1)
	return nil
}

// Remove removes and closes a session, cleaning up its subscriber index
// entries. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	for queue := range r.subscribers {
		delete(r.subscribers[queue], id)
	}
	r.mu.Unlock()

	s.Close()
}

// Subscribe attaches a session to a queue in both the session's own set
// and the registry's subscriber index.
func (r *Registry) Subscribe(sessionID, queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.Subscribe(queue)
	if r.subscribers[queue] == nil {
		r.subscribers[queue] = make(map[string]struct{})
	}
	r.subscribers[queue][sessionID] = struct{}{}
}

// Unsubscribe detaches a session from a queue.
func (r *Registry) Unsubscribe(sessionID, queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.Unsubscribe(queue)
	}
	if set, ok := r.subscribers[queue]; ok {
		delete(set, sessionID)
	}
}

// SubscribersOf returns a snapshot of sessions subscribed to a queue, safe
// to iterate while admission, removal, and subscription changes continue
// concurrently on other goroutines.
func (r *Registry) SubscribersOf(queue string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.subscribers[queue]
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetAll returns a snapshot of every live session, used during shutdown.
func (r *Registry) GetAll() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats reports cumulative admission counters for the health/metrics
// endpoints.
func (r *Registry) Stats() (admitted, rejected int64) {
	return r.admitted.Load(), r.rejected.Load()
}

// Dispose closes every live session; used during graceful shutdown after
// the ack tracker has drained.
func (r *Registry) Dispose() {
	for _, s := range r.GetAll() {
		r.Remove(s.ID)
	}
}
