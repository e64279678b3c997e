// ABOUTME: In-memory session registry keyed by caller-chosen session IDs
// ABOUTME: Keeps insertion order and hands out point-in-time copies

package session

import (
	"sync"
	"time"
)

// Registry is the authoritative in-memory store of session records.
// Records are never deleted; they live for the lifetime of the process.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Session
	order   []string // session IDs in first-created order
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*Session),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a new record with status started and no score, then merges
// initial over it. An existing record with the same ID is silently replaced;
// the ID keeps its original position in List order.
func (r *Registry) Create(id string, initial Fields) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := &Session{
		ID:        id,
		Status:    StatusStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.merge(initial)

	if _, exists := r.records[id]; !exists {
		r.order = append(r.order, id)
	}
	r.records[id] = s
	return s.clone()
}

// Update merges partial over the record for id and refreshes UpdatedAt.
// A missing id is a no-op: nothing is created and found is false.
func (r *Registry) Update(id string, partial Fields) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.records[id]
	if !ok {
		return Session{}, false
	}

	s.merge(partial)
	s.UpdatedAt = r.now()
	return s.clone(), true
}

// Get returns a deep copy of the record for id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.records[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// List returns a point-in-time copy of every record in insertion order.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].clone())
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
