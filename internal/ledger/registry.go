package ledger

import (
	"fmt"
	"sync"
)

// Registry owns all live ledgers, keyed by session ID. It enforces the
// one-ledger-per-session invariant: a session ID can be opened at most once
// while its ledger is registered. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]*Ledger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[string]*Ledger)}
}

// Open creates and registers a new ledger for sessionID backed by journal.
// Returns [ErrDuplicateSession] when a ledger for the session already exists.
func (r *Registry) Open(sessionID string, journal Journal, opts ...Option) (*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ledgers[sessionID]; exists {
		return nil, fmt.Errorf("ledger: open session %q: %w", sessionID, ErrDuplicateSession)
	}

	l, err := New(sessionID, journal, opts...)
	if err != nil {
		return nil, err
	}
	r.ledgers[sessionID] = l
	return l, nil
}

// Get returns the ledger for sessionID, or false when none is registered.
func (r *Registry) Get(sessionID string) (*Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[sessionID]
	return l, ok
}

// Remove unregisters the ledger for sessionID and reports whether one was
// registered. The ledger itself is not mutated; a removed ledger stays
// readable by anyone still holding a reference.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ledgers[sessionID]
	delete(r.ledgers, sessionID)
	return ok
}

// Sessions returns the IDs of all registered sessions.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ledgers))
	for id := range r.ledgers {
		out = append(out, id)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ledgers)
}
