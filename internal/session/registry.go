package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is in use by another build pass")
)

type registryEntry struct {
	session Session
	lease   sync.Mutex
}

// Registry keeps the live sessions the application owns, bounded by an LRU.
// A build pass takes an exclusive lease on its session for its duration.
type Registry struct {
	entries *lru.Cache[string, *registryEntry]
}

// NewRegistry creates a registry holding at most capacity sessions. The least
// recently used session is dropped when the capacity is exceeded.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = 128
	}
	entries, err := lru.NewWithEvict[string, *registryEntry](capacity, func(id string, _ *registryEntry) {
		slog.Info("session evicted from registry", "sessionID", id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}
	return &Registry{entries: entries}, nil
}

// Register adds or replaces the session stored under id.
func (r *Registry) Register(id string, s Session) {
	r.entries.Add(id, &registryEntry{session: s})
}

// Remove drops the session stored under id.
func (r *Registry) Remove(id string) bool {
	return r.entries.Remove(id)
}

// Get returns the session stored under id without leasing it.
func (r *Registry) Get(id string) (Session, error) {
	entry, ok := r.entries.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry.session, nil
}

// Acquire leases the session stored under id. The returned release function
// must be called once the caller is done issuing calls.
func (r *Registry) Acquire(id string) (Session, func(), error) {
	entry, ok := r.entries.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !entry.lease.TryLock() {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionBusy, id)
	}

	var once sync.Once
	release := func() {
		once.Do(entry.lease.Unlock)
	}
	return entry.session, release, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return r.entries.Len()
}
