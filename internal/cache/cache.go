// Package cache provides the session context cache: a TTL keyed store
// that avoids repeated expensive lookups within a session. The cache is
// an optimization only: a nil or failing store degrades to always-miss,
// never to an error on the caller's path.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a TTL keyed cache. Reads may run concurrently; writes for the
// same key are last-write-wins with no ordering guarantee beyond TTL
// correctness.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// GetOrCompute returns the cached value for key if present and unexpired.
// On miss or expiry it runs compute, stores the result with the given TTL,
// and returns it. Compute errors are returned to the caller and never
// cached. A nil Store always computes.
func (s *Store) GetOrCompute(key string, ttl time.Duration, compute func() (any, error)) (any, error) {
	if s == nil {
		return compute()
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && s.now().Before(e.expiresAt) {
		return e.value, nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()

	return value, nil
}

// InvalidatePrefix removes every entry whose key starts with prefix. Used
// after any mutation to the underlying source of truth.
func (s *Store) InvalidatePrefix(prefix string) int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Purge removes expired entries. Expiry is otherwise lazy; call this
// periodically if key cardinality is unbounded.
func (s *Store) Purge() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
