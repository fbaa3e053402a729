// Package memory implements kv.Store in process memory, for tests and for
// running without Redis.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/kv"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory kv.Store with lazy expiry.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.Clock
}

// New creates a Store using clk for expiry decisions.
func New(clk clock.Clock) *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   clk,
	}
}

// Get returns the value for key, or kv.ErrNotFound when absent or expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set writes value under key and resets its expiry to ttl.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = entry{value: stored, expiresAt: s.deadline(ttl)}
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Incr atomically increments the integer stored at key, applying ttl when the
// increment creates the key.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e, ok := s.live(key); ok {
		prev, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = prev + 1
		e.value = []byte(strconv.FormatInt(n, 10))
		s.entries[key] = e
		return n, nil
	}
	n = 1
	s.entries[key] = entry{
		value:     []byte(strconv.FormatInt(n, 10)),
		expiresAt: s.deadline(ttl),
	}
	return n, nil
}

// Len reports the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if _, ok := s.live(key); ok {
			n++
		}
	}
	return n
}

// live returns the entry for key if present and unexpired, dropping it
// otherwise. Callers must hold mu.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}
