// Package kv defines the TTL key-value capability backing conversation state,
// rate-limit counters, and the response cache.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with per-key expiry. A zero ttl means the key
// does not expire.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key and resets its expiry to ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the integer at key and returns the new
	// value. When the increment creates the key, ttl is applied.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
