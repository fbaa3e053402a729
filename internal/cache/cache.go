// Package cache is the advisory response cache. Every operation degrades to
// a miss on failure; the cache can never make a request fail.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/hash/sha256"
	"github.com/sitesage/sitesage/internal/kv"
	"github.com/sitesage/sitesage/internal/metrics"
)

// Cache stores serialized responses under derived keys with a fixed TTL.
type Cache struct {
	kv     kv.Store
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Cache with the given entry TTL.
func New(kvStore kv.Store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{kv: kvStore, ttl: ttl, logger: logger}
}

// Key derives a cache key from the operation class, namespace, session, and
// input. The input is case-folded and whitespace-collapsed so trivially
// different spellings of the same question share an entry.
func Key(class, namespace, sessionID, input string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(input)), " ")
	return "cache:" + sha256.SumParts(class, namespace, sessionID, normalized)
}

// Get returns the cached value for key, or ok=false on a miss. Store errors
// are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Debug("cache read failed", zap.Error(err))
		}
		metrics.ObserveCacheLookup("miss")
		return nil, false
	}
	metrics.ObserveCacheLookup("hit")
	return value, true
}

// Put stores value under key, best effort.
func (c *Cache) Put(ctx context.Context, key string, value []byte) {
	if err := c.kv.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Debug("cache write failed", zap.Error(err))
	}
}
