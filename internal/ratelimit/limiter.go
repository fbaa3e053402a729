// Package ratelimit enforces fixed-window request ceilings per credential
// and operation class, with counters in the shared KV store so all replicas
// see the same windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/kv"
	"github.com/sitesage/sitesage/internal/metrics"
)

// Class bounds one operation class.
type Class struct {
	Ceiling int
	Window  time.Duration
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks requests against per-class fixed windows. A KV outage
// fails open: limiting is protection, not a correctness requirement, so an
// unreachable store must not take the API down with it.
type Limiter struct {
	kv      kv.Store
	clock   clock.Clock
	classes map[string]Class
	logger  *zap.Logger
}

// New creates a Limiter. Classes absent from the map are unlimited.
func New(kvStore kv.Store, clk clock.Clock, classes map[string]Class, logger *zap.Logger) *Limiter {
	return &Limiter{kv: kvStore, clock: clk, classes: classes, logger: logger}
}

// Check counts one request for credential in class and decides whether it
// may proceed. Counters reset exactly at window boundaries: each window has
// its own key, and a new window starts from zero.
func (l *Limiter) Check(ctx context.Context, credential, class string) Decision {
	cls, ok := l.classes[class]
	if !ok || cls.Ceiling <= 0 || cls.Window <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := l.clock.Now()
	windowStart := now.Truncate(cls.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", class, credential, windowStart.Unix())

	// Keys outlive their window so late stragglers still count, then expire.
	count, err := l.kv.Incr(ctx, key, cls.Window*2)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request",
			zap.String("class", class), zap.Error(err))
		metrics.ObserveRateLimit(class, "error")
		return Decision{Allowed: true, Remaining: -1}
	}

	if count > int64(cls.Ceiling) {
		retryAfter := windowStart.Add(cls.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		metrics.ObserveRateLimit(class, "denied")
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	metrics.ObserveRateLimit(class, "allowed")
	return Decision{Allowed: true, Remaining: cls.Ceiling - int(count)}
}
