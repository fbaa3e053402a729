package crawl

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter spaces out requests to the same host. Each host gets its own
// token bucket with burst 1, so concurrent workers never hammer one origin
// while still crawling different hosts in parallel.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	qps      float64
}

// NewHostLimiter creates a limiter allowing qps requests per second per
// host. A non-positive qps disables the limiter.
func NewHostLimiter(qps float64) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		qps:      qps,
	}
}

// Wait blocks until the host of rawURL has budget, or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l.qps <= 0 {
		return nil
	}
	host := hostOf(rawURL)

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.qps), 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for host budget: %w", err)
	}
	return nil
}
