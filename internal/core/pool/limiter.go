package pool

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// DomainLimiter hands out per-domain token buckets. One instance is shared
// across all jobs so concurrent jobs against the same vendor site queue
// behind the same budget.
type DomainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewDomainLimiter(rps float64, burst int) *DomainLimiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &DomainLimiter{limiters: make(map[string]*rate.Limiter), rps: r, burst: burst}
}

// Wait blocks until the target's domain has a token, or the context ends.
func (l *DomainLimiter) Wait(ctx context.Context, target string) error {
	domain := "unknown"
	if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
