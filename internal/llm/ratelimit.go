package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// RateLimiter enforces a per-provider token bucket so a burst of step
// dispatches backs off locally before the upstream API returns 429, per
// spec's RateLimited provider-error kind.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewRateLimiter constructs a RateLimiter that allows rps requests per second
// per provider name, with the given burst allowance.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (r *RateLimiter) limiterFor(provider string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[provider] = l
	}
	return l
}

// Wait blocks until provider's bucket has a token available, or returns
// KindRateLimited immediately if ctx is canceled first.
func (r *RateLimiter) Wait(ctx context.Context, provider string) error {
	if err := r.limiterFor(provider).Wait(ctx); err != nil {
		return model.Wrap(model.KindRateLimited, "llm.ratelimit.Wait", "local rate limit exceeded", err)
	}
	return nil
}

// Allow reports, without blocking, whether provider currently has a token
// available.
func (r *RateLimiter) Allow(provider string) bool {
	return r.limiterFor(provider).Allow()
}
