// Package retry implements the backoff and tier-escalation policy the Model
// Router uses when retrying a rate-limited or transient provider failure.
package retry

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// Policy controls how a failed call is retried: how many times, with what
// backoff, and whether the model tier should escalate (fast -> balanced ->
// premium) after repeated failures.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	EscalateAfter int
}

// DefaultPolicy returns a sane default retry policy for a step attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  5 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      2 * time.Minute,
		EscalateAfter: 2,
	}
}

// Next calculates the next delay, target tier, and whether to retry at all.
// attempt is the current retry count (0 on the first retry).
func (p Policy) Next(attempt int, currentTier string) (delay time.Duration, tier string, shouldRetry bool) {
	attempt = maxInt(0, attempt)
	tier = normalizeTier(currentTier)

	if p.MaxRetries <= attempt {
		return 0, tier, false
	}

	delay = backoffDelayWithFactor(attempt+1, p.InitialDelay, p.MaxDelay, p.BackoffFactor)
	if shouldEscalateTier(p.EscalateAfter, attempt) {
		tier = escalateTier(tier)
	}

	return delay, tier, true
}

func shouldEscalateTier(escalateAfter, attempt int) bool {
	return escalateAfter > 0 && attempt > 0 && attempt%escalateAfter == 0
}

func normalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

func escalateTier(tier string) string {
	switch tier {
	case "fast":
		return "balanced"
	case "balanced":
		return "premium"
	default:
		return tier
	}
}

// backoffDelayWithFactor returns base * factor^(retries-1) capped at maxDelay with jitter.
func backoffDelayWithFactor(retries int, base, maxDelay time.Duration, factor float64) time.Duration {
	if retries <= 0 || base <= 0 {
		return 0
	}
	if factor < 1.0 {
		factor = 1.0
	}

	backoff := float64(base) * math.Pow(factor, float64(retries-1))
	if math.IsNaN(backoff) || math.IsInf(backoff, 0) {
		if maxDelay > 0 {
			backoff = float64(maxDelay)
		} else {
			backoff = float64(base)
		}
	}
	if maxDelay > 0 && backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	if backoff < float64(base) {
		backoff = float64(base)
	}

	jitter := 1.0 + (rand.Float64() * 0.1)
	return time.Duration(backoff * jitter)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
