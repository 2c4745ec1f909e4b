package internal

import (
	"time"

	"github.com/corverroos/loom"
)

const (
	defaultInitialInterval    = time.Second
	defaultBackoffCoefficient = 2.0
	defaultMaximumInterval    = time.Minute
)

// Backoff returns the delay before the given retry attempt (1-based count of
// completed attempts) and whether a retry is allowed at all under the policy.
// A nil policy allows no retries.
func Backoff(p *loom.RetryPolicy, attempt int) (time.Duration, bool) {
	if p == nil {
		return 0, false
	}
	if p.MaximumAttempts > 0 && attempt >= p.MaximumAttempts {
		return 0, false
	}

	initial := p.InitialInterval
	if initial <= 0 {
		initial = defaultInitialInterval
	}
	coeff := p.BackoffCoefficient
	if coeff < 1 {
		coeff = defaultBackoffCoefficient
	}
	max := p.MaximumInterval
	if max <= 0 {
		max = defaultMaximumInterval
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * coeff)
		if d >= max {
			return max, true
		}
	}
	if d > max {
		d = max
	}
	return d, true
}

// NonRetryable returns true if the failure reason short-circuits retries
// under the policy.
func NonRetryable(p *loom.RetryPolicy, reason string) bool {
	if p == nil {
		return true
	}
	for _, r := range p.NonRetryableErrorReasons {
		if r == reason {
			return true
		}
	}
	return false
}
