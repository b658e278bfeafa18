package completion

import (
	"math"
	"time"
)

// RetryPolicy controls how failed completion attempts are retried with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Deadline bounds a whole Complete call, retries included. Zero disables it.
	Deadline time.Duration
	// Jitter adds a uniform random 0..BaseDelay to each computed delay.
	Jitter bool
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 5 attempts, 1s base delay, 30s max delay, 2m overall deadline, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Deadline:    2 * time.Minute,
		Jitter:      true,
	}
}

// NextDelay returns the backoff delay after the given attempt number
// (1-indexed), without jitter. The delay is BaseDelay * 2^(attempt-1),
// capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// withJitter adds extra to d and re-applies the MaxDelay cap.
func (p RetryPolicy) withJitter(d, extra time.Duration) time.Duration {
	d += extra
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
