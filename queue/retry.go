package queue

import "time"

// RetryPolicy controls job-level retries.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Each later delay doubles.
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 500ms exponential base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Backoff returns the delay after attempt n (1-based) fails: BaseDelay * 2^(n-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so huge attempt counts cannot overflow.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return p.BaseDelay << shift
}

// Schedule returns the delays between consecutive attempts, MaxAttempts-1 entries.
func (p RetryPolicy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, p.MaxAttempts-1)
	for i := range out {
		out[i] = p.Backoff(i + 1)
	}
	return out
}
