// Package ratelimit implements a per-key sliding-window rate limiter.
//
// Every call to Allow records a timestamp under the key, prunes timestamps
// older than the window, and admits the call when the surviving count is at
// most the limit. Denied calls are recorded too, so a caller that keeps
// retrying while over the limit extends its own lockout.
package ratelimit

import (
	"context"
	"time"
)

// Grace is added to the window when computing a key's idle TTL.
const Grace = time.Second

// Result is the outcome of a single Allow call.
type Result struct {
	// Allowed reports whether the call fits in the window.
	Allowed bool `json:"allowed"`

	// Limit is the configured maximum number of calls per window.
	Limit int `json:"limit"`

	// Remaining is max(0, Limit - count).
	Remaining int `json:"remaining"`

	// ResetAt is when the oldest recorded call leaves the window.
	ResetAt time.Time `json:"reset_at"`
}

// ResetSeconds returns ResetAt as epoch seconds, rounded up.
func (r Result) ResetSeconds() int64 {
	ms := r.ResetAt.UnixMilli()
	s := ms / 1000
	if ms%1000 != 0 {
		s++
	}
	return s
}

// Limiter is a sliding-window limiter. Implementations must perform the
// insert, prune, count and peek steps atomically per key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func newResult(count, limit int, oldest time.Time, window time.Duration) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   oldest.Add(window),
	}
}
