package queue

import (
	"log/slog"
	"time"
)

// Options holds settings shared by every backend.
type Options struct {
	Retry        RetryPolicy
	Lease        time.Duration
	DeadLetterer DeadLetterer
	Logger       *slog.Logger
	Now          func() time.Time
}

// Option configures a backend.
type Option func(*Options)

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		Retry:  DefaultRetryPolicy(),
		Lease:  DefaultLease,
		Logger: slog.Default(),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retry.MaxAttempts < 1 {
		o.Retry.MaxAttempts = 1
	}
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	return o
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) { o.Retry = p }
}

// WithLease sets the visibility timeout of claimed jobs.
func WithLease(d time.Duration) Option {
	return func(o *Options) { o.Lease = d }
}

// WithDeadLetterer sets the sink for exhausted jobs.
func WithDeadLetterer(d DeadLetterer) Option {
	return func(o *Options) { o.DeadLetterer = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}
