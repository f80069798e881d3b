package fanout

import (
	"log/slog"
	"time"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/observability"
	"github.com/xraph/fanout/queue"
	"github.com/xraph/fanout/ratelimit"
	"github.com/xraph/fanout/store"
)

// QueueFactory builds the job queue. Fanout passes the options the queue
// must honor: its retry policy, lease, logger and dead letterer.
type QueueFactory func(opts ...queue.Option) (queue.Queue, error)

// Option configures a Fanout instance.
type Option func(*Fanout) error

// WithStore sets the persistence backend for the Fanout instance.
func WithStore(s store.Store) Option {
	return func(f *Fanout) error {
		f.store = s
		return nil
	}
}

// WithQueue sets the factory used to build the job queue.
func WithQueue(factory QueueFactory) Option {
	return func(f *Fanout) error {
		f.queueFactory = factory
		return nil
	}
}

// WithLimiter sets the sliding-window limiter. Defaults to an in-process limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(f *Fanout) error {
		f.limiter = l
		return nil
	}
}

// WithResolver overrides the account resolver. Defaults to the store.
func WithResolver(r account.Resolver) Option {
	return func(f *Fanout) error {
		f.resolverSrc = r
		return nil
	}
}

// WithLister overrides the destination lister. Defaults to the store.
func WithLister(l destination.Lister) Option {
	return func(f *Fanout) error {
		f.listerSrc = l
		return nil
	}
}

// WithLogger sets the structured logger for the Fanout instance.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fanout) error {
		f.logger = logger
		return nil
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fanout) error {
		f.metrics = m
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(f *Fanout) error {
		f.tracer = t
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(f *Fanout) error {
		f.config = cfg
		return nil
	}
}

// WithRateLimit sets the per-account call budget and its window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(f *Fanout) error {
		f.config.RateLimit = limit
		f.config.RateWindow = window
		return nil
	}
}

// WithFailOpen sets whether limiter store failures admit events.
func WithFailOpen(open bool) Option {
	return func(f *Fanout) error {
		f.config.FailOpen = open
		return nil
	}
}

// WithCacheTTL sets the TTL for the account cache.
func WithCacheTTL(d time.Duration) Option {
	return func(f *Fanout) error {
		f.config.CacheTTL = d
		return nil
	}
}

// WithDestinationCacheTTL enables caching of destination snapshots at
// dispatch time. Removed destinations may keep receiving calls for up to d.
func WithDestinationCacheTTL(d time.Duration) Option {
	return func(f *Fanout) error {
		f.config.DestinationCacheTTL = d
		return nil
	}
}

// WithRetryPolicy sets the job attempt budget and backoff.
func WithRetryPolicy(p queue.RetryPolicy) Option {
	return func(f *Fanout) error {
		f.config.Retry = p
		return nil
	}
}

// WithLease sets how long a claimed job stays leased.
func WithLease(d time.Duration) Option {
	return func(f *Fanout) error {
		f.config.Lease = d
		return nil
	}
}

// WithConcurrency sets the number of jobs processed at once.
func WithConcurrency(n int) Option {
	return func(f *Fanout) error {
		f.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the engine claims ready jobs.
func WithPollInterval(d time.Duration) Option {
	return func(f *Fanout) error {
		f.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(f *Fanout) error {
		f.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per destination call.
func WithRequestTimeout(d time.Duration) Option {
	return func(f *Fanout) error {
		f.config.RequestTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight jobs on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(f *Fanout) error {
		f.config.ShutdownTimeout = d
		return nil
	}
}
