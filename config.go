package fanout

import (
	"time"

	"github.com/xraph/fanout/queue"
)

// Config holds the configuration for a Fanout instance.
type Config struct {
	// RateLimit is the maximum number of ingestion calls per account per RateWindow.
	RateLimit int

	// RateWindow is the sliding window length.
	RateWindow time.Duration

	// FailOpen admits events when the limiter store is unavailable.
	FailOpen bool

	// CacheTTL is the TTL for the account lookup cache. Set to 0 to disable
	// caching.
	CacheTTL time.Duration

	// DestinationCacheTTL is the TTL for destination snapshots read by the
	// dispatcher. Zero, the default, reads the directory on every job so a
	// removed destination stops receiving calls immediately.
	DestinationCacheTTL time.Duration

	// Retry bounds job attempts and the backoff between them.
	Retry queue.RetryPolicy

	// Lease is how long a claimed job stays invisible to other workers.
	Lease time.Duration

	// Concurrency is the number of jobs processed at once.
	Concurrency int

	// PollInterval is how often the engine claims ready jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs claimed per poll cycle.
	BatchSize int

	// FanoutConcurrency bounds concurrent destination calls within one job.
	FanoutConcurrency int

	// RequestTimeout is the HTTP timeout per destination call.
	RequestTimeout time.Duration

	// DestinationRPS paces calls to each destination. Zero disables pacing.
	DestinationRPS float64

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RateLimit:         5,
		RateWindow:        1000 * time.Millisecond,
		FailOpen:          true,
		CacheTTL:          60 * time.Second,
		Retry:             queue.DefaultRetryPolicy(),
		Lease:             queue.DefaultLease,
		Concurrency:       10,
		PollInterval:      250 * time.Millisecond,
		BatchSize:         50,
		FanoutConcurrency: 8,
		RequestTimeout:    10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}
