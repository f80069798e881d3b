package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/admission"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dispatch"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/observability"
	"github.com/xraph/fanout/queue"
	"github.com/xraph/fanout/ratelimit"
	"github.com/xraph/fanout/store"
)

// Fanout is the root webhook relay: an admission gate in front of a durable
// queue, drained by a dispatch engine that fans events out to destinations.
type Fanout struct {
	config Config
	store  store.Store

	queueFactory QueueFactory
	queue        queue.Queue

	limiter      ratelimit.Limiter
	ownedLimiter *ratelimit.Memory

	resolverSrc account.Resolver
	listerSrc   destination.Lister
	resolver    *account.CachedResolver
	lister      *destination.CachedLister

	gate       *admission.Gate
	dlqSvc     *dlq.Service
	dispatcher *dispatch.Dispatcher
	engine     *dispatch.Engine

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// New creates a new Fanout with the given options. A store and a queue
// factory are required.
func New(opts ...Option) (*Fanout, error) {
	f := &Fanout{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.store == nil {
		return nil, ErrNoStore
	}
	if f.queueFactory == nil {
		return nil, ErrNoQueue
	}
	if err := f.wireServices(); err != nil {
		return nil, err
	}
	return f, nil
}

// wireServices initializes the internal services after options have been applied.
func (f *Fanout) wireServices() error {
	if f.resolverSrc == nil {
		f.resolverSrc = f.store
	}
	if f.listerSrc == nil {
		f.listerSrc = f.store
	}
	f.resolver = account.NewCachedResolver(f.resolverSrc, f.config.CacheTTL, f.logger)
	f.lister = destination.NewCachedLister(f.listerSrc, f.config.DestinationCacheTTL, f.logger)

	if f.limiter == nil {
		f.ownedLimiter = ratelimit.NewMemory(ratelimit.WithJanitor(f.config.RateWindow * 10))
		f.limiter = f.ownedLimiter
	}

	f.dlqSvc = dlq.NewService(f.store, f.logger)

	q, err := f.queueFactory(
		queue.WithRetryPolicy(f.config.Retry),
		queue.WithLease(f.config.Lease),
		queue.WithLogger(f.logger),
		queue.WithDeadLetterer(queue.DeadLetterFunc(f.deadLetter)),
	)
	if err != nil {
		return fmt.Errorf("fanout: build queue: %w", err)
	}
	if q == nil {
		return ErrNoQueue
	}
	f.queue = q
	f.dlqSvc.SetQueue(q)

	f.gate = admission.NewGate(f.resolver, f.limiter, f.queue, admission.Config{
		Limit:    f.config.RateLimit,
		Window:   f.config.RateWindow,
		FailOpen: f.config.FailOpen,
		Metrics:  f.metrics,
		Tracer:   f.tracer,
	}, f.logger)

	f.dispatcher = dispatch.NewDispatcher(f.store, f.lister, dispatch.Config{
		FanoutConcurrency: f.config.FanoutConcurrency,
		RequestTimeout:    f.config.RequestTimeout,
		DestinationRPS:    f.config.DestinationRPS,
		Metrics:           f.metrics,
		Tracer:            f.tracer,
	}, f.logger)

	f.engine = dispatch.NewEngine(f.queue, f.dispatcher, dispatch.EngineConfig{
		Concurrency:  f.config.Concurrency,
		PollInterval: f.config.PollInterval,
		BatchSize:    f.config.BatchSize,
		Lease:        f.config.Lease,
		Metrics:      f.metrics,
	}, f.logger)

	return nil
}

// deadLetter hands an exhausted job to the DLQ and refreshes its gauge.
func (f *Fanout) deadLetter(ctx context.Context, job *queue.Job, cause string) error {
	if err := f.dlqSvc.DeadLetter(ctx, job, cause); err != nil {
		return err
	}
	f.metrics.RecordDeadLetter()
	if n, err := f.dlqSvc.Count(ctx); err == nil {
		f.metrics.SetDLQSize(n)
	}
	return nil
}

// Start begins the dispatch engine.
func (f *Fanout) Start(ctx context.Context) {
	f.engine.Start(ctx)
	f.logger.InfoContext(ctx, "fanout started",
		"concurrency", f.config.Concurrency,
		"rate_limit", f.config.RateLimit,
		"rate_window", f.config.RateWindow,
	)
}

// Stop gracefully shuts down the dispatch engine and releases the queue.
// In-flight jobs are given up to ShutdownTimeout to finish.
func (f *Fanout) Stop(ctx context.Context) error {
	if f.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.ShutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		f.engine.Stop(ctx)
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("fanout: stop engine: %w", ctx.Err()))
	}

	if err := f.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("fanout: close queue: %w", err))
	}
	if f.ownedLimiter != nil {
		f.ownedLimiter.Close() //nolint:errcheck // in-process, never fails
	}
	return errors.Join(errs...)
}

// Ingest runs admission for one inbound event.
func (f *Fanout) Ingest(ctx context.Context, req admission.Request) admission.Decision {
	return f.gate.Admit(ctx, req)
}

// InvalidateAccount drops a cached account lookup.
func (f *Fanout) InvalidateAccount(token string) {
	f.resolver.Invalidate(token)
}

// InvalidateDestinations drops a cached destination snapshot.
func (f *Fanout) InvalidateDestinations(accountID string) {
	f.lister.Invalidate(accountID)
}

// Gate returns the admission gate.
func (f *Fanout) Gate() *admission.Gate {
	return f.gate
}

// Store returns the underlying store.
func (f *Fanout) Store() store.Store {
	return f.store
}

// Queue returns the job queue.
func (f *Fanout) Queue() queue.Queue {
	return f.queue
}

// DLQ returns the DLQ service.
func (f *Fanout) DLQ() *dlq.Service {
	return f.dlqSvc
}

// Dispatcher returns the job handler used by the engine.
func (f *Fanout) Dispatcher() *dispatch.Dispatcher {
	return f.dispatcher
}

// Config returns the effective configuration.
func (f *Fanout) Config() Config {
	return f.config
}
