package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/fanout/observability"
	"github.com/xraph/fanout/queue"
)

// Handler processes one leased job.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

// Handle calls f(ctx, job).
func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	// Lease must match the queue's lease. A job still running after a third
	// of it has its lease extended.
	Lease time.Duration

	Metrics *observability.Metrics
}

// DefaultEngineConfig returns the default worker pool configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Concurrency:  10,
		PollInterval: 250 * time.Millisecond,
		BatchSize:    50,
		Lease:        queue.DefaultLease,
	}
}

// Engine is the worker pool that claims jobs and hands them to a Handler.
type Engine struct {
	queue   queue.Queue
	handler Handler
	config  EngineConfig
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a dispatch engine.
func NewEngine(q queue.Queue, h Handler, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultEngineConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	return &Engine{
		queue:   q,
		handler: h,
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the poll loop. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight jobs to complete.
func (e *Engine) Stop(_ context.Context) {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically claims jobs and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	// In-flight jobs finish even after Stop; the HTTP timeout bounds them.
	workCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		free := e.config.Concurrency - len(sem)
		if free <= 0 {
			continue
		}
		limit := e.config.BatchSize
		if free < limit {
			limit = free
		}

		batch, err := e.queue.Claim(ctx, limit)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "claim failed", "error", err)
			}
			continue
		}

		for _, job := range batch {
			sem <- struct{}{}

			e.wg.Add(1)
			go func(job *queue.Job) {
				defer e.wg.Done()
				defer func() { <-sem }()
				e.process(workCtx, job)
			}(job)
		}

		if pending, err := e.queue.Pending(ctx); err == nil {
			e.config.Metrics.SetPending(pending)
		}
	}
}

// process runs the handler for one job and acks or fails it. The lease is
// kept alive while the handler runs.
func (e *Engine) process(ctx context.Context, job *queue.Job) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(hbCtx, job)
	}()

	err := e.handler.Handle(ctx, job)
	stopHeartbeat()
	<-hbDone

	if err == nil {
		if ackErr := e.queue.Ack(ctx, job); ackErr != nil {
			e.logger.ErrorContext(ctx, "ack failed",
				"job_id", job.ID, "event_id", job.Event.ID, "error", ackErr)
			return
		}
		e.config.Metrics.RecordJob("acked")
		return
	}

	e.logger.ErrorContext(ctx, "job failed",
		"job_id", job.ID,
		"event_id", job.Event.ID,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	if failErr := e.queue.Fail(ctx, job, err); failErr != nil {
		e.logger.ErrorContext(ctx, "fail job failed",
			"job_id", job.ID, "error", failErr)
		return
	}
	if job.Exhausted() {
		e.config.Metrics.RecordJob("dead_lettered")
	} else {
		e.config.Metrics.RecordJob("retried")
	}
}

// heartbeat extends job's lease every third of the lease period until ctx is
// cancelled or the lease is lost.
func (e *Engine) heartbeat(ctx context.Context, job *queue.Job) {
	ticker := time.NewTicker(e.config.Lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := e.queue.Extend(ctx, job); err != nil {
			if ctx.Err() == nil {
				e.logger.WarnContext(ctx, "lease extension failed",
					"job_id", job.ID, "event_id", job.Event.ID, "error", err)
			}
			return
		}
	}
}
