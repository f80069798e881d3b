// Package dispatch fans queued events out to every destination of their
// account and records the outcome of each call in the delivery log.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/observability"
	"github.com/xraph/fanout/queue"
)

// Config holds dispatcher configuration.
type Config struct {
	// FanoutConcurrency bounds concurrent destination calls per job.
	FanoutConcurrency int

	// RequestTimeout bounds each destination call.
	RequestTimeout time.Duration

	// DestinationRPS paces calls to each destination. Zero disables pacing.
	DestinationRPS float64

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		FanoutConcurrency: 8,
		RequestTimeout:    10 * time.Second,
	}
}

// Dispatcher handles one job: it appends a processing row, lists the
// account's destinations, calls each one, and appends one terminal row per
// destination.
type Dispatcher struct {
	log    deliverylog.Store
	lister destination.Lister
	sender *Sender
	pacer  *Pacer
	config Config
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(log deliverylog.Store, lister destination.Lister, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = DefaultConfig().FanoutConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Dispatcher{
		log:    log,
		lister: lister,
		sender: NewSender(cfg.RequestTimeout),
		pacer:  NewPacer(cfg.DestinationRPS),
		config: cfg,
		logger: logger,
	}
}

// WithSender replaces the HTTP sender. Intended for tests.
func (d *Dispatcher) WithSender(s *Sender) *Dispatcher {
	d.sender = s
	return d
}

// Handle dispatches one job. A returned error means the whole fan-out should
// be retried at the job level; per-destination failures never cause one.
func (d *Dispatcher) Handle(ctx context.Context, job *queue.Job) (err error) {
	evt := job.Event
	if evt == nil {
		return fmt.Errorf("dispatch: job %s has no event", job.ID)
	}

	ctx, span := d.config.Tracer.StartDispatchSpan(ctx, job.ID.String(), evt.ID, evt.AccountID, job.Attempt)
	defer func() { observability.EndSpan(span, err) }()

	processing := deliverylog.NewProcessing(evt.ID, evt.AccountID, evt.Payload)
	if err := d.log.AppendAttempt(ctx, processing); err != nil {
		return fmt.Errorf("dispatch: append processing row: %w", err)
	}

	dests, err := d.lister.ListDestinations(ctx, evt.AccountID)
	if err != nil {
		return fmt.Errorf("dispatch: list destinations: %w", err)
	}
	if len(dests) == 0 {
		d.logger.DebugContext(ctx, "no destinations",
			"event_id", evt.ID,
			"account_id", evt.AccountID,
		)
		return nil
	}

	sem := make(chan struct{}, d.config.FanoutConcurrency)
	var wg sync.WaitGroup
	for _, dest := range dests {
		wg.Add(1)
		sem <- struct{}{}
		go func(dest *destination.Destination) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, job, dest)
		}(dest)
	}
	wg.Wait()

	return nil
}

// deliver calls one destination and appends its terminal row.
func (d *Dispatcher) deliver(ctx context.Context, job *queue.Job, dest *destination.Destination) {
	evt := job.Event

	var res Result
	if err := d.pacer.Wait(ctx, dest.ID); err != nil {
		res = Result{Error: fmt.Sprintf("pacing: %v", err)}
	} else {
		spanCtx, span := d.config.Tracer.StartDeliverySpan(ctx, evt.ID, dest.ID, dest.URL)
		res = d.sender.Send(spanCtx, dest, evt)
		d.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, res.Error)
	}

	status := deliverylog.StatusSuccess
	if !res.Delivered() {
		status = deliverylog.StatusFailed
	}

	row := deliverylog.NewTerminal(evt.ID, evt.AccountID, dest.ID, status, evt.Payload)
	row.StatusCode = res.StatusCode
	row.LatencyMs = res.LatencyMs
	row.Error = res.Error
	if row.Error == "" {
		row.Error = res.BodyError
	}

	d.config.Metrics.RecordDelivery(string(status), float64(res.LatencyMs)/1000.0)

	if status == deliverylog.StatusFailed {
		d.logger.WarnContext(ctx, "delivery failed",
			"event_id", evt.ID,
			"destination_id", dest.ID,
			"error", res.Error,
		)
	} else if res.BodyError != "" {
		d.logger.WarnContext(ctx, "delivered with unreadable response body",
			"event_id", evt.ID,
			"destination_id", dest.ID,
			"status", res.StatusCode,
			"error", res.BodyError,
		)
	} else {
		d.logger.DebugContext(ctx, "delivered",
			"event_id", evt.ID,
			"destination_id", dest.ID,
			"status", res.StatusCode,
			"latency_ms", res.LatencyMs,
		)
	}

	// Escalating here would re-run the whole fan-out.
	if err := d.log.AppendAttempt(ctx, row); err != nil {
		d.logger.ErrorContext(ctx, "append terminal row failed",
			"event_id", evt.ID,
			"destination_id", dest.ID,
			"status", status,
			"error", err,
		)
	}
}
