// Package dlq holds jobs the queue gave up on, and lets operators replay them.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/internal/entity"
	"github.com/xraph/fanout/queue"
)

// ErrAlreadyReplayed is returned when replaying an entry twice.
var ErrAlreadyReplayed = errors.New("fanout: dlq entry already replayed")

// Enqueuer re-submits replayed events.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt *event.Event) (*queue.Job, error)
}

var _ queue.DeadLetterer = (*Service)(nil)

// Service manages the dead letter queue.
type Service struct {
	store  Store
	queue  Enqueuer
	logger *slog.Logger
}

// NewService creates a new DLQ service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// SetQueue sets the queue replayed entries are sent to. The queue usually
// holds the service as its dead letterer, so it is wired after construction.
func (svc *Service) SetQueue(q Enqueuer) {
	svc.queue = q
}

// DeadLetter records an exhausted job. Implements queue.DeadLetterer.
func (svc *Service) DeadLetter(ctx context.Context, job *queue.Job, cause string) error {
	if job.Event == nil {
		return fmt.Errorf("dlq: job %s has no event", job.ID)
	}

	entry := &Entry{
		Entity:       entity.New(),
		ID:           id.NewDLQID(),
		JobID:        job.ID,
		EventID:      job.Event.ID,
		AccountID:    job.Event.AccountID,
		Payload:      job.Event.Payload,
		Error:        cause,
		AttemptCount: job.Attempt,
		ReceivedAt:   job.Event.ReceivedAt,
		FailedAt:     time.Now().UTC(),
	}

	if err := svc.store.Push(ctx, entry); err != nil {
		return fmt.Errorf("dlq: push: %w", err)
	}

	svc.logger.WarnContext(ctx, "job dead-lettered",
		"job_id", job.ID,
		"event_id", entry.EventID,
		"account_id", entry.AccountID,
		"attempts", entry.AttemptCount,
		"error", cause,
	)
	return nil
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay re-enqueues a single DLQ entry as a fresh job.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) (*queue.Job, error) {
	if svc.queue == nil {
		return nil, errors.New("dlq: no queue configured for replay")
	}

	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, ErrAlreadyReplayed
	}

	evt := &event.Event{
		ID:         entry.EventID,
		AccountID:  entry.AccountID,
		Payload:    entry.Payload,
		ReceivedAt: entry.ReceivedAt,
	}
	job, err := svc.queue.Enqueue(ctx, evt)
	if err != nil {
		return nil, fmt.Errorf("dlq: replay enqueue: %w", err)
	}

	if err := svc.store.MarkReplayed(ctx, dlqID, time.Now().UTC()); err != nil {
		return job, fmt.Errorf("dlq: mark replayed: %w", err)
	}

	svc.logger.InfoContext(ctx, "dlq entry replayed",
		"dlq_id", dlqID,
		"event_id", entry.EventID,
		"job_id", job.ID,
	)
	return job, nil
}

// ReplayBulk replays every unreplayed entry that failed within [from, to].
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var n int64
	for _, e := range entries {
		if e.ReplayedAt != nil {
			continue
		}
		if _, err := svc.Replay(ctx, e.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Purge removes old DLQ entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}
