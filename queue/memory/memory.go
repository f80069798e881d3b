// Package memory provides an in-process queue.Queue for tests and
// single-instance deployments. It is not crash-durable.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/queue"
)

var _ queue.Queue = (*Queue)(nil)

type entry struct {
	job         queue.Job
	readyAt     time.Time
	leased      bool
	leasedUntil time.Time

	// dead marks an exhausted job waiting for the DeadLetterer. readyAt is
	// the earliest next hand-off; handing is set while one is in progress.
	dead    bool
	handing bool
}

// Queue is an in-memory queue.Queue.
type Queue struct {
	mu     sync.Mutex
	opts   queue.Options
	jobs   map[id.ID]*entry
	closed bool
}

// New creates an in-memory queue.
func New(opts ...queue.Option) *Queue {
	return &Queue{
		opts: queue.NewOptions(opts...),
		jobs: make(map[id.ID]*entry),
	}
}

// Enqueue stores a new job, ready immediately.
func (q *Queue) Enqueue(_ context.Context, evt *event.Event) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, queue.ErrClosed
	}

	job := queue.NewJob(evt, q.opts.Retry.MaxAttempts)
	q.jobs[job.ID] = &entry{job: *job, readyAt: q.opts.Now()}
	return job, nil
}

// Claim leases up to limit ready jobs, oldest first. Expired leases are
// returned to the ready set, or dead-lettered when their attempts are used up.
// Dead jobs whose earlier hand-off failed are retried here too.
func (q *Queue) Claim(ctx context.Context, limit int) ([]*queue.Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, queue.ErrClosed
	}

	now := q.opts.Now()
	var dead []queue.Job
	ready := make([]*entry, 0)

	for _, e := range q.jobs {
		if e.dead {
			if !e.handing && !e.readyAt.After(now) {
				e.handing = true
				dead = append(dead, e.job)
			}
			continue
		}
		if e.leased {
			if now.Before(e.leasedUntil) {
				continue
			}
			e.leased = false
			e.job.LastError = "lease expired"
			if e.job.Exhausted() {
				e.dead = true
				e.handing = true
				dead = append(dead, e.job)
				continue
			}
			e.readyAt = now
		}
		if !e.readyAt.After(now) {
			ready = append(ready, e)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].readyAt.Equal(ready[j].readyAt) {
			return ready[i].job.EnqueuedAt.Before(ready[j].job.EnqueuedAt)
		}
		return ready[i].readyAt.Before(ready[j].readyAt)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]*queue.Job, 0, len(ready))
	for _, e := range ready {
		e.leased = true
		e.leasedUntil = now.Add(q.opts.Lease)
		e.job.Attempt++
		j := e.job
		claimed = append(claimed, &j)
	}
	q.mu.Unlock()

	for i := range dead {
		q.deadLetter(ctx, &dead[i])
	}
	return claimed, nil
}

// Extend pushes a held lease one lease period into the future.
func (q *Queue) Extend(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.leasedEntry(job)
	if err != nil {
		return err
	}
	e.leasedUntil = q.opts.Now().Add(q.opts.Lease)
	return nil
}

// Ack removes a leased job.
func (q *Queue) Ack(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.leasedEntry(job); err != nil {
		return err
	}
	delete(q.jobs, job.ID)
	return nil
}

// Fail reschedules a leased job with backoff or dead-letters it.
func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) error {
	msg := errorText(cause)

	q.mu.Lock()
	e, err := q.leasedEntry(job)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	e.job.LastError = msg
	e.leased = false
	if e.job.Exhausted() {
		e.dead = true
		e.handing = true
		dead := e.job
		q.mu.Unlock()
		q.deadLetter(ctx, &dead)
		return nil
	}

	e.readyAt = q.opts.Now().Add(q.opts.Retry.Backoff(e.job.Attempt))
	q.mu.Unlock()
	return nil
}

// Pending returns the number of jobs neither leased nor dead.
func (q *Queue) Pending(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, e := range q.jobs {
		if !e.leased && !e.dead {
			n++
		}
	}
	return n, nil
}

// Dead returns the number of exhausted jobs not yet accepted by the
// DeadLetterer.
func (q *Queue) Dead() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.jobs {
		if e.dead {
			n++
		}
	}
	return n
}

// Len returns the number of jobs held, leased, ready or dead.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close rejects further operations. Held jobs are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

func (q *Queue) leasedEntry(job *queue.Job) (*entry, error) {
	if q.closed {
		return nil, queue.ErrClosed
	}
	e, ok := q.jobs[job.ID]
	if !ok || !e.leased || e.dead || e.job.Attempt != job.Attempt {
		return nil, fmt.Errorf("memory queue: job %s: %w", job.ID, queue.ErrNotLeased)
	}
	return e, nil
}

// deadLetter hands job to the DeadLetterer. The job is dropped once it is
// accepted; on failure it stays dead and is retried after BaseDelay.
func (q *Queue) deadLetter(ctx context.Context, job *queue.Job) {
	var err error
	if q.opts.DeadLetterer == nil {
		q.opts.Logger.ErrorContext(ctx, "job exhausted with no dead letterer",
			"job_id", job.ID, "event_id", job.Event.ID, "error", job.LastError)
	} else if err = q.opts.DeadLetterer.DeadLetter(ctx, job, job.LastError); err != nil {
		q.opts.Logger.ErrorContext(ctx, "dead letter failed, will retry",
			"job_id", job.ID, "event_id", job.Event.ID, "error", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[job.ID]
	if !ok {
		return
	}
	if err != nil {
		e.handing = false
		e.readyAt = q.opts.Now().Add(q.opts.Retry.BaseDelay)
		return
	}
	delete(q.jobs, job.ID)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
