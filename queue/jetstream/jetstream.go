// Package jetstream provides a durable queue.Queue backed by a NATS
// JetStream work-queue stream and a durable pull consumer.
//
// Leases map to the consumer's AckWait and are extended with InProgress.
// Retries are scheduled with NakWithDelay using the queue's RetryPolicy;
// exhausted jobs are handed to the dead letterer and terminated. A job the
// dead letterer rejects is nak'ed and handed over again on redelivery, so the
// consumer has no delivery cap and the attempt budget is enforced here.
package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/queue"
)

// Config names the stream and consumer used by the queue.
type Config struct {
	Stream   string
	Subject  string
	Consumer string
	MaxAge   time.Duration
	Storage  jetstream.StorageType
}

// DefaultConfig returns the stream layout used by fanoutd.
func DefaultConfig() Config {
	return Config{
		Stream:   "FANOUT_EVENTS",
		Subject:  "fanout.events",
		Consumer: "fanout-dispatch",
		MaxAge:   7 * 24 * time.Hour,
		Storage:  jetstream.FileStorage,
	}
}

var _ queue.Queue = (*Queue)(nil)

type lease struct {
	msg      jetstream.Msg
	attempt  int
	deadline time.Time
}

// Queue is a JetStream-backed queue.Queue.
type Queue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      Config
	opts     queue.Options

	mu     sync.Mutex
	leases map[id.ID]lease
	// causes keeps the final error of jobs whose hand-off failed, since a
	// redelivered message carries only the original envelope.
	causes map[string]string
}

// New ensures the stream and durable consumer exist and returns a queue bound to them.
func New(ctx context.Context, js jetstream.JetStream, cfg Config, opts ...queue.Option) (*Queue, error) {
	o := queue.NewOptions(opts...)

	if _, err := js.CreateOrUpdateStream(ctx, streamConfig(cfg)); err != nil {
		return nil, fmt.Errorf("queue/jetstream: create stream %s: %w", cfg.Stream, err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, consumerConfig(cfg, o))
	if err != nil {
		return nil, fmt.Errorf("queue/jetstream: create consumer %s: %w", cfg.Consumer, err)
	}

	return &Queue{
		js:       js,
		consumer: consumer,
		cfg:      cfg,
		opts:     o,
		leases:   make(map[id.ID]lease),
		causes:   make(map[string]string),
	}, nil
}

func streamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		MaxAge:    cfg.MaxAge,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   cfg.Storage,
	}
}

// consumerConfig leaves deliveries uncapped. A delivery past the retry budget
// is never handed to a worker; Claim dead-letters it instead.
func consumerConfig(cfg Config, o queue.Options) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:          cfg.Consumer,
		Durable:       cfg.Consumer,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       o.Lease,
		MaxDeliver:    -1,
	}
}

// Enqueue publishes the job and waits for the stream to persist it.
func (q *Queue) Enqueue(ctx context.Context, evt *event.Event) (*queue.Job, error) {
	job := queue.NewJob(evt, q.opts.Retry.MaxAttempts)
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue/jetstream: marshal job: %w", err)
	}

	if _, err := q.js.Publish(ctx, q.cfg.Subject, data, jetstream.WithMsgID(job.ID.String())); err != nil {
		return nil, fmt.Errorf("queue/jetstream: publish: %w", err)
	}
	return job, nil
}

// Claim fetches up to limit messages without waiting.
func (q *Queue) Claim(ctx context.Context, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	batch, err := q.consumer.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("queue/jetstream: fetch: %w", err)
	}

	now := q.opts.Now()
	q.pruneLeases(now)

	var jobs []*queue.Job
	for msg := range batch.Messages() {
		job, err := decodeJob(msg)
		if err != nil {
			q.opts.Logger.ErrorContext(ctx, "undecodable job terminated", "error", err)
			_ = msg.Term()
			continue
		}

		if job.Attempt > job.MaxAttempts {
			job.Attempt = job.MaxAttempts
			job.LastError = q.cause(job.ID)
			q.deadLetter(ctx, job, msg, job.LastError)
			continue
		}

		q.mu.Lock()
		q.leases[job.ID] = lease{msg: msg, attempt: job.Attempt, deadline: now.Add(q.opts.Lease)}
		q.mu.Unlock()
		jobs = append(jobs, job)
	}
	if err := batch.Error(); err != nil {
		q.opts.Logger.WarnContext(ctx, "fetch completed with error", "error", err)
	}
	return jobs, nil
}

// Extend resets the message's AckWait and pushes the local lease deadline.
func (q *Queue) Extend(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.leases[job.ID]
	if !ok || l.attempt != job.Attempt || !q.opts.Now().Before(l.deadline) {
		return fmt.Errorf("queue/jetstream: job %s: %w", job.ID, queue.ErrNotLeased)
	}
	if err := l.msg.InProgress(); err != nil {
		return fmt.Errorf("queue/jetstream: in progress: %w", err)
	}
	l.deadline = q.opts.Now().Add(q.opts.Lease)
	q.leases[job.ID] = l
	return nil
}

// Ack acknowledges the job's message.
func (q *Queue) Ack(_ context.Context, job *queue.Job) error {
	l, err := q.take(job)
	if err != nil {
		return err
	}
	if err := l.msg.Ack(); err != nil {
		return fmt.Errorf("queue/jetstream: ack: %w", err)
	}
	return nil
}

// Fail naks the message with backoff, or dead-letters and terminates it when exhausted.
func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) error {
	l, err := q.take(job)
	if err != nil {
		return err
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if job.Exhausted() {
		dead := *job
		dead.LastError = msg
		q.deadLetter(ctx, &dead, l.msg, msg)
		return nil
	}

	if err := l.msg.NakWithDelay(q.opts.Retry.Backoff(job.Attempt)); err != nil {
		return fmt.Errorf("queue/jetstream: nak: %w", err)
	}
	return nil
}

// Pending returns the number of messages not yet delivered to the consumer.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue/jetstream: consumer info: %w", err)
	}
	return int64(info.NumPending), nil
}

// Close forgets outstanding leases. The connection is owned by the caller.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.leases = make(map[id.ID]lease)
	q.causes = make(map[string]string)
	q.mu.Unlock()
	return nil
}

func (q *Queue) take(job *queue.Job) (lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.leases[job.ID]
	if !ok || l.attempt != job.Attempt {
		return lease{}, fmt.Errorf("queue/jetstream: job %s: %w", job.ID, queue.ErrNotLeased)
	}
	delete(q.leases, job.ID)
	return l, nil
}

func (q *Queue) pruneLeases(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for jobID, l := range q.leases {
		if !now.Before(l.deadline) {
			delete(q.leases, jobID)
		}
	}
}

// cause returns the recorded final error of a redelivered exhausted job.
func (q *Queue) cause(jobID id.ID) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.causes[jobID.String()]; ok {
		return c
	}
	return "lease expired"
}

// deadLetter hands job to the dead letterer and terminates its message. When
// the dead letterer fails the message is nak'ed so a later Claim retries.
func (q *Queue) deadLetter(ctx context.Context, job *queue.Job, msg jetstream.Msg, cause string) {
	if q.opts.DeadLetterer != nil {
		if err := q.opts.DeadLetterer.DeadLetter(ctx, job, cause); err != nil {
			q.opts.Logger.ErrorContext(ctx, "dead letter failed, will retry",
				"job_id", job.ID, "error", err)
			q.mu.Lock()
			q.causes[job.ID.String()] = cause
			q.mu.Unlock()
			if err := msg.NakWithDelay(q.opts.Retry.BaseDelay); err != nil {
				q.opts.Logger.WarnContext(ctx, "nak dead job failed",
					"job_id", job.ID, "error", err)
			}
			return
		}
	} else {
		q.opts.Logger.ErrorContext(ctx, "job exhausted with no dead letterer",
			"job_id", job.ID, "error", cause)
	}

	q.mu.Lock()
	delete(q.causes, job.ID.String())
	q.mu.Unlock()
	if err := msg.Term(); err != nil {
		q.opts.Logger.WarnContext(ctx, "terminate message failed",
			"job_id", job.ID, "error", err)
	}
}

// decodeJob rebuilds a job, taking the attempt number from the delivery count.
func decodeJob(msg jetstream.Msg) (*queue.Job, error) {
	var job queue.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("message metadata: %w", err)
	}
	job.Attempt = int(meta.NumDelivered)
	return &job, nil
}
