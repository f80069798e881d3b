// Package redis provides a durable queue.Queue backed by Redis.
//
// Each job is a hash holding its JSON envelope and attempt counter. Three
// sorted sets index the jobs: ready (scored by ready time), leased (scored by
// lease deadline) and dead (exhausted jobs awaiting hand-off to the dead
// letterer, scored by next hand-off time). Every state transition runs as a
// single Lua script. A dead job stays in Redis until the dead letterer
// accepts it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/queue"
)

// DefaultPrefix namespaces every key of the queue.
const DefaultPrefix = "bp:events"

var _ queue.Queue = (*Queue)(nil)

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	rdb  goredis.UniversalClient
	opts queue.Options

	readyKey  string
	leasedKey string
	deadKey   string
	jobPrefix string
}

// New creates a Redis queue. An empty prefix uses DefaultPrefix.
func New(rdb goredis.UniversalClient, prefix string, opts ...queue.Option) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{
		rdb:       rdb,
		opts:      queue.NewOptions(opts...),
		readyKey:  prefix + ":ready",
		leasedKey: prefix + ":leased",
		deadKey:   prefix + ":dead",
		jobPrefix: prefix + ":job:",
	}
}

func (q *Queue) jobKey(jobID string) string { return q.jobPrefix + jobID }

func (q *Queue) nowMs() int64 { return q.opts.Now().UnixMilli() }

// Enqueue writes the job hash and indexes it as ready in one transaction.
func (q *Queue) Enqueue(ctx context.Context, evt *event.Event) (*queue.Job, error) {
	job := queue.NewJob(evt, q.opts.Retry.MaxAttempts)
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue/redis: marshal job: %w", err)
	}

	jobID := job.ID.String()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), map[string]any{
		"data":    raw,
		"attempt": 0,
		"max":     job.MaxAttempts,
		"error":   "",
	})
	pipe.ZAdd(ctx, q.readyKey, goredis.Z{Score: float64(q.nowMs()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue/redis: enqueue: %w", err)
	}
	return job, nil
}

// Claim leases up to limit ready jobs.
func (q *Queue) Claim(ctx context.Context, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.readyKey, q.leasedKey, q.deadKey},
		q.nowMs(), limit, q.opts.Lease.Milliseconds(), q.jobPrefix,
	).Slice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue/redis: claim script: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue/redis: claim script: unexpected reply %v", res)
	}

	claimedIDs := toStrings(res[0])
	deadIDs := toStrings(res[1])

	if len(deadIDs) > 0 {
		dead, err := q.load(ctx, deadIDs)
		if err != nil {
			q.opts.Logger.ErrorContext(ctx, "load dead jobs failed", "error", err)
		}
		for _, job := range dead {
			q.deadLetter(ctx, job, job.LastError)
		}
	}

	if len(claimedIDs) == 0 {
		return nil, nil
	}
	return q.load(ctx, claimedIDs)
}

// Extend pushes a held lease one lease period into the future.
func (q *Queue) Extend(ctx context.Context, job *queue.Job) error {
	jobID := job.ID.String()
	deadline := q.opts.Now().Add(q.opts.Lease).UnixMilli()
	n, err := extendScript.Run(ctx, q.rdb,
		[]string{q.leasedKey, q.jobKey(jobID)},
		jobID, job.Attempt, deadline,
	).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: extend: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue/redis: extend %s: %w", jobID, queue.ErrNotLeased)
	}
	return nil
}

// Ack deletes a job if the caller still holds its lease.
func (q *Queue) Ack(ctx context.Context, job *queue.Job) error {
	jobID := job.ID.String()
	n, err := ackScript.Run(ctx, q.rdb,
		[]string{q.leasedKey, q.jobKey(jobID)},
		jobID, job.Attempt,
	).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: ack: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue/redis: ack %s: %w", jobID, queue.ErrNotLeased)
	}
	return nil
}

// Fail schedules a retry with backoff, or dead-letters an exhausted job.
func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) error {
	jobID := job.ID.String()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	exhausted := job.Exhausted()
	score := q.opts.Now().Add(q.opts.Retry.Backoff(job.Attempt)).UnixMilli()
	flag := "0"
	if exhausted {
		// Claimed for hand-off by this caller for one lease period.
		score = q.opts.Now().Add(q.opts.Lease).UnixMilli()
		flag = "1"
	}

	n, err := failScript.Run(ctx, q.rdb,
		[]string{q.leasedKey, q.readyKey, q.deadKey, q.jobKey(jobID)},
		jobID, job.Attempt, msg, score, flag,
	).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: fail: %w", err)
	}

	switch n {
	case 0:
		return fmt.Errorf("queue/redis: fail %s: %w", jobID, queue.ErrNotLeased)
	case 2:
		dead := *job
		dead.LastError = msg
		q.deadLetter(ctx, &dead, msg)
	}
	return nil
}

// Pending returns the size of the ready set.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: pending: %w", err)
	}
	return n, nil
}

// Dead returns the number of exhausted jobs not yet handed to the dead letterer.
func (q *Queue) Dead(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.deadKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: dead: %w", err)
	}
	return n, nil
}

// Close is a no-op; the client is owned by the caller.
func (q *Queue) Close() error { return nil }

// deadLetter hands a job to the dead letterer and removes it from Redis once
// accepted. A rejected job stays in the dead set and is handed over again by
// a later Claim after BaseDelay.
func (q *Queue) deadLetter(ctx context.Context, job *queue.Job, cause string) {
	jobID := job.ID.String()

	if q.opts.DeadLetterer == nil {
		q.opts.Logger.ErrorContext(ctx, "job exhausted with no dead letterer",
			"job_id", job.ID, "error", cause)
	} else if err := q.opts.DeadLetterer.DeadLetter(ctx, job, cause); err != nil {
		q.opts.Logger.ErrorContext(ctx, "dead letter failed, will retry",
			"job_id", job.ID, "error", err)
		retryAt := q.opts.Now().Add(q.opts.Retry.BaseDelay).UnixMilli()
		if err := q.rdb.ZAddXX(ctx, q.deadKey, goredis.Z{Score: float64(retryAt), Member: jobID}).Err(); err != nil {
			q.opts.Logger.WarnContext(ctx, "reschedule dead job failed",
				"job_id", jobID, "error", err)
		}
		return
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.deadKey, jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		q.opts.Logger.WarnContext(ctx, "cleanup dead job failed",
			"job_id", jobID, "error", err)
	}
}

// load fetches job hashes for ids, skipping any that vanished.
func (q *Queue) load(ctx context.Context, ids []string) ([]*queue.Job, error) {
	pipe := q.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jobID := range ids {
		cmds[i] = pipe.HGetAll(ctx, q.jobKey(jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !isRedisNil(err) {
		return nil, fmt.Errorf("queue/redis: load jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		job, err := decodeJob(fields)
		if err != nil {
			return nil, fmt.Errorf("queue/redis: decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(fields map[string]string) (*queue.Job, error) {
	var job queue.Job
	if err := json.Unmarshal([]byte(fields["data"]), &job); err != nil {
		return nil, err
	}
	if job.ID.IsNil() {
		return nil, errors.New("missing job id")
	}
	attempt, err := strconv.Atoi(fields["attempt"])
	if err != nil {
		return nil, fmt.Errorf("attempt: %w", err)
	}
	job.Attempt = attempt
	job.LastError = fields["error"]
	return &job, nil
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
