// Package queue defines the durable, at-least-once job queue that decouples
// ingestion from delivery.
//
// A Job is leased by exactly one worker at a time. A worker either acks the
// job or fails it; a failed job is retried with exponential backoff until its
// attempts are exhausted, then handed to a DeadLetterer. A lease that expires
// without ack or fail counts as an attempt and the job is redelivered, so a
// worker that needs longer than the lease must Extend it. A job whose
// DeadLetterer fails stays in the queue and is handed over again later.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/fanout/event"
	"github.com/xraph/fanout/id"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed queue.
	ErrClosed = errors.New("fanout: queue is closed")

	// ErrNotLeased is returned when acking or failing a job whose lease was lost.
	ErrNotLeased = errors.New("fanout: job is not leased")
)

// DefaultLease is the visibility timeout of a claimed job.
const DefaultLease = 30 * time.Second

// Job is the queue's envelope around an Event.
type Job struct {
	// ID is the unique job identifier.
	ID id.ID `json:"id"`

	// Event is the payload being delivered.
	Event *event.Event `json:"event"`

	// Attempt is the 1-based number of the current delivery attempt.
	// It is zero until the job is first claimed.
	Attempt int `json:"attempt"`

	// MaxAttempts is the attempt budget before dead-lettering.
	MaxAttempts int `json:"max_attempts"`

	// EnqueuedAt is when the job was first accepted.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// LastError is the cause recorded by the most recent Fail.
	LastError string `json:"last_error,omitempty"`
}

// NewJob wraps evt in a fresh job.
func NewJob(evt *event.Event, maxAttempts int) *Job {
	return &Job{
		ID:          id.NewJobID(),
		Event:       evt,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Exhausted reports whether the job has used its attempt budget.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Queue is a durable at-least-once job queue.
type Queue interface {
	// Enqueue persists a job for evt. Once it returns nil the event survives a
	// process restart (for durable backends).
	Enqueue(ctx context.Context, evt *event.Event) (*Job, error)

	// Claim leases up to limit ready jobs.
	Claim(ctx context.Context, limit int) ([]*Job, error)

	// Extend pushes the lease of a job still held by the caller one full
	// lease period into the future. It returns ErrNotLeased when the lease
	// was already lost.
	Extend(ctx context.Context, job *Job) error

	// Ack marks a leased job complete.
	Ack(ctx context.Context, job *Job) error

	// Fail schedules a retry with backoff, or dead-letters the job when its
	// attempts are exhausted.
	Fail(ctx context.Context, job *Job, cause error) error

	// Pending returns the number of jobs waiting to be claimed.
	Pending(ctx context.Context) (int64, error)

	// Close releases backend resources.
	Close() error
}

// DeadLetterer receives jobs whose attempts are exhausted.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, job *Job, cause string) error
}

// DeadLetterFunc adapts a plain function to the DeadLetterer interface.
type DeadLetterFunc func(ctx context.Context, job *Job, cause string) error

// DeadLetter calls f(ctx, job, cause).
func (f DeadLetterFunc) DeadLetter(ctx context.Context, job *Job, cause string) error {
	return f(ctx, job, cause)
}
