package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/internal/entity"
)

// Entry is a job whose attempts were exhausted before the dispatcher could
// complete its fan-out.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// JobID references the exhausted queue job.
	JobID id.ID `json:"job_id"`

	// EventID is the caller-supplied event identifier.
	EventID string `json:"event_id"`

	// AccountID identifies the account that pushed the event.
	AccountID string `json:"account_id"`

	// Payload is the event body that could not be dispatched.
	Payload json.RawMessage `json:"payload"`

	// Error is the cause recorded by the final attempt.
	Error string `json:"error"`

	// AttemptCount is the number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// ReceivedAt is when the event was originally admitted.
	ReceivedAt time.Time `json:"received_at"`

	// FailedAt is when the job was dead-lettered.
	FailedAt time.Time `json:"failed_at"`

	// ReplayedAt is set once the entry has been re-enqueued.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset    int
	Limit     int
	AccountID string
	From      *time.Time
	To        *time.Time
}

// Match reports whether e satisfies the filters in opts. Pagination is ignored.
func (opts ListOpts) Match(e *Entry) bool {
	if opts.AccountID != "" && e.AccountID != opts.AccountID {
		return false
	}
	if opts.From != nil && e.FailedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && e.FailedAt.After(*opts.To) {
		return false
	}
	return true
}
