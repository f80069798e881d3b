// Package deliverylog records the append-only history of delivery attempts.
//
// Every dispatched event produces one processing row and, per dispatch run,
// one terminal row (success or failed) for each destination that existed at
// dispatch time.
package deliverylog

import (
	"encoding/json"
	"time"

	"github.com/xraph/fanout/id"
)

// Status is the lifecycle marker of a delivery log row.
type Status string

const (
	// StatusQueued marks an event accepted but not yet picked up.
	StatusQueued Status = "queued"
	// StatusProcessing marks the start of a dispatch run.
	StatusProcessing Status = "processing"
	// StatusSuccess marks a destination that answered with any HTTP status.
	StatusSuccess Status = "success"
	// StatusFailed marks a destination that could not be reached.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s closes out a destination's attempt.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Attempt is one row of the delivery log.
type Attempt struct {
	// ID is the row key.
	ID id.ID `json:"id"`

	// EventID is the caller-supplied event identifier.
	EventID string `json:"event_id"`

	// AccountID identifies the owning account.
	AccountID string `json:"account_id"`

	// DestinationID is set on terminal rows only.
	DestinationID *int64 `json:"destination_id,omitempty"`

	// ProcessedAt is set on terminal rows only.
	ProcessedAt *time.Time `json:"processed_timestamp,omitempty"`

	// Status is the row's lifecycle marker.
	Status Status `json:"status"`

	// Payload is a snapshot of the event payload.
	Payload json.RawMessage `json:"received_data"`

	// Error holds the transport error text on failed rows, or the response
	// body read error on success rows.
	Error string `json:"error,omitempty"`

	// StatusCode is the HTTP status returned on success rows.
	StatusCode int `json:"status_code,omitempty"`

	// LatencyMs is the round-trip time of the HTTP call.
	LatencyMs int `json:"latency_ms,omitempty"`

	// CreatedAt is when the row was appended. It doubles as the received timestamp.
	CreatedAt time.Time `json:"received_timestamp"`
}

// NewProcessing builds the row appended before any network call.
func NewProcessing(eventID, accountID string, payload json.RawMessage) *Attempt {
	return &Attempt{
		ID:        id.NewAttemptID(),
		EventID:   eventID,
		AccountID: accountID,
		Status:    StatusProcessing,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTerminal builds a success or failed row for one destination.
func NewTerminal(eventID, accountID string, destinationID int64, status Status, payload json.RawMessage) *Attempt {
	now := time.Now().UTC()
	return &Attempt{
		ID:            id.NewAttemptID(),
		EventID:       eventID,
		AccountID:     accountID,
		DestinationID: &destinationID,
		ProcessedAt:   &now,
		Status:        status,
		Payload:       payload,
		CreatedAt:     now,
	}
}

// ListOpts configures filtering and pagination for attempt queries.
type ListOpts struct {
	Offset        int
	Limit         int
	AccountID     string
	DestinationID *int64
	Status        Status
	From          *time.Time
	To            *time.Time
}

// Match reports whether a satisfies the filters in opts. Pagination is ignored.
func (opts ListOpts) Match(a *Attempt) bool {
	if opts.AccountID != "" && a.AccountID != opts.AccountID {
		return false
	}
	if opts.DestinationID != nil && (a.DestinationID == nil || *a.DestinationID != *opts.DestinationID) {
		return false
	}
	if opts.Status != "" && a.Status != opts.Status {
		return false
	}
	if opts.From != nil && a.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && a.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

// Stats summarizes the log by status.
type Stats struct {
	Total      int64            `json:"total"`
	ByStatus   map[Status]int64 `json:"by_status"`
	LastAppend *time.Time       `json:"last_append,omitempty"`
}
