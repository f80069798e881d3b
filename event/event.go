// Package event defines the inbound event accepted for fan-out.
package event

import (
	"encoding/json"
	"time"
)

// Event is one inbound payload accepted for delivery. It is immutable once
// built by the admission gate and is owned by the queue until dispatched.
type Event struct {
	// ID is the caller-supplied, globally unique event identifier.
	ID string `json:"event_id"`

	// AccountID identifies the tenant that pushed this event.
	AccountID string `json:"account_id"`

	// Payload is the raw JSON document sent by the caller.
	Payload json.RawMessage `json:"payload"`

	// ReceivedAt is when the gate accepted the event.
	ReceivedAt time.Time `json:"received_at"`
}

// New builds an Event stamped with the current UTC time.
func New(eventID, accountID string, payload []byte) *Event {
	return &Event{
		ID:         eventID,
		AccountID:  accountID,
		Payload:    append(json.RawMessage(nil), payload...),
		ReceivedAt: time.Now().UTC(),
	}
}
