package deliverylog

import "context"

// Store persists delivery log rows. Rows are never updated or deleted.
type Store interface {
	// AppendAttempt persists a new row.
	AppendAttempt(ctx context.Context, a *Attempt) error

	// ListByEvent returns every row for an event in append order.
	ListByEvent(ctx context.Context, eventID string) ([]*Attempt, error)

	// ListAttempts returns rows matching opts, newest first.
	ListAttempts(ctx context.Context, opts ListOpts) ([]*Attempt, error)

	// CountByStatus returns the number of rows per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
