package fanout

import (
	"errors"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/queue"
)

// Sentinel errors returned by fanout operations.
var (
	// ErrNoStore is returned when a Fanout is created without a store.
	ErrNoStore = errors.New("fanout: store is required")

	// ErrNoQueue is returned when a Fanout is created without a queue.
	ErrNoQueue = errors.New("fanout: queue is required")

	// ErrAccountNotFound is returned when no account matches a credential.
	ErrAccountNotFound = account.ErrNotFound

	// ErrEventNotFound is returned when no log rows exist for an event.
	ErrEventNotFound = errors.New("fanout: event not found")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("fanout: store is closed")

	// ErrQueueClosed is returned when a queue operation is attempted after the queue is closed.
	ErrQueueClosed = queue.ErrClosed

	// ErrJobNotLeased is returned when acking or failing a job whose lease was lost.
	ErrJobNotLeased = queue.ErrNotLeased

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("fanout: migration failed")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("fanout: dlq entry not found")

	// ErrAlreadyReplayed is returned when replaying a DLQ entry twice.
	ErrAlreadyReplayed = dlq.ErrAlreadyReplayed
)
