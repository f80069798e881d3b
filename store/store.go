// Package store defines the composite Store interface for all fanout persistence.
//
// Each subsystem defines its own narrow interface; the aggregate Store composes
// them so a single backend can serve the admission gate, the dispatcher, the
// delivery log and the dead letter queue.
package store

import (
	"context"

	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dlq"
)

// Store is the aggregate persistence interface.
type Store interface {
	account.Resolver
	destination.Lister
	deliverylog.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
