package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/store"
)

// Collection name constants.
const (
	colAccounts     = "fanout_accounts"
	colDestinations = "fanout_destinations"
	colDeliveryLogs = "fanout_delivery_logs"
	colDLQ          = "fanout_dead_letters"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all fanout collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}

		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %w", fanout.ErrMigrationFailed, col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all fanout collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "app_secret_token", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colDestinations: {
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
		},
		colDeliveryLogs: {
			{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "received_timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "received_timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "failed_at", Value: -1}}},
		},
	}
}
