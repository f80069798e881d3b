package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/account"
	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/destination"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/id"
	fanoutstore "github.com/xraph/fanout/store"
)

// compile-time interface check
var _ fanoutstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("fanout/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", fanout.ErrMigrationFailed, err)
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

// ==================== Directory ====================

func (s *Store) ResolveByToken(ctx context.Context, token string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("app_secret_token = ?", token).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fanout.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m), nil
}

func (s *Store) ListDestinations(ctx context.Context, accountID string) ([]*destination.Destination, error) {
	var models []destinationModel
	if err := s.sdb.NewSelect(&models).
		Where("account_id = ?", accountID).
		OrderExpr("id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*destination.Destination, len(models))
	for i := range models {
		result[i] = fromDestinationModel(&models[i])
	}
	return result, nil
}

// ==================== Delivery log ====================

func (s *Store) AppendAttempt(ctx context.Context, a *deliverylog.Attempt) error {
	_, err := s.sdb.NewInsert(toAttemptModel(a)).Exec(ctx)
	return err
}

func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*deliverylog.Attempt, error) {
	var models []attemptModel
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", eventID).
		OrderExpr("received_timestamp ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ListAttempts(ctx context.Context, opts deliverylog.ListOpts) ([]*deliverylog.Attempt, error) {
	var models []attemptModel
	q := s.sdb.NewSelect(&models)

	if opts.AccountID != "" {
		q = q.Where("account_id = ?", opts.AccountID)
	}
	if opts.DestinationID != nil {
		q = q.Where("destination_id = ?", *opts.DestinationID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.From != nil {
		q = q.Where("received_timestamp >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("received_timestamp <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("received_timestamp DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) CountByStatus(ctx context.Context) (map[deliverylog.Status]int64, error) {
	counts := make(map[deliverylog.Status]int64)
	for _, st := range []deliverylog.Status{
		deliverylog.StatusQueued,
		deliverylog.StatusProcessing,
		deliverylog.StatusSuccess,
		deliverylog.StatusFailed,
	} {
		n, err := s.sdb.NewSelect((*attemptModel)(nil)).
			Where("status = ?", string(st)).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

func fromAttemptModels(models []attemptModel) ([]*deliverylog.Attempt, error) {
	result := make([]*deliverylog.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== DLQ ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.sdb.NewInsert(toDLQEntryModel(entry)).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.sdb.NewSelect(&models)

	if opts.AccountID != "" {
		q = q.Where("account_id = ?", opts.AccountID)
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", dlqID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fanout.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", dlqID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fanout.ErrDLQNotFound
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return rows, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.sdb.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
