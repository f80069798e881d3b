package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("fanout/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", fanout.ErrMigrationFailed, err)
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
	err := s.pg.NewSelect(m).
		Where("app_secret_token = $1", token).
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
	if err := s.pg.NewSelect(&models).
		Where("account_id = $1", accountID).
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
	_, err := s.pg.NewInsert(toAttemptModel(a)).Exec(ctx)
	return err
}

func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]*deliverylog.Attempt, error) {
	var models []attemptModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", eventID).
		OrderExpr("received_timestamp ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromAttemptModels(models)
}

func (s *Store) ListAttempts(ctx context.Context, opts deliverylog.ListOpts) ([]*deliverylog.Attempt, error) {
	var models []attemptModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.AccountID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("account_id = $%d", argIdx), opts.AccountID)
	}
	if opts.DestinationID != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("destination_id = $%d", argIdx), *opts.DestinationID)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("received_timestamp >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("received_timestamp <= $%d", argIdx), *opts.To)
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
		n, err := s.pg.NewSelect((*attemptModel)(nil)).
			Where("status = $1", string(st)).
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
	_, err := s.pg.NewInsert(toDLQEntryModel(entry)).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.AccountID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("account_id = $%d", argIdx), opts.AccountID)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at <= $%d", argIdx), *opts.To)
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
	err := s.pg.NewSelect(m).
		Where("id = $1", dlqID.String()).
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
	res, err := s.pg.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = $1", at).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", dlqID.String()).
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
	res, err := s.pg.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < $1", before).
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
	count, err := s.pg.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
