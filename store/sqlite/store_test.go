package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/fanout"
	"github.com/xraph/fanout/deliverylog"
	"github.com/xraph/fanout/dlq"
	"github.com/xraph/fanout/id"
	"github.com/xraph/fanout/internal/entity"
)

func ctx() context.Context { return context.Background() }

func newTestStore(t *testing.T) *Store {
	t.Helper()

	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx(), filepath.Join(t.TempDir(), "fanout.db")); err != nil {
		t.Fatal(err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		t.Fatal(err)
	}
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStore(t)

	if err := s.Migrate(ctx()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
}

func TestDirectory(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.sdb.Exec(ctx(),
		`INSERT INTO fanout_accounts (account_id, account_name, app_secret_token) VALUES (?, ?, ?)`,
		"acc-1", "Acme", "secret"); err != nil {
		t.Fatal(err)
	}
	for _, url := range []string{"http://a", "http://b"} {
		if _, err := s.sdb.Exec(ctx(),
			`INSERT INTO fanout_destinations (account_id, url, http_method, headers) VALUES (?, ?, ?, ?)`,
			"acc-1", url, "PUT", `{"X-Key":"k"}`); err != nil {
			t.Fatal(err)
		}
	}

	acc, err := s.ResolveByToken(ctx(), "secret")
	if err != nil {
		t.Fatal(err)
	}
	if acc.ID != "acc-1" || acc.Name != "Acme" {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if _, err := s.ResolveByToken(ctx(), "nope"); !errors.Is(err, fanout.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	dests, err := s.ListDestinations(ctx(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(dests) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(dests))
	}
	if dests[0].URL != "http://a" || dests[0].Method != "PUT" || dests[0].Headers["X-Key"] != "k" {
		t.Fatalf("unexpected destination: %+v", dests[0])
	}
	if dests[0].ID >= dests[1].ID {
		t.Fatalf("expected ascending IDs, got %d then %d", dests[0].ID, dests[1].ID)
	}

	empty, err := s.ListDestinations(ctx(), "acc-unknown")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no destinations, got %d", len(empty))
	}
}

func TestAttempts(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	processing := deliverylog.NewProcessing("evt-1", "acc-1", []byte(`{"n":1}`))
	processing.CreatedAt = base
	success := deliverylog.NewTerminal("evt-1", "acc-1", 1, deliverylog.StatusSuccess, []byte(`{"n":1}`))
	success.CreatedAt = base.Add(time.Second)
	success.StatusCode = 204
	failed := deliverylog.NewTerminal("evt-1", "acc-1", 2, deliverylog.StatusFailed, []byte(`{"n":1}`))
	failed.CreatedAt = base.Add(2 * time.Second)
	failed.Error = "connection refused"

	for _, a := range []*deliverylog.Attempt{processing, success, failed} {
		if err := s.AppendAttempt(ctx(), a); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.ListByEvent(ctx(), "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Status != deliverylog.StatusProcessing || rows[0].DestinationID != nil {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].StatusCode != 204 || *rows[1].DestinationID != 1 || rows[1].ProcessedAt == nil {
		t.Fatalf("unexpected success row: %+v", rows[1])
	}
	if rows[2].Error != "connection refused" {
		t.Fatalf("unexpected failed row: %+v", rows[2])
	}
	if string(rows[0].Payload) != `{"n":1}` {
		t.Fatalf("payload = %s", rows[0].Payload)
	}
	if !rows[0].CreatedAt.Equal(base) {
		t.Fatalf("created_at = %v, want %v", rows[0].CreatedAt, base)
	}

	onlyFailed, err := s.ListAttempts(ctx(), deliverylog.ListOpts{Status: deliverylog.StatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID.String() != failed.ID.String() {
		t.Fatalf("unexpected failed rows: %+v", onlyFailed)
	}

	counts, err := s.CountByStatus(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if counts[deliverylog.StatusProcessing] != 1 || counts[deliverylog.StatusSuccess] != 1 || counts[deliverylog.StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestDLQ(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	old := &dlq.Entry{
		Entity: entity.New(), ID: id.NewDLQID(), JobID: id.NewJobID(),
		EventID: "e1", AccountID: "acc-1", Payload: []byte(`{}`),
		ReceivedAt: now.Add(-2 * time.Hour), FailedAt: now.Add(-time.Hour),
	}
	recent := &dlq.Entry{
		Entity: entity.New(), ID: id.NewDLQID(), JobID: id.NewJobID(),
		EventID: "e2", AccountID: "acc-2", Payload: []byte(`{}`),
		ReceivedAt: now, FailedAt: now, AttemptCount: 3, Error: "timeout",
	}
	for _, e := range []*dlq.Entry{old, recent} {
		if err := s.Push(ctx(), e); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDLQ(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID.String() != recent.ID.String() {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[0].AttemptCount != 3 || list[0].Error != "timeout" || list[0].JobID.String() != recent.JobID.String() {
		t.Fatalf("unexpected entry: %+v", list[0])
	}

	if err := s.MarkReplayed(ctx(), old.ID, now); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDLQ(ctx(), old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected replayed_at to be set")
	}

	if _, err := s.GetDLQ(ctx(), id.NewDLQID()); !errors.Is(err, fanout.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
	if err := s.MarkReplayed(ctx(), id.NewDLQID(), now); !errors.Is(err, fanout.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}

	purged, err := s.Purge(ctx(), now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	count, err := s.CountDLQ(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining, got %d", count)
	}
}
