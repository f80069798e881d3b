package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the fanout store.
// It can be registered with a grove orchestrator for locking, version
// tracking and rollback.
var Migrations = migrate.NewGroup("fanout")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_fanout_accounts",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS fanout_accounts (
    account_id       TEXT PRIMARY KEY,
    account_name     TEXT NOT NULL DEFAULT '',
    app_secret_token TEXT NOT NULL UNIQUE,
    website          TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS fanout_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_fanout_destinations",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS fanout_destinations (
    id          BIGSERIAL PRIMARY KEY,
    account_id  TEXT NOT NULL REFERENCES fanout_accounts (account_id) ON DELETE CASCADE,
    url         TEXT NOT NULL,
    http_method TEXT NOT NULL DEFAULT 'POST',
    headers     JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_fanout_destinations_account ON fanout_destinations (account_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS fanout_destinations`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_fanout_delivery_logs",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS fanout_delivery_logs (
    id                  TEXT PRIMARY KEY,
    event_id            TEXT NOT NULL,
    account_id          TEXT NOT NULL,
    destination_id      BIGINT,
    received_timestamp  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_timestamp TIMESTAMPTZ,
    received_data       JSONB,
    status              TEXT NOT NULL,
    error               TEXT NOT NULL DEFAULT '',
    status_code         INT NOT NULL DEFAULT 0,
    latency_ms          INT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_fanout_delivery_logs_event ON fanout_delivery_logs (event_id, received_timestamp);
CREATE INDEX IF NOT EXISTS idx_fanout_delivery_logs_account ON fanout_delivery_logs (account_id, received_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_fanout_delivery_logs_status ON fanout_delivery_logs (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS fanout_delivery_logs`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_fanout_dead_letters",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS fanout_dead_letters (
    id            TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL,
    event_id      TEXT NOT NULL,
    account_id    TEXT NOT NULL,
    payload       JSONB,
    error         TEXT NOT NULL DEFAULT '',
    attempt_count INT NOT NULL DEFAULT 0,
    received_at   TIMESTAMPTZ NOT NULL,
    failed_at     TIMESTAMPTZ NOT NULL,
    replayed_at   TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_fanout_dead_letters_account ON fanout_dead_letters (account_id);
CREATE INDEX IF NOT EXISTS idx_fanout_dead_letters_failed ON fanout_dead_letters (failed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS fanout_dead_letters`)
				return err
			},
		},
	)
}
