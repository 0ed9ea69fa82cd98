package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the StreamPay store (SQLite).
var Migrations = migrate.NewGroup("streampay")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_streampay_channels",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS streampay_channels (
    id                 TEXT PRIMARY KEY,
    viewer_id          TEXT NOT NULL DEFAULT '',
    content_id         TEXT NOT NULL DEFAULT '',
    price_per_second   INTEGER NOT NULL DEFAULT 0,
    currency           TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active',
    seconds_streamed   INTEGER NOT NULL DEFAULT 0,
    amount_owed        INTEGER NOT NULL DEFAULT 0,
    amount_settled     INTEGER NOT NULL DEFAULT 0,
    last_tick_at       TEXT,
    last_settlement_at TEXT,
    opened_at          TEXT NOT NULL DEFAULT (datetime('now')),
    closed_at          TEXT,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now')),
    CHECK (amount_settled <= amount_owed)
);

CREATE INDEX IF NOT EXISTS idx_streampay_channels_viewer_content ON streampay_channels (viewer_id, content_id, status);
CREATE INDEX IF NOT EXISTS idx_streampay_channels_status ON streampay_channels (status, last_settlement_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS streampay_channels`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_streampay_settlements",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS streampay_settlements (
    id         TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL DEFAULT '',
    amount     INTEGER NOT NULL DEFAULT 0,
    currency   TEXT NOT NULL DEFAULT '',
    tx_ref     TEXT NOT NULL DEFAULT '',
    payer      TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_streampay_settlements_channel ON streampay_settlements (channel_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS streampay_settlements`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_streampay_credits",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS streampay_credits (
    id                TEXT PRIMARY KEY,
    viewer_id         TEXT NOT NULL DEFAULT '',
    content_id        TEXT NOT NULL DEFAULT '',
    seconds_remaining INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now')),
    CHECK (seconds_remaining >= 0)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_streampay_credits_viewer_content ON streampay_credits (viewer_id, content_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS streampay_credits`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_streampay_tick_slots",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS streampay_tick_slots (
    slot_key   TEXT PRIMARY KEY,
    expires_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_streampay_tick_slots_expires ON streampay_tick_slots (expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS streampay_tick_slots`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_streampay_settlement_apply_trigger",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				// The settlement row and the channel's settled totals must
				// change in one atomic statement; SQLite has no data-modifying
				// CTEs, so the insert carries the channel update via trigger.
				_, err := exec.Exec(ctx, `
CREATE TRIGGER IF NOT EXISTS trg_streampay_settlements_apply
AFTER INSERT ON streampay_settlements
BEGIN
    UPDATE streampay_channels
    SET amount_settled = amount_settled + NEW.amount,
        last_settlement_at = NEW.created_at,
        updated_at = NEW.created_at
    WHERE id = NEW.channel_id;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TRIGGER IF EXISTS trg_streampay_settlements_apply`)
				return err
			},
		},
	)
}
