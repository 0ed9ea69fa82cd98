package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the StreamPay store.
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
    price_per_second   BIGINT NOT NULL DEFAULT 0,
    currency           TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active',
    seconds_streamed   BIGINT NOT NULL DEFAULT 0,
    amount_owed        BIGINT NOT NULL DEFAULT 0,
    amount_settled     BIGINT NOT NULL DEFAULT 0,
    last_tick_at       TIMESTAMPTZ,
    last_settlement_at TIMESTAMPTZ,
    opened_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    closed_at          TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT streampay_channels_settled_le_owed CHECK (amount_settled <= amount_owed)
);

CREATE INDEX IF NOT EXISTS idx_streampay_channels_viewer_content ON streampay_channels (viewer_id, content_id, status);
CREATE INDEX IF NOT EXISTS idx_streampay_channels_stale ON streampay_channels (status, last_settlement_at) WHERE amount_owed > amount_settled;
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
    channel_id TEXT NOT NULL REFERENCES streampay_channels (id),
    amount     BIGINT NOT NULL DEFAULT 0,
    currency   TEXT NOT NULL DEFAULT '',
    tx_ref     TEXT NOT NULL DEFAULT '',
    payer      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    seconds_remaining BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT streampay_credits_non_negative CHECK (seconds_remaining >= 0)
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
    expires_at TIMESTAMPTZ NOT NULL
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
	)
}
