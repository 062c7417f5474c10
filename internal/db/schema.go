package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on every start; each statement is
// idempotent so reruns are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id               TEXT PRIMARY KEY,
		label            TEXT,
		vehicle_vin      TEXT,
		firmware_version TEXT,
		signal_strength  DOUBLE PRECISION,
		enabled          BOOLEAN     NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL,
		last_seen_at     TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS device_tokens (
		id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		device_id  TEXT REFERENCES devices(id) ON DELETE CASCADE,
		token_hash BYTEA       NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS device_tokens_device_id_key
		ON device_tokens (device_id) WHERE device_id IS NOT NULL`,
	// at most one global token row
	`CREATE UNIQUE INDEX IF NOT EXISTS device_tokens_global_key
		ON device_tokens ((1)) WHERE device_id IS NULL`,

	// Telemetry is deliberately not foreign-keyed to devices: deleting a
	// device orphans its history instead of cascading.
	`CREATE TABLE IF NOT EXISTS telemetry_points (
		device_id     TEXT             NOT NULL,
		parameter_key TEXT             NOT NULL,
		ts            TIMESTAMPTZ      NOT NULL,
		value         DOUBLE PRECISION NOT NULL,
		unit          TEXT             NOT NULL DEFAULT '',
		source        TEXT             NOT NULL,
		received_at   TIMESTAMPTZ      NOT NULL,
		PRIMARY KEY (device_id, parameter_key, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS telemetry_points_ts_idx ON telemetry_points (ts)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id         UUID PRIMARY KEY,
		device_id  TEXT        NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_device_idx ON sessions (device_id, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS daily_aggregates (
		device_id     TEXT             NOT NULL,
		parameter_key TEXT             NOT NULL,
		day           DATE             NOT NULL,
		min_value     DOUBLE PRECISION NOT NULL,
		max_value     DOUBLE PRECISION NOT NULL,
		avg_value     DOUBLE PRECISION NOT NULL,
		sample_count  BIGINT           NOT NULL,
		PRIMARY KEY (device_id, parameter_key, day)
	)`,
}

// EnsureSchema creates all tables and indexes the service needs.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
