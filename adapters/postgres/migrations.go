package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// schemaVersion is bumped whenever migrations gains a step.
const schemaVersion = 1

// migrations returns the DDL statements, in order. Every statement is
// idempotent so Migrate can run on every start.
func (a *PostgresAdapter) migrations() []string {
	events := a.table("events")
	snapshots := a.table("snapshots")
	checkpoints := a.table("checkpoints")

	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(a.schema)),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			global_sequence BIGSERIAL PRIMARY KEY,
			event_id        UUID NOT NULL,
			aggregate_id    VARCHAR(500) NOT NULL,
			aggregate_type  VARCHAR(250) NOT NULL,
			event_type      VARCHAR(500) NOT NULL,
			event_data      BYTEA NOT NULL,
			metadata        JSONB,
			version         BIGINT NOT NULL,
			schema_version  INT NOT NULL DEFAULT 1,
			timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			idempotency_key TEXT NULL,
			CONSTRAINT %s UNIQUE (aggregate_id, version),
			CONSTRAINT %s UNIQUE (idempotency_key)
		)`, events, constraintAggregateVersion, constraintIdempotencyKey),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_aggregate_id ON %s(aggregate_id)`, events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_aggregate_type ON %s(aggregate_type)`, events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_event_type ON %s(event_type)`, events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON %s(timestamp)`, events),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id             BIGSERIAL PRIMARY KEY,
			snapshot_id    UUID NOT NULL,
			aggregate_id   VARCHAR(500) NOT NULL,
			aggregate_type VARCHAR(250) NOT NULL,
			version        BIGINT NOT NULL,
			state          BYTEA NOT NULL,
			encoding       VARCHAR(50) NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT %s UNIQUE (aggregate_id, version)
		)`, snapshots, constraintSnapshotVersion),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_snapshots_aggregate ON %s(aggregate_id, aggregate_type)`, snapshots),

		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       VARCHAR(500) PRIMARY KEY,
			position   BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, checkpoints),
	}
}

// Migrate creates the schema, tables and indexes.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	for _, stmt := range a.migrations() {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("chronicle/postgres: migration failed: %w", err)
		}
	}

	a.logger.Debug("schema migrated", "schema", a.schema, "version", schemaVersion)
	return nil
}

// MigrationVersion returns the current migration version.
func (a *PostgresAdapter) MigrationVersion(ctx context.Context) (int, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var exists bool
	err := a.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = 'events'
		)`, a.schema).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to read migration version: %w", err)
	}

	if exists {
		return schemaVersion, nil
	}
	return 0, nil
}
