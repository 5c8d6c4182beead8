package sqlite

import (
	"context"
	"fmt"
)

// schemaVersion is stored in PRAGMA user_version once Migrate has run.
const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		global_sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id        TEXT NOT NULL,
		aggregate_id    TEXT NOT NULL,
		aggregate_type  TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		event_data      BLOB NOT NULL,
		metadata        TEXT,
		version         INTEGER NOT NULL,
		schema_version  INTEGER NOT NULL DEFAULT 1,
		timestamp       INTEGER NOT NULL,
		idempotency_key TEXT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS events_aggregate_version_uniq ON events(aggregate_id, version)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS events_idempotency_key_uniq ON events(idempotency_key)
		WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_events_aggregate_type ON events(aggregate_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id    TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		version        INTEGER NOT NULL,
		state          BLOB NOT NULL,
		encoding       TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS snapshots_aggregate_version_uniq ON snapshots(aggregate_id, version)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_aggregate ON snapshots(aggregate_id, aggregate_type)`,

	`CREATE TABLE IF NOT EXISTS checkpoints (
		name       TEXT PRIMARY KEY,
		position   INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`,

	fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
}

// Migrate creates the tables and indexes.
func (a *SQLiteAdapter) Migrate(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("chronicle/sqlite: migration failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to commit migration: %w", err)
	}

	a.logger.Debug("schema migrated", "path", a.path, "version", schemaVersion)
	return nil
}

// MigrationVersion returns the schema version recorded in the database.
func (a *SQLiteAdapter) MigrationVersion(ctx context.Context) (int, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var version int
	if err := a.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("chronicle/sqlite: failed to read migration version: %w", err)
	}
	return version, nil
}
