package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/google/uuid"
)

// SaveSnapshot stores a snapshot. A snapshot for an existing
// (aggregate_id, version) pair is ignored.
func (a *PostgresAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.Snapshot) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	if snapshot.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	if snapshot.AggregateType == "" {
		return adapters.ErrEmptyAggregateType
	}
	if snapshot.Version < 1 {
		return ErrInvalidVersion
	}

	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = a.now().UTC()
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (snapshot_id, aggregate_id, aggregate_type, version, state, encoding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT %s DO NOTHING`, a.table("snapshots"), constraintSnapshotVersion),
		snapshot.ID, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version,
		snapshot.State, snapshot.Encoding, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot returns the newest snapshot for an aggregate, or nil if none
// exists. An empty aggregateType matches any type.
func (a *PostgresAdapter) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*adapters.Snapshot, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	var snapshot adapters.Snapshot
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT snapshot_id, aggregate_id, aggregate_type, version, state, encoding, created_at
		FROM %s
		WHERE aggregate_id = $1 AND ($2 = '' OR aggregate_type = $2)
		ORDER BY version DESC
		LIMIT 1`, a.table("snapshots")), aggregateID, aggregateType).Scan(
		&snapshot.ID,
		&snapshot.AggregateID,
		&snapshot.AggregateType,
		&snapshot.Version,
		&snapshot.State,
		&snapshot.Encoding,
		&snapshot.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load snapshot: %w", err)
	}

	return &snapshot, nil
}

// CleanupSnapshots keeps the newest keepCount snapshots of an aggregate and
// deletes the older ones. Events are never touched.
func (a *PostgresAdapter) CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}
	if keepCount < 1 {
		return 0, ErrInvalidKeepCount
	}

	snapshots := a.table("snapshots")
	result, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE aggregate_id = $1
		  AND version < (
			SELECT MIN(version) FROM (
				SELECT version FROM %s
				WHERE aggregate_id = $1
				ORDER BY version DESC
				LIMIT $2
			) AS kept
		  )`, snapshots, snapshots), aggregateID, keepCount)
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to clean up snapshots: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to count removed snapshots: %w", err)
	}

	if removed > 0 {
		a.logger.Debug("snapshots removed", "aggregateId", aggregateID, "removed", removed)
	}
	return removed, nil
}
