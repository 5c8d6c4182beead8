package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/google/uuid"
)

// SaveSnapshot stores a snapshot. A snapshot for an existing
// (aggregate_id, version) pair is ignored.
func (a *SQLiteAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.Snapshot) error {
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
	if snapshot.State == nil {
		snapshot.State = []byte{}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, aggregate_id, aggregate_type, version, state, encoding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id, version) DO NOTHING`,
		snapshot.ID, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version,
		snapshot.State, snapshot.Encoding, snapshot.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot returns the newest snapshot for an aggregate, or nil if none
// exists. An empty aggregateType matches any type.
func (a *SQLiteAdapter) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*adapters.Snapshot, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	var (
		snapshot  adapters.Snapshot
		createdAt int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT snapshot_id, aggregate_id, aggregate_type, version, state, encoding, created_at
		FROM snapshots
		WHERE aggregate_id = ? AND (? = '' OR aggregate_type = ?)
		ORDER BY version DESC
		LIMIT 1`, aggregateID, aggregateType, aggregateType).Scan(
		&snapshot.ID,
		&snapshot.AggregateID,
		&snapshot.AggregateType,
		&snapshot.Version,
		&snapshot.State,
		&snapshot.Encoding,
		&createdAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to load snapshot: %w", err)
	}
	snapshot.CreatedAt = time.Unix(0, createdAt).UTC()

	return &snapshot, nil
}

// CleanupSnapshots keeps the newest keepCount snapshots of an aggregate and
// deletes the older ones.
func (a *SQLiteAdapter) CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}
	if keepCount < 1 {
		return 0, ErrInvalidKeepCount
	}

	result, err := a.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE aggregate_id = ?
		  AND version < (
			SELECT MIN(version) FROM (
				SELECT version FROM snapshots
				WHERE aggregate_id = ?
				ORDER BY version DESC
				LIMIT ?
			)
		  )`, aggregateID, aggregateID, keepCount)
	if err != nil {
		return 0, fmt.Errorf("chronicle/sqlite: failed to clean up snapshots: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chronicle/sqlite: failed to count removed snapshots: %w", err)
	}

	if removed > 0 {
		a.logger.Debug("snapshots removed", "aggregateId", aggregateID, "removed", removed)
	}
	return removed, nil
}
