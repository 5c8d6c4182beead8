// Package sqlite provides an embedded SQLite implementation of the event store
// and snapshot store adapters, built on mattn/go-sqlite3.
//
// All statements go through a single connection, so writers are serialized
// and global sequences are committed in order. The file is opened in WAL mode
// with immediate transactions, which keeps other processes reading the same
// file consistent while the adapter writes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors for the sqlite adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyAggregateID    = adapters.ErrEmptyAggregateID
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrInvalidVersion      = adapters.ErrInvalidVersion
	ErrInvalidKeepCount    = adapters.ErrInvalidKeepCount
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// dsnParams are appended to paths that carry no query string of their own.
const dsnParams = "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"

// Ensure SQLiteAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter = (*SQLiteAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*SQLiteAdapter)(nil)
	_ adapters.CheckpointAdapter = (*SQLiteAdapter)(nil)
	_ adapters.AppendNotifier    = (*SQLiteAdapter)(nil)
	_ adapters.HealthChecker     = (*SQLiteAdapter)(nil)
	_ adapters.StatsAdapter      = (*SQLiteAdapter)(nil)
	_ adapters.Migrator          = (*SQLiteAdapter)(nil)
)

// SQLiteAdapter stores events in a SQLite database file.
type SQLiteAdapter struct {
	db     *sql.DB
	path   string
	logger adapters.Logger
	now    func() time.Time

	mu     sync.Mutex
	signal chan struct{}

	closed atomic.Bool
}

// Option configures a SQLiteAdapter.
type Option func(*SQLiteAdapter)

// WithLogger sets the logger for maintenance messages.
func WithLogger(l adapters.Logger) Option {
	return func(a *SQLiteAdapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock sets the time source for events without an occurrence time.
func WithClock(now func() time.Time) Option {
	return func(a *SQLiteAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAdapter opens (or creates) the database at path. Use MemoryPath for a
// throwaway database. Paths that already contain a query string are passed
// to the driver unchanged.
func NewAdapter(path string, opts ...Option) (*SQLiteAdapter, error) {
	adapter := &SQLiteAdapter{
		path:   path,
		logger: adapters.NopLogger{},
		now:    time.Now,
		signal: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(adapter)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to open database: %w", err)
	}
	// One connection: a single writer, and an in-memory database stays alive
	// for as long as the adapter.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	adapter.db = db

	return adapter, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + dsnParams
}

// Initialize creates the required tables.
func (a *SQLiteAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// Append stores events for an aggregate in one immediate transaction.
func (a *SQLiteAdapter) Append(ctx context.Context, aggregateID, aggregateType string, events []adapters.EventRecord, opts adapters.AppendOptions) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if err := adapters.ValidateAppend(aggregateID, aggregateType, opts); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return []adapters.StoredEvent{}, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if opts.IdempotencyKey != "" {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM events WHERE idempotency_key = ?)`,
			opts.IdempotencyKey).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to check idempotency key: %w", err)
		}
		if exists {
			return []adapters.StoredEvent{}, nil
		}
	}

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID).Scan(&currentVersion)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to get aggregate version: %w", err)
	}

	if err := adapters.CheckVersion(aggregateID, opts.ExpectedVersion, currentVersion); err != nil {
		return nil, err
	}

	stored := adapters.PrepareRecords(aggregateID, aggregateType, events, opts, a.now().UTC())
	for i := range stored {
		e := &stored[i]

		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to marshal metadata: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, event_data,
				metadata, version, schema_version, timestamp, idempotency_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateID, e.AggregateType, e.Type, e.Data,
			string(metadataJSON), e.Version, e.SchemaVersion, e.Timestamp.UnixNano(),
			nullString(e.IdempotencyKey))
		if err != nil {
			return classifyAppendError(aggregateID, opts, err)
		}

		seq, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to read sequence: %w", err)
		}
		e.GlobalSequence = uint64(seq)
	}

	if err := tx.Commit(); err != nil {
		return classifyAppendError(aggregateID, opts, err)
	}

	a.broadcast()
	return stored, nil
}

// classifyAppendError maps unique violations to the append contract.
func classifyAppendError(aggregateID string, opts adapters.AppendOptions, err error) ([]adapters.StoredEvent, error) {
	switch uniqueViolation(err) {
	case violationIdempotencyKey:
		return []adapters.StoredEvent{}, nil
	case violationAggregateVersion:
		return nil, adapters.NewConcurrencyError(aggregateID, opts.ExpectedVersion, -1)
	}
	return nil, fmt.Errorf("chronicle/sqlite: failed to append events: %w", err)
}

const eventColumns = `global_sequence, event_id, aggregate_id, aggregate_type, event_type,
	event_data, metadata, version, schema_version, timestamp, idempotency_key`

// LoadStream retrieves the events of one aggregate within the query bounds.
func (a *SQLiteAdapter) LoadStream(ctx context.Context, q adapters.StreamQuery) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if q.AggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE aggregate_id = ?
		  AND (? = 0 OR version >= ?)
		  AND (? = 0 OR version <= ?)
		ORDER BY version`,
		q.AggregateID, q.FromVersion, q.FromVersion, q.ToVersion, q.ToVersion)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to load stream: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// QueryEvents retrieves events across aggregates ordered by global sequence.
func (a *SQLiteAdapter) QueryEvents(ctx context.Context, q adapters.EventQuery) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	where, args := buildEventFilter(q)
	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY global_sequence`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// buildEventFilter renders the WHERE clause of an EventQuery.
func buildEventFilter(q adapters.EventQuery) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	if q.AggregateType != "" {
		clauses = append(clauses, "aggregate_type = ?")
		args = append(args, q.AggregateType)
	}
	if len(q.EventTypes) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(q.EventTypes)), ", ")
		clauses = append(clauses, "event_type IN ("+marks+")")
		for _, t := range q.EventTypes {
			args = append(args, t)
		}
	}
	if q.FromSequence > 0 {
		clauses = append(clauses, "global_sequence >= ?")
		args = append(args, int64(q.FromSequence))
	}
	if q.ToSequence > 0 {
		clauses = append(clauses, "global_sequence <= ?")
		args = append(args, int64(q.ToSequence))
	}
	if !q.FromTimestamp.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, q.FromTimestamp.UnixNano())
	}
	if !q.ToTimestamp.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, q.ToTimestamp.UnixNano())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEvents(rows *sql.Rows) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var (
			event        adapters.StoredEvent
			sequence     int64
			metadataJSON sql.NullString
			timestamp    int64
			key          sql.NullString
		)

		err := rows.Scan(
			&sequence,
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.Type,
			&event.Data,
			&metadataJSON,
			&event.Version,
			&event.SchemaVersion,
			&timestamp,
			&key,
		)
		if err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to scan event: %w", err)
		}
		event.GlobalSequence = uint64(sequence)
		event.Timestamp = time.Unix(0, timestamp).UTC()
		event.IdempotencyKey = key.String

		if metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("chronicle/sqlite: failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: error iterating events: %w", err)
	}

	return events, nil
}

// GetCurrentSequence returns the highest committed global sequence.
func (a *SQLiteAdapter) GetCurrentSequence(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var pos sql.NullInt64
	if err := a.db.QueryRowContext(ctx, `SELECT MAX(global_sequence) FROM events`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("chronicle/sqlite: failed to get current sequence: %w", err)
	}
	return uint64(pos.Int64), nil
}

// AppendSignal returns a channel that is closed after the next append made
// through this adapter. Writes from other processes are picked up by polling.
func (a *SQLiteAdapter) AppendSignal() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signal
}

func (a *SQLiteAdapter) broadcast() {
	a.mu.Lock()
	defer a.mu.Unlock()
	close(a.signal)
	a.signal = make(chan struct{})
}

// GetCheckpoint returns the stored position of a subscription.
func (a *SQLiteAdapter) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var pos int64
	err := a.db.QueryRowContext(ctx, `SELECT position FROM checkpoints WHERE name = ?`, name).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chronicle/sqlite: failed to get checkpoint: %w", err)
	}

	return uint64(pos), nil
}

// SetCheckpoint stores the position of a subscription.
func (a *SQLiteAdapter) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		name, int64(position), a.now().UnixNano())
	if err != nil {
		return fmt.Errorf("chronicle/sqlite: failed to set checkpoint: %w", err)
	}

	return nil
}

// Stats returns counts for diagnostics.
func (a *SQLiteAdapter) Stats(ctx context.Context) (*adapters.StoreStats, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	stats := &adapters.StoreStats{}
	var current sql.NullInt64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT aggregate_id), MAX(global_sequence),
			(SELECT COUNT(*) FROM snapshots)
		FROM events`).
		Scan(&stats.TotalEvents, &stats.TotalAggregates, &current, &stats.TotalSnapshots)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to read stats: %w", err)
	}
	stats.CurrentSequence = uint64(current.Int64)

	rows, err := a.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: failed to count event types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c adapters.EventTypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, fmt.Errorf("chronicle/sqlite: failed to scan event type count: %w", err)
		}
		stats.EventTypes = append(stats.EventTypes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/sqlite: error iterating event types: %w", err)
	}
	adapters.SortEventTypeCounts(stats.EventTypes)

	return stats, nil
}

// Ping checks that the database file is usable.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// Close releases the database. Calling Close twice is safe.
func (a *SQLiteAdapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.broadcast()
	return a.db.Close()
}

// Path returns the database path the adapter was opened with.
func (a *SQLiteAdapter) Path() string {
	return a.path
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
