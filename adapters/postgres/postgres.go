// Package postgres provides a PostgreSQL implementation of the event store
// and snapshot store adapters.
//
// The adapter works with both the pgx stdlib driver (default, "pgx") and
// lib/pq ("postgres"). Global sequences come from a BIGSERIAL column, so
// concurrent transactions can commit them out of order; subscriptions in the
// root package wait for such gaps to fill before moving on.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyAggregateID    = adapters.ErrEmptyAggregateID
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrInvalidVersion      = adapters.ErrInvalidVersion
	ErrInvalidKeepCount    = adapters.ErrInvalidKeepCount
)

// Driver names accepted by WithDriver.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "chronicle"

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter = (*PostgresAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*PostgresAdapter)(nil)
	_ adapters.CheckpointAdapter = (*PostgresAdapter)(nil)
	_ adapters.AppendNotifier    = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker     = (*PostgresAdapter)(nil)
	_ adapters.StatsAdapter      = (*PostgresAdapter)(nil)
	_ adapters.Migrator          = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of EventStoreAdapter.
type PostgresAdapter struct {
	db     *sql.DB
	ownsDB bool
	schema string
	driver string
	logger adapters.Logger
	now    func() time.Time

	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration

	listenDSN string
	notifier  *notifier

	closed atomic.Bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		if schema != "" {
			a.schema = schema
		}
	}
}

// WithDriver selects the database/sql driver used by NewAdapter.
// Use DriverPgx (default) or DriverPq.
func WithDriver(name string) Option {
	return func(a *PostgresAdapter) {
		if name != "" {
			a.driver = name
		}
	}
}

// WithLogger sets the logger for listener and maintenance messages.
func WithLogger(l adapters.Logger) Option {
	return func(a *PostgresAdapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock sets the time source for events without an occurrence time.
func WithClock(now func() time.Time) Option {
	return func(a *PostgresAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.maxOpen = n
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.maxIdle = n
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.maxLifetime = d
	}
}

// WithNotifications listens for commits with LISTEN/NOTIFY on a dedicated
// connection to dsn, so subscriptions wake up without waiting for the next
// poll. NewAdapter enables it with its own DSN when dsn is empty.
func WithNotifications(dsn string) Option {
	return func(a *PostgresAdapter) {
		a.listenDSN = dsn
		if dsn == "" {
			a.listenDSN = "-"
		}
	}
}

func newAdapter(opts []Option) *PostgresAdapter {
	a := &PostgresAdapter{
		schema: DefaultSchema,
		driver: DriverPgx,
		logger: adapters.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewAdapter opens a connection pool and creates a new PostgreSQL adapter.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	adapter := newAdapter(opts)

	db, err := sql.Open(adapter.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to open database: %w", err)
	}
	adapter.db = db
	adapter.ownsDB = true
	adapter.configurePool()

	if adapter.listenDSN == "-" {
		adapter.listenDSN = connStr
	}
	adapter.startNotifier()

	return adapter, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
// The caller keeps ownership of db; Close leaves it open.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := newAdapter(opts)
	adapter.db = db
	adapter.configurePool()
	if adapter.listenDSN == "-" {
		adapter.listenDSN = ""
	}
	adapter.startNotifier()
	return adapter
}

func (a *PostgresAdapter) configurePool() {
	if a.maxOpen > 0 {
		a.db.SetMaxOpenConns(a.maxOpen)
	}
	if a.maxIdle > 0 {
		a.db.SetMaxIdleConns(a.maxIdle)
	}
	if a.maxLifetime > 0 {
		a.db.SetConnMaxLifetime(a.maxLifetime)
	}
}

// Initialize creates the required database schema and tables.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// table returns the schema-qualified, quoted table name.
func (a *PostgresAdapter) table(name string) string {
	return pq.QuoteIdentifier(a.schema) + "." + name
}

// channel is the NOTIFY channel for commits in this schema.
func (a *PostgresAdapter) channel() string {
	return a.schema + "_events"
}

// Append stores events for an aggregate in one transaction.
//
// The transaction runs at READ COMMITTED. The version check reads MAX(version)
// without locking; a concurrent writer that slips in between is caught by the
// (aggregate_id, version) unique constraint and reported as a conflict.
//
// Global sequences are drawn under a transaction-scoped advisory lock, so they
// are assigned in commit order. A reader that sees sequence n committed has
// already seen every committed sequence below n; the holes that remain come
// from rolled-back transactions and never fill.
func (a *PostgresAdapter) Append(ctx context.Context, aggregateID, aggregateType string, events []adapters.EventRecord, opts adapters.AppendOptions) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if err := adapters.ValidateAppend(aggregateID, aggregateType, opts); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return []adapters.StoredEvent{}, nil
	}

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if opts.IdempotencyKey != "" {
		var exists bool
		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT EXISTS (SELECT 1 FROM %s WHERE idempotency_key = $1)`, a.table("events")),
			opts.IdempotencyKey).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to check idempotency key: %w", err)
		}
		if exists {
			return []adapters.StoredEvent{}, nil
		}
	}

	var currentVersion int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0) FROM %s WHERE aggregate_id = $1`, a.table("events")),
		aggregateID).Scan(&currentVersion)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to get aggregate version: %w", err)
	}

	if err := adapters.CheckVersion(aggregateID, opts.ExpectedVersion, currentVersion); err != nil {
		return nil, err
	}

	if err := a.lockSequence(ctx, tx); err != nil {
		return nil, err
	}

	stored := adapters.PrepareRecords(aggregateID, aggregateType, events, opts, a.now().UTC())
	insert := fmt.Sprintf(`
		INSERT INTO %s (event_id, aggregate_id, aggregate_type, event_type, event_data,
			metadata, version, schema_version, timestamp, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
		RETURNING global_sequence`, a.table("events"))

	for i := range stored {
		e := &stored[i]

		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to marshal metadata: %w", err)
		}

		err = tx.QueryRowContext(ctx, insert,
			e.ID, e.AggregateID, e.AggregateType, e.Type, e.Data,
			string(metadataJSON), e.Version, e.SchemaVersion, e.Timestamp,
			nullString(e.IdempotencyKey),
		).Scan(&e.GlobalSequence)
		if err != nil {
			return a.classifyAppendError(aggregateID, opts, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, a.channel(), aggregateID); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return a.classifyAppendError(aggregateID, opts, err)
	}

	return stored, nil
}

// lockSequence serializes appenders of this schema until tx ends.
func (a *PostgresAdapter) lockSequence(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.table("events")); err != nil {
		return fmt.Errorf("chronicle/postgres: failed to lock sequence: %w", err)
	}
	return nil
}

// classifyAppendError turns unique violations into the outcomes the contract
// promises: a lost race on the key is an idempotent no-op, a lost race on the
// version is a concurrency conflict.
func (a *PostgresAdapter) classifyAppendError(aggregateID string, opts adapters.AppendOptions, err error) ([]adapters.StoredEvent, error) {
	switch constraint, ok := uniqueViolation(err); {
	case ok && constraint == constraintIdempotencyKey:
		return []adapters.StoredEvent{}, nil
	case ok && constraint == constraintAggregateVersion:
		return nil, adapters.NewConcurrencyError(aggregateID, opts.ExpectedVersion, -1)
	}
	return nil, fmt.Errorf("chronicle/postgres: failed to append events: %w", err)
}

const eventColumns = `global_sequence, event_id, aggregate_id, aggregate_type, event_type,
	event_data, metadata, version, schema_version, timestamp, idempotency_key`

// LoadStream retrieves the events of one aggregate within the query bounds.
func (a *PostgresAdapter) LoadStream(ctx context.Context, q adapters.StreamQuery) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if q.AggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE aggregate_id = $1
		  AND ($2 = 0 OR version >= $2)
		  AND ($3 = 0 OR version <= $3)
		ORDER BY version`, eventColumns, a.table("events")),
		q.AggregateID, q.FromVersion, q.ToVersion)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to load stream: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// QueryEvents retrieves events across aggregates ordered by global sequence.
func (a *PostgresAdapter) QueryEvents(ctx context.Context, q adapters.EventQuery) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	where, args := buildEventFilter(q)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY global_sequence`, eventColumns, a.table("events"), where)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to query events: %w", err)
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
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if q.AggregateType != "" {
		add("aggregate_type = $%d", q.AggregateType)
	}
	if len(q.EventTypes) > 0 {
		add("event_type = ANY($%d::text[])", pq.Array(q.EventTypes))
	}
	if q.FromSequence > 0 {
		add("global_sequence >= $%d", int64(q.FromSequence))
	}
	if q.ToSequence > 0 {
		add("global_sequence <= $%d", int64(q.ToSequence))
	}
	if !q.FromTimestamp.IsZero() {
		add("timestamp >= $%d", q.FromTimestamp)
	}
	if !q.ToTimestamp.IsZero() {
		add("timestamp <= $%d", q.ToTimestamp)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanEvents(rows *sql.Rows) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var (
			event        adapters.StoredEvent
			sequence     int64
			metadataJSON []byte
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
			&event.Timestamp,
			&key,
		)
		if err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan event: %w", err)
		}
		event.GlobalSequence = uint64(sequence)
		event.IdempotencyKey = key.String

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("chronicle/postgres: failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating events: %w", err)
	}

	return events, nil
}

// GetCurrentSequence returns the highest committed global sequence.
func (a *PostgresAdapter) GetCurrentSequence(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_sequence) FROM %s`, a.table("events"))).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to get current sequence: %w", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// GetCheckpoint returns the stored position of a subscription.
func (a *PostgresAdapter) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var pos int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s WHERE name = $1`, a.table("checkpoints")), name).Scan(&pos)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chronicle/postgres: failed to get checkpoint: %w", err)
	}

	return uint64(pos), nil
}

// SetCheckpoint stores the position of a subscription.
func (a *PostgresAdapter) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`, a.table("checkpoints")), name, int64(position))
	if err != nil {
		return fmt.Errorf("chronicle/postgres: failed to set checkpoint: %w", err)
	}

	return nil
}

// Stats returns counts for diagnostics.
func (a *PostgresAdapter) Stats(ctx context.Context) (*adapters.StoreStats, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	stats := &adapters.StoreStats{}
	var current sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COUNT(DISTINCT aggregate_id), MAX(global_sequence),
			(SELECT COUNT(*) FROM %s)
		FROM %s`, a.table("snapshots"), a.table("events"))).
		Scan(&stats.TotalEvents, &stats.TotalAggregates, &current, &stats.TotalSnapshots)
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to read stats: %w", err)
	}
	if current.Valid {
		stats.CurrentSequence = uint64(current.Int64)
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_type, COUNT(*) FROM %s GROUP BY event_type`, a.table("events")))
	if err != nil {
		return nil, fmt.Errorf("chronicle/postgres: failed to count event types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c adapters.EventTypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, fmt.Errorf("chronicle/postgres: failed to scan event type count: %w", err)
		}
		stats.EventTypes = append(stats.EventTypes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chronicle/postgres: error iterating event types: %w", err)
	}
	adapters.SortEventTypeCounts(stats.EventTypes)

	return stats, nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// Close stops the listener and releases the connection pool when the
// adapter opened it. Calling Close twice is safe.
func (a *PostgresAdapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.notifier != nil {
		a.notifier.close()
	}
	if a.ownsDB {
		return a.db.Close()
	}
	return nil
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
