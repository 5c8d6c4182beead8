// Package adapters provides interfaces for event store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("chronicle: concurrency conflict")

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = errors.New("chronicle: aggregate ID is required")

	// ErrEmptyAggregateType is returned when an empty aggregate type is provided.
	ErrEmptyAggregateType = errors.New("chronicle: aggregate type is required")

	// ErrInvalidVersion is returned when an invalid expected version is specified.
	ErrInvalidVersion = errors.New("chronicle: invalid version")

	// ErrInvalidKeepCount is returned when a snapshot cleanup would keep nothing.
	ErrInvalidKeepCount = errors.New("chronicle: snapshot keep count must be at least 1")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("chronicle: adapter is closed")

	// ErrUnsupported is returned when an adapter lacks an optional capability.
	ErrUnsupported = errors.New("chronicle: operation not supported by adapter")
)

// DefaultSchemaVersion is the schema version recorded for events that do not
// declare one.
const DefaultSchemaVersion = 1

// TimestampPrecision is the finest timestamp resolution every backend keeps.
// PostgreSQL TIMESTAMPTZ stores microseconds.
const TimestampPrecision = time.Microsecond

// Metadata contains event context for tracing and multi-tenancy.
// These fields are preserved across serialization and can be used
// for correlation, audit trails, and multi-tenant isolation.
type Metadata struct {
	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// UserID identifies who triggered this event.
	UserID string `json:"userId,omitempty"`

	// TenantID for multi-tenant applications.
	TenantID string `json:"tenantId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`

	// Timestamp is the wall-clock time of the append. Stores fill it in when empty.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// WithCorrelationID returns a copy of the metadata with the correlation ID set.
func (m Metadata) WithCorrelationID(id string) Metadata {
	m.CorrelationID = id
	return m
}

// WithCausationID returns a copy of the metadata with the causation ID set.
func (m Metadata) WithCausationID(id string) Metadata {
	m.CausationID = id
	return m
}

// WithUserID returns a copy of the metadata with the user ID set.
func (m Metadata) WithUserID(id string) Metadata {
	m.UserID = id
	return m
}

// WithTenantID returns a copy of the metadata with the tenant ID set.
func (m Metadata) WithTenantID(id string) Metadata {
	m.TenantID = id
	return m
}

// WithCustom returns a copy of the metadata with a custom key-value pair added.
// The custom map is copied so the receiver is never modified.
func (m Metadata) WithCustom(key, value string) Metadata {
	custom := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		custom[k] = v
	}
	custom[key] = value
	m.Custom = custom
	return m
}

// IsEmpty reports whether no contextual fields are set. Timestamp is ignored.
func (m Metadata) IsEmpty() bool {
	return m.CorrelationID == "" && m.CausationID == "" && m.UserID == "" &&
		m.TenantID == "" && len(m.Custom) == 0
}

// EventRecord represents an event to be appended to an aggregate stream.
// This is the adapter-level representation of an event.
type EventRecord struct {
	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata

	// SchemaVersion describes the payload shape. Zero means DefaultSchemaVersion.
	SchemaVersion int

	// OccurredAt is the business time of the fact. Zero means "now".
	OccurredAt time.Time
}

// StoredEvent represents a persisted event with its storage metadata.
// This is returned when loading events from the store.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// GlobalSequence is the position across all aggregates, assigned at append time.
	GlobalSequence uint64

	// AggregateID identifies the stream this event belongs to.
	AggregateID string

	// AggregateType is the type of the owning aggregate.
	AggregateType string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Version is the position within the aggregate stream (1-based).
	Version int64

	// SchemaVersion describes the payload shape.
	SchemaVersion int

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// IdempotencyKey is set on the first event of an idempotent append batch.
	IdempotencyKey string
}

// AppendOptions controls an append.
type AppendOptions struct {
	// ExpectedVersion is the version the aggregate must be at before the append.
	// Use 0 for a stream that must not exist yet.
	ExpectedVersion int64

	// IdempotencyKey makes the append safe to retry. A key that was already
	// committed turns the append into a no-op returning no events.
	IdempotencyKey string
}

// StreamQuery selects events of a single aggregate. Bounds are inclusive;
// zero means unbounded.
type StreamQuery struct {
	AggregateID string
	FromVersion int64
	ToVersion   int64
}

// EventQuery selects events across aggregates, ordered by global sequence.
// Bounds are inclusive; zero values mean unbounded.
type EventQuery struct {
	AggregateType string
	EventTypes    []string
	FromSequence  uint64
	ToSequence    uint64
	FromTimestamp time.Time
	ToTimestamp   time.Time
	Limit         int
}

// EventStoreAdapter is the interface that database adapters must implement.
// It provides the low-level operations for persisting and retrieving events.
type EventStoreAdapter interface {
	// Append stores events for the aggregate in a single transaction.
	// An empty batch is a no-op. A mismatch between the current stream version
	// and opts.ExpectedVersion fails with an error matching ErrConcurrencyConflict.
	// Returns the stored events with their assigned versions and sequences.
	Append(ctx context.Context, aggregateID, aggregateType string, events []EventRecord, opts AppendOptions) ([]StoredEvent, error)

	// LoadStream retrieves the events of one aggregate ordered by version.
	LoadStream(ctx context.Context, q StreamQuery) ([]StoredEvent, error)

	// QueryEvents retrieves events across aggregates ordered by global sequence.
	QueryEvents(ctx context.Context, q EventQuery) ([]StoredEvent, error)

	// GetCurrentSequence returns the highest committed global sequence.
	// Returns 0 if no events exist.
	GetCurrentSequence(ctx context.Context) (uint64, error)

	// Initialize sets up the required database schema.
	// This should be called once during application startup.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// Snapshot is a point-in-time serialized aggregate state.
type Snapshot struct {
	// ID is the unique snapshot identifier.
	ID string

	// AggregateID is the snapshotted aggregate.
	AggregateID string

	// AggregateType is the type of the snapshotted aggregate.
	AggregateType string

	// Version is the aggregate version the state corresponds to.
	Version int64

	// State is the serialized aggregate state.
	State []byte

	// Encoding names the codec that produced State.
	Encoding string

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time
}

// SnapshotAdapter stores aggregate snapshots for faster loading.
type SnapshotAdapter interface {
	// SaveSnapshot stores a snapshot. A snapshot that already exists for the
	// same aggregate and version is silently ignored.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error

	// LoadSnapshot retrieves the snapshot with the highest version.
	// Returns nil, nil if no snapshot exists.
	LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*Snapshot, error)

	// CleanupSnapshots keeps the keepCount most recent snapshots of the
	// aggregate and deletes the rest. Returns the number of deleted snapshots.
	CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error)
}

// CheckpointAdapter stores named subscription positions.
type CheckpointAdapter interface {
	// GetCheckpoint returns the last processed global sequence for a subscription.
	// Returns 0 if no checkpoint exists.
	GetCheckpoint(ctx context.Context, name string) (uint64, error)

	// SetCheckpoint stores the last processed global sequence for a subscription.
	SetCheckpoint(ctx context.Context, name string, position uint64) error
}

// AppendNotifier is implemented by adapters that can signal new commits.
// The returned channel is closed after the next successful append; callers
// must ask for a fresh channel after every wake-up.
type AppendNotifier interface {
	AppendSignal() <-chan struct{}
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the adapter can connect to its backend.
	Ping(ctx context.Context) error
}

// StoreStats contains aggregate statistics about the event store.
type StoreStats struct {
	// TotalEvents is the total number of events across all aggregates.
	TotalEvents int64

	// TotalAggregates is the number of distinct aggregate streams.
	TotalAggregates int64

	// TotalSnapshots is the number of stored snapshots.
	TotalSnapshots int64

	// CurrentSequence is the highest committed global sequence.
	CurrentSequence uint64

	// EventTypes lists event types with their counts, most frequent first.
	EventTypes []EventTypeCount
}

// EventTypeCount holds an event type and its count.
type EventTypeCount struct {
	Type  string
	Count int64
}

// StatsAdapter exposes store statistics for diagnostics.
type StatsAdapter interface {
	Stats(ctx context.Context) (*StoreStats, error)
}

// Migrator is implemented by adapters with a versioned schema.
type Migrator interface {
	// Migrate brings the schema to the latest version.
	Migrate(ctx context.Context) error

	// MigrationVersion returns the applied schema version, 0 if none.
	MigrationVersion(ctx context.Context) (int, error)
}

// Logger is the structured logger accepted by adapters.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(msg string, args ...any) {}
func (NopLogger) Info(msg string, args ...any)  {}
func (NopLogger) Warn(msg string, args ...any)  {}
func (NopLogger) Error(msg string, args ...any) {}
