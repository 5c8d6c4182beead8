package chronicle

import (
	"context"
	"fmt"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

// EventStore is the main entry point for event sourcing operations.
// It serializes payloads, delegates persistence to an adapter and runs
// subscriptions over the global log.
type EventStore struct {
	adapter    adapters.EventStoreAdapter
	snapshots  adapters.SnapshotAdapter
	serializer Serializer
	logger     Logger
}

// Logger defines the logging interface for the event store.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		if s != nil {
			es.serializer = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		if l != nil {
			es.logger = l
		}
	}
}

// WithSnapshotStore enables snapshots for repositories built on this store.
// Adapters implementing both interfaces are commonly passed twice.
func WithSnapshotStore(s adapters.SnapshotAdapter) Option {
	return func(es *EventStore) {
		es.snapshots = s
	}
}

// New creates a new EventStore with the given adapter and options.
func New(adapter adapters.EventStoreAdapter, opts ...Option) *EventStore {
	es := &EventStore{
		adapter:    adapter,
		serializer: NewJSONSerializer(),
		logger:     noopLogger{},
	}

	for _, opt := range opts {
		opt(es)
	}

	return es
}

// Serializer returns the event store's serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// Adapter returns the underlying adapter.
func (s *EventStore) Adapter() adapters.EventStoreAdapter {
	return s.adapter
}

// SnapshotStore returns the configured snapshot store, or nil.
func (s *EventStore) SnapshotStore() adapters.SnapshotAdapter {
	return s.snapshots
}

// Logger returns the configured logger.
func (s *EventStore) Logger() Logger {
	return s.logger
}

// RegisterEvents registers event types with the serializer.
// This is required for deserializing events back to their original types.
// Serializers without a registry ignore the call.
func (s *EventStore) RegisterEvents(events ...interface{}) {
	if r, ok := s.serializer.(interface{ RegisterAll(...interface{}) }); ok {
		r.RegisterAll(events...)
	}
}

// AppendOption configures an append operation.
type AppendOption func(*appendConfig)

type appendConfig struct {
	metadata        Metadata
	expectedVersion int64
	idempotencyKey  string
}

// ExpectVersion sets the version the aggregate must be at before the append.
// The default is 0, i.e. a new aggregate.
func ExpectVersion(v int64) AppendOption {
	return func(c *appendConfig) {
		c.expectedVersion = v
	}
}

// WithIdempotencyKey makes the append safe to retry. A second append with the
// same key returns no events and changes nothing.
func WithIdempotencyKey(key string) AppendOption {
	return func(c *appendConfig) {
		c.idempotencyKey = key
	}
}

// WithAppendMetadata sets metadata for all events in the append operation.
func WithAppendMetadata(m Metadata) AppendOption {
	return func(c *appendConfig) {
		c.metadata = m
	}
}

// Append stores events for an aggregate in a single transaction.
// An empty batch is a no-op. The returned slice is empty when an idempotency
// key had already been applied.
func (s *EventStore) Append(ctx context.Context, aggregateID, aggregateType string, events []Event, opts ...AppendOption) ([]StoredEvent, error) {
	config := &appendConfig{}
	for _, opt := range opts {
		opt(config)
	}

	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		record, err := SerializeEvent(s.serializer, event, config.metadata)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to serialize event %d: %w", i, err)
		}
		records[i] = record
	}

	stored, err := s.adapter.Append(ctx, aggregateID, aggregateType, records, adapters.AppendOptions{
		ExpectedVersion: config.expectedVersion,
		IdempotencyKey:  config.idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if len(events) > 0 && len(stored) == 0 {
		s.logger.Debug("idempotent append skipped",
			"aggregateId", aggregateID,
			"idempotencyKey", config.idempotencyKey)
	}

	return stored, nil
}

// LoadStream returns the raw stored events of one aggregate.
func (s *EventStore) LoadStream(ctx context.Context, q StreamQuery) ([]StoredEvent, error) {
	return s.adapter.LoadStream(ctx, q)
}

// LoadEvents returns the decoded events of one aggregate from fromVersion on.
func (s *EventStore) LoadEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error) {
	stored, err := s.adapter.LoadStream(ctx, StreamQuery{AggregateID: aggregateID, FromVersion: fromVersion})
	if err != nil {
		return nil, err
	}
	return s.DecodeEvents(stored)
}

// QueryEvents returns stored events across aggregates in global order.
func (s *EventStore) QueryEvents(ctx context.Context, q EventQuery) ([]StoredEvent, error) {
	return s.adapter.QueryEvents(ctx, q)
}

// CurrentSequence returns the highest committed global sequence.
func (s *EventStore) CurrentSequence(ctx context.Context) (uint64, error) {
	return s.adapter.GetCurrentSequence(ctx)
}

// DecodeEvents deserializes stored events with the store's serializer.
func (s *EventStore) DecodeEvents(stored []StoredEvent) ([]Event, error) {
	events := make([]Event, len(stored))
	for i, e := range stored {
		event, err := DeserializeEvent(s.serializer, e)
		if err != nil {
			return nil, fmt.Errorf("chronicle: failed to deserialize event at version %d of %q: %w", e.Version, e.AggregateID, err)
		}
		events[i] = event
	}
	return events, nil
}

// Ping checks the adapter when it supports health checks.
func (s *EventStore) Ping(ctx context.Context) error {
	if hc, ok := s.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Close closes the underlying adapter.
func (s *EventStore) Close() error {
	return s.adapter.Close()
}
