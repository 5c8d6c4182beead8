// Package tracing provides OpenTelemetry integration for chronicle.
//
// This package enables distributed tracing for event sourcing operations:
// appends, stream loads, global queries, snapshot operations and the
// handlers run by subscriptions.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := chronicle.New(tracer.WrapEventStore(adapter),
//		chronicle.WithSnapshotStore(tracer.WrapSnapshotStore(adapter)))
//
// Each adapter call becomes a client span carrying the aggregate identity,
// expected version, event types and the resulting version and sequence.
// Metadata copies the current trace and span IDs into event metadata so
// stored events can be joined back to the trace that wrote them.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

const (
	// TracerName is the name of the chronicle tracer.
	TracerName = "github.com/AshkanYarmoradi/go-chronicle"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "chronicle"

	// TraceIDKey is the custom metadata key holding the writer's trace ID.
	TraceIDKey = "trace_id"
)

// Tracer wraps OpenTelemetry tracer for chronicle operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

func (t *Tracer) startClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("chronicle.service", t.serviceName))
	span.SetAttributes(attrs...)
	return ctx, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Event Store Middleware
// =============================================================================

var (
	_ adapters.EventStoreAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.AppendNotifier    = (*EventStoreMiddleware)(nil)
	_ adapters.CheckpointAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.HealthChecker     = (*EventStoreMiddleware)(nil)
	_ adapters.StatsAdapter      = (*EventStoreMiddleware)(nil)
)

// EventStoreMiddleware wraps an EventStoreAdapter with tracing.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

// WrapEventStore wraps an adapter with tracing.
func (t *Tracer) WrapEventStore(adapter adapters.EventStoreAdapter) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		tracer:  t,
	}
}

// Unwrap returns the wrapped adapter.
func (m *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter {
	return m.adapter
}

// Append stores events with tracing.
func (m *EventStoreMiddleware) Append(ctx context.Context, aggregateID, aggregateType string, events []adapters.EventRecord, opts adapters.AppendOptions) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "eventstore.append",
		attribute.String("chronicle.aggregate.id", aggregateID),
		attribute.String("chronicle.aggregate.type", aggregateType),
		attribute.Int64("chronicle.expected_version", opts.ExpectedVersion),
		attribute.Int("chronicle.events.count", len(events)),
	)
	defer span.End()

	if opts.IdempotencyKey != "" {
		span.SetAttributes(attribute.String("chronicle.idempotency_key", opts.IdempotencyKey))
	}
	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("chronicle.events.types", eventTypes))
		if id := events[0].Metadata.CorrelationID; id != "" {
			span.SetAttributes(attribute.String("chronicle.correlation_id", id))
		}
	}

	stored, err := m.adapter.Append(ctx, aggregateID, aggregateType, events, opts)
	finish(span, err)
	if err != nil {
		return stored, err
	}

	switch {
	case len(stored) > 0:
		last := stored[len(stored)-1]
		span.SetAttributes(
			attribute.Int64("chronicle.stored.version", last.Version),
			attribute.Int64("chronicle.stored.global_sequence", int64(last.GlobalSequence)),
		)
	case len(events) > 0:
		span.AddEvent("idempotent append skipped")
	}

	return stored, nil
}

// LoadStream retrieves an aggregate's events with tracing.
func (m *EventStoreMiddleware) LoadStream(ctx context.Context, q adapters.StreamQuery) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "eventstore.load_stream",
		attribute.String("chronicle.aggregate.id", q.AggregateID),
		attribute.Int64("chronicle.from_version", q.FromVersion),
		attribute.Int64("chronicle.to_version", q.ToVersion),
	)
	defer span.End()

	events, err := m.adapter.LoadStream(ctx, q)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.events.loaded", len(events)))
	}

	return events, err
}

// QueryEvents reads the global log with tracing.
func (m *EventStoreMiddleware) QueryEvents(ctx context.Context, q adapters.EventQuery) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "eventstore.query",
		attribute.Int64("chronicle.from_sequence", int64(q.FromSequence)),
		attribute.Int64("chronicle.to_sequence", int64(q.ToSequence)),
		attribute.Int("chronicle.limit", q.Limit),
	)
	defer span.End()

	if q.AggregateType != "" {
		span.SetAttributes(attribute.String("chronicle.aggregate.type", q.AggregateType))
	}
	if len(q.EventTypes) > 0 {
		span.SetAttributes(attribute.StringSlice("chronicle.events.types", q.EventTypes))
	}

	events, err := m.adapter.QueryEvents(ctx, q)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("chronicle.events.loaded", len(events)))
	}

	return events, err
}

// GetCurrentSequence returns the highest committed sequence with tracing.
func (m *EventStoreMiddleware) GetCurrentSequence(ctx context.Context) (uint64, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "eventstore.current_sequence")
	defer span.End()

	seq, err := m.adapter.GetCurrentSequence(ctx)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("chronicle.current_sequence", int64(seq)))
	}

	return seq, err
}

// Initialize initializes the adapter with tracing.
func (m *EventStoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.startClientSpan(ctx, "eventstore.initialize")
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the adapter.
func (m *EventStoreMiddleware) Close() error {
	return m.adapter.Close()
}

// AppendSignal forwards to the wrapped adapter, or returns nil when it has
// no push notifications.
func (m *EventStoreMiddleware) AppendSignal() <-chan struct{} {
	if n, ok := m.adapter.(adapters.AppendNotifier); ok {
		return n.AppendSignal()
	}
	return nil
}

// GetCheckpoint forwards to the wrapped adapter.
func (m *EventStoreMiddleware) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	cp, ok := m.adapter.(adapters.CheckpointAdapter)
	if !ok {
		return 0, adapters.Unsupported(m.adapter, "checkpoints")
	}
	return cp.GetCheckpoint(ctx, name)
}

// SetCheckpoint forwards to the wrapped adapter with tracing.
func (m *EventStoreMiddleware) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	cp, ok := m.adapter.(adapters.CheckpointAdapter)
	if !ok {
		return adapters.Unsupported(m.adapter, "checkpoints")
	}

	ctx, span := m.tracer.startClientSpan(ctx, "eventstore.set_checkpoint",
		attribute.String("chronicle.subscription", name),
		attribute.Int64("chronicle.position", int64(position)),
	)
	defer span.End()

	err := cp.SetCheckpoint(ctx, name, position)
	finish(span, err)
	return err
}

// Ping forwards to the wrapped adapter when it supports health checks.
func (m *EventStoreMiddleware) Ping(ctx context.Context) error {
	if hc, ok := m.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Stats forwards to the wrapped adapter.
func (m *EventStoreMiddleware) Stats(ctx context.Context) (*adapters.StoreStats, error) {
	if sa, ok := m.adapter.(adapters.StatsAdapter); ok {
		return sa.Stats(ctx)
	}
	return nil, adapters.Unsupported(m.adapter, "statistics")
}

// =============================================================================
// Snapshot Store Middleware
// =============================================================================

var _ adapters.SnapshotAdapter = (*SnapshotStoreMiddleware)(nil)

// SnapshotStoreMiddleware wraps a SnapshotAdapter with tracing.
type SnapshotStoreMiddleware struct {
	store  adapters.SnapshotAdapter
	tracer *Tracer
}

// WrapSnapshotStore wraps a snapshot store with tracing.
func (t *Tracer) WrapSnapshotStore(store adapters.SnapshotAdapter) *SnapshotStoreMiddleware {
	return &SnapshotStoreMiddleware{
		store:  store,
		tracer: t,
	}
}

// SaveSnapshot stores a snapshot with tracing.
func (m *SnapshotStoreMiddleware) SaveSnapshot(ctx context.Context, snapshot adapters.Snapshot) error {
	ctx, span := m.tracer.startClientSpan(ctx, "snapshot.save",
		attribute.String("chronicle.aggregate.id", snapshot.AggregateID),
		attribute.String("chronicle.aggregate.type", snapshot.AggregateType),
		attribute.Int64("chronicle.snapshot.version", snapshot.Version),
		attribute.String("chronicle.snapshot.encoding", snapshot.Encoding),
		attribute.Int("chronicle.snapshot.size", len(snapshot.State)),
	)
	defer span.End()

	err := m.store.SaveSnapshot(ctx, snapshot)
	finish(span, err)
	return err
}

// LoadSnapshot loads a snapshot with tracing.
func (m *SnapshotStoreMiddleware) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*adapters.Snapshot, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "snapshot.load",
		attribute.String("chronicle.aggregate.id", aggregateID),
		attribute.String("chronicle.aggregate.type", aggregateType),
	)
	defer span.End()

	snap, err := m.store.LoadSnapshot(ctx, aggregateID, aggregateType)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("chronicle.snapshot.found", snap != nil))
		if snap != nil {
			span.SetAttributes(attribute.Int64("chronicle.snapshot.version", snap.Version))
		}
	}

	return snap, err
}

// CleanupSnapshots removes old snapshots with tracing.
func (m *SnapshotStoreMiddleware) CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error) {
	ctx, span := m.tracer.startClientSpan(ctx, "snapshot.cleanup",
		attribute.String("chronicle.aggregate.id", aggregateID),
		attribute.Int("chronicle.snapshot.keep", keepCount),
	)
	defer span.End()

	removed, err := m.store.CleanupSnapshots(ctx, aggregateID, keepCount)
	finish(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("chronicle.snapshot.removed", removed))
	}

	return removed, err
}

// =============================================================================
// Subscription Handlers
// =============================================================================

// WrapHandler runs every invocation of a subscription handler inside an
// internal span named after the subscription.
func (t *Tracer) WrapHandler(name string, handler chronicle.EventHandler) chronicle.EventHandler {
	spanName := fmt.Sprintf("subscription.%s.handle", name)

	return func(ctx context.Context, event chronicle.StoredEvent) error {
		ctx, span := t.StartSpan(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()

		span.SetAttributes(
			attribute.String("chronicle.service", t.serviceName),
			attribute.String("chronicle.subscription", name),
			attribute.String("chronicle.event.id", event.ID),
			attribute.String("chronicle.event.type", event.Type),
			attribute.String("chronicle.aggregate.id", event.AggregateID),
			attribute.Int64("chronicle.event.version", event.Version),
			attribute.Int64("chronicle.event.global_sequence", int64(event.GlobalSequence)),
		)
		if event.Metadata.CorrelationID != "" {
			span.SetAttributes(attribute.String("chronicle.correlation_id", event.Metadata.CorrelationID))
		}

		err := handler(ctx, event)
		finish(span, err)
		return err
	}
}

// =============================================================================
// Span Helpers
// =============================================================================

// Metadata returns event metadata tied to the span in ctx. The trace ID is
// stored under TraceIDKey and becomes the correlation ID; the span ID is the
// causation ID. Without a valid span it returns empty metadata.
func Metadata(ctx context.Context) chronicle.Metadata {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return chronicle.Metadata{}
	}
	traceID := sc.TraceID().String()
	return chronicle.Metadata{}.
		WithCorrelationID(traceID).
		WithCausationID(sc.SpanID().String()).
		WithCustom(TraceIDKey, traceID)
}

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
