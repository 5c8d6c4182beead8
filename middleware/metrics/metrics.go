// Package metrics provides Prometheus metrics for chronicle.
//
// Event store and snapshot store adapters are wrapped with decorators that
// count and time every operation, and subscription handlers are wrapped with
// WrapHandler.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("orders"))
//	m.MustRegister()
//
//	store := chronicle.New(m.WrapEventStore(adapter),
//		chronicle.WithSnapshotStore(m.WrapSnapshotStore(adapter)))
//
//	sub, err := store.Subscribe(ctx, 0, m.WrapHandler("emails", handler))
//
// The metrics collected include:
//   - event store operation counts and durations
//   - events appended by type and events loaded
//   - optimistic concurrency conflicts and idempotent no-op appends
//   - snapshot saves, loads (hit or miss) and removed snapshots
//   - subscription deliveries, handler durations and positions
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

// Default metric labels.
const (
	LabelAggregateType = "aggregate_type"
	LabelEventType     = "event_type"
	LabelOperation     = "operation"
	LabelStatus        = "status"
	LabelErrorType     = "error_type"
	LabelSubscription  = "subscription"
	LabelService       = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusHit     = "hit"
	StatusMiss    = "miss"
)

// Operation values.
const (
	OperationAppend          = "append"
	OperationLoadStream      = "load_stream"
	OperationQuery           = "query"
	OperationCurrentSequence = "current_sequence"
	OperationSnapshotSave    = "snapshot_save"
	OperationSnapshotLoad    = "snapshot_load"
	OperationSnapshotCleanup = "snapshot_cleanup"
)

// Metrics holds all Prometheus metrics for chronicle.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Event store metrics
	eventStoreOperationsTotal   *prometheus.CounterVec
	eventStoreOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal         *prometheus.CounterVec
	eventsLoadedTotal           *prometheus.CounterVec
	concurrencyConflictsTotal   *prometheus.CounterVec
	idempotentAppendsTotal      *prometheus.CounterVec

	// Snapshot metrics
	snapshotOperationsTotal *prometheus.CounterVec
	snapshotsRemovedTotal   *prometheus.CounterVec

	// Subscription metrics
	subscriptionEventsTotal     *prometheus.CounterVec
	subscriptionHandlerDuration *prometheus.HistogramVec
	subscriptionPosition        *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "chronicle",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		},
		append([]string{LabelService}, labels...),
	)
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		},
		append([]string{LabelService}, labels...),
	)
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.eventStoreOperationsTotal = m.counter("eventstore_operations_total",
		"Total number of event store operations.", LabelOperation, LabelStatus)
	m.eventStoreOperationDuration = m.histogram("eventstore_operation_duration_seconds",
		"Duration of event store operations in seconds.", LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended.", LabelAggregateType, LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total",
		"Total number of events read from the store.", LabelOperation)
	m.concurrencyConflictsTotal = m.counter("concurrency_conflicts_total",
		"Total number of appends rejected by the optimistic concurrency check.", LabelAggregateType)
	m.idempotentAppendsTotal = m.counter("idempotent_appends_total",
		"Total number of appends skipped because their idempotency key was already stored.", LabelAggregateType)

	m.snapshotOperationsTotal = m.counter("snapshot_operations_total",
		"Total number of snapshot store operations.", LabelOperation, LabelStatus)
	m.snapshotsRemovedTotal = m.counter("snapshots_removed_total",
		"Total number of snapshots removed by retention cleanup.")

	m.subscriptionEventsTotal = m.counter("subscription_events_total",
		"Total number of handler invocations by subscriptions.", LabelSubscription, LabelStatus)
	m.subscriptionHandlerDuration = m.histogram("subscription_handler_duration_seconds",
		"Duration of subscription handler invocations in seconds.", LabelSubscription)
	m.subscriptionPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "subscription_position",
			Help:      "Global sequence of the last event handled by each subscription.",
		},
		[]string{LabelService, LabelSubscription},
	)

	m.errorsTotal = m.counter("errors_total", "Total number of errors by type.", LabelErrorType)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventStoreOperationsTotal,
		m.eventStoreOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.concurrencyConflictsTotal,
		m.idempotentAppendsTotal,
		m.snapshotOperationsTotal,
		m.snapshotsRemovedTotal,
		m.subscriptionEventsTotal,
		m.subscriptionHandlerDuration,
		m.subscriptionPosition,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// observe records the duration and outcome of an event store operation.
func (m *Metrics) observe(operation string, start time.Time, err error) {
	m.eventStoreOperationDuration.WithLabelValues(m.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.recordError(err)
	}
	m.eventStoreOperationsTotal.WithLabelValues(m.serviceName, operation, status).Inc()
}

func (m *Metrics) recordError(err error) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, chronicle.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, chronicle.ErrAggregateNotFound):
		return "aggregate_not_found"
	case errors.Is(err, chronicle.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, chronicle.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, chronicle.ErrUnknownEventType):
		return "unknown_event_type"
	case errors.Is(err, chronicle.ErrEmptyAggregateID):
		return "empty_aggregate_id"
	case errors.Is(err, chronicle.ErrEmptyAggregateType):
		return "empty_aggregate_type"
	case errors.Is(err, chronicle.ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, chronicle.ErrInvalidKeepCount):
		return "invalid_keep_count"
	case errors.Is(err, chronicle.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, chronicle.ErrSubscriptionClosed):
		return "subscription_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "unknown"
	}
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// Ensure EventStoreMiddleware keeps the optional capabilities the store and
// subscriptions look for.
var (
	_ adapters.EventStoreAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.AppendNotifier    = (*EventStoreMiddleware)(nil)
	_ adapters.CheckpointAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.HealthChecker     = (*EventStoreMiddleware)(nil)
	_ adapters.StatsAdapter      = (*EventStoreMiddleware)(nil)
)

// EventStoreMiddleware wraps an EventStoreAdapter with metrics.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	metrics *Metrics
}

// WrapEventStore wraps an adapter with metrics collection.
func (m *Metrics) WrapEventStore(adapter adapters.EventStoreAdapter) *EventStoreMiddleware {
	return &EventStoreMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

// Unwrap returns the wrapped adapter.
func (em *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter {
	return em.adapter
}

// Append stores events with metrics.
func (em *EventStoreMiddleware) Append(ctx context.Context, aggregateID, aggregateType string, events []adapters.EventRecord, opts adapters.AppendOptions) ([]adapters.StoredEvent, error) {
	m := em.metrics
	start := time.Now()
	stored, err := em.adapter.Append(ctx, aggregateID, aggregateType, events, opts)
	m.observe(OperationAppend, start, err)

	switch {
	case errors.Is(err, adapters.ErrConcurrencyConflict):
		m.concurrencyConflictsTotal.WithLabelValues(m.serviceName, aggregateType).Inc()
	case err != nil:
	case len(events) > 0 && len(stored) == 0:
		m.idempotentAppendsTotal.WithLabelValues(m.serviceName, aggregateType).Inc()
	default:
		for _, e := range stored {
			m.eventsAppendedTotal.WithLabelValues(m.serviceName, aggregateType, e.Type).Inc()
		}
	}

	return stored, err
}

// LoadStream retrieves an aggregate's events with metrics.
func (em *EventStoreMiddleware) LoadStream(ctx context.Context, q adapters.StreamQuery) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.LoadStream(ctx, q)
	em.metrics.observe(OperationLoadStream, start, err)
	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName, OperationLoadStream).Add(float64(len(events)))
	}
	return events, err
}

// QueryEvents reads the global log with metrics.
func (em *EventStoreMiddleware) QueryEvents(ctx context.Context, q adapters.EventQuery) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.QueryEvents(ctx, q)
	em.metrics.observe(OperationQuery, start, err)
	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName, OperationQuery).Add(float64(len(events)))
	}
	return events, err
}

// GetCurrentSequence returns the highest committed sequence with metrics.
func (em *EventStoreMiddleware) GetCurrentSequence(ctx context.Context) (uint64, error) {
	start := time.Now()
	seq, err := em.adapter.GetCurrentSequence(ctx)
	em.metrics.observe(OperationCurrentSequence, start, err)
	return seq, err
}

// Initialize initializes the wrapped adapter.
func (em *EventStoreMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

// Close closes the wrapped adapter.
func (em *EventStoreMiddleware) Close() error {
	return em.adapter.Close()
}

// AppendSignal forwards to the wrapped adapter. It returns nil, a channel
// that never fires, when the adapter has no push notifications.
func (em *EventStoreMiddleware) AppendSignal() <-chan struct{} {
	if n, ok := em.adapter.(adapters.AppendNotifier); ok {
		return n.AppendSignal()
	}
	return nil
}

// GetCheckpoint forwards to the wrapped adapter.
func (em *EventStoreMiddleware) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	cp, err := checkpoints(em.adapter)
	if err != nil {
		return 0, err
	}
	return cp.GetCheckpoint(ctx, name)
}

// SetCheckpoint forwards to the wrapped adapter and records the position.
func (em *EventStoreMiddleware) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	cp, err := checkpoints(em.adapter)
	if err != nil {
		return err
	}
	if err := cp.SetCheckpoint(ctx, name, position); err != nil {
		em.metrics.recordError(err)
		return err
	}
	em.metrics.subscriptionPosition.WithLabelValues(em.metrics.serviceName, name).Set(float64(position))
	return nil
}

// Ping forwards to the wrapped adapter when it supports health checks.
func (em *EventStoreMiddleware) Ping(ctx context.Context) error {
	if hc, ok := em.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Stats forwards to the wrapped adapter.
func (em *EventStoreMiddleware) Stats(ctx context.Context) (*adapters.StoreStats, error) {
	if sa, ok := em.adapter.(adapters.StatsAdapter); ok {
		return sa.Stats(ctx)
	}
	return nil, adapters.Unsupported(em.adapter, "statistics")
}

func checkpoints(adapter adapters.EventStoreAdapter) (adapters.CheckpointAdapter, error) {
	if cp, ok := adapter.(adapters.CheckpointAdapter); ok {
		return cp, nil
	}
	return nil, adapters.Unsupported(adapter, "checkpoints")
}

// =============================================================================
// Snapshot Store Middleware
// =============================================================================

var _ adapters.SnapshotAdapter = (*SnapshotStoreMiddleware)(nil)

// SnapshotStoreMiddleware wraps a SnapshotAdapter with metrics.
type SnapshotStoreMiddleware struct {
	store   adapters.SnapshotAdapter
	metrics *Metrics
}

// WrapSnapshotStore wraps a snapshot store with metrics collection.
func (m *Metrics) WrapSnapshotStore(store adapters.SnapshotAdapter) *SnapshotStoreMiddleware {
	return &SnapshotStoreMiddleware{
		store:   store,
		metrics: m,
	}
}

// SaveSnapshot stores a snapshot with metrics.
func (sm *SnapshotStoreMiddleware) SaveSnapshot(ctx context.Context, snapshot adapters.Snapshot) error {
	err := sm.store.SaveSnapshot(ctx, snapshot)
	sm.record(OperationSnapshotSave, statusOf(err), err)
	return err
}

// LoadSnapshot loads a snapshot and records whether one was found.
func (sm *SnapshotStoreMiddleware) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*adapters.Snapshot, error) {
	snap, err := sm.store.LoadSnapshot(ctx, aggregateID, aggregateType)
	status := statusOf(err)
	if err == nil {
		status = StatusHit
		if snap == nil {
			status = StatusMiss
		}
	}
	sm.record(OperationSnapshotLoad, status, err)
	return snap, err
}

// CleanupSnapshots removes old snapshots with metrics.
func (sm *SnapshotStoreMiddleware) CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error) {
	removed, err := sm.store.CleanupSnapshots(ctx, aggregateID, keepCount)
	sm.record(OperationSnapshotCleanup, statusOf(err), err)
	if err == nil {
		sm.metrics.snapshotsRemovedTotal.WithLabelValues(sm.metrics.serviceName).Add(float64(removed))
	}
	return removed, err
}

func (sm *SnapshotStoreMiddleware) record(operation, status string, err error) {
	if err != nil {
		sm.metrics.recordError(err)
	}
	sm.metrics.snapshotOperationsTotal.WithLabelValues(sm.metrics.serviceName, operation, status).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// =============================================================================
// Subscription Handlers
// =============================================================================

// WrapHandler records every invocation of a subscription handler under the
// given subscription name. Retries show up as separate invocations.
func (m *Metrics) WrapHandler(name string, handler chronicle.EventHandler) chronicle.EventHandler {
	return func(ctx context.Context, event chronicle.StoredEvent) error {
		start := time.Now()
		err := handler(ctx, event)
		m.subscriptionHandlerDuration.WithLabelValues(m.serviceName, name).Observe(time.Since(start).Seconds())

		if err != nil {
			m.subscriptionEventsTotal.WithLabelValues(m.serviceName, name, StatusError).Inc()
			m.recordError(err)
			return err
		}

		m.subscriptionEventsTotal.WithLabelValues(m.serviceName, name, StatusSuccess).Inc()
		m.subscriptionPosition.WithLabelValues(m.serviceName, name).Set(float64(event.GlobalSequence))
		return nil
	}
}
