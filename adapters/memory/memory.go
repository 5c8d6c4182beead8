// Package memory provides an in-memory implementation of the event store adapter.
// This adapter is primarily intended for testing and development purposes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/google/uuid"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventStoreAdapter = (*MemoryAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*MemoryAdapter)(nil)
	_ adapters.CheckpointAdapter = (*MemoryAdapter)(nil)
	_ adapters.AppendNotifier    = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker     = (*MemoryAdapter)(nil)
	_ adapters.StatsAdapter      = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of EventStoreAdapter.
// It is thread-safe and suitable for unit testing.
type MemoryAdapter struct {
	mu              sync.RWMutex
	streams         map[string]*streamData
	globalEvents    []adapters.StoredEvent
	globalSequence  uint64
	idempotencyKeys map[string]struct{}
	snapshots       map[string][]adapters.Snapshot
	checkpoints     *CheckpointStore
	signal          chan struct{}
	now             func() time.Time
	closed          bool
}

type streamData struct {
	aggregateType string
	events        []adapters.StoredEvent
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the time source used for event and snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithCheckpointStore shares a checkpoint store between adapters.
func WithCheckpointStore(store *CheckpointStore) Option {
	return func(a *MemoryAdapter) {
		if store != nil {
			a.checkpoints = store
		}
	}
}

// NewAdapter creates a new in-memory event store adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:         make(map[string]*streamData),
		globalEvents:    make([]adapters.StoredEvent, 0),
		idempotencyKeys: make(map[string]struct{}),
		snapshots:       make(map[string][]adapters.Snapshot),
		checkpoints:     NewCheckpointStore(),
		signal:          make(chan struct{}),
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Append stores events for an aggregate with optimistic concurrency control.
// The whole batch is applied under one lock, so it is all-or-nothing.
func (a *MemoryAdapter) Append(ctx context.Context, aggregateID, aggregateType string, events []adapters.EventRecord, opts adapters.AppendOptions) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := adapters.ValidateAppend(aggregateID, aggregateType, opts); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if len(events) == 0 {
		return []adapters.StoredEvent{}, nil
	}

	if opts.IdempotencyKey != "" {
		if _, seen := a.idempotencyKeys[opts.IdempotencyKey]; seen {
			return []adapters.StoredEvent{}, nil
		}
	}

	stream, exists := a.streams[aggregateID]
	currentVersion := int64(0)
	if exists {
		currentVersion = int64(len(stream.events))
	}

	if err := adapters.CheckVersion(aggregateID, opts.ExpectedVersion, currentVersion); err != nil {
		return nil, err
	}

	if !exists {
		stream = &streamData{aggregateType: aggregateType}
		a.streams[aggregateID] = stream
	}

	stored := adapters.PrepareRecords(aggregateID, aggregateType, events, opts, a.now())
	for i := range stored {
		a.globalSequence++
		stored[i].GlobalSequence = a.globalSequence
	}

	stream.events = append(stream.events, stored...)
	a.globalEvents = append(a.globalEvents, stored...)
	if opts.IdempotencyKey != "" {
		a.idempotencyKeys[opts.IdempotencyKey] = struct{}{}
	}

	a.broadcast()

	return copyEvents(stored), nil
}

// LoadStream retrieves the events of one aggregate within the query bounds.
func (a *MemoryAdapter) LoadStream(ctx context.Context, q adapters.StreamQuery) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if q.AggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream, exists := a.streams[q.AggregateID]
	if !exists {
		return []adapters.StoredEvent{}, nil
	}

	events := make([]adapters.StoredEvent, 0, len(stream.events))
	for _, event := range stream.events {
		if adapters.InStreamRange(event.Version, q) {
			events = append(events, event)
		}
	}

	return copyEvents(events), nil
}

// QueryEvents retrieves events across aggregates ordered by global sequence.
func (a *MemoryAdapter) QueryEvents(ctx context.Context, q adapters.EventQuery) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	// globalEvents is in sequence order, so the first event past the lower
	// bound can be found by binary search.
	start := 0
	if q.FromSequence > 0 {
		start = sort.Search(len(a.globalEvents), func(i int) bool {
			return a.globalEvents[i].GlobalSequence >= q.FromSequence
		})
	}

	events := make([]adapters.StoredEvent, 0)
	for _, event := range a.globalEvents[start:] {
		if q.ToSequence > 0 && event.GlobalSequence > q.ToSequence {
			break
		}
		if !adapters.MatchesQuery(event, q) {
			continue
		}
		events = append(events, event)
		if q.Limit > 0 && len(events) >= q.Limit {
			break
		}
	}

	return copyEvents(events), nil
}

// GetCurrentSequence returns the highest assigned global sequence.
func (a *MemoryAdapter) GetCurrentSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.globalSequence, nil
}

// AppendSignal returns a channel that is closed after the next successful append.
func (a *MemoryAdapter) AppendSignal() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.signal
}

// broadcast wakes every waiter and arms a fresh signal. Callers hold a.mu.
func (a *MemoryAdapter) broadcast() {
	close(a.signal)
	a.signal = make(chan struct{})
}

// SaveSnapshot stores a snapshot. A snapshot for an existing version is ignored.
func (a *MemoryAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if snapshot.AggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}
	if snapshot.AggregateType == "" {
		return adapters.ErrEmptyAggregateType
	}
	if snapshot.Version < 1 {
		return adapters.ErrInvalidVersion
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	existing := a.snapshots[snapshot.AggregateID]
	for _, s := range existing {
		if s.Version == snapshot.Version {
			return nil
		}
	}

	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = a.now()
	}
	snapshot.State = append([]byte(nil), snapshot.State...)

	existing = append(existing, snapshot)
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Version > existing[j].Version
	})
	a.snapshots[snapshot.AggregateID] = existing

	return nil
}

// LoadSnapshot returns the newest snapshot for an aggregate, or nil if none exists.
func (a *MemoryAdapter) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*adapters.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	for _, s := range a.snapshots[aggregateID] {
		if aggregateType != "" && s.AggregateType != aggregateType {
			continue
		}
		found := s
		found.State = append([]byte(nil), s.State...)
		return &found, nil
	}

	return nil, nil
}

// CleanupSnapshots keeps the newest keepCount snapshots and deletes the rest.
func (a *MemoryAdapter) CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if aggregateID == "" {
		return 0, adapters.ErrEmptyAggregateID
	}
	if keepCount < 1 {
		return 0, adapters.ErrInvalidKeepCount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	existing := a.snapshots[aggregateID]
	if len(existing) <= keepCount {
		return 0, nil
	}

	removed := int64(len(existing) - keepCount)
	a.snapshots[aggregateID] = existing[:keepCount:keepCount]

	return removed, nil
}

// GetCheckpoint returns the stored position of a subscription.
func (a *MemoryAdapter) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if a.isClosed() {
		return 0, adapters.ErrAdapterClosed
	}
	return a.checkpoints.GetCheckpoint(ctx, name)
}

// SetCheckpoint stores the position of a subscription.
func (a *MemoryAdapter) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.isClosed() {
		return adapters.ErrAdapterClosed
	}
	return a.checkpoints.SetCheckpoint(ctx, name, position)
}

// Stats returns counts for diagnostics.
func (a *MemoryAdapter) Stats(ctx context.Context) (*adapters.StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stats := &adapters.StoreStats{
		TotalEvents:     int64(len(a.globalEvents)),
		TotalAggregates: int64(len(a.streams)),
		CurrentSequence: a.globalSequence,
	}
	for _, snaps := range a.snapshots {
		stats.TotalSnapshots += int64(len(snaps))
	}

	counts := make(map[string]int64)
	for _, e := range a.globalEvents {
		counts[e.Type]++
	}
	for t, c := range counts {
		stats.EventTypes = append(stats.EventTypes, adapters.EventTypeCount{Type: t, Count: c})
	}
	adapters.SortEventTypeCounts(stats.EventTypes)

	return stats, nil
}

// Ping always succeeds unless the adapter is closed.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.isClosed() {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Close marks the adapter as closed and wakes any waiting subscription.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.broadcast()
	return nil
}

// Reset clears all data. Useful between tests.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.streams = make(map[string]*streamData)
	a.globalEvents = make([]adapters.StoredEvent, 0)
	a.globalSequence = 0
	a.idempotencyKeys = make(map[string]struct{})
	a.snapshots = make(map[string][]adapters.Snapshot)
	a.checkpoints.Clear()
}

// EventCount returns the total number of stored events.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.globalEvents)
}

// AggregateCount returns the number of aggregates with at least one event.
func (a *MemoryAdapter) AggregateCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}

func (a *MemoryAdapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func copyEvents(events []adapters.StoredEvent) []adapters.StoredEvent {
	out := make([]adapters.StoredEvent, len(events))
	for i, e := range events {
		out[i] = e
		if e.Metadata.Custom != nil {
			custom := make(map[string]string, len(e.Metadata.Custom))
			for k, v := range e.Metadata.Custom {
				custom[k] = v
			}
			out[i].Metadata.Custom = custom
		}
	}
	return out
}
