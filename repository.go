package chronicle

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Repository loads and saves one aggregate type.
//
// Loading restores the newest snapshot when one is available and replays the
// events after it. Saving appends the uncommitted events with the version the
// aggregate had before they were raised, so a concurrent writer surfaces as a
// ConcurrencyError. The repository never retries.
type Repository[T Aggregate] struct {
	store         *EventStore
	aggregateType string
	factory       func(id string) T
	config        repositoryConfig

	group singleflight.Group
	wg    sync.WaitGroup
}

type repositoryConfig struct {
	snapshotEvery     int64
	snapshotRetention int
	asyncSnapshots    bool
	asyncTimeout      time.Duration
	codec             StateCodec
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryConfig)

// WithSnapshotEvery snapshots an aggregate whenever a save moves its version
// across a multiple of n. Zero disables automatic snapshots.
func WithSnapshotEvery(n int64) RepositoryOption {
	return func(c *repositoryConfig) {
		if n >= 0 {
			c.snapshotEvery = n
		}
	}
}

// WithSnapshotRetention keeps only the newest k snapshots after each
// automatic snapshot. Zero keeps everything.
func WithSnapshotRetention(k int) RepositoryOption {
	return func(c *repositoryConfig) {
		if k >= 0 {
			c.snapshotRetention = k
		}
	}
}

// WithAsyncSnapshots persists automatic snapshots in the background.
// State is encoded before Save returns; concurrent snapshots of the same
// aggregate are collapsed into one.
func WithAsyncSnapshots() RepositoryOption {
	return func(c *repositoryConfig) {
		c.asyncSnapshots = true
	}
}

// WithStateCodec sets the codec used for snapshot state. Default: JSONStateCodec.
func WithStateCodec(codec StateCodec) RepositoryOption {
	return func(c *repositoryConfig) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// NewRepository creates a repository for aggregateType. The factory returns a
// fresh aggregate at version 0 for the given id.
func NewRepository[T Aggregate](store *EventStore, aggregateType string, factory func(id string) T, opts ...RepositoryOption) *Repository[T] {
	config := repositoryConfig{
		asyncTimeout: 30 * time.Second,
		codec:        JSONStateCodec{},
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &Repository[T]{
		store:         store,
		aggregateType: aggregateType,
		factory:       factory,
		config:        config,
	}
}

// AggregateType returns the aggregate type handled by the repository.
func (r *Repository[T]) AggregateType() string {
	return r.aggregateType
}

// Load rebuilds an aggregate. It returns ErrAggregateNotFound when the
// aggregate has neither a snapshot nor events. A snapshot that cannot be
// used is logged and the aggregate is replayed from its first event.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, ErrEmptyAggregateID
	}

	agg, fromSnapshot := r.loadSnapshot(ctx, id)

	events, err := r.store.LoadEvents(ctx, id, agg.Version().Int64()+1)
	if err != nil {
		return zero, err
	}

	if len(events) == 0 && !fromSnapshot {
		return zero, ErrAggregateNotFound
	}

	if err := ReplayEvents(agg, events...); err != nil {
		return zero, err
	}

	return agg, nil
}

// loadSnapshot returns a fresh aggregate, restored from the newest usable
// snapshot when there is one.
func (r *Repository[T]) loadSnapshot(ctx context.Context, id string) (T, bool) {
	agg := r.factory(id)
	snapshots := r.store.SnapshotStore()
	if snapshots == nil {
		return agg, false
	}

	snap, err := snapshots.LoadSnapshot(ctx, id, r.aggregateType)
	if err != nil {
		r.store.logger.Warn("snapshot load failed, replaying from start",
			"aggregateId", id,
			"error", err)
		return agg, false
	}
	if snap == nil {
		return agg, false
	}

	if err := r.restore(agg, snap); err != nil {
		r.store.logger.Warn("snapshot unusable, replaying from start",
			"aggregateId", id,
			"version", snap.Version,
			"encoding", snap.Encoding,
			"error", err)
		return r.factory(id), false
	}

	return agg, true
}

func (r *Repository[T]) restore(agg T, snap *Snapshot) error {
	if snap.Version < 1 {
		return fmt.Errorf("invalid snapshot version %d", snap.Version)
	}
	if snap.Encoding != "" && snap.Encoding != r.config.codec.Name() {
		return fmt.Errorf("snapshot encoded as %q, repository decodes %q", snap.Encoding, r.config.codec.Name())
	}

	decode := func(target interface{}) error {
		return r.config.codec.Decode(snap.State, target)
	}

	var err error
	if s, ok := any(agg).(Snapshotter); ok {
		err = s.RestoreSnapshotState(decode)
	} else {
		err = decode(agg)
	}
	if err != nil {
		return err
	}

	restoreVersion(agg, AggregateVersion(snap.Version))
	return nil
}

// SaveOption configures a Save.
type SaveOption func(*saveConfig)

type saveConfig struct {
	idempotencyKey string
	metadata       Metadata
}

// WithSaveIdempotencyKey makes the save safe to retry.
func WithSaveIdempotencyKey(key string) SaveOption {
	return func(c *saveConfig) {
		c.idempotencyKey = key
	}
}

// WithSaveMetadata attaches metadata to every saved event.
func WithSaveMetadata(m Metadata) SaveOption {
	return func(c *saveConfig) {
		c.metadata = m
	}
}

// Save appends the aggregate's uncommitted events. Nothing happens when there
// are none. On success the buffer is cleared; on failure the aggregate is
// left untouched so the caller can inspect it.
func (r *Repository[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	if isNilAggregate(agg) {
		return ErrNilAggregate
	}

	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	config := &saveConfig{}
	for _, opt := range opts {
		opt(config)
	}

	expected := agg.aggregateBase().CommittedVersion().Int64()
	stored, err := r.store.Append(ctx, agg.AggregateID(), r.aggregateType, events,
		ExpectVersion(expected),
		WithIdempotencyKey(config.idempotencyKey),
		WithAppendMetadata(config.metadata),
	)
	if err != nil {
		return err
	}

	agg.ClearUncommittedEvents()

	if len(stored) > 0 && r.shouldSnapshot(expected, agg.Version().Int64()) {
		r.autoSnapshot(ctx, agg)
	}

	return nil
}

// shouldSnapshot reports whether a save moved the version across a multiple
// of the snapshot interval.
func (r *Repository[T]) shouldSnapshot(before, after int64) bool {
	every := r.config.snapshotEvery
	if every <= 0 || r.store.SnapshotStore() == nil {
		return false
	}
	return before/every != after/every
}

func (r *Repository[T]) autoSnapshot(ctx context.Context, agg T) {
	snap, err := r.encode(agg)
	if err != nil {
		r.store.logger.Warn("snapshot encoding failed",
			"aggregateId", agg.AggregateID(),
			"version", agg.Version(),
			"error", err)
		return
	}

	if !r.config.asyncSnapshots {
		if err := r.persist(ctx, snap); err != nil {
			r.store.logger.Warn("snapshot failed",
				"aggregateId", snap.AggregateID,
				"version", snap.Version,
				"error", err)
		}
		return
	}

	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		key := snap.AggregateID + "@" + strconv.FormatInt(snap.Version, 10)
		_, _, _ = r.group.Do(key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(bg, r.config.asyncTimeout)
			defer cancel()

			err := r.persist(ctx, snap)
			if err != nil {
				r.store.logger.Warn("background snapshot failed",
					"aggregateId", snap.AggregateID,
					"version", snap.Version,
					"error", err)
			}
			return nil, err
		})
	}()
}

// WaitSnapshots blocks until background snapshots have finished.
func (r *Repository[T]) WaitSnapshots() {
	r.wg.Wait()
}

// Snapshot stores a snapshot of a clean aggregate at its current version.
func (r *Repository[T]) Snapshot(ctx context.Context, agg T) error {
	if isNilAggregate(agg) {
		return ErrNilAggregate
	}
	if r.store.SnapshotStore() == nil {
		return ErrNoSnapshotStore
	}
	if agg.HasUncommittedEvents() {
		return ErrUncommittedEvents
	}
	if agg.Version().IsZero() {
		return ErrInvalidVersion
	}

	snap, err := r.encode(agg)
	if err != nil {
		return err
	}
	return r.persist(ctx, snap)
}

func (r *Repository[T]) encode(agg T) (Snapshot, error) {
	var state interface{} = agg
	if s, ok := any(agg).(Snapshotter); ok {
		var err error
		if state, err = s.SnapshotState(); err != nil {
			return Snapshot{}, fmt.Errorf("chronicle: failed to capture snapshot state: %w", err)
		}
	}

	data, err := r.config.codec.Encode(state)
	if err != nil {
		return Snapshot{}, fmt.Errorf("chronicle: failed to encode snapshot state: %w", err)
	}

	return Snapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: r.aggregateType,
		Version:       agg.Version().Int64(),
		State:         data,
		Encoding:      r.config.codec.Name(),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (r *Repository[T]) persist(ctx context.Context, snap Snapshot) error {
	snapshots := r.store.SnapshotStore()
	if err := snapshots.SaveSnapshot(ctx, snap); err != nil {
		return err
	}

	if r.config.snapshotRetention > 0 {
		removed, err := snapshots.CleanupSnapshots(ctx, snap.AggregateID, r.config.snapshotRetention)
		if err != nil {
			return err
		}
		if removed > 0 {
			r.store.logger.Debug("old snapshots removed",
				"aggregateId", snap.AggregateID,
				"removed", removed)
		}
	}
	return nil
}

// Exists reports whether at least one event exists for the aggregate.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	events, err := r.store.LoadStream(ctx, StreamQuery{AggregateID: id, ToVersion: 1})
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// Update loads an aggregate, runs fn and saves the result. A missing
// aggregate is passed to fn as a fresh instance. Errors from fn abort the
// update; a concurrency conflict is returned as is.
func (r *Repository[T]) Update(ctx context.Context, id string, fn func(T) error, opts ...SaveOption) (T, error) {
	agg, err := r.Load(ctx, id)
	if errors.Is(err, ErrAggregateNotFound) {
		agg, err = r.factory(id), nil
	}
	if err != nil {
		var zero T
		return zero, err
	}

	if err := fn(agg); err != nil {
		var zero T
		return zero, err
	}

	if err := r.Save(ctx, agg, opts...); err != nil {
		var zero T
		return zero, err
	}
	return agg, nil
}

func isNilAggregate(agg Aggregate) bool {
	if agg == nil {
		return true
	}
	v := reflect.ValueOf(agg)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
