package chronicle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
	"github.com/AshkanYarmoradi/go-chronicle/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var repoNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newFaultyStore(t *testing.T, opts ...chronicle.Option) (*chronicle.EventStore, *testutil.FaultyAdapter) {
	t.Helper()
	adapter := testutil.NewFaultyAdapter()
	opts = append([]chronicle.Option{chronicle.WithSnapshotStore(adapter)}, opts...)
	store := chronicle.New(adapter, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, adapter
}

func savedCounter(t *testing.T, repo *chronicle.Repository[*testutil.Counter], id string, steps ...int64) *testutil.Counter {
	t.Helper()
	c := testutil.NewCounterWithClock(id, chronicle.FixedClock(repoNow))
	for _, n := range steps {
		require.NoError(t, c.Add(n))
	}
	require.NoError(t, repo.Save(context.Background(), c))
	return c
}

func TestRepository_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)

		_, err := repo.Load(ctx, "missing")

		assert.ErrorIs(t, err, chronicle.ErrAggregateNotFound)
	})

	t.Run("empty id", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)

		_, err := repo.Load(ctx, "")

		assert.ErrorIs(t, err, chronicle.ErrEmptyAggregateID)
	})

	t.Run("rebuilds state from events", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		savedCounter(t, repo, "c1", 1, 2, 3)

		loaded, err := repo.Load(ctx, "c1")

		require.NoError(t, err)
		assert.Equal(t, int64(6), loaded.Value)
		assert.Equal(t, chronicle.AggregateVersion(3), loaded.Version())
		assert.Equal(t, repoNow, loaded.UpdatedAt)
		assert.False(t, loaded.HasUncommittedEvents())
	})

	t.Run("load errors propagate", func(t *testing.T) {
		store, adapter := newFaultyStore(t)
		repo := testutil.NewCounterRepository(store)
		boom := errors.New("boom")
		adapter.LoadErr = boom

		_, err := repo.Load(ctx, "c1")

		assert.ErrorIs(t, err, boom)
	})
}

func TestRepository_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("no uncommitted events is a no-op", func(t *testing.T) {
		store, adapter := newFaultyStore(t)
		repo := testutil.NewCounterRepository(store)

		require.NoError(t, repo.Save(ctx, testutil.NewCounter("c1")))

		appends, _, _ := adapter.Counts()
		assert.Zero(t, appends)
	})

	t.Run("nil aggregate", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)

		assert.ErrorIs(t, repo.Save(ctx, nil), chronicle.ErrNilAggregate)
	})

	t.Run("successive saves extend the stream", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		c := savedCounter(t, repo, "c1", 1)

		require.NoError(t, c.Add(4))
		require.NoError(t, repo.Save(ctx, c))

		loaded, err := repo.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), loaded.Value)
		assert.Equal(t, chronicle.AggregateVersion(2), loaded.Version())
	})

	t.Run("concurrent writers conflict", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		savedCounter(t, repo, "c1", 1)

		a, err := repo.Load(ctx, "c1")
		require.NoError(t, err)
		b, err := repo.Load(ctx, "c1")
		require.NoError(t, err)

		require.NoError(t, a.Add(10))
		require.NoError(t, repo.Save(ctx, a))

		require.NoError(t, b.Add(20))
		err = repo.Save(ctx, b)

		require.ErrorIs(t, err, chronicle.ErrConcurrencyConflict)
		var concErr *chronicle.ConcurrencyError
		require.True(t, errors.As(err, &concErr))
		assert.Equal(t, int64(1), concErr.ExpectedVersion)
		assert.Equal(t, int64(2), concErr.ActualVersion)
		assert.True(t, b.HasUncommittedEvents())
	})

	t.Run("idempotent save retried after lost reply", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)

		first := testutil.NewCounter("c1")
		require.NoError(t, first.Set(7))
		retry := testutil.NewCounter("c1")
		require.NoError(t, retry.Set(7))

		require.NoError(t, repo.Save(ctx, first, chronicle.WithSaveIdempotencyKey("cmd-1")))
		require.NoError(t, repo.Save(ctx, retry, chronicle.WithSaveIdempotencyKey("cmd-1")))

		events, err := store.LoadEvents(ctx, "c1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		assert.False(t, retry.HasUncommittedEvents())
	})

	t.Run("metadata is attached", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		c := testutil.NewCounter("c1")
		require.NoError(t, c.Set(1))

		require.NoError(t, repo.Save(ctx, c, chronicle.WithSaveMetadata(chronicle.Metadata{}.WithUserID("u-9"))))

		stored, err := store.LoadStream(ctx, chronicle.StreamQuery{AggregateID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, "u-9", stored[0].Metadata.UserID)
	})

	t.Run("append failure keeps the buffer", func(t *testing.T) {
		store, adapter := newFaultyStore(t)
		repo := testutil.NewCounterRepository(store)
		adapter.SetAppendErr(errors.New("db down"))
		c := testutil.NewCounter("c1")
		require.NoError(t, c.Set(1))

		err := repo.Save(ctx, c)

		assert.Error(t, err)
		assert.True(t, c.HasUncommittedEvents())
	})
}

func TestRepository_AutoSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots when a save crosses the interval", func(t *testing.T) {
		store, adapter := newStore(t)
		repo := testutil.NewCounterRepository(store, chronicle.WithSnapshotEvery(3))
		c := savedCounter(t, repo, "c1", 1, 1)

		snap, err := adapter.LoadSnapshot(ctx, "c1", testutil.CounterType)
		require.NoError(t, err)
		assert.Nil(t, snap)

		require.NoError(t, c.Add(1))
		require.NoError(t, c.Add(1))
		require.NoError(t, repo.Save(ctx, c))

		snap, err = adapter.LoadSnapshot(ctx, "c1", testutil.CounterType)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(4), snap.Version)
		assert.Equal(t, "json", snap.Encoding)
	})

	t.Run("load uses snapshot and later events", func(t *testing.T) {
		store, adapter := newStore(t)
		repo := testutil.NewCounterRepository(store)
		_, err := store.Append(ctx, "c1", testutil.CounterType, counterEvents("c1",
			testutil.ValueAdded{Amount: 5}, testutil.ValueAdded{Amount: 5}, testutil.ValueAdded{Amount: 1}))
		require.NoError(t, err)

		// The snapshot disagrees with the events so the test can tell it was used.
		require.NoError(t, adapter.SaveSnapshot(ctx, adapters.Snapshot{
			AggregateID:   "c1",
			AggregateType: testutil.CounterType,
			Version:       2,
			State:         []byte(`{"value":100}`),
			Encoding:      "json",
		}))

		loaded, err := repo.Load(ctx, "c1")

		require.NoError(t, err)
		assert.Equal(t, int64(101), loaded.Value)
		assert.Equal(t, chronicle.AggregateVersion(3), loaded.Version())
	})

	t.Run("retention keeps newest", func(t *testing.T) {
		store, adapter := newFaultyStore(t)
		repo := testutil.NewCounterRepository(store,
			chronicle.WithSnapshotEvery(1),
			chronicle.WithSnapshotRetention(2))
		c := savedCounter(t, repo, "c1", 1)
		for i := 0; i < 4; i++ {
			require.NoError(t, c.Add(1))
			require.NoError(t, repo.Save(ctx, c))
		}

		removed, err := adapter.CleanupSnapshots(ctx, "c1", 2)
		require.NoError(t, err)
		assert.Zero(t, removed)

		snap, err := adapter.LoadSnapshot(ctx, "c1", testutil.CounterType)
		require.NoError(t, err)
		assert.Equal(t, int64(5), snap.Version)
	})

	t.Run("snapshot load matches replay with wall clock times", func(t *testing.T) {
		store, adapter := newStore(t)
		repo := testutil.NewCounterRepository(store, chronicle.WithSnapshotEvery(2))
		c := testutil.NewCounterWithClock("c1", chronicle.SystemClock)
		for i := int64(1); i <= 4; i++ {
			require.NoError(t, c.Add(i))
			require.NoError(t, repo.Save(ctx, c))
		}

		fromSnapshot, err := repo.Load(ctx, "c1")
		require.NoError(t, err)

		replayOnly := chronicle.New(adapter)
		testutil.RegisterCounterEvents(replayOnly)
		fromEvents, err := testutil.NewCounterRepository(replayOnly).Load(ctx, "c1")
		require.NoError(t, err)

		assert.Equal(t, fromEvents.Value, fromSnapshot.Value)
		assert.True(t, fromEvents.UpdatedAt.Equal(fromSnapshot.UpdatedAt))
		assert.Equal(t, c.UpdatedAt, c.UpdatedAt.Truncate(time.Microsecond))
	})

	t.Run("snapshot failure does not fail the save", func(t *testing.T) {
		logger := &recordingLogger{}
		store, adapter := newFaultyStore(t, chronicle.WithLogger(logger))
		repo := testutil.NewCounterRepository(store, chronicle.WithSnapshotEvery(1))
		adapter.SnapshotSaveErr = errors.New("disk full")
		c := testutil.NewCounter("c1")
		require.NoError(t, c.Set(1))

		require.NoError(t, repo.Save(ctx, c))

		assert.True(t, logger.Has("WARN snapshot failed"))
		loaded, err := repo.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Value)
	})

	t.Run("async snapshots finish in the background", func(t *testing.T) {
		store, adapter := newStore(t)
		repo := testutil.NewCounterRepository(store,
			chronicle.WithSnapshotEvery(1),
			chronicle.WithAsyncSnapshots())

		var wg sync.WaitGroup
		for _, id := range []string{"c1", "c2", "c3"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				c := testutil.NewCounter(id)
				assert.NoError(t, c.Set(3))
				assert.NoError(t, repo.Save(ctx, c))
			}(id)
		}
		wg.Wait()
		repo.WaitSnapshots()

		for _, id := range []string{"c1", "c2", "c3"} {
			snap, err := adapter.LoadSnapshot(ctx, id, testutil.CounterType)
			require.NoError(t, err)
			require.NotNil(t, snap, id)
			assert.Equal(t, int64(1), snap.Version)
		}
	})

	t.Run("newer async snapshot is written while an older one is in flight", func(t *testing.T) {
		adapter := memory.NewAdapter()
		gate := newGatedSnapshots(adapter, 1)
		store := chronicle.New(adapter, chronicle.WithSnapshotStore(gate))
		testutil.RegisterCounterEvents(store)
		defer store.Close()
		repo := testutil.NewCounterRepository(store,
			chronicle.WithSnapshotEvery(1),
			chronicle.WithAsyncSnapshots())

		c := testutil.NewCounter("c1")
		require.NoError(t, c.Set(1))
		require.NoError(t, repo.Save(ctx, c))
		<-gate.entered

		require.NoError(t, c.Add(1))
		require.NoError(t, repo.Save(ctx, c))

		require.Eventually(t, func() bool {
			snap, err := adapter.LoadSnapshot(ctx, "c1", testutil.CounterType)
			return err == nil && snap != nil && snap.Version == 2
		}, 2*time.Second, 5*time.Millisecond)

		close(gate.release)
		repo.WaitSnapshots()

		snap, err := adapter.LoadSnapshot(ctx, "c1", testutil.CounterType)
		require.NoError(t, err)
		assert.Equal(t, int64(2), snap.Version)
	})

	t.Run("disabled without snapshot store", func(t *testing.T) {
		adapter := testutil.NewFaultyAdapter()
		store := chronicle.New(adapter)
		repo := testutil.NewCounterRepository(store, chronicle.WithSnapshotEvery(1))

		savedCounter(t, repo, "c1", 1)

		_, saves, _ := adapter.Counts()
		assert.Zero(t, saves)
	})
}

// gatedSnapshots holds back the save of one snapshot version until release
// is closed.
type gatedSnapshots struct {
	adapters.SnapshotAdapter

	version int64
	entered chan struct{}
	release chan struct{}
}

func newGatedSnapshots(inner adapters.SnapshotAdapter, version int64) *gatedSnapshots {
	return &gatedSnapshots{
		SnapshotAdapter: inner,
		version:         version,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (g *gatedSnapshots) SaveSnapshot(ctx context.Context, snap adapters.Snapshot) error {
	if snap.Version == g.version {
		close(g.entered)
		<-g.release
	}
	return g.SnapshotAdapter.SaveSnapshot(ctx, snap)
}

func TestRepository_UnusableSnapshot(t *testing.T) {
	ctx := context.Background()

	cases := map[string]adapters.Snapshot{
		"corrupt state":    {State: []byte(`{not json`), Encoding: "json"},
		"foreign encoding": {State: []byte(`{"value":100}`), Encoding: "msgpack"},
	}

	for name, bad := range cases {
		t.Run(name, func(t *testing.T) {
			logger := &recordingLogger{}
			store, adapter := newStore(t, chronicle.WithLogger(logger))
			repo := testutil.NewCounterRepository(store)
			savedCounter(t, repo, "c1", 2, 3)

			bad.AggregateID = "c1"
			bad.AggregateType = testutil.CounterType
			bad.Version = 2
			require.NoError(t, adapter.SaveSnapshot(ctx, bad))

			loaded, err := repo.Load(ctx, "c1")

			require.NoError(t, err)
			assert.Equal(t, int64(5), loaded.Value)
			assert.Equal(t, chronicle.AggregateVersion(2), loaded.Version())
			assert.True(t, logger.Has("WARN snapshot unusable, replaying from start"))
		})
	}

	t.Run("snapshot load error falls back to replay", func(t *testing.T) {
		logger := &recordingLogger{}
		store, adapter := newFaultyStore(t, chronicle.WithLogger(logger))
		repo := testutil.NewCounterRepository(store)
		savedCounter(t, repo, "c1", 4)
		adapter.SnapshotLoadErr = errors.New("timeout")

		loaded, err := repo.Load(ctx, "c1")

		require.NoError(t, err)
		assert.Equal(t, int64(4), loaded.Value)
		assert.True(t, logger.Has("WARN snapshot load failed, replaying from start"))
	})
}

func TestRepository_Snapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("stores current state", func(t *testing.T) {
		store, adapter := newStore(t)
		repo := testutil.NewCounterRepository(store)
		c := savedCounter(t, repo, "c1", 2)

		require.NoError(t, repo.Snapshot(ctx, c))

		snap, err := adapter.LoadSnapshot(ctx, "c1", testutil.CounterType)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, int64(1), snap.Version)
		assert.JSONEq(t, `{"value":2,"updatedAt":"2024-03-01T08:00:00Z"}`, string(snap.State))
	})

	t.Run("rejects dirty aggregate", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		c := testutil.NewCounter("c1")
		require.NoError(t, c.Set(1))

		assert.ErrorIs(t, repo.Snapshot(ctx, c), chronicle.ErrUncommittedEvents)
	})

	t.Run("rejects version zero", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)

		assert.ErrorIs(t, repo.Snapshot(ctx, testutil.NewCounter("c1")), chronicle.ErrInvalidVersion)
	})

	t.Run("requires snapshot store", func(t *testing.T) {
		store := chronicle.New(testutil.NewFaultyAdapter())
		repo := testutil.NewCounterRepository(store)

		assert.ErrorIs(t, repo.Snapshot(ctx, testutil.NewCounter("c1")), chronicle.ErrNoSnapshotStore)
	})
}

func TestRepository_Exists(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	repo := testutil.NewCounterRepository(store)
	savedCounter(t, repo, "c1", 1)

	ok, err := repo.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing aggregate", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)

		c, err := repo.Update(ctx, "c1", func(c *testutil.Counter) error { return c.Set(9) })

		require.NoError(t, err)
		assert.Equal(t, int64(9), c.Value)
		assert.False(t, c.HasUncommittedEvents())
	})

	t.Run("modifies existing aggregate", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		savedCounter(t, repo, "c1", 2)

		c, err := repo.Update(ctx, "c1", func(c *testutil.Counter) error { return c.Multiply(5) })

		require.NoError(t, err)
		assert.Equal(t, int64(10), c.Value)
		assert.Equal(t, chronicle.AggregateVersion(2), c.Version())
	})

	t.Run("command error saves nothing", func(t *testing.T) {
		store, _ := newStore(t)
		repo := testutil.NewCounterRepository(store)
		savedCounter(t, repo, "c1", 2)

		_, err := repo.Update(ctx, "c1", func(c *testutil.Counter) error { return c.Multiply(0) })

		assert.Error(t, err)
		events, err := store.LoadEvents(ctx, "c1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}
