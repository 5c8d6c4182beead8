// Package adaptertest provides a conformance suite that every event store and
// snapshot store backend is expected to pass.
//
// Backend packages call RunEventStoreSuite and RunSnapshotStoreSuite from
// their own tests with a factory that returns a fresh, initialized adapter.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// EventStoreFactory returns a fresh, initialized event store adapter.
// The factory is responsible for registering cleanup with t.Cleanup.
type EventStoreFactory func(t *testing.T) adapters.EventStoreAdapter

// SnapshotStoreFactory returns a fresh, initialized snapshot store.
type SnapshotStoreFactory func(t *testing.T) adapters.SnapshotAdapter

// Writers is the number of concurrent writers used by the race tests.
var Writers = 8

var idSeq atomic.Uint64

// NewID returns an aggregate id unique within the test binary, so suites can
// share one database without cleaning it between subtests.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}

// Records builds n event records of the given type with small JSON payloads.
func Records(eventType string, n int) []adapters.EventRecord {
	out := make([]adapters.EventRecord, n)
	for i := range out {
		out[i] = adapters.EventRecord{
			Type: eventType,
			Data: []byte(fmt.Sprintf(`{"n":%d}`, i+1)),
		}
	}
	return out
}

// RunEventStoreSuite runs the event store conformance tests.
func RunEventStoreSuite(t *testing.T, newAdapter EventStoreFactory) {
	t.Run("Append", func(t *testing.T) { testAppend(t, newAdapter) })
	t.Run("Concurrency", func(t *testing.T) { testConcurrency(t, newAdapter) })
	t.Run("Idempotency", func(t *testing.T) { testIdempotency(t, newAdapter) })
	t.Run("LoadStream", func(t *testing.T) { testLoadStream(t, newAdapter) })
	t.Run("QueryEvents", func(t *testing.T) { testQueryEvents(t, newAdapter) })
	t.Run("GlobalSequence", func(t *testing.T) { testGlobalSequence(t, newAdapter) })
	t.Run("Checkpoints", func(t *testing.T) { testCheckpoints(t, newAdapter) })
	t.Run("AppendSignal", func(t *testing.T) { testAppendSignal(t, newAdapter) })
}

func testAppend(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()

	t.Run("assigns consecutive versions starting at 1", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		stored, err := a.Append(ctx, id, "Order", Records("ItemAdded", 3), adapters.AppendOptions{})

		require.NoError(t, err)
		require.Len(t, stored, 3)
		for i, e := range stored {
			assert.Equal(t, int64(i+1), e.Version)
			assert.Equal(t, id, e.AggregateID)
			assert.Equal(t, "Order", e.AggregateType)
			assert.Equal(t, "ItemAdded", e.Type)
			assert.NotEmpty(t, e.ID)
			assert.NotZero(t, e.GlobalSequence)
			assert.Equal(t, adapters.DefaultSchemaVersion, e.SchemaVersion)
			assert.False(t, e.Timestamp.IsZero())
		}
	})

	t.Run("continues from expected version", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{})
		require.NoError(t, err)

		stored, err := a.Append(ctx, id, "Order", Records("ItemAdded", 2), adapters.AppendOptions{ExpectedVersion: 1})

		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, int64(2), stored[0].Version)
		assert.Equal(t, int64(3), stored[1].Version)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		stored, err := a.Append(ctx, id, "Order", nil, adapters.AppendOptions{ExpectedVersion: 7})

		require.NoError(t, err)
		assert.Empty(t, stored)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id})
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("preserves payload metadata and occurred time", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")
		occurred := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

		_, err := a.Append(ctx, id, "Order", []adapters.EventRecord{{
			Type:          "Created",
			Data:          []byte(`{"customer":"c-1"}`),
			SchemaVersion: 2,
			OccurredAt:    occurred,
			Metadata: adapters.Metadata{
				CorrelationID: "corr-1",
				UserID:        "user-1",
				Custom:        map[string]string{"source": "test"},
			},
		}}, adapters.AppendOptions{})
		require.NoError(t, err)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id})
		require.NoError(t, err)
		require.Len(t, loaded, 1)

		e := loaded[0]
		assert.JSONEq(t, `{"customer":"c-1"}`, string(e.Data))
		assert.Equal(t, 2, e.SchemaVersion)
		assert.True(t, occurred.Equal(e.Timestamp), "timestamp %v", e.Timestamp)
		assert.Equal(t, "corr-1", e.Metadata.CorrelationID)
		assert.Equal(t, "user-1", e.Metadata.UserID)
		assert.Equal(t, "test", e.Metadata.Custom["source"])
		assert.False(t, e.Metadata.Timestamp.IsZero())
	})

	t.Run("validates arguments", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "", "Order", Records("Created", 1), adapters.AppendOptions{})
		assert.ErrorIs(t, err, adapters.ErrEmptyAggregateID)

		_, err = a.Append(ctx, NewID("Order"), "", Records("Created", 1), adapters.AppendOptions{})
		assert.ErrorIs(t, err, adapters.ErrEmptyAggregateType)

		_, err = a.Append(ctx, NewID("Order"), "Order", Records("Created", 1), adapters.AppendOptions{ExpectedVersion: -1})
		assert.ErrorIs(t, err, adapters.ErrInvalidVersion)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		a := newAdapter(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := a.Append(cctx, NewID("Order"), "Order", Records("Created", 1), adapters.AppendOptions{})

		assert.Error(t, err)
	})
}

func testConcurrency(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()

	t.Run("stale expected version fails with details", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		_, err := a.Append(ctx, id, "Order", Records("Created", 2), adapters.AppendOptions{})
		require.NoError(t, err)

		_, err = a.Append(ctx, id, "Order", Records("ItemAdded", 1), adapters.AppendOptions{ExpectedVersion: 1})

		require.Error(t, err)
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		var concErr *adapters.ConcurrencyError
		require.True(t, errors.As(err, &concErr))
		assert.Equal(t, id, concErr.AggregateID)
		assert.Equal(t, int64(1), concErr.ExpectedVersion)
		assert.Equal(t, int64(2), concErr.ActualVersion)
	})

	t.Run("expected version ahead of stream fails", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{ExpectedVersion: 3})

		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
	})

	t.Run("failed append leaves no partial batch", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{})
		require.NoError(t, err)

		_, err = a.Append(ctx, id, "Order", Records("ItemAdded", 5), adapters.AppendOptions{})
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id})
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("exactly one concurrent writer wins", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{})
		require.NoError(t, err)

		var wins, conflicts atomic.Int32
		var g errgroup.Group
		for i := 0; i < Writers; i++ {
			g.Go(func() error {
				_, err := a.Append(ctx, id, "Order", Records("ItemAdded", 2), adapters.AppendOptions{ExpectedVersion: 1})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, adapters.ErrConcurrencyConflict):
					conflicts.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(Writers-1), conflicts.Load())

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id})
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		for i, e := range loaded {
			assert.Equal(t, int64(i+1), e.Version)
		}
	})
}

func testIdempotency(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()

	t.Run("retry with same key is a no-op", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")
		key := NewID("key")

		first, err := a.Append(ctx, id, "Order", Records("Created", 2), adapters.AppendOptions{IdempotencyKey: key})
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, key, first[0].IdempotencyKey)
		assert.Empty(t, first[1].IdempotencyKey)

		second, err := a.Append(ctx, id, "Order", Records("Created", 2), adapters.AppendOptions{IdempotencyKey: key})
		require.NoError(t, err)
		assert.Empty(t, second)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id})
		require.NoError(t, err)
		assert.Len(t, loaded, 2)
	})

	t.Run("key check precedes version check", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")
		key := NewID("key")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{IdempotencyKey: key})
		require.NoError(t, err)

		// The retry still carries the pre-commit expected version.
		stored, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{IdempotencyKey: key})

		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("distinct keys append normally", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{IdempotencyKey: NewID("key")})
		require.NoError(t, err)

		stored, err := a.Append(ctx, id, "Order", Records("ItemAdded", 1), adapters.AppendOptions{ExpectedVersion: 1, IdempotencyKey: NewID("key")})
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, int64(2), stored[0].Version)
	})

	t.Run("conflicting append does not consume key", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")
		key := NewID("key")

		_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{})
		require.NoError(t, err)

		_, err = a.Append(ctx, id, "Order", Records("ItemAdded", 1), adapters.AppendOptions{IdempotencyKey: key})
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		stored, err := a.Append(ctx, id, "Order", Records("ItemAdded", 1), adapters.AppendOptions{ExpectedVersion: 1, IdempotencyKey: key})
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})

	t.Run("concurrent retries commit once", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")
		key := NewID("key")

		var g errgroup.Group
		for i := 0; i < Writers; i++ {
			g.Go(func() error {
				_, err := a.Append(ctx, id, "Order", Records("Created", 1), adapters.AppendOptions{IdempotencyKey: key})
				if err != nil && !errors.Is(err, adapters.ErrConcurrencyConflict) {
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id})
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})
}

func testLoadStream(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()

	t.Run("unknown aggregate returns empty", func(t *testing.T) {
		a := newAdapter(t)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: NewID("missing")})

		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("bounds are inclusive", func(t *testing.T) {
		a := newAdapter(t)
		id := NewID("Order")
		_, err := a.Append(ctx, id, "Order", Records("ItemAdded", 5), adapters.AppendOptions{})
		require.NoError(t, err)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id, FromVersion: 2, ToVersion: 4})

		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Equal(t, int64(2), loaded[0].Version)
		assert.Equal(t, int64(4), loaded[2].Version)

		tail, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id, FromVersion: 5})
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, int64(5), tail[0].Version)
	})

	t.Run("does not mix aggregates", func(t *testing.T) {
		a := newAdapter(t)
		id1, id2 := NewID("Order"), NewID("Order")
		_, err := a.Append(ctx, id1, "Order", Records("Created", 2), adapters.AppendOptions{})
		require.NoError(t, err)
		_, err = a.Append(ctx, id2, "Order", Records("Created", 3), adapters.AppendOptions{})
		require.NoError(t, err)

		loaded, err := a.LoadStream(ctx, adapters.StreamQuery{AggregateID: id1})

		require.NoError(t, err)
		assert.Len(t, loaded, 2)
		for _, e := range loaded {
			assert.Equal(t, id1, e.AggregateID)
		}
	})

	t.Run("requires aggregate id", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.LoadStream(ctx, adapters.StreamQuery{})

		assert.ErrorIs(t, err, adapters.ErrEmptyAggregateID)
	})
}

func testQueryEvents(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()

	t.Run("filters by type and sequence", func(t *testing.T) {
		a := newAdapter(t)
		aggType := NewID("Invoice")
		id1, id2 := NewID("inv"), NewID("inv")

		first, err := a.Append(ctx, id1, aggType, Records("Issued", 1), adapters.AppendOptions{})
		require.NoError(t, err)
		_, err = a.Append(ctx, NewID("other"), NewID("Other"), Records("Noise", 2), adapters.AppendOptions{})
		require.NoError(t, err)
		_, err = a.Append(ctx, id2, aggType, Records("Issued", 1), adapters.AppendOptions{})
		require.NoError(t, err)
		_, err = a.Append(ctx, id1, aggType, Records("Paid", 1), adapters.AppendOptions{ExpectedVersion: 1})
		require.NoError(t, err)

		all, err := a.QueryEvents(ctx, adapters.EventQuery{AggregateType: aggType})
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i].GlobalSequence, all[i-1].GlobalSequence)
		}

		paid, err := a.QueryEvents(ctx, adapters.EventQuery{AggregateType: aggType, EventTypes: []string{"Paid"}})
		require.NoError(t, err)
		require.Len(t, paid, 1)
		assert.Equal(t, id1, paid[0].AggregateID)

		from := first[0].GlobalSequence
		window, err := a.QueryEvents(ctx, adapters.EventQuery{
			AggregateType: aggType,
			FromSequence:  from,
			ToSequence:    all[1].GlobalSequence,
		})
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, from, window[0].GlobalSequence)

		limited, err := a.QueryEvents(ctx, adapters.EventQuery{AggregateType: aggType, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("filters by timestamp", func(t *testing.T) {
		a := newAdapter(t)
		aggType := NewID("Ledger")
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		records := make([]adapters.EventRecord, 3)
		for i := range records {
			records[i] = adapters.EventRecord{
				Type:       "Posted",
				Data:       []byte(`{}`),
				OccurredAt: base.Add(time.Duration(i) * time.Hour),
			}
		}
		_, err := a.Append(ctx, NewID("ledger"), aggType, records, adapters.AppendOptions{})
		require.NoError(t, err)

		found, err := a.QueryEvents(ctx, adapters.EventQuery{
			AggregateType: aggType,
			FromTimestamp: base.Add(time.Hour),
			ToTimestamp:   base.Add(2 * time.Hour),
		})

		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, int64(2), found[0].Version)
	})
}

func testGlobalSequence(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()

	t.Run("strictly increasing across aggregates", func(t *testing.T) {
		a := newAdapter(t)

		before, err := a.GetCurrentSequence(ctx)
		require.NoError(t, err)

		var last uint64
		for i := 0; i < 5; i++ {
			stored, err := a.Append(ctx, NewID("Seq"), "Seq", Records("Tick", 2), adapters.AppendOptions{})
			require.NoError(t, err)
			for _, e := range stored {
				assert.Greater(t, e.GlobalSequence, last)
				assert.Greater(t, e.GlobalSequence, before)
				last = e.GlobalSequence
			}
		}

		current, err := a.GetCurrentSequence(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, current, last)
	})

	t.Run("unique under concurrent writers", func(t *testing.T) {
		a := newAdapter(t)
		aggType := NewID("Par")

		var g errgroup.Group
		for i := 0; i < Writers; i++ {
			g.Go(func() error {
				_, err := a.Append(ctx, NewID("par"), aggType, Records("Tick", 3), adapters.AppendOptions{})
				return err
			})
		}
		require.NoError(t, g.Wait())

		all, err := a.QueryEvents(ctx, adapters.EventQuery{AggregateType: aggType})
		require.NoError(t, err)
		require.Len(t, all, Writers*3)

		seen := make(map[uint64]bool, len(all))
		for i, e := range all {
			assert.False(t, seen[e.GlobalSequence], "duplicate sequence %d", e.GlobalSequence)
			seen[e.GlobalSequence] = true
			if i > 0 {
				assert.Greater(t, e.GlobalSequence, all[i-1].GlobalSequence)
			}
		}
	})
}

func testCheckpoints(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()
	a := newAdapter(t)

	cp, ok := a.(adapters.CheckpointAdapter)
	if !ok {
		t.Skip("adapter does not store checkpoints")
	}

	name := NewID("sub")

	pos, err := cp.GetCheckpoint(ctx, name)
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, cp.SetCheckpoint(ctx, name, 42))
	require.NoError(t, cp.SetCheckpoint(ctx, name, 43))

	pos, err = cp.GetCheckpoint(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), pos)
}

func testAppendSignal(t *testing.T, newAdapter EventStoreFactory) {
	ctx := context.Background()
	a := newAdapter(t)

	n, ok := a.(adapters.AppendNotifier)
	if !ok {
		t.Skip("adapter does not signal appends")
	}

	signal := n.AppendSignal()
	if signal == nil {
		t.Skip("append signals are disabled")
	}
	select {
	case <-signal:
		t.Fatal("signal fired before any append")
	default:
	}

	_, err := a.Append(ctx, NewID("Sig"), "Sig", Records("Tick", 1), adapters.AppendOptions{})
	require.NoError(t, err)

	select {
	case <-signal:
	case <-time.After(time.Second):
		t.Fatal("signal did not fire after append")
	}
}

// RunSnapshotStoreSuite runs the snapshot store conformance tests.
func RunSnapshotStoreSuite(t *testing.T, newStore SnapshotStoreFactory) {
	ctx := context.Background()

	snap := func(id string, version int64) adapters.Snapshot {
		return adapters.Snapshot{
			AggregateID:   id,
			AggregateType: "Order",
			Version:       version,
			State:         []byte(fmt.Sprintf(`{"v":%d}`, version)),
			Encoding:      "json",
		}
	}

	t.Run("load returns nil when absent", func(t *testing.T) {
		s := newStore(t)

		loaded, err := s.LoadSnapshot(ctx, NewID("Order"), "Order")

		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("load returns highest version", func(t *testing.T) {
		s := newStore(t)
		id := NewID("Order")

		require.NoError(t, s.SaveSnapshot(ctx, snap(id, 10)))
		require.NoError(t, s.SaveSnapshot(ctx, snap(id, 30)))
		require.NoError(t, s.SaveSnapshot(ctx, snap(id, 20)))

		loaded, err := s.LoadSnapshot(ctx, id, "Order")

		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, int64(30), loaded.Version)
		assert.JSONEq(t, `{"v":30}`, string(loaded.State))
		assert.Equal(t, "json", loaded.Encoding)
		assert.Equal(t, "Order", loaded.AggregateType)
		assert.NotEmpty(t, loaded.ID)
		assert.False(t, loaded.CreatedAt.IsZero())
	})

	t.Run("duplicate version is ignored", func(t *testing.T) {
		s := newStore(t)
		id := NewID("Order")

		require.NoError(t, s.SaveSnapshot(ctx, snap(id, 5)))

		dup := snap(id, 5)
		dup.State = []byte(`{"v":"changed"}`)
		require.NoError(t, s.SaveSnapshot(ctx, dup))

		loaded, err := s.LoadSnapshot(ctx, id, "Order")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.JSONEq(t, `{"v":5}`, string(loaded.State))
	})

	t.Run("cleanup keeps newest", func(t *testing.T) {
		s := newStore(t)
		id := NewID("Order")
		other := NewID("Order")

		for v := int64(1); v <= 5; v++ {
			require.NoError(t, s.SaveSnapshot(ctx, snap(id, v*10)))
		}
		require.NoError(t, s.SaveSnapshot(ctx, snap(other, 1)))

		removed, err := s.CleanupSnapshots(ctx, id, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		loaded, err := s.LoadSnapshot(ctx, id, "Order")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, int64(50), loaded.Version)

		removed, err = s.CleanupSnapshots(ctx, id, 2)
		require.NoError(t, err)
		assert.Zero(t, removed)

		untouched, err := s.LoadSnapshot(ctx, other, "Order")
		require.NoError(t, err)
		assert.NotNil(t, untouched)
	})

	t.Run("cleanup rejects keep below one", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CleanupSnapshots(ctx, NewID("Order"), 0)

		assert.ErrorIs(t, err, adapters.ErrInvalidKeepCount)
	})
}
