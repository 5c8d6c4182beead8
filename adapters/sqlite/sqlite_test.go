package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/adaptertest"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, opts ...Option) *SQLiteAdapter {
	t.Helper()

	adapter, err := NewAdapter(filepath.Join(t.TempDir(), "events.db"), opts...)
	require.NoError(t, err)
	require.NoError(t, adapter.Initialize(context.Background()))
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func TestSQLiteAdapter_Conformance(t *testing.T) {
	adaptertest.RunEventStoreSuite(t, func(t *testing.T) adapters.EventStoreAdapter {
		return newTestAdapter(t)
	})
}

func TestSQLiteAdapter_SnapshotConformance(t *testing.T) {
	adaptertest.RunSnapshotStoreSuite(t, func(t *testing.T) adapters.SnapshotAdapter {
		return newTestAdapter(t)
	})
}

func TestSQLiteAdapter_InMemory(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewAdapter(MemoryPath)
	require.NoError(t, err)
	defer adapter.Close()
	require.NoError(t, adapter.Initialize(ctx))

	_, err = adapter.Append(ctx, "m-1", "Mem", adaptertest.Records("A", 3), adapters.AppendOptions{})
	require.NoError(t, err)

	seq, err := adapter.GetCurrentSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestSQLiteAdapter_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	first, err := NewAdapter(path)
	require.NoError(t, err)
	require.NoError(t, first.Initialize(ctx))
	_, err = first.Append(ctx, "r-1", "R", adaptertest.Records("A", 2), adapters.AppendOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	require.NoError(t, first.SetCheckpoint(ctx, "tail", 2))
	require.NoError(t, first.Close())

	second, err := NewAdapter(path)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Initialize(ctx))

	events, err := second.LoadStream(ctx, adapters.StreamQuery{AggregateID: "r-1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	stored, err := second.Append(ctx, "r-1", "R", adaptertest.Records("A", 1), adapters.AppendOptions{ExpectedVersion: 2, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Empty(t, stored, "key survives a reopen")

	pos, err := second.GetCheckpoint(ctx, "tail")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pos)

	_, err = second.Append(ctx, "r-2", "R", adaptertest.Records("B", 1), adapters.AppendOptions{})
	require.NoError(t, err)
	seq, err := second.GetCurrentSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestSQLiteAdapter_Migrations(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewAdapter(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer adapter.Close()

	version, err := adapter.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, adapter.Initialize(ctx))
	require.NoError(t, adapter.Initialize(ctx))

	version, err = adapter.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestSQLiteAdapter_Storage(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata and times round trip", func(t *testing.T) {
		at := time.Date(2024, 2, 3, 4, 5, 6, 789000, time.UTC)
		adapter := newTestAdapter(t, WithClock(func() time.Time { return at }))
		meta := adapters.Metadata{}.WithUserID("u-1").WithCustom("k", "v")

		_, err := adapter.Append(ctx, "t-1", "T",
			[]adapters.EventRecord{{Type: "A", Data: []byte{0x00, 0xff}, Metadata: meta}}, adapters.AppendOptions{})
		require.NoError(t, err)

		events, err := adapter.QueryEvents(ctx, adapters.EventQuery{FromTimestamp: at, ToTimestamp: at})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, at, events[0].Timestamp)
		assert.Equal(t, at, events[0].Metadata.Timestamp)
		assert.Equal(t, "u-1", events[0].Metadata.UserID)
		assert.Equal(t, "v", events[0].Metadata.Custom["k"])
		assert.Equal(t, []byte{0x00, 0xff}, events[0].Data)
	})

	t.Run("stats", func(t *testing.T) {
		adapter := newTestAdapter(t)
		_, err := adapter.Append(ctx, "s-1", "S", adaptertest.Records("A", 1), adapters.AppendOptions{})
		require.NoError(t, err)
		_, err = adapter.Append(ctx, "s-2", "S", adaptertest.Records("B", 2), adapters.AppendOptions{})
		require.NoError(t, err)

		stats, err := adapter.Stats(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalEvents)
		assert.Equal(t, int64(2), stats.TotalAggregates)
		assert.Zero(t, stats.TotalSnapshots)
		assert.Equal(t, uint64(3), stats.CurrentSequence)
		assert.Equal(t, []adapters.EventTypeCount{{Type: "B", Count: 2}, {Type: "A", Count: 1}}, stats.EventTypes)
	})

	t.Run("empty store", func(t *testing.T) {
		adapter := newTestAdapter(t)

		seq, err := adapter.GetCurrentSequence(ctx)
		require.NoError(t, err)
		assert.Zero(t, seq)

		stats, err := adapter.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.CurrentSequence)
		assert.Empty(t, stats.EventTypes)
	})
}

func TestSQLiteAdapter_Close(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)
	signal := adapter.AppendSignal()

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())

	select {
	case <-signal:
	default:
		t.Fatal("close did not release waiters")
	}

	_, err := adapter.Append(ctx, "a", "A", adaptertest.Records("E", 1), adapters.AppendOptions{})
	assert.ErrorIs(t, err, ErrAdapterClosed)
	_, err = adapter.QueryEvents(ctx, adapters.EventQuery{})
	assert.ErrorIs(t, err, ErrAdapterClosed)
	_, err = adapter.LoadSnapshot(ctx, "a", "A")
	assert.ErrorIs(t, err, ErrAdapterClosed)
	assert.ErrorIs(t, adapter.Ping(ctx), ErrAdapterClosed)
	assert.ErrorIs(t, adapter.Migrate(ctx), ErrAdapterClosed)
}

func TestUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want violation
	}{
		{"plain error", errors.New("UNIQUE constraint failed: events.idempotency_key"), violationNone},
		{"other constraint", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, violationNone},
		{"unique without columns", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, violationNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uniqueViolation(tt.err))
		})
	}
}

func TestUniqueViolation_Driver(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t)

	_, err := adapter.Append(ctx, "d-1", "D", adaptertest.Records("A", 1), adapters.AppendOptions{IdempotencyKey: "dup"})
	require.NoError(t, err)

	_, err = adapter.db.ExecContext(ctx, `
		INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, event_data, version, timestamp)
		VALUES ('x', 'd-1', 'D', 'A', x'00', 1, 0)`)
	require.Error(t, err)
	assert.Equal(t, violationAggregateVersion, uniqueViolation(err))

	_, err = adapter.db.ExecContext(ctx, `
		INSERT INTO events (event_id, aggregate_id, aggregate_type, event_type, event_data, version, timestamp, idempotency_key)
		VALUES ('y', 'd-2', 'D', 'A', x'00', 1, 0, 'dup')`)
	require.Error(t, err)
	assert.Equal(t, violationIdempotencyKey, uniqueViolation(err))

	stored, err := classifyAppendError("d-1", adapters.AppendOptions{ExpectedVersion: 0}, err)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
