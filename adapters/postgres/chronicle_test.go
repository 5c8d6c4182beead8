package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/adaptertest"
	"github.com/AshkanYarmoradi/go-chronicle/testing/containers"
	"github.com/AshkanYarmoradi/go-chronicle/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresAdapter_SnapshotMatchesReplay(t *testing.T) {
	it := containers.NewIntegrationTest(t)
	ctx := context.Background()
	adapter := newSchemaAdapter(t, it)

	snapshotted := chronicle.New(adapter, chronicle.WithSnapshotStore(adapter))
	testutil.RegisterCounterEvents(snapshotted)
	repo := testutil.NewCounterRepository(snapshotted, chronicle.WithSnapshotEvery(1))

	c := testutil.NewCounterWithClock("wall-1", chronicle.SystemClock)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, c.Add(i))
		require.NoError(t, repo.Save(ctx, c))
	}

	snap, err := adapter.LoadSnapshot(ctx, "wall-1", testutil.CounterType)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, int64(3), snap.Version)

	fromSnapshot, err := repo.Load(ctx, "wall-1")
	require.NoError(t, err)

	replayOnly := chronicle.New(adapter)
	testutil.RegisterCounterEvents(replayOnly)
	fromEvents, err := testutil.NewCounterRepository(replayOnly).Load(ctx, "wall-1")
	require.NoError(t, err)

	assert.Equal(t, fromEvents.Value, fromSnapshot.Value)
	assert.Equal(t, fromEvents.Version(), fromSnapshot.Version())
	assert.True(t, fromEvents.UpdatedAt.Equal(fromSnapshot.UpdatedAt),
		"replay %s, snapshot %s", fromEvents.UpdatedAt, fromSnapshot.UpdatedAt)
	assert.True(t, c.UpdatedAt.Equal(fromEvents.UpdatedAt))
}

func TestPostgresAdapter_SequenceCommitOrder(t *testing.T) {
	it := containers.NewIntegrationTest(t)
	ctx := context.Background()

	t.Run("append waits for an open sequence holder", func(t *testing.T) {
		adapter := newSchemaAdapter(t, it)

		tx, err := adapter.db.BeginTx(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, adapter.lockSequence(ctx, tx))

		done := make(chan error, 1)
		go func() {
			_, err := adapter.Append(ctx, "late-1", "T",
				[]adapters.EventRecord{{Type: "A", Data: []byte(`{}`)}}, adapters.AppendOptions{})
			done <- err
		}()

		select {
		case err := <-done:
			t.Fatalf("append finished while the sequence was held: %v", err)
		case <-time.After(200 * time.Millisecond):
		}

		require.NoError(t, tx.Rollback())
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("append did not resume")
		}
	})

	t.Run("subscription that never waits on gaps sees every commit", func(t *testing.T) {
		const perWriter = 25
		adapter := newSchemaAdapter(t, it, WithNotifications(it.ConnectionString()))
		store := chronicle.New(adapter)
		testutil.RegisterCounterEvents(store)

		var got testutil.Recorder[uint64]
		sub, err := store.Subscribe(ctx, 0, func(ctx context.Context, e chronicle.StoredEvent) error {
			got.Add(e.GlobalSequence)
			return nil
		}, chronicle.WithPollInterval(5*time.Millisecond), chronicle.WithGapTimeout(0))
		require.NoError(t, err)
		defer sub.Unsubscribe()

		var wg sync.WaitGroup
		for w := 0; w < adaptertest.Writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					id := fmt.Sprintf("w%d-%d", w, i)
					_, err := store.Append(ctx, id, testutil.CounterType,
						[]chronicle.Event{chronicle.NewEvent(id, testutil.ValueSet{Value: int64(i)}, time.Now())})
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		total := adaptertest.Writers * perWriter
		require.Eventually(t, func() bool { return sub.Position() == uint64(total) }, 10*time.Second, 10*time.Millisecond)

		seen := make(map[uint64]bool, total)
		for _, seq := range got.Values() {
			seen[seq] = true
		}
		assert.Len(t, seen, total)
	})
}
