package chronicle_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
	"github.com/AshkanYarmoradi/go-chronicle/testing/testutil"
)

func Example() {
	ctx := context.Background()
	adapter := memory.NewAdapter()
	store := chronicle.New(adapter)
	repo := testutil.NewCounterRepository(store)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _ = store.Append(ctx, "a1", testutil.CounterType,
		[]chronicle.Event{chronicle.NewEvent("a1", testutil.ValueSet{Value: 10}, at)},
		chronicle.ExpectVersion(0))
	_, _ = store.Append(ctx, "a1", testutil.CounterType,
		[]chronicle.Event{chronicle.NewEvent("a1", testutil.ValueAdded{Amount: 5}, at)},
		chronicle.ExpectVersion(1))

	counter, err := repo.Load(ctx, "a1")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("value=%d version=%d\n", counter.Value, counter.Version())

	_, err = store.Append(ctx, "a1", testutil.CounterType,
		[]chronicle.Event{chronicle.NewEvent("a1", testutil.ValueAdded{Amount: 1}, at)},
		chronicle.ExpectVersion(1))
	fmt.Println(errors.Is(err, chronicle.ErrConcurrencyConflict))

	// Output:
	// value=15 version=2
	// true
}

func ExampleRepository_Snapshot() {
	ctx := context.Background()
	adapter := memory.NewAdapter()
	store := chronicle.New(adapter, chronicle.WithSnapshotStore(adapter))
	repo := testutil.NewCounterRepository(store)

	counter := testutil.NewCounter("a1")
	_ = counter.Set(10)
	_ = counter.Add(5)
	_ = repo.Save(ctx, counter)
	_ = repo.Snapshot(ctx, counter)

	_ = counter.Multiply(2)
	_ = repo.Save(ctx, counter)

	snap, _ := adapter.LoadSnapshot(ctx, "a1", testutil.CounterType)
	loaded, _ := repo.Load(ctx, "a1")
	fmt.Printf("snapshot version=%d\n", snap.Version)
	fmt.Printf("value=%d version=%d\n", loaded.Value, loaded.Version())

	// Output:
	// snapshot version=2
	// value=30 version=3
}

func ExampleEventStore_Subscribe() {
	ctx := context.Background()
	store := chronicle.New(memory.NewAdapter())
	testutil.RegisterCounterEvents(store)

	received := make(chan chronicle.StoredEvent, 1)
	sub, _ := store.Subscribe(ctx, 0, func(ctx context.Context, e chronicle.StoredEvent) error {
		received <- e
		return nil
	})
	defer sub.Unsubscribe()

	_, _ = store.Append(ctx, "a1", testutil.CounterType,
		[]chronicle.Event{chronicle.NewEvent("a1", testutil.ValueSet{Value: 1}, time.Now())})

	e := <-received
	fmt.Println(e.GlobalSequence, e.Type)

	// Output:
	// 1 ValueSet
}
