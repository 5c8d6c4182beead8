// Package chronicle provides an event-sourcing core for Go applications.
//
// Aggregates are persisted as an append-only stream of events instead of
// rows. The package offers an event store with a global order and
// per-aggregate optimistic concurrency, a snapshot store that bounds replay
// cost, an aggregate base contract with deterministic replay, and a generic
// repository that ties them together.
//
// # Quick Start
//
// Create an event store with the in-memory adapter for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/go-chronicle"
//	    "github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
//	)
//
//	adapter := memory.NewAdapter()
//	store := chronicle.New(adapter, chronicle.WithSnapshotStore(adapter))
//
// For production, use the PostgreSQL adapter:
//
//	adapter, err := postgres.NewAdapter(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := adapter.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	store := chronicle.New(adapter, chronicle.WithSnapshotStore(adapter))
//
// # Defining Events
//
// Events are plain structs describing something that happened:
//
//	type ValueSet struct {
//	    Value int64 `json:"value"`
//	}
//
//	type ValueAdded struct {
//	    Amount int64 `json:"amount"`
//	}
//
// Register them so stored events decode back into the same Go types:
//
//	store.RegisterEvents(ValueSet{}, ValueAdded{})
//
// # Defining Aggregates
//
// Aggregates embed AggregateBase and derive all state in ApplyEvent:
//
//	type Counter struct {
//	    chronicle.AggregateBase
//	    Value int64 `json:"value"`
//	}
//
//	func (c *Counter) Add(amount int64, now time.Time) error {
//	    return chronicle.Raise(c, ValueAdded{Amount: amount}, now)
//	}
//
//	func (c *Counter) ApplyEvent(e chronicle.Event) error {
//	    switch p := e.Payload.(type) {
//	    case ValueSet:
//	        c.Value = p.Value
//	    case ValueAdded:
//	        c.Value += p.Amount
//	    default:
//	        return chronicle.NewUnknownEventTypeError(c.AggregateType(), e.Type)
//	    }
//	    return nil
//	}
//
// ApplyEvent must not read the wall clock or perform I/O; replaying the
// same events always yields the same state.
//
// # Repository
//
//	repo := chronicle.NewRepository(store, "Counter", NewCounter,
//	    chronicle.WithSnapshotEvery(100),
//	    chronicle.WithSnapshotRetention(3),
//	)
//
//	counter, err := repo.Load(ctx, "a1")
//	if errors.Is(err, chronicle.ErrAggregateNotFound) {
//	    counter = NewCounter("a1")
//	}
//	_ = counter.Add(5, time.Now())
//	err = repo.Save(ctx, counter)
//
// A concurrency conflict is returned unchanged; reload and retry when it
// makes sense for the business operation.
//
// # Subscriptions
//
//	sub, err := store.Subscribe(ctx, 0, func(ctx context.Context, e chronicle.StoredEvent) error {
//	    return project(e)
//	})
//	defer sub.Unsubscribe()
package chronicle

// Version returns the library version string.
func Version() string {
	return "0.3.0"
}
