// Package testutil provides test utilities and fixtures for chronicle.
package testutil

import (
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle"
)

// CounterType is the aggregate type of Counter.
const CounterType = "Counter"

// ValueSet replaces the counter value.
type ValueSet struct {
	Value int64 `json:"value" msgpack:"value"`
}

// ValueAdded adds to the counter value.
type ValueAdded struct {
	Amount int64 `json:"amount" msgpack:"amount"`
}

// ValueMultiplied multiplies the counter value.
type ValueMultiplied struct {
	Factor int64 `json:"factor" msgpack:"factor"`
}

// Counter is a minimal aggregate holding one integer.
type Counter struct {
	chronicle.AggregateBase

	Value     int64     `json:"value" msgpack:"value"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`

	clock chronicle.Clock
}

// NewCounter creates a Counter at version 0 using the system clock.
func NewCounter(id string) *Counter {
	return &Counter{
		AggregateBase: chronicle.NewAggregateBase(id, CounterType),
		clock:         chronicle.SystemClock,
	}
}

// NewCounterWithClock creates a Counter whose business methods stamp events
// with the given clock.
func NewCounterWithClock(id string, clock chronicle.Clock) *Counter {
	c := NewCounter(id)
	c.clock = clock
	return c
}

// Set replaces the value.
func (c *Counter) Set(value int64) error {
	return chronicle.Raise(c, ValueSet{Value: value}, c.clock())
}

// Add adds amount to the value.
func (c *Counter) Add(amount int64) error {
	return chronicle.Raise(c, ValueAdded{Amount: amount}, c.clock())
}

// Multiply multiplies the value by factor. A zero factor is rejected.
func (c *Counter) Multiply(factor int64) error {
	if factor == 0 {
		return fmt.Errorf("counter: factor must not be zero")
	}
	return chronicle.Raise(c, ValueMultiplied{Factor: factor}, c.clock())
}

// ApplyEvent implements chronicle.Aggregate.
func (c *Counter) ApplyEvent(event chronicle.Event) error {
	switch e := event.Payload.(type) {
	case ValueSet:
		c.Value = e.Value
	case ValueAdded:
		c.Value += e.Amount
	case ValueMultiplied:
		c.Value *= e.Factor
	default:
		return chronicle.NewUnknownEventTypeError(c.AggregateType(), event.Type)
	}
	c.UpdatedAt = event.OccurredAt
	return nil
}

// CounterEvents lists the Counter event payloads for registration.
func CounterEvents() []interface{} {
	return []interface{}{ValueSet{}, ValueAdded{}, ValueMultiplied{}}
}

// RegisterCounterEvents registers the Counter events with a store.
func RegisterCounterEvents(store *chronicle.EventStore) {
	store.RegisterEvents(CounterEvents()...)
}

// NewCounterRepository creates a repository for Counter aggregates.
func NewCounterRepository(store *chronicle.EventStore, opts ...chronicle.RepositoryOption) *chronicle.Repository[*Counter] {
	RegisterCounterEvents(store)
	return chronicle.NewRepository(store, CounterType, NewCounter, opts...)
}
