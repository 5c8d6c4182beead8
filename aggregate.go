package chronicle

import (
	"log/slog"
	"strconv"
	"time"
)

// AggregateVersion is the number of events applied to an aggregate.
// It only ever grows by one per applied event.
type AggregateVersion uint64

// Next returns the version after one more event.
func (v AggregateVersion) Next() AggregateVersion {
	return v + 1
}

// Int64 returns the version in the form used by the event store.
func (v AggregateVersion) Int64() int64 {
	return int64(v)
}

// IsZero reports whether no event has been applied.
func (v AggregateVersion) IsZero() bool {
	return v == 0
}

// String implements fmt.Stringer.
func (v AggregateVersion) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// LogValue implements slog.LogValuer.
func (v AggregateVersion) LogValue() slog.Value {
	return slog.Uint64Value(uint64(v))
}

// Clock returns the current time. Business methods take their timestamps
// from a Clock so tests can pin time; ApplyEvent never calls it.
type Clock func() time.Time

// SystemClock returns the wall-clock time in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate is a domain object whose state is derived from a sequence of events.
//
// Implementations embed AggregateBase, which supplies every method except
// ApplyEvent.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the type/category of this aggregate (e.g., "Order", "Customer").
	AggregateType() string

	// Version returns the number of events applied, committed or not.
	Version() AggregateVersion

	// ApplyEvent folds one event into the aggregate state.
	// It must be pure: no I/O, no randomness, no wall clock. An event type the
	// aggregate does not know must produce an UnknownEventTypeError.
	ApplyEvent(event Event) error

	// UncommittedEvents returns a copy of the events raised but not yet persisted.
	UncommittedEvents() []Event

	// ClearUncommittedEvents empties the pending buffer after persistence.
	ClearUncommittedEvents()

	// HasUncommittedEvents reports whether events are waiting to be persisted.
	HasUncommittedEvents() bool

	aggregateBase() *AggregateBase
}

// AggregateBase holds the identity, version and pending events of an aggregate.
// Embed this struct in your aggregate types.
type AggregateBase struct {
	id            string
	aggregateType string
	version       AggregateVersion
	uncommitted   []Event
}

// NewAggregateBase creates a new AggregateBase at version 0.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{
		id:            id,
		aggregateType: aggregateType,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// AggregateType returns the aggregate type.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// Version returns the current version of the aggregate.
func (a *AggregateBase) Version() AggregateVersion {
	return a.version
}

// UncommittedEvents returns events that haven't been persisted yet.
// The returned slice is a copy.
func (a *AggregateBase) UncommittedEvents() []Event {
	if len(a.uncommitted) == 0 {
		return nil
	}
	out := make([]Event, len(a.uncommitted))
	copy(out, a.uncommitted)
	return out
}

// ClearUncommittedEvents removes all uncommitted events.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommitted = nil
}

// HasUncommittedEvents returns true if there are events waiting to be persisted.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.uncommitted) > 0
}

// CommittedVersion returns the version the aggregate had before its pending
// events were raised. It is the expected version for the next append.
func (a *AggregateBase) CommittedVersion() AggregateVersion {
	return a.version - AggregateVersion(len(a.uncommitted))
}

func (a *AggregateBase) aggregateBase() *AggregateBase {
	return a
}

// Raise records a new fact on the aggregate. The event is applied first; only
// when ApplyEvent succeeds is it buffered and the version advanced. The apply
// error is returned unchanged.
func Raise(agg Aggregate, payload any, occurredAt time.Time) error {
	if agg == nil {
		return ErrNilAggregate
	}

	base := agg.aggregateBase()
	event := NewEvent(base.id, payload, occurredAt)
	event.Version = base.version.Next().Int64()

	if err := agg.ApplyEvent(event); err != nil {
		return err
	}

	base.uncommitted = append(base.uncommitted, event)
	base.version = base.version.Next()
	return nil
}

// ReplayEvents applies already persisted events in order. The version
// advances per event and the uncommitted buffer is never touched.
//
// Events carrying a version must continue the aggregate's version exactly;
// the first failure stops the replay and is returned as a *ReplayError.
func ReplayEvents(agg Aggregate, events ...Event) error {
	if agg == nil {
		return ErrNilAggregate
	}

	base := agg.aggregateBase()
	for _, event := range events {
		next := base.version.Next()
		if event.Version != 0 && event.Version != next.Int64() {
			return &ReplayError{
				AggregateID: base.id,
				Version:     event.Version,
				EventType:   event.Type,
				Cause:       ErrNonContiguousStream,
			}
		}
		if err := agg.ApplyEvent(event); err != nil {
			return &ReplayError{
				AggregateID: base.id,
				Version:     next.Int64(),
				EventType:   event.Type,
				Cause:       err,
			}
		}
		base.version = next
	}
	return nil
}

// restoreVersion positions a fresh aggregate at a snapshot version.
func restoreVersion(agg Aggregate, v AggregateVersion) {
	agg.aggregateBase().version = v
}
