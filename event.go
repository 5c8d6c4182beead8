package chronicle

import (
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

// Metadata contains event context for tracing and multi-tenancy.
type Metadata = adapters.Metadata

// StoredEvent is a persisted event with its storage metadata.
type StoredEvent = adapters.StoredEvent

// EventRecord is a serialized event ready to be appended.
type EventRecord = adapters.EventRecord

// Snapshot is a serialized aggregate state at a known version.
type Snapshot = adapters.Snapshot

// StreamQuery selects events of a single aggregate.
type StreamQuery = adapters.StreamQuery

// EventQuery selects events across aggregates.
type EventQuery = adapters.EventQuery

// EventTyper lets a payload choose its own event type name.
// Payloads that do not implement it use their struct name.
type EventTyper interface {
	EventType() string
}

// Event is a domain fact with its payload decoded into a Go value.
type Event struct {
	// Type is the event type identifier (e.g., "ValueAdded").
	Type string

	// AggregateID identifies the aggregate the event belongs to.
	AggregateID string

	// OccurredAt is the business time of the fact.
	OccurredAt time.Time

	// Payload is the event value.
	Payload any

	// Version is the position in the aggregate stream. It is zero for an
	// event that has not been raised or loaded yet.
	Version int64

	// GlobalSequence is set for events read from the store.
	GlobalSequence uint64

	// Metadata is set for events read from the store.
	Metadata Metadata
}

// NewEvent creates an event for the given payload. OccurredAt is truncated
// to adapters.TimestampPrecision so the event applied in memory matches the
// one read back from any backend.
func NewEvent(aggregateID string, payload any, occurredAt time.Time) Event {
	return Event{
		Type:        GetEventType(payload),
		AggregateID: aggregateID,
		OccurredAt:  occurredAt.Truncate(adapters.TimestampPrecision),
		Payload:     payload,
	}
}

// EventFromStored creates an Event from a StoredEvent and its decoded payload.
func EventFromStored(stored StoredEvent, payload any) Event {
	return Event{
		Type:           stored.Type,
		AggregateID:    stored.AggregateID,
		OccurredAt:     stored.Timestamp,
		Payload:        payload,
		Version:        stored.Version,
		GlobalSequence: stored.GlobalSequence,
		Metadata:       stored.Metadata,
	}
}
