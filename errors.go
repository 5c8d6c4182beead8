package chronicle

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Storage-level errors are aliases to the adapters package errors.
var (
	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrEmptyAggregateID indicates an empty aggregate ID was provided.
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID

	// ErrEmptyAggregateType indicates an empty aggregate type was provided.
	ErrEmptyAggregateType = adapters.ErrEmptyAggregateType

	// ErrInvalidVersion indicates an invalid version number was provided.
	ErrInvalidVersion = adapters.ErrInvalidVersion

	// ErrInvalidKeepCount indicates a snapshot cleanup that would keep nothing.
	ErrInvalidKeepCount = adapters.ErrInvalidKeepCount

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrAggregateNotFound indicates an aggregate has neither events nor a snapshot.
	ErrAggregateNotFound = errors.New("chronicle: aggregate not found")

	// ErrUnknownEventType indicates an aggregate has no handler for an event type.
	ErrUnknownEventType = errors.New("chronicle: unknown event type")

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("chronicle: nil aggregate")

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("chronicle: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("chronicle: event type not registered")

	// ErrUncommittedEvents indicates an operation that needs a clean aggregate.
	ErrUncommittedEvents = errors.New("chronicle: aggregate has uncommitted events")

	// ErrNonContiguousStream indicates a stream whose versions skip or repeat.
	ErrNonContiguousStream = errors.New("chronicle: non-contiguous event stream")

	// ErrSubscriptionClosed indicates the subscription has been stopped.
	ErrSubscriptionClosed = errors.New("chronicle: subscription closed")

	// ErrNoSnapshotStore indicates a snapshot operation on a store without one.
	ErrNoSnapshotStore = errors.New("chronicle: no snapshot store configured")
)

// ConcurrencyError provides detailed information about a concurrency conflict.
type ConcurrencyError = adapters.ConcurrencyError

// NewConcurrencyError creates a new ConcurrencyError.
var NewConcurrencyError = adapters.NewConcurrencyError

// UnknownEventTypeError is returned by ApplyEvent for an event type the
// aggregate does not handle.
type UnknownEventTypeError struct {
	AggregateType string
	EventType     string
}

// Error returns the error message.
func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("chronicle: aggregate %q cannot apply event type %q", e.AggregateType, e.EventType)
}

// Is reports whether this error matches the target error.
func (e *UnknownEventTypeError) Is(target error) bool {
	return target == ErrUnknownEventType
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UnknownEventTypeError) Unwrap() error {
	return ErrUnknownEventType
}

// NewUnknownEventTypeError creates a new UnknownEventTypeError.
func NewUnknownEventTypeError(aggregateType, eventType string) *UnknownEventTypeError {
	return &UnknownEventTypeError{AggregateType: aggregateType, EventType: eventType}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("chronicle: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// EventTypeNotRegisteredError is returned by strict serializers for a type
// missing from the registry.
type EventTypeNotRegisteredError struct {
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("chronicle: event type %q not registered", e.EventType)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EventTypeNotRegisteredError) Unwrap() error {
	return ErrEventTypeNotRegistered
}

// NewEventTypeNotRegisteredError creates a new EventTypeNotRegisteredError.
func NewEventTypeNotRegisteredError(eventType string) *EventTypeNotRegisteredError {
	return &EventTypeNotRegisteredError{EventType: eventType}
}

// ReplayError reports the event that stopped a replay.
type ReplayError struct {
	AggregateID string
	Version     int64
	EventType   string
	Cause       error
}

// Error returns the error message.
func (e *ReplayError) Error() string {
	return fmt.Sprintf("chronicle: replay of aggregate %q failed at version %d (%s): %v",
		e.AggregateID, e.Version, e.EventType, e.Cause)
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *ReplayError) Unwrap() error {
	return e.Cause
}
