package chronicle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyError(t *testing.T) {
	err := fmt.Errorf("save: %w", NewConcurrencyError("acc-1", 1, 2))

	assert.True(t, errors.Is(err, ErrConcurrencyConflict))
	assert.True(t, errors.Is(err, adapters.ErrConcurrencyConflict))

	var concErr *ConcurrencyError
	require.True(t, errors.As(err, &concErr))
	assert.Equal(t, "acc-1", concErr.AggregateID)
}

func TestUnknownEventTypeError(t *testing.T) {
	err := NewUnknownEventTypeError("Account", "Closed")

	assert.Contains(t, err.Error(), `"Account"`)
	assert.Contains(t, err.Error(), `"Closed"`)
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.Equal(t, ErrUnknownEventType, errors.Unwrap(err))
}

func TestSerializationError(t *testing.T) {
	cause := errors.New("bad json")
	err := NewSerializationError("Opened", "deserialize", cause)

	assert.Equal(t, `chronicle: failed to deserialize event type "Opened": bad json`, err.Error())
	assert.ErrorIs(t, err, ErrSerializationFailed)
	assert.ErrorIs(t, err, cause)
}

func TestEventTypeNotRegisteredError(t *testing.T) {
	err := NewEventTypeNotRegisteredError("Opened")

	assert.Contains(t, err.Error(), "Opened")
	assert.ErrorIs(t, err, ErrEventTypeNotRegistered)
}

func TestReplayError(t *testing.T) {
	err := &ReplayError{AggregateID: "acc-1", Version: 3, EventType: "Closed", Cause: NewUnknownEventTypeError("Account", "Closed")}

	assert.Contains(t, err.Error(), "version 3")
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrAggregateNotFound,
		ErrUnknownEventType,
		ErrNilAggregate,
		ErrSerializationFailed,
		ErrEventTypeNotRegistered,
		ErrUncommittedEvents,
		ErrNonContiguousStream,
		ErrSubscriptionClosed,
		ErrNoSnapshotStore,
		ErrConcurrencyConflict,
		ErrInvalidKeepCount,
	}

	for i, err := range sentinels {
		assert.Contains(t, err.Error(), "chronicle:")
		for j, other := range sentinels {
			if i != j {
				assert.False(t, errors.Is(err, other), "%v should not match %v", err, other)
			}
		}
	}
}
