package memory

import (
	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

// Sentinel errors for the memory adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	// ErrAdapterClosed is returned when an operation is attempted on a closed adapter.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID

	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrInvalidKeepCount is returned when a snapshot cleanup would keep nothing.
	ErrInvalidKeepCount = adapters.ErrInvalidKeepCount
)

// ConcurrencyError is an alias for adapters.ConcurrencyError.
type ConcurrencyError = adapters.ConcurrencyError
