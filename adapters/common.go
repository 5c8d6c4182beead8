// Package adapters provides interfaces and shared utilities for event store backends.
package adapters

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic concurrency check fails during Append operations.
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	if e.ActualVersion < 0 {
		return fmt.Sprintf("chronicle: concurrency conflict on aggregate %q: expected version %d was taken by a concurrent writer",
			e.AggregateID, e.ExpectedVersion)
	}
	return fmt.Sprintf("chronicle: concurrency conflict on aggregate %q: expected version %d, got %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Unwrap returns ErrConcurrencyConflict.
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}

// Unsupported reports that adapter does not implement an optional capability
// such as checkpoints or statistics. The result matches ErrUnsupported.
func Unsupported(adapter interface{}, capability string) error {
	return fmt.Errorf("%w: %T does not provide %s", ErrUnsupported, adapter, capability)
}

// ValidateAppend checks the arguments shared by every Append implementation.
func ValidateAppend(aggregateID, aggregateType string, opts AppendOptions) error {
	if aggregateID == "" {
		return ErrEmptyAggregateID
	}
	if aggregateType == "" {
		return ErrEmptyAggregateType
	}
	if opts.ExpectedVersion < 0 {
		return ErrInvalidVersion
	}
	return nil
}

// CheckVersion validates the expected version against the current version.
// This implements the optimistic concurrency control logic shared by all adapters.
func CheckVersion(aggregateID string, expected, current int64) error {
	if current != expected {
		return NewConcurrencyError(aggregateID, expected, current)
	}
	return nil
}

// PrepareRecords assigns versions, ids and timestamps to a batch of records
// appended at expectedVersion. Global sequences are left for the backend.
// The idempotency key is attached to the first event only.
func PrepareRecords(aggregateID, aggregateType string, records []EventRecord, opts AppendOptions, now time.Time) []StoredEvent {
	out := make([]StoredEvent, len(records))
	for i, r := range records {
		meta := r.Metadata
		if meta.Timestamp.IsZero() {
			meta.Timestamp = now
		}
		schema := r.SchemaVersion
		if schema == 0 {
			schema = DefaultSchemaVersion
		}
		occurred := r.OccurredAt
		if occurred.IsZero() {
			occurred = now
		}
		occurred = occurred.Truncate(TimestampPrecision)
		out[i] = StoredEvent{
			ID:            uuid.NewString(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			Type:          r.Type,
			Data:          r.Data,
			Metadata:      meta,
			Version:       opts.ExpectedVersion + int64(i) + 1,
			SchemaVersion: schema,
			Timestamp:     occurred,
		}
	}
	if len(out) > 0 {
		out[0].IdempotencyKey = opts.IdempotencyKey
	}
	return out
}

// MatchesQuery reports whether a stored event satisfies the query filters.
// The limit is not considered.
func MatchesQuery(e StoredEvent, q EventQuery) bool {
	if q.AggregateType != "" && e.AggregateType != q.AggregateType {
		return false
	}
	if len(q.EventTypes) > 0 && !containsString(q.EventTypes, e.Type) {
		return false
	}
	if q.FromSequence > 0 && e.GlobalSequence < q.FromSequence {
		return false
	}
	if q.ToSequence > 0 && e.GlobalSequence > q.ToSequence {
		return false
	}
	if !q.FromTimestamp.IsZero() && e.Timestamp.Before(q.FromTimestamp) {
		return false
	}
	if !q.ToTimestamp.IsZero() && e.Timestamp.After(q.ToTimestamp) {
		return false
	}
	return true
}

// InStreamRange reports whether a version falls inside the query bounds.
func InStreamRange(version int64, q StreamQuery) bool {
	if q.FromVersion > 0 && version < q.FromVersion {
		return false
	}
	if q.ToVersion > 0 && version > q.ToVersion {
		return false
	}
	return true
}

// SortEventTypeCounts orders counts by frequency, then by name.
func SortEventTypeCounts(counts []EventTypeCount) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Type < counts[j].Type
	})
}

// DefaultLimit returns a default limit value if the provided limit is invalid.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
