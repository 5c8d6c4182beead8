// Package testutil provides fixtures and small helpers shared by the
// chronicle test suites. PostgreSQL helpers live in testing/containers.
package testutil

import (
	"sync"
)

// Recorder collects values from concurrent handlers, e.g. subscription callbacks.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

// Add appends a value.
func (r *Recorder[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Values returns a copy of the recorded values.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
