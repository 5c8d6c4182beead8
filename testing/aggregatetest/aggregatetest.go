// Package aggregatetest provides Given-When-Then fixtures for event-sourced
// aggregates.
//
// Fixture drives an aggregate in memory:
//
//	aggregatetest.Given(t, testutil.NewCounter("c-1"), testutil.ValueSet{Value: 2}).
//		When(func(c *testutil.Counter) error { return c.Multiply(3) }).
//		Then(testutil.ValueMultiplied{Factor: 3})
//
// StreamFixture does the same through a Repository and an EventStore, so the
// events are persisted and read back before they are compared.
package aggregatetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// toEvents turns given payloads into events for aggregateID. Values that
// already are chronicle.Event are kept as they are.
func toEvents(aggregateID string, given []interface{}) []chronicle.Event {
	events := make([]chronicle.Event, 0, len(given))
	for _, g := range given {
		if e, ok := g.(chronicle.Event); ok {
			events = append(events, e)
			continue
		}
		events = append(events, chronicle.NewEvent(aggregateID, g, time.Time{}))
	}
	return events
}

func payloads(events []chronicle.Event) []interface{} {
	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e.Payload
	}
	return out
}

// comparePayloads reports every difference between expected and actual.
func comparePayloads(t TB, expected, actual []interface{}) {
	t.Helper()

	if diffs := DiffEvents(expected, actual); len(diffs) > 0 {
		t.Errorf("%s", FormatDiffs(diffs))
	}
}

// =============================================================================
// In-memory fixture
// =============================================================================

// Fixture tests a command against an aggregate without a store.
type Fixture[T chronicle.Aggregate] struct {
	t         TB
	aggregate T
	given     []chronicle.Event
	result    error
	executed  bool
}

// Given replays history onto aggregate. History entries are payloads or
// chronicle.Event values.
func Given[T chronicle.Aggregate](t TB, aggregate T, history ...interface{}) *Fixture[T] {
	t.Helper()
	return &Fixture[T]{
		t:         t,
		aggregate: aggregate,
		given:     toEvents(aggregate.AggregateID(), history),
	}
}

// When replays the history and runs command against the aggregate.
func (f *Fixture[T]) When(command func(T) error) *Fixture[T] {
	f.t.Helper()

	if err := chronicle.ReplayEvents(f.aggregate, f.given...); err != nil {
		f.t.Fatalf("Failed to replay given events: %v", err)
	}

	f.result = command(f.aggregate)
	f.executed = true

	return f
}

// Then asserts that the command succeeded and raised exactly the expected
// payloads, in order.
func (f *Fixture[T]) Then(expected ...interface{}) *Fixture[T] {
	f.t.Helper()
	f.mustHaveRun("Then")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	comparePayloads(f.t, expected, payloads(f.aggregate.UncommittedEvents()))
	return f
}

// ThenNoEvents asserts that the command succeeded without raising events.
func (f *Fixture[T]) ThenNoEvents() {
	f.t.Helper()
	f.mustHaveRun("ThenNoEvents")

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	if uncommitted := f.aggregate.UncommittedEvents(); len(uncommitted) > 0 {
		f.t.Errorf("Expected no events, got %d: %+v", len(uncommitted), payloads(uncommitted))
	}
}

// ThenError asserts that the command failed with an error matching expected.
func (f *Fixture[T]) ThenError(expected error) {
	f.t.Helper()
	f.mustHaveRun("ThenError")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !errors.Is(f.result, expected) {
		f.t.Errorf("Expected error %v, got %v", expected, f.result)
	}
}

// ThenErrorContains asserts that the error message contains a substring.
func (f *Fixture[T]) ThenErrorContains(substring string) {
	f.t.Helper()
	f.mustHaveRun("ThenErrorContains")

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenVersion asserts the aggregate version after the command.
func (f *Fixture[T]) ThenVersion(expected int64) *Fixture[T] {
	f.t.Helper()
	f.mustHaveRun("ThenVersion")

	if got := f.aggregate.Version().Int64(); got != expected {
		f.t.Errorf("Expected version %d, got %d", expected, got)
	}
	return f
}

// ThenState passes the aggregate to check for custom assertions.
func (f *Fixture[T]) ThenState(check func(T)) *Fixture[T] {
	f.t.Helper()
	f.mustHaveRun("ThenState")

	check(f.aggregate)
	return f
}

func (f *Fixture[T]) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("aggregatetest: %s() must be called after When()", step)
	}
}

// =============================================================================
// Store-backed fixture
// =============================================================================

// StreamFixture tests a command through a Repository. Given events are
// appended to the store and new events are read back from it.
type StreamFixture[T chronicle.Aggregate] struct {
	t        TB
	ctx      context.Context
	store    *chronicle.EventStore
	repo     *chronicle.Repository[T]
	id       string
	given    []chronicle.Event
	result   T
	err      error
	executed bool
}

// GivenStream prepares aggregate id of repo with history. The repository
// must be built on store.
func GivenStream[T chronicle.Aggregate](t TB, store *chronicle.EventStore, repo *chronicle.Repository[T], id string, history ...interface{}) *StreamFixture[T] {
	t.Helper()
	return &StreamFixture[T]{
		t:     t,
		ctx:   context.Background(),
		store: store,
		repo:  repo,
		id:    id,
		given: toEvents(id, history),
	}
}

// WithContext sets the context used for store calls.
func (f *StreamFixture[T]) WithContext(ctx context.Context) *StreamFixture[T] {
	f.ctx = ctx
	return f
}

// When appends the history and runs command through Repository.Update.
func (f *StreamFixture[T]) When(command func(T) error) *StreamFixture[T] {
	f.t.Helper()

	if len(f.given) > 0 {
		_, err := f.store.Append(f.ctx, f.id, f.repo.AggregateType(), f.given, chronicle.ExpectVersion(0))
		if err != nil {
			f.t.Fatalf("Failed to store given events: %v", err)
		}
	}

	f.result, f.err = f.repo.Update(f.ctx, f.id, command)
	f.executed = true
	return f
}

// Then asserts that the command succeeded and that exactly the expected
// payloads were appended after the history.
func (f *StreamFixture[T]) Then(expected ...interface{}) *StreamFixture[T] {
	f.t.Helper()
	f.mustHaveRun("Then")

	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}

	appended, err := f.store.LoadEvents(f.ctx, f.id, int64(len(f.given))+1)
	if err != nil {
		f.t.Fatalf("Failed to load appended events: %v", err)
	}

	comparePayloads(f.t, expected, payloads(appended))
	return f
}

// ThenError asserts that the update failed with an error matching expected
// and that nothing was appended.
func (f *StreamFixture[T]) ThenError(expected error) {
	f.t.Helper()
	f.mustHaveRun("ThenError")

	if f.err == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !errors.Is(f.err, expected) {
		f.t.Errorf("Expected error %v, got %v", expected, f.err)
	}

	appended, err := f.store.LoadEvents(f.ctx, f.id, int64(len(f.given))+1)
	if err != nil {
		f.t.Fatalf("Failed to load appended events: %v", err)
	}
	if len(appended) > 0 {
		f.t.Errorf("Expected no appended events, got %d", len(appended))
	}
}

// ThenState reloads the aggregate and passes it to check.
func (f *StreamFixture[T]) ThenState(check func(T)) *StreamFixture[T] {
	f.t.Helper()
	f.mustHaveRun("ThenState")

	agg, err := f.repo.Load(f.ctx, f.id)
	if err != nil {
		f.t.Fatalf("Failed to reload aggregate: %v", err)
	}

	check(agg)
	return f
}

func (f *StreamFixture[T]) mustHaveRun(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("aggregatetest: %s() must be called after When()", step)
	}
}
