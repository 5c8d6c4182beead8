package aggregatetest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
	"github.com/AshkanYarmoradi/go-chronicle/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Testing Helper
// =============================================================================

// mockT captures failures so the fixtures' own failure paths can be tested.
type mockT struct {
	testing.TB
	failed  bool
	fatal   bool
	message string
}

func (m *mockT) Helper() {}

func (m *mockT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.message = fmt.Sprintf(format, args...)
}

func (m *mockT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.fatal = true
	m.message = fmt.Sprintf(format, args...)
	runtime.Goexit()
}

func (m *mockT) Fatal(args ...interface{}) {
	m.failed = true
	m.fatal = true
	if len(args) > 0 {
		if msg, ok := args[0].(string); ok {
			m.message = msg
		}
	}
	runtime.Goexit()
}

// runWithMockT runs fn on its own goroutine so Goexit only ends fn.
func runWithMockT(fn func(*mockT)) *mockT {
	mt := &mockT{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}

func newStore() (*chronicle.EventStore, *chronicle.Repository[*testutil.Counter]) {
	adapter := memory.NewAdapter()
	store := chronicle.New(adapter, chronicle.WithSnapshotStore(adapter))
	return store, testutil.NewCounterRepository(store)
}

// =============================================================================
// Fixture
// =============================================================================

func TestFixture(t *testing.T) {
	t.Run("Then matches raised events", func(t *testing.T) {
		Given(t, testutil.NewCounter("c-1"), testutil.ValueSet{Value: 2}).
			When(func(c *testutil.Counter) error {
				if err := c.Multiply(3); err != nil {
					return err
				}
				return c.Add(1)
			}).
			Then(testutil.ValueMultiplied{Factor: 3}, testutil.ValueAdded{Amount: 1}).
			ThenVersion(3).
			ThenState(func(c *testutil.Counter) {
				assert.Equal(t, int64(7), c.Value)
			})
	})

	t.Run("history accepts events", func(t *testing.T) {
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		Given(t, testutil.NewCounter("c-1"), chronicle.NewEvent("c-1", testutil.ValueSet{Value: 1}, at)).
			When(func(c *testutil.Counter) error { return nil }).
			ThenState(func(c *testutil.Counter) {
				assert.Equal(t, at, c.UpdatedAt)
			}).
			ThenNoEvents()
	})

	t.Run("ThenErrorContains", func(t *testing.T) {
		Given(t, testutil.NewCounter("c-1")).
			When(func(c *testutil.Counter) error { return c.Multiply(0) }).
			ThenErrorContains("must not be zero")
	})

	t.Run("ThenError", func(t *testing.T) {
		errRejected := errors.New("rejected")
		Given(t, testutil.NewCounter("c-1")).
			When(func(c *testutil.Counter) error { return errRejected }).
			ThenError(errRejected)
	})

	t.Run("reports wrong events", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1")).
				When(func(c *testutil.Counter) error { return c.Add(2) }).
				Then(testutil.ValueAdded{Amount: 3})
		})
		assert.True(t, mt.failed)
		assert.False(t, mt.fatal)
		assert.Contains(t, mt.message, "mismatch")
	})

	t.Run("reports a wrong event count", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1")).
				When(func(c *testutil.Counter) error { return c.Add(2) }).
				Then()
		})
		assert.True(t, mt.failed)
		assert.Contains(t, mt.message, "(unexpected)")
	})

	t.Run("reports an unexpected error", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1")).
				When(func(c *testutil.Counter) error { return c.Multiply(0) }).
				Then()
		})
		assert.True(t, mt.fatal)
		assert.Contains(t, mt.message, "Expected success")
	})

	t.Run("reports unexpected success", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1")).
				When(func(c *testutil.Counter) error { return nil }).
				ThenError(errors.New("x"))
		})
		assert.True(t, mt.fatal)
		assert.Contains(t, mt.message, "Expected error but got success")
	})

	t.Run("reports events when none expected", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1")).
				When(func(c *testutil.Counter) error { return c.Set(1) }).
				ThenNoEvents()
		})
		assert.True(t, mt.failed)
		assert.Contains(t, mt.message, "Expected no events")
	})

	t.Run("reports a wrong version", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1"), testutil.ValueSet{Value: 1}).
				When(func(c *testutil.Counter) error { return nil }).
				ThenVersion(2)
		})
		assert.True(t, mt.failed)
		assert.Contains(t, mt.message, "Expected version")
	})

	t.Run("reports history the aggregate rejects", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1"), struct{ Unknown bool }{}).
				When(func(c *testutil.Counter) error { return nil })
		})
		assert.True(t, mt.fatal)
		assert.Contains(t, mt.message, "replay")
	})

	t.Run("Then before When", func(t *testing.T) {
		mt := runWithMockT(func(mt *mockT) {
			Given(mt, testutil.NewCounter("c-1")).Then()
		})
		assert.True(t, mt.fatal)
		assert.Contains(t, mt.message, "must be called after When")
	})
}

// =============================================================================
// StreamFixture
// =============================================================================

func TestStreamFixture(t *testing.T) {
	t.Run("appends after the history", func(t *testing.T) {
		store, repo := newStore()

		GivenStream(t, store, repo, "c-1", testutil.ValueSet{Value: 4}, testutil.ValueAdded{Amount: 1}).
			When(func(c *testutil.Counter) error { return c.Multiply(2) }).
			Then(testutil.ValueMultiplied{Factor: 2}).
			ThenState(func(c *testutil.Counter) {
				assert.Equal(t, int64(10), c.Value)
				assert.Equal(t, int64(3), c.Version().Int64())
			})
	})

	t.Run("new aggregate", func(t *testing.T) {
		store, repo := newStore()

		GivenStream(t, store, repo, "c-2").
			WithContext(context.Background()).
			When(func(c *testutil.Counter) error { return c.Set(9) }).
			Then(testutil.ValueSet{Value: 9})

		events, err := store.LoadStream(context.Background(), chronicle.StreamQuery{AggregateID: "c-2"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, testutil.CounterType, events[0].AggregateType)
	})

	t.Run("ThenError leaves the stream untouched", func(t *testing.T) {
		store, repo := newStore()

		errRejected := errors.New("rejected")

		GivenStream(t, store, repo, "c-3", testutil.ValueSet{Value: 1}).
			When(func(c *testutil.Counter) error {
				if err := c.Add(5); err != nil {
					return err
				}
				return errRejected
			}).
			ThenError(errRejected)
	})

	t.Run("reports unexpected appends", func(t *testing.T) {
		store, repo := newStore()

		mt := runWithMockT(func(mt *mockT) {
			GivenStream(mt, store, repo, "c-4").
				When(func(c *testutil.Counter) error { return c.Set(1) }).
				Then(testutil.ValueSet{Value: 2})
		})
		assert.True(t, mt.failed)
		assert.Contains(t, mt.message, "mismatch")
	})

	t.Run("reports a failing store", func(t *testing.T) {
		faulty := testutil.NewFaultyAdapter()
		faulty.SetAppendErr(errors.New("disk full"))
		store := chronicle.New(faulty)
		repo := testutil.NewCounterRepository(store)

		mt := runWithMockT(func(mt *mockT) {
			GivenStream(mt, store, repo, "c-5", testutil.ValueSet{Value: 1}).
				When(func(c *testutil.Counter) error { return nil })
		})
		assert.True(t, mt.fatal)
		assert.Contains(t, mt.message, "Failed to store given events")
	})
}

func TestDiffEvents(t *testing.T) {
	expected := []interface{}{testutil.ValueSet{Value: 1}, testutil.ValueAdded{Amount: 2}, testutil.ValueAdded{Amount: 3}}
	actual := []interface{}{testutil.ValueSet{Value: 1}, testutil.ValueAdded{Amount: 5}}

	diffs := DiffEvents(expected, actual)
	require.Len(t, diffs, 2)
	assert.Equal(t, DiffMismatch, diffs[0].Type)
	assert.Equal(t, 1, diffs[0].Index)
	assert.Equal(t, DiffMissing, diffs[1].Type)

	diffs = DiffEvents(actual[:1], actual)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffExtra, diffs[0].Type)

	assert.Empty(t, DiffEvents(expected, expected))
}

func TestFormatDiffs(t *testing.T) {
	assert.Equal(t, "no differences", FormatDiffs(nil))

	out := FormatDiffs([]EventDiff{
		{Index: 0, Expected: testutil.ValueSet{Value: 1}, Actual: testutil.ValueSet{Value: 2}, Type: DiffMismatch},
		{Index: 1, Expected: testutil.ValueAdded{Amount: 1}, Type: DiffMissing},
		{Index: 2, Actual: testutil.ValueAdded{Amount: 4}, Type: DiffExtra},
	})

	assert.Contains(t, out, "Event 0 (mismatch)")
	assert.Contains(t, out, "- testutil.ValueSet {Value:1}")
	assert.Contains(t, out, "+ testutil.ValueSet {Value:2}")
	assert.Contains(t, out, "(missing)")
	assert.Contains(t, out, "(unexpected)")
	assert.Equal(t, "unknown", DiffType(9).String())
}
