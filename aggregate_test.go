package chronicle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test events
type AccountOpened struct {
	Owner string `json:"owner"`
}

type MoneyDeposited struct {
	Amount int64 `json:"amount"`
}

type MoneyWithdrawn struct {
	Amount int64 `json:"amount"`
}

type AccountFrozen struct{}

// EventType gives the frozen event a name other than its struct name.
func (AccountFrozen) EventType() string { return "account.frozen" }

// testAccount keeps its state unexported and snapshots through Snapshotter.
type testAccount struct {
	AggregateBase
	owner   string
	balance int64
	frozen  bool
	applied []int64
}

type accountState struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
	Frozen  bool   `json:"frozen"`
}

func newTestAccount(id string) *testAccount {
	return &testAccount{AggregateBase: NewAggregateBase(id, "Account")}
}

func (a *testAccount) Open(owner string, at time.Time) error {
	return Raise(a, AccountOpened{Owner: owner}, at)
}

func (a *testAccount) Deposit(amount int64, at time.Time) error {
	return Raise(a, MoneyDeposited{Amount: amount}, at)
}

func (a *testAccount) Withdraw(amount int64, at time.Time) error {
	return Raise(a, MoneyWithdrawn{Amount: amount}, at)
}

func (a *testAccount) ApplyEvent(event Event) error {
	switch e := event.Payload.(type) {
	case AccountOpened:
		a.owner = e.Owner
	case MoneyDeposited:
		a.balance += e.Amount
	case MoneyWithdrawn:
		if e.Amount > a.balance {
			return errors.New("insufficient funds")
		}
		a.balance -= e.Amount
	case AccountFrozen:
		a.frozen = true
	default:
		return NewUnknownEventTypeError(a.AggregateType(), event.Type)
	}
	a.applied = append(a.applied, event.Version)
	return nil
}

func (a *testAccount) SnapshotState() (interface{}, error) {
	return accountState{Owner: a.owner, Balance: a.balance, Frozen: a.frozen}, nil
}

func (a *testAccount) RestoreSnapshotState(decode func(interface{}) error) error {
	var s accountState
	if err := decode(&s); err != nil {
		return err
	}
	a.owner, a.balance, a.frozen = s.Owner, s.Balance, s.Frozen
	return nil
}

var testNow = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func TestAggregateVersion(t *testing.T) {
	var v AggregateVersion

	assert.True(t, v.IsZero())
	assert.Equal(t, AggregateVersion(1), v.Next())
	assert.Equal(t, int64(7), AggregateVersion(7).Int64())
	assert.Equal(t, "42", AggregateVersion(42).String())
	assert.Equal(t, uint64(3), AggregateVersion(3).LogValue().Uint64())
}

func TestClock(t *testing.T) {
	assert.Equal(t, testNow, FixedClock(testNow)())
	assert.Equal(t, time.UTC, SystemClock().Location())
}

func TestAggregateBase(t *testing.T) {
	t.Run("new aggregate is empty", func(t *testing.T) {
		a := newTestAccount("acc-1")

		assert.Equal(t, "acc-1", a.AggregateID())
		assert.Equal(t, "Account", a.AggregateType())
		assert.True(t, a.Version().IsZero())
		assert.False(t, a.HasUncommittedEvents())
		assert.Nil(t, a.UncommittedEvents())
	})

	t.Run("uncommitted events are a copy", func(t *testing.T) {
		a := newTestAccount("acc-1")
		require.NoError(t, a.Open("alice", testNow))

		events := a.UncommittedEvents()
		events[0].Type = "Tampered"
		events = append(events, Event{Type: "Extra"})

		again := a.UncommittedEvents()
		require.Len(t, again, 1)
		assert.Equal(t, "AccountOpened", again[0].Type)
	})

	t.Run("clear keeps version and state", func(t *testing.T) {
		a := newTestAccount("acc-1")
		require.NoError(t, a.Open("alice", testNow))
		require.NoError(t, a.Deposit(10, testNow))

		a.ClearUncommittedEvents()

		assert.False(t, a.HasUncommittedEvents())
		assert.Equal(t, AggregateVersion(2), a.Version())
		assert.Equal(t, int64(10), a.balance)
		assert.Equal(t, AggregateVersion(2), a.CommittedVersion())
	})

	t.Run("committed version excludes pending events", func(t *testing.T) {
		a := newTestAccount("acc-1")
		require.NoError(t, ReplayEvents(a, NewEvent("acc-1", AccountOpened{Owner: "bob"}, testNow)))
		require.NoError(t, a.Deposit(5, testNow))

		assert.Equal(t, AggregateVersion(2), a.Version())
		assert.Equal(t, AggregateVersion(1), a.CommittedVersion())
	})
}

func TestRaise(t *testing.T) {
	t.Run("applies buffers and advances version", func(t *testing.T) {
		a := newTestAccount("acc-1")

		require.NoError(t, a.Open("alice", testNow))
		require.NoError(t, a.Deposit(100, testNow.Add(time.Minute)))

		assert.Equal(t, "alice", a.owner)
		assert.Equal(t, int64(100), a.balance)
		assert.Equal(t, AggregateVersion(2), a.Version())
		assert.Equal(t, []int64{1, 2}, a.applied)

		events := a.UncommittedEvents()
		require.Len(t, events, 2)
		assert.Equal(t, "acc-1", events[1].AggregateID)
		assert.Equal(t, "MoneyDeposited", events[1].Type)
		assert.Equal(t, int64(2), events[1].Version)
		assert.Equal(t, testNow.Add(time.Minute), events[1].OccurredAt)
		assert.Equal(t, MoneyDeposited{Amount: 100}, events[1].Payload)
	})

	t.Run("failed apply changes nothing", func(t *testing.T) {
		a := newTestAccount("acc-1")
		require.NoError(t, a.Deposit(10, testNow))

		err := a.Withdraw(50, testNow)

		assert.EqualError(t, err, "insufficient funds")
		assert.Equal(t, AggregateVersion(1), a.Version())
		assert.Len(t, a.UncommittedEvents(), 1)
		assert.Equal(t, int64(10), a.balance)
	})

	t.Run("uses EventType when implemented", func(t *testing.T) {
		a := newTestAccount("acc-1")

		require.NoError(t, Raise(a, AccountFrozen{}, testNow))

		assert.Equal(t, "account.frozen", a.UncommittedEvents()[0].Type)
		assert.True(t, a.frozen)
	})

	t.Run("nil aggregate", func(t *testing.T) {
		assert.ErrorIs(t, Raise(nil, AccountOpened{}, testNow), ErrNilAggregate)
	})
}

func TestReplayEvents(t *testing.T) {
	history := []Event{
		{Type: "AccountOpened", AggregateID: "acc-1", Payload: AccountOpened{Owner: "alice"}, Version: 1},
		{Type: "MoneyDeposited", AggregateID: "acc-1", Payload: MoneyDeposited{Amount: 30}, Version: 2},
		{Type: "MoneyWithdrawn", AggregateID: "acc-1", Payload: MoneyWithdrawn{Amount: 10}, Version: 3},
	}

	t.Run("folds events without buffering", func(t *testing.T) {
		a := newTestAccount("acc-1")

		require.NoError(t, ReplayEvents(a, history...))

		assert.Equal(t, int64(20), a.balance)
		assert.Equal(t, AggregateVersion(3), a.Version())
		assert.False(t, a.HasUncommittedEvents())
	})

	t.Run("split replay matches single replay", func(t *testing.T) {
		whole := newTestAccount("acc-1")
		require.NoError(t, ReplayEvents(whole, history...))

		split := newTestAccount("acc-1")
		for _, e := range history {
			require.NoError(t, ReplayEvents(split, e))
		}

		assert.Equal(t, whole, split)
	})

	t.Run("unknown event type aborts", func(t *testing.T) {
		a := newTestAccount("acc-1")
		events := append([]Event{}, history[0], Event{Type: "Closed", Payload: struct{}{}, Version: 2}, history[2])

		err := ReplayEvents(a, events...)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownEventType)

		var replayErr *ReplayError
		require.True(t, errors.As(err, &replayErr))
		assert.Equal(t, int64(2), replayErr.Version)
		assert.Equal(t, "Closed", replayErr.EventType)
		assert.Equal(t, AggregateVersion(1), a.Version())
	})

	t.Run("version gap aborts", func(t *testing.T) {
		a := newTestAccount("acc-1")

		err := ReplayEvents(a, history[0], history[2])

		assert.ErrorIs(t, err, ErrNonContiguousStream)
		assert.Equal(t, AggregateVersion(1), a.Version())
	})

	t.Run("events without version are accepted", func(t *testing.T) {
		a := newTestAccount("acc-1")

		require.NoError(t, ReplayEvents(a, NewEvent("acc-1", MoneyDeposited{Amount: 3}, testNow)))

		assert.Equal(t, AggregateVersion(1), a.Version())
	})

	t.Run("continues after restored version", func(t *testing.T) {
		a := newTestAccount("acc-1")
		restoreVersion(a, 2)

		require.NoError(t, ReplayEvents(a, Event{Type: "MoneyDeposited", Payload: MoneyDeposited{Amount: 4}, Version: 3}))

		assert.Equal(t, AggregateVersion(3), a.Version())
		assert.Equal(t, int64(4), a.balance)
	})

	t.Run("nil aggregate", func(t *testing.T) {
		assert.ErrorIs(t, ReplayEvents(nil), ErrNilAggregate)
	})
}
