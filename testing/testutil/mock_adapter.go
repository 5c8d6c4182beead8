package testutil

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
)

var (
	_ adapters.EventStoreAdapter = (*FaultyAdapter)(nil)
	_ adapters.SnapshotAdapter   = (*FaultyAdapter)(nil)
)

// FaultyAdapter wraps an in-memory adapter and fails selected operations.
// Set the error fields to inject failures; leave them nil to pass through.
type FaultyAdapter struct {
	*memory.MemoryAdapter

	mu               sync.Mutex
	AppendErr        error
	LoadErr          error
	QueryErr         error
	SnapshotSaveErr  error
	SnapshotLoadErr  error
	CleanupErr       error
	AppendCalls      int
	SnapshotSaves    int
	SnapshotCleanups int
}

// NewFaultyAdapter creates a FaultyAdapter over a fresh memory adapter.
func NewFaultyAdapter() *FaultyAdapter {
	return &FaultyAdapter{MemoryAdapter: memory.NewAdapter()}
}

// SetAppendErr changes the append failure while the adapter is in use.
func (f *FaultyAdapter) SetAppendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AppendErr = err
}

// SetQueryErr changes the query failure while the adapter is in use.
func (f *FaultyAdapter) SetQueryErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QueryErr = err
}

// Append implements adapters.EventStoreAdapter.
func (f *FaultyAdapter) Append(ctx context.Context, aggregateID, aggregateType string, events []adapters.EventRecord, opts adapters.AppendOptions) ([]adapters.StoredEvent, error) {
	f.mu.Lock()
	f.AppendCalls++
	err := f.AppendErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryAdapter.Append(ctx, aggregateID, aggregateType, events, opts)
}

// LoadStream implements adapters.EventStoreAdapter.
func (f *FaultyAdapter) LoadStream(ctx context.Context, q adapters.StreamQuery) ([]adapters.StoredEvent, error) {
	f.mu.Lock()
	err := f.LoadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryAdapter.LoadStream(ctx, q)
}

// QueryEvents implements adapters.EventStoreAdapter.
func (f *FaultyAdapter) QueryEvents(ctx context.Context, q adapters.EventQuery) ([]adapters.StoredEvent, error) {
	f.mu.Lock()
	err := f.QueryErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryAdapter.QueryEvents(ctx, q)
}

// SaveSnapshot implements adapters.SnapshotAdapter.
func (f *FaultyAdapter) SaveSnapshot(ctx context.Context, snapshot adapters.Snapshot) error {
	f.mu.Lock()
	f.SnapshotSaves++
	err := f.SnapshotSaveErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryAdapter.SaveSnapshot(ctx, snapshot)
}

// LoadSnapshot implements adapters.SnapshotAdapter.
func (f *FaultyAdapter) LoadSnapshot(ctx context.Context, aggregateID, aggregateType string) (*adapters.Snapshot, error) {
	f.mu.Lock()
	err := f.SnapshotLoadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryAdapter.LoadSnapshot(ctx, aggregateID, aggregateType)
}

// CleanupSnapshots implements adapters.SnapshotAdapter.
func (f *FaultyAdapter) CleanupSnapshots(ctx context.Context, aggregateID string, keepCount int) (int64, error) {
	f.mu.Lock()
	f.SnapshotCleanups++
	err := f.CleanupErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.MemoryAdapter.CleanupSnapshots(ctx, aggregateID, keepCount)
}

// Counts returns the call counters under the lock.
func (f *FaultyAdapter) Counts() (appends, snapshotSaves, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AppendCalls, f.SnapshotSaves, f.SnapshotCleanups
}
