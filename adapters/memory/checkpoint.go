package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-chronicle/adapters"
)

var _ adapters.CheckpointAdapter = (*CheckpointStore)(nil)

// Checkpoint is the stored position of a named subscription.
type Checkpoint struct {
	Name      string
	Position  uint64
	UpdatedAt time.Time
}

// CheckpointStore keeps subscription positions in memory.
// It can be used on its own or shared between adapters with WithCheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[string]Checkpoint),
	}
}

// GetCheckpoint returns the position of a subscription, or 0 if none is stored.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.checkpoints[name].Position, nil
}

// SetCheckpoint stores the position of a subscription.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, name string, position uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[name] = Checkpoint{
		Name:      name,
		Position:  position,
		UpdatedAt: time.Now(),
	}
	return nil
}

// Checkpoints returns a copy of all stored checkpoints.
func (s *CheckpointStore) Checkpoints() []Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp)
	}
	return out
}

// Clear removes all checkpoints.
func (s *CheckpointStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints = make(map[string]Checkpoint)
}
