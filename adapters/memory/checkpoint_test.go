package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()

	t.Run("returns zero for unknown name", func(t *testing.T) {
		store := NewCheckpointStore()

		pos, err := store.GetCheckpoint(ctx, "missing")

		require.NoError(t, err)
		assert.Zero(t, pos)
	})

	t.Run("overwrites position", func(t *testing.T) {
		store := NewCheckpointStore()

		require.NoError(t, store.SetCheckpoint(ctx, "printer", 10))
		require.NoError(t, store.SetCheckpoint(ctx, "printer", 12))

		pos, err := store.GetCheckpoint(ctx, "printer")
		require.NoError(t, err)
		assert.Equal(t, uint64(12), pos)

		all := store.Checkpoints()
		require.Len(t, all, 1)
		assert.Equal(t, "printer", all[0].Name)
		assert.False(t, all[0].UpdatedAt.IsZero())
	})

	t.Run("shared between adapters", func(t *testing.T) {
		store := NewCheckpointStore()
		a1 := NewAdapter(WithCheckpointStore(store))
		a2 := NewAdapter(WithCheckpointStore(store))

		require.NoError(t, a1.SetCheckpoint(ctx, "printer", 7))

		pos, err := a2.GetCheckpoint(ctx, "printer")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), pos)
	})

	t.Run("clear removes everything", func(t *testing.T) {
		store := NewCheckpointStore()
		require.NoError(t, store.SetCheckpoint(ctx, "a", 1))

		store.Clear()

		assert.Empty(t, store.Checkpoints())
	})
}
