package compressed

import (
	"bytes"
	"context"
	"testing"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
	"github.com/AshkanYarmoradi/go-chronicle/serializer/msgpack"
	"github.com/AshkanYarmoradi/go-chronicle/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type basket struct {
	Items []string `json:"items" msgpack:"items"`
}

func TestCodec(t *testing.T) {
	state := basket{}
	for i := 0; i < 200; i++ {
		state.Items = append(state.Items, "sku-0000000000")
	}

	t.Run("round trip shrinks repetitive state", func(t *testing.T) {
		codec := New(nil)

		data, err := codec.Encode(state)
		require.NoError(t, err)
		plain, err := chronicle.JSONStateCodec{}.Encode(state)
		require.NoError(t, err)
		assert.Less(t, len(data), len(plain)/4)

		var decoded basket
		require.NoError(t, codec.Decode(data, &decoded))
		assert.Equal(t, state, decoded)
	})

	t.Run("names", func(t *testing.T) {
		assert.Equal(t, "json+snappy", New(nil).Name())
		assert.Equal(t, "msgpack+snappy", New(msgpack.StateCodec{}).Name())
	})

	t.Run("wraps msgpack", func(t *testing.T) {
		codec := New(msgpack.StateCodec{})

		data, err := codec.Encode(state)
		require.NoError(t, err)

		var decoded basket
		require.NoError(t, codec.Decode(data, &decoded))
		assert.Len(t, decoded.Items, 200)
	})

	t.Run("rejects uncompressed input", func(t *testing.T) {
		var decoded basket

		err := New(nil).Decode(bytes.Repeat([]byte{0xff}, 8), &decoded)

		assert.Error(t, err)
	})

	t.Run("inner encode errors pass through", func(t *testing.T) {
		_, err := New(nil).Encode(make(chan int))

		assert.Error(t, err)
	})
}

func TestCodec_WithRepository(t *testing.T) {
	ctx := context.Background()
	adapter := memory.NewAdapter()
	store := chronicle.New(adapter, chronicle.WithSnapshotStore(adapter))
	repo := testutil.NewCounterRepository(store,
		chronicle.WithStateCodec(New(nil)),
		chronicle.WithSnapshotEvery(1))

	counter := testutil.NewCounter("c-1")
	require.NoError(t, counter.Set(7))
	require.NoError(t, repo.Save(ctx, counter))

	snap, err := adapter.LoadSnapshot(ctx, "c-1", testutil.CounterType)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "json+snappy", snap.Encoding)

	loaded, err := repo.Load(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Value)

	// A plain JSON repository cannot read the compressed snapshot and replays.
	plain := testutil.NewCounterRepository(store)
	loaded, err = plain.Load(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.Value)
}
