package msgpack

import (
	"context"
	"testing"
	"time"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/AshkanYarmoradi/go-chronicle/adapters/memory"
	"github.com/AshkanYarmoradi/go-chronicle/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type OrderCreated struct {
	OrderID    string `msgpack:"order_id"`
	CustomerID string `msgpack:"customer_id"`
}

type ComplexEvent struct {
	ID       string                 `msgpack:"id"`
	Tags     []string               `msgpack:"tags"`
	Metadata map[string]interface{} `msgpack:"metadata"`
	Nested   *NestedData            `msgpack:"nested"`
}

type NestedData struct {
	Value int    `msgpack:"value"`
	Name  string `msgpack:"name"`
}

func TestNewSerializer(t *testing.T) {
	t.Run("creates empty serializer", func(t *testing.T) {
		s := NewSerializer()

		assert.Equal(t, 0, s.Registry().Count())
	})

	t.Run("shares a registry", func(t *testing.T) {
		registry := chronicle.NewEventRegistry()
		registry.Register("OrderCreated", OrderCreated{})

		s := NewSerializer(WithRegistry(registry))

		assert.Same(t, registry, s.Registry())
		_, ok := s.Registry().Lookup("OrderCreated")
		assert.True(t, ok)
	})

	t.Run("nil registry keeps the default", func(t *testing.T) {
		s := NewSerializer(WithRegistry(nil))

		assert.NotNil(t, s.Registry())
	})
}

func TestSerializer_Serialize(t *testing.T) {
	t.Run("is more compact than JSON", func(t *testing.T) {
		s := NewSerializer()
		event := ComplexEvent{
			ID:       "event-123",
			Tags:     []string{"tag1", "tag2", "tag3"},
			Metadata: map[string]interface{}{"key1": "value1"},
			Nested:   &NestedData{Value: 100, Name: "nested"},
		}

		data, err := s.Serialize(event)
		require.NoError(t, err)

		jsonData, err := chronicle.NewJSONSerializer().Serialize(event)
		require.NoError(t, err)
		assert.Less(t, len(data), len(jsonData))
	})

	t.Run("nil event", func(t *testing.T) {
		_, err := NewSerializer().Serialize(nil)

		require.ErrorIs(t, err, chronicle.ErrSerializationFailed)
		var serErr *chronicle.SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "nil", serErr.EventType)
		assert.Equal(t, "serialize", serErr.Operation)
	})

	t.Run("unsupported value", func(t *testing.T) {
		_, err := NewSerializer().Serialize(make(chan int))

		assert.ErrorIs(t, err, chronicle.ErrSerializationFailed)
	})
}

func TestSerializer_Deserialize(t *testing.T) {
	t.Run("registered type", func(t *testing.T) {
		s := NewSerializer()
		s.Register("OrderCreated", OrderCreated{})
		original := OrderCreated{OrderID: "order-123", CustomerID: "customer-456"}

		data, err := s.Serialize(original)
		require.NoError(t, err)
		result, err := s.Deserialize(data, "OrderCreated")

		require.NoError(t, err)
		assert.Equal(t, original, result)
	})

	t.Run("nested values", func(t *testing.T) {
		s := NewSerializer()
		s.RegisterAll(ComplexEvent{})
		original := ComplexEvent{ID: "e", Tags: []string{"a"}, Nested: &NestedData{Value: 7, Name: "n"}}

		data, err := s.Serialize(original)
		require.NoError(t, err)
		result, err := s.Deserialize(data, "ComplexEvent")

		require.NoError(t, err)
		decoded := result.(ComplexEvent)
		assert.Equal(t, original.Tags, decoded.Tags)
		assert.Equal(t, 7, decoded.Nested.Value)
	})

	t.Run("unregistered type decodes to a map", func(t *testing.T) {
		s := NewSerializer()

		data, err := s.Serialize(OrderCreated{OrderID: "order-123"})
		require.NoError(t, err)
		result, err := s.Deserialize(data, "OrderCreated")

		require.NoError(t, err)
		m, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "order-123", m["order_id"])
	})

	t.Run("strict mode rejects unregistered types", func(t *testing.T) {
		s := NewSerializer(WithStrictTypes())

		data, err := s.Serialize(OrderCreated{OrderID: "order-123"})
		require.NoError(t, err)
		_, err = s.Deserialize(data, "OrderCreated")

		assert.ErrorIs(t, err, chronicle.ErrEventTypeNotRegistered)
		assert.ErrorIs(t, err, chronicle.ErrSerializationFailed)
	})

	t.Run("empty data", func(t *testing.T) {
		_, err := NewSerializer().Deserialize(nil, "OrderCreated")

		assert.ErrorIs(t, err, chronicle.ErrSerializationFailed)
	})

	t.Run("corrupt data", func(t *testing.T) {
		s := NewSerializer()
		s.Register("OrderCreated", OrderCreated{})

		_, err := s.Deserialize([]byte{0xc1}, "OrderCreated")

		assert.ErrorIs(t, err, chronicle.ErrSerializationFailed)
	})
}

func TestStateCodec(t *testing.T) {
	codec := StateCodec{}
	state := testutil.Counter{Value: 42, UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	data, err := codec.Encode(&state)
	require.NoError(t, err)

	var decoded testutil.Counter
	require.NoError(t, codec.Decode(data, &decoded))

	assert.Equal(t, int64(42), decoded.Value)
	assert.True(t, state.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, "msgpack", codec.Name())
}

func TestWithEventStore(t *testing.T) {
	ctx := context.Background()
	adapter := memory.NewAdapter()
	store := chronicle.New(adapter,
		chronicle.WithSerializer(NewSerializer()),
		chronicle.WithSnapshotStore(adapter))
	repo := testutil.NewCounterRepository(store,
		chronicle.WithStateCodec(StateCodec{}),
		chronicle.WithSnapshotEvery(2))

	counter := testutil.NewCounter("c-1")
	require.NoError(t, counter.Set(10))
	require.NoError(t, counter.Add(5))
	require.NoError(t, repo.Save(ctx, counter))

	snap, err := adapter.LoadSnapshot(ctx, "c-1", testutil.CounterType)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, Name, snap.Encoding)

	require.NoError(t, counter.Add(1))
	require.NoError(t, repo.Save(ctx, counter))

	loaded, err := repo.Load(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(16), loaded.Value)
	assert.Equal(t, chronicle.AggregateVersion(3), loaded.Version())
}
