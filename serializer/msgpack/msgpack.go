// Package msgpack provides MessagePack encodings for event payloads and
// snapshot state.
//
// MessagePack produces smaller payloads than JSON and keeps the same
// flexibility for struct types. Payload bytes are stored as-is by every
// backend, so events written with this serializer must be read with it too.
//
// Basic usage:
//
//	serializer := msgpack.NewSerializer()
//	serializer.Register("OrderCreated", OrderCreated{})
//
//	store := chronicle.New(adapter,
//		chronicle.WithSerializer(serializer))
//	repo := chronicle.NewRepository(store, "Order", NewOrder,
//		chronicle.WithStateCodec(msgpack.StateCodec{}))
package msgpack

import (
	"fmt"
	"reflect"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"github.com/vmihailenco/msgpack/v5"
)

// Name is the encoding name recorded with msgpack snapshots.
const Name = "msgpack"

// Ensure interface compliance.
var (
	_ chronicle.Serializer = (*Serializer)(nil)
	_ chronicle.StateCodec = StateCodec{}
)

// Serializer is a MessagePack implementation of chronicle.Serializer.
// It shares chronicle.EventRegistry for type lookup.
type Serializer struct {
	registry *chronicle.EventRegistry
	strict   bool
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithRegistry uses an existing registry, for example one shared with a JSON
// serializer during a migration between encodings.
func WithRegistry(registry *chronicle.EventRegistry) SerializerOption {
	return func(s *Serializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithStrictTypes makes Deserialize fail for unregistered event types instead
// of decoding them into a map.
func WithStrictTypes() SerializerOption {
	return func(s *Serializer) {
		s.strict = true
	}
}

// NewSerializer creates a new MessagePack Serializer.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{registry: chronicle.NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a mapping from eventType to the Go type of the example.
func (s *Serializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers multiple events by their event type names.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the underlying registry.
func (s *Serializer) Registry() *chronicle.EventRegistry {
	return s.registry
}

// Serialize converts an event payload to MessagePack bytes.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, chronicle.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, chronicle.NewSerializationError(chronicle.GetEventType(event), "serialize", err)
	}

	return data, nil
}

// Deserialize converts MessagePack bytes back to an event payload.
// Registered types decode into a value of that type. Unregistered types
// decode into a map[string]interface{} unless WithStrictTypes is set.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		if s.strict {
			return nil, chronicle.NewSerializationError(eventType, "deserialize",
				chronicle.NewEventTypeNotRegisteredError(eventType))
		}
		var result map[string]interface{}
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}

// StateCodec encodes snapshot state as MessagePack.
type StateCodec struct{}

// Encode implements chronicle.StateCodec.
func (StateCodec) Encode(state interface{}) ([]byte, error) {
	return msgpack.Marshal(state)
}

// Decode implements chronicle.StateCodec.
func (StateCodec) Decode(data []byte, target interface{}) error {
	return msgpack.Unmarshal(data, target)
}

// Name implements chronicle.StateCodec.
func (StateCodec) Name() string {
	return Name
}
