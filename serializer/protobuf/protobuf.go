// Package protobuf provides a Protocol Buffers serializer for event payloads.
//
// Payloads must be proto.Message values. Decoded payloads are returned as the
// registered message pointer, so ApplyEvent switches on pointer types:
//
//	s := protobuf.NewSerializer()
//	s.MustRegister("OrderCreated", &pb.OrderCreated{})
//
//	store := chronicle.New(adapter, chronicle.WithSerializer(s))
//
//	func (o *Order) ApplyEvent(e chronicle.Event) error {
//		switch p := e.Payload.(type) {
//		case *pb.OrderCreated:
//			...
//		}
//	}
//
// Event types that were never registered are looked up by full message name
// in the global protobuf registry before Deserialize gives up.
package protobuf

import (
	"errors"
	"fmt"
	"sync"

	chronicle "github.com/AshkanYarmoradi/go-chronicle"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

var (
	// ErrNotProtoMessage indicates the payload does not implement proto.Message.
	ErrNotProtoMessage = errors.New("chronicle/protobuf: payload must implement proto.Message")

	// ErrEmptyData indicates an attempt to deserialize nil data.
	ErrEmptyData = errors.New("chronicle/protobuf: cannot deserialize nil data")
)

var _ chronicle.Serializer = (*Serializer)(nil)

// Serializer implements chronicle.Serializer using Protocol Buffers.
type Serializer struct {
	mu       sync.RWMutex
	registry map[string]protoreflect.MessageType
	resolver *protoregistry.Types
}

// SerializerOption configures the Serializer.
type SerializerOption func(*Serializer)

// WithResolver sets the registry used for event types that were not
// registered explicitly. The default is protoregistry.GlobalTypes.
func WithResolver(r *protoregistry.Types) SerializerOption {
	return func(s *Serializer) {
		s.resolver = r
	}
}

// NewSerializer creates a new Protocol Buffers serializer.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{
		registry: make(map[string]protoreflect.MessageType),
		resolver: protoregistry.GlobalTypes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register maps an event type name to the message type of the example.
func (s *Serializer) Register(eventType string, example interface{}) error {
	msg, ok := example.(proto.Message)
	if !ok {
		return chronicle.NewSerializationError(eventType, "register", ErrNotProtoMessage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[eventType] = msg.ProtoReflect().Type()
	return nil
}

// MustRegister registers an event type and panics on error.
func (s *Serializer) MustRegister(eventType string, example interface{}) {
	if err := s.Register(eventType, example); err != nil {
		panic(err)
	}
}

// RegisterAll registers messages under the names chronicle.GetEventType
// reports. It is called during setup, so a non-message example panics.
func (s *Serializer) RegisterAll(examples ...interface{}) {
	for _, example := range examples {
		s.MustRegister(chronicle.GetEventType(example), example)
	}
}

// Lookup returns the message type registered for an event type.
func (s *Serializer) Lookup(eventType string) (protoreflect.MessageType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mt, ok := s.registry[eventType]
	return mt, ok
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registry)
}

// Serialize converts a message to the protobuf wire format.
func (s *Serializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, chronicle.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	msg, ok := event.(proto.Message)
	if !ok {
		return nil, chronicle.NewSerializationError(chronicle.GetEventType(event), "serialize", ErrNotProtoMessage)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, chronicle.NewSerializationError(chronicle.GetEventType(event), "serialize", err)
	}

	return data, nil
}

// Deserialize converts wire bytes back to a message pointer. A message with
// only default values encodes to zero bytes, so an empty slice is valid; nil
// is not.
func (s *Serializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if data == nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", ErrEmptyData)
	}

	mt, ok := s.Lookup(eventType)
	if !ok {
		var err error
		mt, err = s.resolver.FindMessageByName(protoreflect.FullName(eventType))
		if err != nil {
			return nil, chronicle.NewSerializationError(eventType, "deserialize",
				chronicle.NewEventTypeNotRegisteredError(eventType))
		}
	}

	msg := mt.New().Interface()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, chronicle.NewSerializationError(eventType, "deserialize", err)
	}

	return msg, nil
}
