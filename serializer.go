package chronicle

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts an event payload to bytes.
	Serialize(event interface{}) ([]byte, error)

	// Deserialize converts bytes back to an event payload.
	// The eventType is used to determine the target type.
	Deserialize(data []byte, eventType string) (interface{}, error)
}

// EventRegistry maps event type names to Go types.
// It is used by serializers to deserialize events to the correct type.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewEventRegistry creates a new empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		types: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from eventType to the Go type of the example.
// The example should be a value (not a pointer) of the event type.
func (r *EventRegistry) Register(eventType string, example interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.types[eventType] = t
}

// RegisterAll registers multiple events under the name GetEventType reports.
func (r *EventRegistry) RegisterAll(examples ...interface{}) {
	for _, example := range examples {
		r.Register(GetEventType(example), example)
	}
}

// Lookup returns the Go type for the given event type name.
// Returns nil and false if the type is not registered.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[eventType]
	return t, ok
}

// RegisteredTypes returns a slice of all registered event type names.
func (r *EventRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	return types
}

// Count returns the number of registered event types.
func (r *EventRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// JSONSerializer is the default Serializer implementation using JSON encoding.
type JSONSerializer struct {
	registry *EventRegistry
}

// NewJSONSerializer creates a new JSONSerializer with an empty registry.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		registry: NewEventRegistry(),
	}
}

// NewJSONSerializerWithRegistry creates a new JSONSerializer with the given registry.
func NewJSONSerializerWithRegistry(registry *EventRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewEventRegistry()
	}
	return &JSONSerializer{
		registry: registry,
	}
}

// Register adds an event type to the serializer's registry.
func (s *JSONSerializer) Register(eventType string, example interface{}) {
	s.registry.Register(eventType, example)
}

// RegisterAll registers multiple events by their event type names.
func (s *JSONSerializer) RegisterAll(examples ...interface{}) {
	s.registry.RegisterAll(examples...)
}

// Registry returns the underlying EventRegistry.
func (s *JSONSerializer) Registry() *EventRegistry {
	return s.registry
}

// Serialize converts an event to JSON bytes.
func (s *JSONSerializer) Serialize(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, NewSerializationError(GetEventType(event), "serialize", err)
	}

	return data, nil
}

// Deserialize converts JSON bytes back to an event.
// If the event type is registered, returns a value of that type.
// Otherwise, returns a map[string]interface{}.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	t, ok := s.registry.Lookup(eventType)
	if !ok {
		var result map[string]interface{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, NewSerializationError(eventType, "deserialize", err)
		}
		return result, nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}

	return ptr.Elem().Interface(), nil
}

// GetEventType returns the event type name for the given payload.
// Payloads implementing EventTyper name themselves; otherwise the struct
// name is used.
func GetEventType(event interface{}) string {
	if event == nil {
		return ""
	}

	if typer, ok := event.(EventTyper); ok {
		return typer.EventType()
	}

	t := reflect.TypeOf(event)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// SerializeEvent serializes an event into a record ready to be appended.
func SerializeEvent(serializer Serializer, event Event, metadata Metadata) (EventRecord, error) {
	eventType := event.Type
	if eventType == "" {
		eventType = GetEventType(event.Payload)
	}
	if eventType == "" {
		return EventRecord{}, NewSerializationError("", "serialize", fmt.Errorf("cannot determine event type"))
	}

	data, err := serializer.Serialize(event.Payload)
	if err != nil {
		return EventRecord{}, err
	}

	return EventRecord{
		Type:       eventType,
		Data:       data,
		Metadata:   metadata,
		OccurredAt: event.OccurredAt,
	}, nil
}

// DeserializeEvent decodes a StoredEvent into an Event.
func DeserializeEvent(serializer Serializer, stored StoredEvent) (Event, error) {
	data, err := serializer.Deserialize(stored.Data, stored.Type)
	if err != nil {
		return Event{}, err
	}

	return EventFromStored(stored, data), nil
}

// StateCodec encodes aggregate state for snapshots.
type StateCodec interface {
	// Encode converts a state value to bytes.
	Encode(state interface{}) ([]byte, error)

	// Decode fills target, a pointer, from bytes produced by Encode.
	Decode(data []byte, target interface{}) error

	// Name identifies the encoding; it is stored with each snapshot.
	Name() string
}

// JSONStateCodec encodes snapshot state as JSON.
type JSONStateCodec struct{}

// Encode implements StateCodec.
func (JSONStateCodec) Encode(state interface{}) ([]byte, error) {
	return json.Marshal(state)
}

// Decode implements StateCodec.
func (JSONStateCodec) Decode(data []byte, target interface{}) error {
	return json.Unmarshal(data, target)
}

// Name implements StateCodec.
func (JSONStateCodec) Name() string {
	return "json"
}

// Snapshotter is implemented by aggregates that control their snapshot state.
// Aggregates that do not implement it are encoded as a whole; only exported
// fields survive that round trip.
type Snapshotter interface {
	// SnapshotState returns the value to persist.
	SnapshotState() (interface{}, error)

	// RestoreSnapshotState rebuilds state using decode, which fills a pointer
	// from the persisted bytes.
	RestoreSnapshotState(decode func(target interface{}) error) error
}
