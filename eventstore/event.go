package eventstore

import (
	"bytes"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// canonicalJSON sorts map keys, so two mappings with equal content always encode to the same bytes.
var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is an immutable domain event.
//
// Events are identified by a globally unique id. Two events are equal if their type, id and data are equal,
// metadata does not participate in equality.
type Event struct {
	id        string
	eventType string
	data      map[string]any
	metadata  Metadata
}

// Events is an alias type for a slice of Event.
type Events = []Event

// EventOption configures optional parts of an Event at construction time.
type EventOption func(*Event) error

// WithEventID sets an explicit event id instead of a generated one.
func WithEventID(id string) EventOption {
	return func(e *Event) error {
		if id == "" {
			return ErrEmptyEventID
		}

		e.id = id

		return nil
	}
}

// WithMetadata sets the metadata of the Event. The values are validated, see Metadata.
func WithMetadata(values map[string]any) EventOption {
	return func(e *Event) error {
		metadata, err := NewMetadata(values)
		if err != nil {
			return err
		}

		e.metadata = metadata

		return nil
	}
}

// WithMetadataValues sets an already validated Metadata.
func WithMetadataValues(metadata Metadata) EventOption {
	return func(e *Event) error {
		e.metadata = metadata
		return nil
	}
}

// NewEvent is the factory for Event.
//
// The eventType is the registered name of the event, it is overridden by a non-empty "event_type" metadata entry.
// Without WithEventID, a time-ordered UUID (v7) is generated.
func NewEvent(eventType string, data map[string]any, options ...EventOption) (Event, error) {
	if eventType == "" {
		return Event{}, ErrEmptyEventType
	}

	event := Event{
		eventType: eventType,
		data:      deepCopyMap(data),
	}

	for _, option := range options {
		if err := option(&event); err != nil {
			return Event{}, err
		}
	}

	if event.id == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Event{}, errors.Join(ErrEmptyEventID, err)
		}

		event.id = id.String()
	}

	return event, nil
}

func (e Event) ID() string {
	return e.id
}

// Type returns the metadata "event_type" override if present, otherwise the declared type.
func (e Event) Type() string {
	if override, ok := e.metadata.Get(MetadataKeyEventType); ok {
		if name, isString := override.(string); isString && name != "" {
			return name
		}
	}

	return e.eventType
}

// DeclaredType returns the type the Event was constructed with, ignoring any metadata override.
func (e Event) DeclaredType() string {
	return e.eventType
}

// Data returns a copy of the payload.
func (e Event) Data() map[string]any {
	return deepCopyMap(e.data)
}

func (e Event) Metadata() Metadata {
	return e.metadata
}

// WithMetadataValue returns a copy of the Event with one more metadata entry.
func (e Event) WithMetadataValue(key string, value any) (Event, error) {
	metadata, err := e.metadata.With(key, value)
	if err != nil {
		return Event{}, err
	}

	e.metadata = metadata

	return e, nil
}

// Equal compares type, id and data.
func (e Event) Equal(other Event) bool {
	if e.Type() != other.Type() || e.id != other.id {
		return false
	}

	return equalMappings(e.data, other.data)
}

func equalMappings(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}

	encodedA, errA := canonicalJSON.Marshal(a)
	encodedB, errB := canonicalJSON.Marshal(b)

	if errA != nil || errB != nil {
		return false
	}

	return bytes.Equal(encodedA, encodedB)
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))

	for key, value := range in {
		out[key] = deepCopyValue(value)
	}

	return out
}

// deepCopyValue copies every nested map, slice and array of value, whatever their element types.
func deepCopyValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		return deepCopyMap(v)
	case *time.Time:
		if v == nil {
			return v
		}

		copied := *v

		return &copied
	}

	return deepCopyReflect(reflect.ValueOf(value)).Interface()
}

func deepCopyReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}

		return deepCopyReflect(rv.Elem())

	case reflect.Map:
		if rv.IsNil() {
			return rv
		}

		copied := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			copied.SetMapIndex(iter.Key(), deepCopyReflect(iter.Value()))
		}

		return copied

	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}

		copied := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := range rv.Len() {
			copied.Index(i).Set(deepCopyReflect(rv.Index(i)))
		}

		return copied

	case reflect.Array:
		copied := reflect.New(rv.Type()).Elem()
		for i := range rv.Len() {
			copied.Index(i).Set(deepCopyReflect(rv.Index(i)))
		}

		return copied

	default:
		return rv
	}
}
