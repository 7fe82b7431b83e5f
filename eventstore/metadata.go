package eventstore

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

// Well-known metadata keys.
const (
	MetadataKeyEventType     = "event_type"
	MetadataKeyTimestamp     = "timestamp"
	MetadataKeyValidAt       = "valid_at"
	MetadataKeyCorrelationID = "correlation_id"
	MetadataKeyCausationID   = "causation_id"
)

// Metadata is an immutable, string-keyed bag of values attached to an Event.
//
// Values are restricted to: string, integer and float kinds, bool, time.Time (dates, times and timestamps),
// nil, nested string-keyed maps and slices (or arrays) of allowed values.
type Metadata struct {
	values map[string]any
}

// NewMetadata copies and validates the given values.
func NewMetadata(values map[string]any) (Metadata, error) {
	copied := make(map[string]any, len(values))

	for key, value := range values {
		if err := validateMetadataValue(value); err != nil {
			return Metadata{}, errors.Join(err, fmt.Errorf("metadata key %q", key))
		}

		copied[key] = deepCopyValue(value)
	}

	return Metadata{values: copied}, nil
}

// With returns a copy of m with key set to value.
func (m Metadata) With(key string, value any) (Metadata, error) {
	if err := validateMetadataValue(value); err != nil {
		return m, errors.Join(err, fmt.Errorf("metadata key %q", key))
	}

	values := maps.Clone(m.values)
	if values == nil {
		values = make(map[string]any, 1)
	}

	values[key] = deepCopyValue(value)

	return Metadata{values: values}, nil
}

// Get returns a copy of the value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	value, ok := m.values[key]

	return deepCopyValue(value), ok
}

// Has reports whether key is set.
func (m Metadata) Has(key string) bool {
	_, ok := m.values[key]

	return ok
}

// Keys returns all keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m.values))
}

func (m Metadata) Len() int {
	return len(m.values)
}

// ToMap returns a deep copy of the values.
func (m Metadata) ToMap() map[string]any {
	return deepCopyMap(m.values)
}

func validateMetadataValue(value any) error {
	if value == nil {
		return nil
	}

	switch value.(type) {
	case time.Time, *time.Time:
		return nil
	}

	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil

	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validateMetadataValue(rv.Index(i).Interface()); err != nil {
				return err
			}
		}

		return nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return errors.Join(ErrMetadataValueNotAllowed, fmt.Errorf("map key kind %s", rv.Type().Key().Kind()))
		}

		iter := rv.MapRange()
		for iter.Next() {
			if err := validateMetadataValue(iter.Value().Interface()); err != nil {
				return err
			}
		}

		return nil

	default:
		return errors.Join(ErrMetadataValueNotAllowed, fmt.Errorf("value of type %T", value))
	}
}
