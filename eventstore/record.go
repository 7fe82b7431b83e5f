package eventstore

import (
	"errors"
	"time"
)

// TimestampLayout is the canonical textual representation of Record timestamps in a SerializedRecord.
const TimestampLayout = time.RFC3339Nano

// Records is an alias type for a slice of Record.
type Records = []Record

// Record is the storage normal form of an Event.
//
// While its properties are exported, it should only be constructed with BuildRecord,
// which enforces the invariants and copies the mappings.
type Record struct {
	EventID   string
	EventType string
	Data      map[string]any
	Metadata  map[string]any
	Timestamp time.Time
	ValidAt   time.Time
}

// BuildRecord is the factory for Record.
//
// A zero validAt defaults to timestamp. A zero timestamp is allowed, repositories replace it with the commit time.
func BuildRecord(
	eventID string,
	eventType string,
	data map[string]any,
	metadata map[string]any,
	timestamp time.Time,
	validAt time.Time,
) (Record, error) {

	if eventID == "" {
		return Record{}, ErrEmptyEventID
	}

	if eventType == "" {
		return Record{}, ErrEmptyEventType
	}

	if validAt.IsZero() {
		validAt = timestamp
	}

	return Record{
		EventID:   eventID,
		EventType: eventType,
		Data:      deepCopyMap(data),
		Metadata:  deepCopyMap(metadata),
		Timestamp: timestamp.UTC(),
		ValidAt:   validAt.UTC(),
	}, nil
}

// WithTimestamp returns a copy with the commit time set, valid_at follows if it was unset or equal to the old timestamp.
func (r Record) WithTimestamp(timestamp time.Time) Record {
	if r.ValidAt.IsZero() || r.ValidAt.Equal(r.Timestamp) {
		r.ValidAt = timestamp.UTC()
	}

	r.Timestamp = timestamp.UTC()

	return r
}

// Equal compares all fields.
func (r Record) Equal(other Record) bool {
	return r.EventID == other.EventID &&
		r.EventType == other.EventType &&
		r.Timestamp.Equal(other.Timestamp) &&
		r.ValidAt.Equal(other.ValidAt) &&
		equalMappings(r.Data, other.Data) &&
		equalMappings(r.Metadata, other.Metadata)
}

// Serialize encodes data and metadata with the codec and formats the timestamps.
func (r Record) Serialize(codec Codec) (SerializedRecord, error) {
	if codec == nil {
		return SerializedRecord{}, ErrNilCodec
	}

	data, err := codec.Dump(r.Data)
	if err != nil {
		return SerializedRecord{}, errors.Join(ErrEncodingFailed, err)
	}

	metadata, err := codec.Dump(r.Metadata)
	if err != nil {
		return SerializedRecord{}, errors.Join(ErrEncodingFailed, err)
	}

	return SerializedRecord{
		EventID:   r.EventID,
		EventType: r.EventType,
		Data:      data,
		Metadata:  metadata,
		Timestamp: r.Timestamp.UTC().Format(TimestampLayout),
		ValidAt:   r.ValidAt.UTC().Format(TimestampLayout),
	}, nil
}
