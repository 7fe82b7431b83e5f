package eventstore

import (
	"errors"
	"fmt"
	"time"
)

// SerializedRecord is a Record whose data and metadata were encoded by a Codec.
// It is the unit repositories store, so no engine depends on a specific encoding.
type SerializedRecord struct {
	EventID   string
	EventType string
	Data      string
	Metadata  string
	Timestamp string
	ValidAt   string
}

// BuildSerializedRecord is the factory for SerializedRecord.
func BuildSerializedRecord(
	eventID string,
	eventType string,
	data string,
	metadata string,
	timestamp time.Time,
	validAt time.Time,
) (SerializedRecord, error) {

	if eventID == "" {
		return SerializedRecord{}, ErrEmptyEventID
	}

	if eventType == "" {
		return SerializedRecord{}, ErrEmptyEventType
	}

	if validAt.IsZero() {
		validAt = timestamp
	}

	return SerializedRecord{
		EventID:   eventID,
		EventType: eventType,
		Data:      data,
		Metadata:  metadata,
		Timestamp: timestamp.UTC().Format(TimestampLayout),
		ValidAt:   validAt.UTC().Format(TimestampLayout),
	}, nil
}

// Deserialize decodes data and metadata with the codec and parses the timestamps.
func (s SerializedRecord) Deserialize(codec Codec) (Record, error) {
	if codec == nil {
		return Record{}, ErrNilCodec
	}

	data, err := loadMapping(codec, s.Data)
	if err != nil {
		return Record{}, err
	}

	metadata, err := loadMapping(codec, s.Metadata)
	if err != nil {
		return Record{}, err
	}

	timestamp, err := ParseTimestamp(s.Timestamp)
	if err != nil {
		return Record{}, err
	}

	validAt, err := ParseTimestamp(s.ValidAt)
	if err != nil {
		return Record{}, err
	}

	return BuildRecord(s.EventID, s.EventType, data, metadata, timestamp, validAt)
}

// ParseTimestamp parses the canonical textual timestamp of a SerializedRecord. An empty string is the zero time.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(TimestampLayout, value)
	if err != nil {
		return time.Time{}, errors.Join(ErrInvalidTimestamp, err)
	}

	return parsed.UTC(), nil
}

func loadMapping(codec Codec, serialized string) (map[string]any, error) {
	if serialized == "" {
		return map[string]any{}, nil
	}

	loaded, err := codec.Load(serialized)
	if err != nil {
		return nil, errors.Join(ErrDecodingFailed, err)
	}

	if loaded == nil {
		return map[string]any{}, nil
	}

	mapping, ok := NormalizeKeys(loaded).(map[string]any)
	if !ok {
		return nil, errors.Join(ErrInvalidRecordData, fmt.Errorf("decoded %T", loaded))
	}

	return mapping, nil
}
