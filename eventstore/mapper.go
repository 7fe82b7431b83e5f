package eventstore

import (
	"maps"
	"slices"
	"time"
)

// Mapper converts between domain events and storage records.
type Mapper interface {
	EventToRecord(event Event) (Record, error)
	RecordToEvent(record Record) (Event, error)
}

// EventTransformation is the first stage of a Pipeline, converting an Event into a Record and back.
type EventTransformation interface {
	Dump(event Event) (Record, error)
	Load(record Record) (Event, error)
}

// RecordTransformation is a reversible Record to Record step of a Pipeline.
type RecordTransformation interface {
	Dump(record Record) (Record, error)
	Load(record Record) (Record, error)
}

// Pipeline applies its transformations in order on the way to storage and in reverse order on the way back.
type Pipeline struct {
	toDomain        EventTransformation
	transformations []RecordTransformation
}

// NewPipeline composes a Mapper. A nil toDomain uses DomainEvent.
func NewPipeline(toDomain EventTransformation, transformations ...RecordTransformation) Pipeline {
	if toDomain == nil {
		toDomain = DomainEvent{}
	}

	return Pipeline{
		toDomain:        toDomain,
		transformations: slices.Clone(transformations),
	}
}

// NewDefaultMapper is the Pipeline used when no Mapper is configured.
func NewDefaultMapper() Pipeline {
	return NewPipeline(DomainEvent{}, NormalizeMetadataKeys{})
}

func (p Pipeline) EventToRecord(event Event) (Record, error) {
	record, err := p.toDomain.Dump(event)
	if err != nil {
		return Record{}, err
	}

	for _, transformation := range p.transformations {
		if record, err = transformation.Dump(record); err != nil {
			return Record{}, err
		}
	}

	return record, nil
}

func (p Pipeline) RecordToEvent(record Record) (Event, error) {
	var err error

	for _, transformation := range slices.Backward(p.transformations) {
		if record, err = transformation.Load(record); err != nil {
			return Event{}, err
		}
	}

	return p.toDomain.Load(record)
}

// DomainEvent is the base conversion. The record times are taken from the "timestamp" and "valid_at" metadata.
type DomainEvent struct{}

func (DomainEvent) Dump(event Event) (Record, error) {
	metadata := event.Metadata()
	timestamp := metadataTime(metadata, MetadataKeyTimestamp)
	validAt := metadataTime(metadata, MetadataKeyValidAt)

	return BuildRecord(event.ID(), event.Type(), event.data, metadata.ToMap(), timestamp, validAt)
}

func (DomainEvent) Load(record Record) (Event, error) {
	return NewEvent(
		record.EventType,
		record.Data,
		WithEventID(record.EventID),
		WithMetadata(record.Metadata),
	)
}

func metadataTime(metadata Metadata, key string) time.Time {
	value, ok := metadata.Get(key)
	if !ok {
		return time.Time{}
	}

	switch v := value.(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	case string:
		if parsed, err := ParseTimestamp(v); err == nil {
			return parsed
		}
	}

	return time.Time{}
}

// EventTypeRemapper renames stored event types when loading, to support renamed events.
type EventTypeRemapper struct {
	renames map[string]string
}

// NewEventTypeRemapper maps old event type names to new ones.
func NewEventTypeRemapper(renames map[string]string) EventTypeRemapper {
	return EventTypeRemapper{renames: maps.Clone(renames)}
}

func (r EventTypeRemapper) Dump(record Record) (Record, error) {
	return record, nil
}

func (r EventTypeRemapper) Load(record Record) (Record, error) {
	renamed, ok := r.renames[record.EventType]
	if !ok {
		return record, nil
	}

	metadata := maps.Clone(record.Metadata)
	if override, has := metadata[MetadataKeyEventType]; has && override == record.EventType {
		metadata[MetadataKeyEventType] = renamed
	}

	return BuildRecord(record.EventID, renamed, record.Data, metadata, record.Timestamp, record.ValidAt)
}

// NormalizeMetadataKeys makes sure every nested metadata mapping is keyed by strings, in both directions.
type NormalizeMetadataKeys struct{}

func (NormalizeMetadataKeys) Dump(record Record) (Record, error) {
	return normalizeMetadata(record)
}

func (NormalizeMetadataKeys) Load(record Record) (Record, error) {
	return normalizeMetadata(record)
}

func normalizeMetadata(record Record) (Record, error) {
	metadata, _ := NormalizeKeys(record.Metadata).(map[string]any)

	return BuildRecord(record.EventID, record.EventType, record.Data, metadata, record.Timestamp, record.ValidAt)
}
