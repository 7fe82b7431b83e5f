package eventstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// Specification is an immutable, fluent read query builder.
//
// Every builder method returns a new Specification. Argument errors are recorded by the failing step,
// carried along by every derived Specification and returned by Err and by every terminal operation.
// Terminal operations additionally verify that the start and stop cursors refer to existing events.
//
// Usage:
//
//	events, err := client.Read().
//		Stream("Order$1").
//		OfType("OrderPlaced", "OrderShipped").
//		Backward().
//		Limit(10).
//		Execute(ctx)
type Specification struct {
	repository Repository
	mapper     Mapper
	result     SpecificationResult
	err        error
}

// NewSpecification returns a Specification for the default read over the global stream.
func NewSpecification(repository Repository, mapper Mapper) Specification {
	return Specification{
		repository: repository,
		mapper:     mapper,
		result:     NewSpecificationResult(),
	}
}

// Result returns the query description built so far.
func (s Specification) Result() SpecificationResult {
	return s.result
}

// Err returns the first argument error recorded by a builder step.
func (s Specification) Err() error {
	return s.err
}

func (s Specification) fail(err error) Specification {
	if s.err == nil {
		s.err = err
	}

	return s
}

// Stream scopes the read to a named stream.
func (s Specification) Stream(name string) Specification {
	stream, err := NewStream(name)
	if err != nil {
		return s.fail(err)
	}

	s.result.stream = stream

	return s
}

// StartFrom reads after the event with the given id, excluding it.
func (s Specification) StartFrom(eventID string) Specification {
	if eventID == "" {
		return s.fail(ErrInvalidPageStart)
	}

	s.result.start = eventID

	return s
}

// To reads up to the event with the given id, excluding it.
func (s Specification) To(eventID string) Specification {
	if eventID == "" {
		return s.fail(ErrInvalidPageStop)
	}

	s.result.stop = eventID

	return s
}

// Limit caps the number of records, n must be positive.
func (s Specification) Limit(n int) Specification {
	if n <= 0 {
		return s.fail(errors.Join(ErrInvalidPageSize, fmt.Errorf("limit %d", n)))
	}

	s.result.count = n

	return s
}

func (s Specification) Forward() Specification {
	s.result.direction = Forward
	return s
}

func (s Specification) Backward() Specification {
	s.result.direction = Backward
	return s
}

// InBatches switches to batched reading with DefaultBatchSize.
func (s Specification) InBatches() Specification {
	return s.InBatchesOf(DefaultBatchSize)
}

// InBatchesOf switches to batched reading with the given batch size.
func (s Specification) InBatchesOf(size int) Specification {
	if size <= 0 {
		return s.fail(errors.Join(ErrInvalidPageSize, fmt.Errorf("batch size %d", size)))
	}

	s.result.readMode = ReadBatched
	s.result.batchSize = size

	return s
}

func (s Specification) ReadFirst() Specification {
	s.result.readMode = ReadFirst
	return s
}

func (s Specification) ReadLast() Specification {
	s.result.readMode = ReadLast
	return s
}

// OfType restricts the read to the given event types.
func (s Specification) OfType(eventType string, eventTypes ...string) Specification {
	return s.OfTypes(append([]string{eventType}, eventTypes...))
}

// OfTypes restricts the read to the given event types. An empty slice matches nothing.
func (s Specification) OfTypes(eventTypes []string) Specification {
	s.result.withTypes = sanitize(eventTypes)
	return s
}

// WithIDs restricts the read to the given event ids. An empty slice matches nothing.
func (s Specification) WithIDs(eventIDs []string) Specification {
	s.result.withIDs = sanitize(eventIDs)
	return s
}

// AsAt orders by commit time.
func (s Specification) AsAt() Specification {
	s.result.timeSort = SortByTimestamp
	return s
}

// AsOf orders by business-effective time.
func (s Specification) AsOf() Specification {
	s.result.timeSort = SortByValidAt
	return s
}

// NewerThan keeps records committed after t.
func (s Specification) NewerThan(t time.Time) Specification {
	s.result.timeRange.From = t
	s.result.timeRange.FromInclusive = false

	return s
}

// NewerThanOrEqual keeps records committed at or after t.
func (s Specification) NewerThanOrEqual(t time.Time) Specification {
	s.result.timeRange.From = t
	s.result.timeRange.FromInclusive = true

	return s
}

// OlderThan keeps records committed before t.
func (s Specification) OlderThan(t time.Time) Specification {
	s.result.timeRange.To = t
	s.result.timeRange.ToInclusive = false

	return s
}

// OlderThanOrEqual keeps records committed at or before t.
func (s Specification) OlderThanOrEqual(t time.Time) Specification {
	s.result.timeRange.To = t
	s.result.timeRange.ToInclusive = true

	return s
}

// Execute reads all matching events in the order of the Specification.
// After ReadFirst or ReadLast it returns at most one event.
func (s Specification) Execute(ctx context.Context) ([]Event, error) {
	events := make([]Event, 0)

	if s.result.readMode == ReadFirst || s.result.readMode == ReadLast {
		event, ok, err := s.one(ctx)
		if err != nil {
			return nil, err
		}

		if ok {
			events = append(events, event)
		}

		return events, nil
	}

	for event, err := range s.Each(ctx) {
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, nil
}

// Each lazily yields all matching events, reading them in batches.
func (s Specification) Each(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for batch, err := range s.EachBatch(ctx) {
			if err != nil {
				yield(Event{}, err)
				return
			}

			for _, event := range batch {
				if !yield(event, nil) {
					return
				}
			}
		}
	}
}

// EachBatch lazily yields the matching events in batches of the configured batch size.
func (s Specification) EachBatch(ctx context.Context) iter.Seq2[[]Event, error] {
	return func(yield func([]Event, error) bool) {
		if err := s.validate(ctx); err != nil {
			yield(nil, err)
			return
		}

		result := s.result
		result.readMode = ReadBatched

		for records, err := range s.repository.ReadBatches(ctx, result) {
			if err != nil {
				yield(nil, err)
				return
			}

			events, mapErr := s.toEvents(records)
			if mapErr != nil {
				yield(nil, mapErr)
				return
			}

			if !yield(events, nil) {
				return
			}
		}
	}
}

// Count returns the number of matching records.
func (s Specification) Count(ctx context.Context) (int, error) {
	if err := s.validate(ctx); err != nil {
		return 0, err
	}

	return s.repository.Count(ctx, s.result)
}

// First returns the first matching event; ok is false if there is none.
func (s Specification) First(ctx context.Context) (Event, bool, error) {
	return s.ReadFirst().one(ctx)
}

// Last returns the last matching event; ok is false if there is none.
func (s Specification) Last(ctx context.Context) (Event, bool, error) {
	return s.ReadLast().one(ctx)
}

// Event returns the event with the given id inside the scope of the Specification, or ErrEventNotFound.
func (s Specification) Event(ctx context.Context, eventID string) (Event, error) {
	event, ok, err := s.WithIDs([]string{eventID}).ReadFirst().one(ctx)
	if err != nil {
		return Event{}, err
	}

	if !ok {
		return Event{}, errors.Join(ErrEventNotFound, fmt.Errorf("event id %q", eventID))
	}

	return event, nil
}

// Events returns the events with the given ids inside the scope of the Specification.
func (s Specification) Events(ctx context.Context, eventIDs []string) ([]Event, error) {
	return s.WithIDs(eventIDs).Execute(ctx)
}

func (s Specification) one(ctx context.Context) (Event, bool, error) {
	if err := s.validate(ctx); err != nil {
		return Event{}, false, err
	}

	records, err := s.repository.Read(ctx, s.result)
	if err != nil {
		return Event{}, false, err
	}

	if len(records) == 0 {
		return Event{}, false, nil
	}

	event, err := s.mapper.RecordToEvent(records[0])
	if err != nil {
		return Event{}, false, err
	}

	return event, true, nil
}

// validate runs the single validation pass before a read is executed.
func (s Specification) validate(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}

	if s.repository == nil {
		return ErrNilRepository
	}

	for _, cursor := range []string{s.result.start, s.result.stop} {
		if cursor == "" {
			continue
		}

		exists, err := s.repository.HasEvent(ctx, cursor)
		if err != nil {
			return err
		}

		if !exists {
			return errors.Join(ErrEventNotFound, fmt.Errorf("cursor event id %q", cursor))
		}
	}

	return nil
}

func (s Specification) toEvents(records []Record) ([]Event, error) {
	events := make([]Event, 0, len(records))

	for _, record := range records {
		event, err := s.mapper.RecordToEvent(record)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, nil
}
