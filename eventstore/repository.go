package eventstore

import (
	"context"
	"iter"
)

// Repository is the storage contract every engine implements.
//
// Appends and links are all-or-nothing: on failure no record and no stream membership of the call is visible.
// Implementations must raise ErrWrongExpectedVersion when an enforced ExpectedVersion does not match,
// and ErrEventDuplicatedInStream when an appended event id already exists.
type Repository interface {
	// AppendToStream stores the records and adds them to the stream, positioned in input order.
	AppendToStream(ctx context.Context, records []Record, stream Stream, expected ExpectedVersion) error

	// LinkToStream adds already stored events to another stream. Fails with ErrEventNotFound for unknown ids.
	LinkToStream(ctx context.Context, eventIDs []string, stream Stream, expected ExpectedVersion) error

	// Read returns the records matching spec. For ReadFirst and ReadLast, at most one record is returned.
	Read(ctx context.Context, spec SpecificationResult) ([]Record, error)

	// ReadBatches lazily returns the records matching spec in batches of spec.BatchSize().
	ReadBatches(ctx context.Context, spec SpecificationResult) iter.Seq2[[]Record, error]

	HasEvent(ctx context.Context, eventID string) (bool, error)

	// DeleteStream removes the stream membership only, the events stay in the global stream.
	DeleteStream(ctx context.Context, stream Stream) error

	Count(ctx context.Context, spec SpecificationResult) (int, error)

	// StreamsOf returns the named streams containing the event, in the order the event was added to them.
	StreamsOf(ctx context.Context, eventID string) ([]Stream, error)

	// PositionInStream returns the position of the event in the stream. ok is false for an untracked position.
	// Fails with ErrEventNotFound if the event is not part of the stream.
	PositionInStream(ctx context.Context, eventID string, stream Stream) (position int64, ok bool, err error)
}
