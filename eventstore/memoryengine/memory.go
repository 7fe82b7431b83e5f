// Package memoryengine provides the in-memory reference implementation of eventstore.Repository.
//
// All state lives behind one sync.RWMutex: appends, links and deletes take the write lock for the whole
// operation, so no reader ever observes a partially applied write. Reads take the read lock only long
// enough to select the matching records; decoding happens outside the lock.
package memoryengine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/serializers"
)

const (
	logMsgEventsAppended   = "eventstore operation: events appended"
	logMsgEventsLinked     = "eventstore operation: events linked"
	logMsgEventsRead       = "eventstore operation: events read"
	logMsgStreamDeleted    = "eventstore operation: stream deleted"
	logMsgAppendRejected   = "append rejected"
	logMsgLinkRejected     = "link rejected"
	logMsgDecodeFailed     = "failed to decode stored record"
	logAttrStream          = "stream"
	logAttrEventCount      = "event_count"
	logAttrDurationMS      = "duration_ms"
	logAttrExpectedVersion = "expected_version"
	logAttrReason          = "reason"
	logAttrEventID         = "event_id"
)

// storedRecord is one entry of the global storage.
type storedRecord struct {
	serialized  eventstore.SerializedRecord
	timestamp   time.Time
	validAt     time.Time
	globalIndex int64
}

// streamMembers is the ordered membership of one named stream.
type streamMembers struct {
	events []eventstore.EventInStream
	index  map[string]int
}

func (m *streamMembers) lastPosition() (int64, bool, error) {
	if len(m.events) == 0 {
		return 0, false, nil
	}

	return m.events[len(m.events)-1].Position, true, nil
}

// Repository is the in-memory eventstore.Repository.
type Repository struct {
	mu          sync.RWMutex
	storage     map[string]storedRecord
	order       []string
	streams     map[string]*streamMembers
	memberships map[string][]string

	codec    eventstore.Codec
	clock    func() time.Time
	observer eventstore.Observer
}

// NewRepository creates an empty Repository with optional configuration.
func NewRepository(options ...Option) (*Repository, error) {
	r := &Repository{
		storage:     make(map[string]storedRecord),
		order:       make([]string, 0),
		streams:     make(map[string]*streamMembers),
		memberships: make(map[string][]string),
		codec:       serializers.NewJSON(),
		clock:       time.Now,
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// AppendToStream implements eventstore.Repository.
//
// Duplicate detection, expected version resolution and the write happen under one write lock.
// ExpectedVersion None, Auto and Explicit are enforced; Any positions the records after the current end of the stream.
func (r *Repository) AppendToStream(
	ctx context.Context,
	records []eventstore.Record,
	stream eventstore.Stream,
	expected eventstore.ExpectedVersion,
) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := r.observer.StartSpan(ctx, eventstore.OperationAppend, map[string]string{
		eventstore.LabelStream:     stream.String(),
		eventstore.LabelEventCount: fmt.Sprintf("%d", len(records)),
		eventstore.LabelExpected:   expected.String(),
	})
	start := time.Now()

	entries, err := r.encode(records)
	if err != nil {
		r.finishWithError(ctx, span, eventstore.OperationAppend, err)
		return err
	}

	r.mu.Lock()
	err = r.appendLocked(entries, stream, expected)
	r.mu.Unlock()

	duration := time.Since(start)

	if err != nil {
		r.observer.Warn(ctx, logMsgAppendRejected,
			logAttrStream, stream.String(),
			logAttrExpectedVersion, expected.String(),
			logAttrReason, err.Error())
		r.finishWithError(ctx, span, eventstore.OperationAppend, err)

		return err
	}

	r.observer.Info(ctx, logMsgEventsAppended,
		logAttrStream, stream.String(),
		logAttrEventCount, len(entries),
		logAttrDurationMS, toMilliseconds(duration))
	r.recordSuccess(ctx, span, eventstore.OperationAppend, eventstore.MetricAppendDuration, duration, len(entries))

	return nil
}

func (r *Repository) encode(records []eventstore.Record) ([]storedRecord, error) {
	entries := make([]storedRecord, 0, len(records))

	for _, record := range records {
		if record.EventID == "" {
			return nil, eventstore.ErrEmptyEventID
		}

		if record.EventType == "" {
			return nil, eventstore.ErrEmptyEventType
		}

		if record.Timestamp.IsZero() {
			record = record.WithTimestamp(r.clock())
		}

		serialized, err := record.Serialize(r.codec)
		if err != nil {
			return nil, err
		}

		entries = append(entries, storedRecord{
			serialized: serialized,
			timestamp:  record.Timestamp.UTC(),
			validAt:    record.ValidAt.UTC(),
		})
	}

	return entries, nil
}

func (r *Repository) appendLocked(
	entries []storedRecord,
	stream eventstore.Stream,
	expected eventstore.ExpectedVersion,
) error {

	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		id := entry.serialized.EventID

		_, stored := r.storage[id]
		_, inBatch := seen[id]

		if stored || inBatch {
			return errors.Join(eventstore.ErrEventDuplicatedInStream, fmt.Errorf("event id %q", id))
		}

		seen[id] = struct{}{}
	}

	startPosition, err := r.resolveLocked(stream, expected)
	if err != nil {
		return err
	}

	for i, entry := range entries {
		id := entry.serialized.EventID
		entry.globalIndex = int64(len(r.order))
		r.storage[id] = entry
		r.order = append(r.order, id)

		if !stream.IsGlobal() {
			r.addMemberLocked(stream, id, startPosition+int64(i)+1)
		}
	}

	return nil
}

// resolveLocked returns the position after which new members are placed.
func (r *Repository) resolveLocked(stream eventstore.Stream, expected eventstore.ExpectedVersion) (int64, error) {
	lastPosition := r.lastPositionFunc(stream)

	resolved, err := expected.Resolve(lastPosition)
	if err != nil {
		return 0, err
	}

	current, ok, _ := lastPosition()
	if !ok {
		current = eventstore.PositionDefault
	}

	if expected.IsEnforced() && resolved != current {
		return 0, errors.Join(
			eventstore.ErrWrongExpectedVersion,
			fmt.Errorf("stream %s: expected %d, current %d", stream, resolved, current),
		)
	}

	return current, nil
}

func (r *Repository) lastPositionFunc(stream eventstore.Stream) eventstore.LastPositionFunc {
	if stream.IsGlobal() {
		return func() (int64, bool, error) {
			if len(r.order) == 0 {
				return 0, false, nil
			}

			return int64(len(r.order) - 1), true, nil
		}
	}

	members, ok := r.streams[stream.Name()]
	if !ok {
		return func() (int64, bool, error) { return 0, false, nil }
	}

	return members.lastPosition
}

func (r *Repository) addMemberLocked(stream eventstore.Stream, eventID string, position int64) {
	members, ok := r.streams[stream.Name()]
	if !ok {
		members = &streamMembers{index: make(map[string]int)}
		r.streams[stream.Name()] = members
	}

	members.index[eventID] = len(members.events)
	members.events = append(members.events, eventstore.EventInStream{
		EventID:  eventID,
		Position: position,
		Tracked:  true,
	})

	r.memberships[eventID] = append(r.memberships[eventID], stream.Name())
}

// LinkToStream implements eventstore.Repository. Linking to the global stream only checks that the events exist.
func (r *Repository) LinkToStream(
	ctx context.Context,
	eventIDs []string,
	stream eventstore.Stream,
	expected eventstore.ExpectedVersion,
) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := r.observer.StartSpan(ctx, eventstore.OperationLink, map[string]string{
		eventstore.LabelStream:     stream.String(),
		eventstore.LabelEventCount: fmt.Sprintf("%d", len(eventIDs)),
		eventstore.LabelExpected:   expected.String(),
	})
	start := time.Now()

	r.mu.Lock()
	err := r.linkLocked(eventIDs, stream, expected)
	r.mu.Unlock()

	duration := time.Since(start)

	if err != nil {
		r.observer.Warn(ctx, logMsgLinkRejected,
			logAttrStream, stream.String(),
			logAttrExpectedVersion, expected.String(),
			logAttrReason, err.Error())
		r.finishWithError(ctx, span, eventstore.OperationLink, err)

		return err
	}

	r.observer.Info(ctx, logMsgEventsLinked,
		logAttrStream, stream.String(),
		logAttrEventCount, len(eventIDs),
		logAttrDurationMS, toMilliseconds(duration))
	r.recordSuccess(ctx, span, eventstore.OperationLink, eventstore.MetricLinkDuration, duration, 0)

	return nil
}

func (r *Repository) linkLocked(eventIDs []string, stream eventstore.Stream, expected eventstore.ExpectedVersion) error {
	for _, id := range eventIDs {
		if _, ok := r.storage[id]; !ok {
			return errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q", id))
		}
	}

	if stream.IsGlobal() {
		return nil
	}

	seen := make(map[string]struct{}, len(eventIDs))
	members := r.streams[stream.Name()]

	for _, id := range eventIDs {
		_, inBatch := seen[id]
		inStream := false

		if members != nil {
			_, inStream = members.index[id]
		}

		if inBatch || inStream {
			return errors.Join(
				eventstore.ErrWrongExpectedVersion,
				fmt.Errorf("event id %q is already linked to stream %s", id, stream),
			)
		}

		seen[id] = struct{}{}
	}

	startPosition, err := r.resolveLocked(stream, expected)
	if err != nil {
		return err
	}

	for i, id := range eventIDs {
		r.addMemberLocked(stream, id, startPosition+int64(i)+1)
	}

	return nil
}

// Read implements eventstore.Repository.
func (r *Repository) Read(ctx context.Context, spec eventstore.SpecificationResult) ([]eventstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := r.observer.StartSpan(ctx, eventstore.OperationRead, map[string]string{
		eventstore.LabelStream:   spec.Stream().String(),
		eventstore.LabelReadMode: spec.ReadMode().String(),
	})
	start := time.Now()

	r.mu.RLock()
	selected := r.selectLocked(spec)
	r.mu.RUnlock()

	switch spec.ReadMode() {
	case eventstore.ReadFirst:
		selected = selected[:min(1, len(selected))]
	case eventstore.ReadLast:
		selected = selected[max(0, len(selected)-1):]
	}

	records, err := r.decode(selected)
	if err != nil {
		r.finishWithError(ctx, span, eventstore.OperationRead, err)
		return nil, err
	}

	duration := time.Since(start)
	r.observer.Debug(ctx, logMsgEventsRead,
		logAttrStream, spec.Stream().String(),
		logAttrEventCount, len(records),
		logAttrDurationMS, toMilliseconds(duration))
	r.recordSuccess(ctx, span, eventstore.OperationRead, eventstore.MetricReadDuration, duration, len(records))

	return records, nil
}

// ReadBatches implements eventstore.Repository. The matching records are selected once, batches slice that selection.
func (r *Repository) ReadBatches(ctx context.Context, spec eventstore.SpecificationResult) iter.Seq2[[]eventstore.Record, error] {
	return func(yield func([]eventstore.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		r.mu.RLock()
		selected := r.selectLocked(spec)
		r.mu.RUnlock()

		enumerator := eventstore.NewBatchEnumerator(
			spec.BatchSize(),
			len(selected),
			func(offset, limit int) ([]eventstore.Record, error) {
				if offset >= len(selected) {
					return nil, nil
				}

				return r.decode(selected[offset:min(offset+limit, len(selected))])
			},
		)

		for batch, err := range enumerator.All() {
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// Count implements eventstore.Repository.
func (r *Repository) Count(ctx context.Context, spec eventstore.SpecificationResult) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.selectLocked(spec)), nil
}

// HasEvent implements eventstore.Repository.
func (r *Repository) HasEvent(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.storage[eventID]

	return ok, nil
}

// DeleteStream implements eventstore.Repository. Deleting the global stream or an unknown stream does nothing.
func (r *Repository) DeleteStream(ctx context.Context, stream eventstore.Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if stream.IsGlobal() {
		return nil
	}

	r.mu.Lock()

	members, ok := r.streams[stream.Name()]
	if ok {
		for _, member := range members.events {
			r.memberships[member.EventID] = slices.DeleteFunc(r.memberships[member.EventID], func(name string) bool {
				return name == stream.Name()
			})
		}

		delete(r.streams, stream.Name())
	}

	r.mu.Unlock()

	if ok {
		r.observer.Info(ctx, logMsgStreamDeleted, logAttrStream, stream.String(), logAttrEventCount, len(members.events))
	}

	return nil
}

// StreamsOf implements eventstore.Repository.
func (r *Repository) StreamsOf(ctx context.Context, eventID string) ([]eventstore.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	streams := make([]eventstore.Stream, 0, len(r.memberships[eventID]))

	for _, name := range r.memberships[eventID] {
		stream, err := eventstore.NewStream(name)
		if err != nil {
			return nil, err
		}

		streams = append(streams, stream)
	}

	return streams, nil
}

// PositionInStream implements eventstore.Repository. In the global stream the position is the commit index.
func (r *Repository) PositionInStream(ctx context.Context, eventID string, stream eventstore.Stream) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if stream.IsGlobal() {
		entry, ok := r.storage[eventID]
		if !ok {
			return 0, false, errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q", eventID))
		}

		return entry.globalIndex, true, nil
	}

	members, ok := r.streams[stream.Name()]
	if !ok {
		return 0, false, errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q in stream %s", eventID, stream))
	}

	idx, ok := members.index[eventID]
	if !ok {
		return 0, false, errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q in stream %s", eventID, stream))
	}

	member := members.events[idx]

	return member.Position, member.Tracked, nil
}

// selectLocked applies scope, order, direction, cursors, filters and limit. The caller holds at least the read lock.
func (r *Repository) selectLocked(spec eventstore.SpecificationResult) []storedRecord {
	var scope []storedRecord

	if spec.Stream().IsGlobal() {
		scope = make([]storedRecord, 0, len(r.order))
		for _, id := range r.order {
			scope = append(scope, r.storage[id])
		}
	} else if members, ok := r.streams[spec.Stream().Name()]; ok {
		scope = make([]storedRecord, 0, len(members.events))
		for _, member := range members.events {
			scope = append(scope, r.storage[member.EventID])
		}
	}

	switch spec.TimeSort() {
	case eventstore.SortByTimestamp:
		slices.SortStableFunc(scope, func(a, b storedRecord) int {
			return cmp.Or(a.timestamp.Compare(b.timestamp), cmp.Compare(a.serialized.EventID, b.serialized.EventID))
		})
	case eventstore.SortByValidAt:
		slices.SortStableFunc(scope, func(a, b storedRecord) int {
			return cmp.Or(a.validAt.Compare(b.validAt), cmp.Compare(a.serialized.EventID, b.serialized.EventID))
		})
	}

	if spec.IsBackward() {
		slices.Reverse(scope)
	}

	if spec.Start() != "" {
		idx := indexOf(scope, spec.Start())
		if idx < 0 {
			return nil
		}

		scope = scope[idx+1:]
	}

	if spec.Stop() != "" {
		idx := indexOf(scope, spec.Stop())
		if idx < 0 {
			return nil
		}

		scope = scope[:idx]
	}

	selected := make([]storedRecord, 0, len(scope))

	for _, entry := range scope {
		if len(selected) >= spec.Count() {
			break
		}

		if spec.Matches(entry.serialized.EventID, entry.serialized.EventType, entry.timestamp) {
			selected = append(selected, entry)
		}
	}

	return selected
}

func indexOf(scope []storedRecord, eventID string) int {
	return slices.IndexFunc(scope, func(entry storedRecord) bool {
		return entry.serialized.EventID == eventID
	})
}

func (r *Repository) decode(entries []storedRecord) ([]eventstore.Record, error) {
	records := make([]eventstore.Record, 0, len(entries))

	for _, entry := range entries {
		record, err := entry.serialized.Deserialize(r.codec)
		if err != nil {
			r.observer.Error(context.Background(), logMsgDecodeFailed, err, logAttrEventID, entry.serialized.EventID)
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

var _ eventstore.Repository = (*Repository)(nil)
