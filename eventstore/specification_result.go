package eventstore

import (
	"slices"
	"time"
)

// Direction of a read.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}

	return "forward"
}

// ReadMode shapes the result of a read.
type ReadMode int

const (
	ReadAll ReadMode = iota
	ReadBatched
	ReadFirst
	ReadLast
)

func (m ReadMode) String() string {
	switch m {
	case ReadBatched:
		return "batched"
	case ReadFirst:
		return "first"
	case ReadLast:
		return "last"
	default:
		return "all"
	}
}

// TimeSort orders records by one of their times instead of by position.
type TimeSort int

const (
	// SortByPosition keeps stream position (global commit order for the global stream).
	SortByPosition TimeSort = iota
	// SortByTimestamp orders by commit time.
	SortByTimestamp
	// SortByValidAt orders by business-effective time.
	SortByValidAt
)

// TimeRange bounds the commit time of the records to read. Zero bounds are open.
type TimeRange struct {
	From          time.Time
	FromInclusive bool
	To            time.Time
	ToInclusive   bool
}

// IsOpen reports whether no bound is set.
func (r TimeRange) IsOpen() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t is inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() {
		if t.Before(r.From) || (!r.FromInclusive && t.Equal(r.From)) {
			return false
		}
	}

	if !r.To.IsZero() {
		if t.After(r.To) || (!r.ToInclusive && t.Equal(r.To)) {
			return false
		}
	}

	return true
}

// SpecificationResult is the immutable description of a read, handed to a Repository.
type SpecificationResult struct {
	stream    Stream
	start     string
	stop      string
	direction Direction
	readMode  ReadMode
	batchSize int
	count     int
	withIDs   []string
	withTypes []string
	timeSort  TimeSort
	timeRange TimeRange
}

// NewSpecificationResult returns the default read: global stream, forward, all records, unlimited.
func NewSpecificationResult() SpecificationResult {
	return SpecificationResult{
		stream:    GlobalStream(),
		direction: Forward,
		readMode:  ReadAll,
		batchSize: DefaultBatchSize,
		count:     Unlimited,
	}
}

func (r SpecificationResult) Stream() Stream {
	return r.stream
}

// Start is the exclusive start cursor, empty if unset.
func (r SpecificationResult) Start() string {
	return r.start
}

// Stop is the exclusive stop cursor, empty if unset.
func (r SpecificationResult) Stop() string {
	return r.stop
}

func (r SpecificationResult) Direction() Direction {
	return r.direction
}

func (r SpecificationResult) IsForward() bool {
	return r.direction == Forward
}

func (r SpecificationResult) IsBackward() bool {
	return r.direction == Backward
}

func (r SpecificationResult) ReadMode() ReadMode {
	return r.readMode
}

func (r SpecificationResult) BatchSize() int {
	return r.batchSize
}

// Count is the maximum number of records to read, Unlimited if unset.
func (r SpecificationResult) Count() int {
	return r.count
}

func (r SpecificationResult) IsLimited() bool {
	return r.count != Unlimited
}

// WithIDs returns the id allow-list; ok is false if no allow-list is set. An empty allow-list matches nothing.
func (r SpecificationResult) WithIDs() (ids []string, ok bool) {
	return slices.Clone(r.withIDs), r.withIDs != nil
}

// WithTypes returns the type allow-list; ok is false if no allow-list is set. An empty allow-list matches nothing.
func (r SpecificationResult) WithTypes() (types []string, ok bool) {
	return slices.Clone(r.withTypes), r.withTypes != nil
}

func (r SpecificationResult) TimeSort() TimeSort {
	return r.timeSort
}

func (r SpecificationResult) TimeRange() TimeRange {
	return r.timeRange
}

// Matches applies the id, type and time range filters to a single record.
func (r SpecificationResult) Matches(eventID, eventType string, timestamp time.Time) bool {
	if r.withIDs != nil && !slices.Contains(r.withIDs, eventID) {
		return false
	}

	if r.withTypes != nil && !slices.Contains(r.withTypes, eventType) {
		return false
	}

	return r.timeRange.Contains(timestamp)
}

// sanitize sorts and de-duplicates an allow-list. The result is never nil: once set, even an empty list
// restricts the read, so a nil input matches nothing.
func sanitize(values []string) []string {
	sanitized := make([]string, 0, len(values))
	sanitized = append(sanitized, values...)
	slices.Sort(sanitized)

	return slices.Compact(sanitized)
}
