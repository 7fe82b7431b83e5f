package postgresengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

const (
	defaultEventsTableName  = "events"
	defaultStreamsTableName = "events_in_streams"
	dialectPostgres         = "postgres"
	aliasEvents             = "e"
	aliasStreams            = "s"
	aliasMatching           = "matching"
	colID                   = "id"
	colEventID              = "event_id"
	colEventType            = "event_type"
	colData                 = "data"
	colMetadata             = "metadata"
	colCreatedAt            = "created_at"
	colValidAt              = "valid_at"
	colStream               = "stream"
	colPosition             = "position"
	lockEventsTable         = "LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE"
)

// eventRow is one row of the events table.
type eventRow struct {
	eventID   string
	eventType string
	data      string
	metadata  string
	createdAt time.Time
	validAt   time.Time
}

// cursorKey is the ordering key of a start or stop event: the sequence for position order,
// the time plus event id for time order.
type cursorKey struct {
	sequence int64
	at       time.Time
	eventID  string
}

// queryBuilder renders all SQL of the Repository with goqu, as plain non-prepared statements.
type queryBuilder struct {
	dialect      goqu.DialectWrapper
	eventsTable  string
	streamsTable string
}

func newQueryBuilder() queryBuilder {
	return queryBuilder{
		dialect:      goqu.Dialect(dialectPostgres),
		eventsTable:  defaultEventsTableName,
		streamsTable: defaultStreamsTableName,
	}
}

func (b queryBuilder) events(column string) exp.IdentifierExpression {
	return goqu.I(aliasEvents + "." + column)
}

func (b queryBuilder) streams(column string) exp.IdentifierExpression {
	return goqu.I(aliasStreams + "." + column)
}

// scope selects the events of one stream: all events for the global stream, the members joined otherwise.
func (b queryBuilder) scope(stream eventstore.Stream) *goqu.SelectDataset {
	ds := b.dialect.From(goqu.T(b.eventsTable).As(aliasEvents))

	if stream.IsGlobal() {
		return ds
	}

	return ds.
		InnerJoin(
			goqu.T(b.streamsTable).As(aliasStreams),
			goqu.On(b.streams(colEventID).Eq(b.events(colEventID))),
		).
		Where(b.streams(colStream).Eq(stream.Name()))
}

// sequenceColumn is the commit order of the global stream or the membership order of a named stream.
func (b queryBuilder) sequenceColumn(stream eventstore.Stream) exp.IdentifierExpression {
	if stream.IsGlobal() {
		return b.events(colID)
	}

	return b.streams(colID)
}

func (b queryBuilder) timeColumn(sort eventstore.TimeSort) exp.IdentifierExpression {
	if sort == eventstore.SortByValidAt {
		return b.events(colValidAt)
	}

	return b.events(colCreatedAt)
}

func (b queryBuilder) recordColumns() []any {
	return []any{
		b.events(colEventID),
		b.events(colEventType),
		b.events(colData),
		b.events(colMetadata),
		b.events(colCreatedAt),
		b.events(colValidAt),
	}
}

func (b queryBuilder) orderBy(spec eventstore.SpecificationResult, descending bool) []exp.OrderedExpression {
	order := func(col exp.IdentifierExpression) exp.OrderedExpression {
		if descending {
			return col.Desc()
		}

		return col.Asc()
	}

	if spec.TimeSort() == eventstore.SortByPosition {
		return []exp.OrderedExpression{order(b.sequenceColumn(spec.Stream()))}
	}

	return []exp.OrderedExpression{order(b.timeColumn(spec.TimeSort())), order(b.events(colEventID))}
}

// cursorKeyQuery looks up the ordering key of a cursor event inside the scope of the read.
func (b queryBuilder) cursorKeyQuery(spec eventstore.SpecificationResult, eventID string) (string, error) {
	columns := []any{b.sequenceColumn(spec.Stream())}

	if spec.TimeSort() != eventstore.SortByPosition {
		columns = []any{b.timeColumn(spec.TimeSort()), b.events(colEventID)}
	}

	return toSQL(b.scope(spec.Stream()).Select(columns...).Where(b.events(colEventID).Eq(eventID)))
}

// beyond matches the events ordered after the key (greater) or before it.
func (b queryBuilder) beyond(spec eventstore.SpecificationResult, key cursorKey, greater bool) exp.Expression {
	if spec.TimeSort() == eventstore.SortByPosition {
		col := b.sequenceColumn(spec.Stream())
		if greater {
			return col.Gt(key.sequence)
		}

		return col.Lt(key.sequence)
	}

	at := b.timeColumn(spec.TimeSort())
	id := b.events(colEventID)

	if greater {
		return goqu.Or(at.Gt(key.at), goqu.And(at.Eq(key.at), id.Gt(key.eventID)))
	}

	return goqu.Or(at.Lt(key.at), goqu.And(at.Eq(key.at), id.Lt(key.eventID)))
}

// filtered adds cursors and filters. It reports false if the read cannot match anything.
func (b queryBuilder) filtered(
	ds *goqu.SelectDataset,
	spec eventstore.SpecificationResult,
	start *cursorKey,
	stop *cursorKey,
) (*goqu.SelectDataset, bool) {

	if start != nil {
		ds = ds.Where(b.beyond(spec, *start, spec.IsForward()))
	}

	if stop != nil {
		ds = ds.Where(b.beyond(spec, *stop, spec.IsBackward()))
	}

	if ids, ok := spec.WithIDs(); ok {
		if len(ids) == 0 {
			return ds, false
		}

		ds = ds.Where(b.events(colEventID).In(ids))
	}

	if types, ok := spec.WithTypes(); ok {
		if len(types) == 0 {
			return ds, false
		}

		ds = ds.Where(b.events(colEventType).In(types))
	}

	timeRange := spec.TimeRange()
	createdAt := b.events(colCreatedAt)

	if !timeRange.From.IsZero() {
		if timeRange.FromInclusive {
			ds = ds.Where(createdAt.Gte(timeRange.From))
		} else {
			ds = ds.Where(createdAt.Gt(timeRange.From))
		}
	}

	if !timeRange.To.IsZero() {
		if timeRange.ToInclusive {
			ds = ds.Where(createdAt.Lte(timeRange.To))
		} else {
			ds = ds.Where(createdAt.Lt(timeRange.To))
		}
	}

	return ds, true
}

// selectRecords is the ordered selection without limit.
func (b queryBuilder) selectRecords(
	spec eventstore.SpecificationResult,
	start *cursorKey,
	stop *cursorKey,
	descending bool,
) (*goqu.SelectDataset, bool) {

	ds, ok := b.filtered(b.scope(spec.Stream()).Select(b.recordColumns()...), spec, start, stop)

	return ds.Order(b.orderBy(spec, descending)...), ok
}

// readQuery renders the query for Read. For ReadLast with a limit the caller keeps the last row.
func (b queryBuilder) readQuery(spec eventstore.SpecificationResult, start, stop *cursorKey) (string, bool, error) {
	ds, ok := b.selectRecords(spec, start, stop, spec.IsBackward())
	if !ok {
		return "", false, nil
	}

	switch {
	case spec.ReadMode() == eventstore.ReadFirst:
		ds = ds.Limit(1)

	case spec.ReadMode() == eventstore.ReadLast && !spec.IsLimited():
		ds, _ = b.selectRecords(spec, start, stop, !spec.IsBackward())
		ds = ds.Limit(1)

	case spec.IsLimited():
		ds = ds.Limit(uint(spec.Count()))
	}

	sqlQuery, err := toSQL(ds)

	return sqlQuery, true, err
}

// batchQuery renders one page of a batched read.
func (b queryBuilder) batchQuery(
	spec eventstore.SpecificationResult,
	start *cursorKey,
	stop *cursorKey,
	offset int,
	limit int,
) (string, bool, error) {

	ds, ok := b.selectRecords(spec, start, stop, spec.IsBackward())
	if !ok {
		return "", false, nil
	}

	sqlQuery, err := toSQL(ds.Offset(uint(offset)).Limit(uint(limit)))

	return sqlQuery, true, err
}

// countQuery counts the events a Read with the same spec would return.
func (b queryBuilder) countQuery(spec eventstore.SpecificationResult, start, stop *cursorKey) (string, bool, error) {
	inner, ok := b.filtered(b.scope(spec.Stream()).Select(b.events(colEventID)), spec, start, stop)
	if !ok {
		return "", false, nil
	}

	if spec.IsLimited() {
		inner = inner.Order(b.orderBy(spec, spec.IsBackward())...).Limit(uint(spec.Count()))
	}

	sqlQuery, err := toSQL(b.dialect.From(inner.As(aliasMatching)).Select(goqu.COUNT(goqu.Star())))

	return sqlQuery, true, err
}

func (b queryBuilder) insertEventsStatement(rows []eventRow) (string, error) {
	records := make([]any, 0, len(rows))

	for _, row := range rows {
		records = append(records, goqu.Record{
			colEventID:   row.eventID,
			colEventType: row.eventType,
			colData:      row.data,
			colMetadata:  row.metadata,
			colCreatedAt: row.createdAt,
			colValidAt:   row.validAt,
		})
	}

	return toSQL(b.dialect.Insert(goqu.T(b.eventsTable)).Rows(records...))
}

// insertMembershipsStatement links the events to a named stream. Without an after position the positions are NULL.
func (b queryBuilder) insertMembershipsStatement(stream eventstore.Stream, eventIDs []string, after *int64) (string, error) {
	records := make([]any, 0, len(eventIDs))

	for i, eventID := range eventIDs {
		var position any

		if after != nil {
			position = *after + int64(i) + 1
		}

		records = append(records, goqu.Record{
			colStream:   stream.Name(),
			colPosition: position,
			colEventID:  eventID,
		})
	}

	return toSQL(b.dialect.Insert(goqu.T(b.streamsTable)).Rows(records...))
}

// lastPositionQuery selects the last tracked position and the number of members, untracked ones included.
func (b queryBuilder) lastPositionQuery(stream eventstore.Stream) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.streamsTable)).
		Select(goqu.MAX(colPosition), goqu.COUNT(goqu.Star())).
		Where(goqu.C(colStream).Eq(stream.Name())))
}

func (b queryBuilder) countEventsQuery() (string, error) {
	return toSQL(b.dialect.From(goqu.T(b.eventsTable)).Select(goqu.COUNT(goqu.Star())))
}

// lockEventsStatement serializes enforced appends to the global stream against all other appends.
func (b queryBuilder) lockEventsStatement() string {
	return fmt.Sprintf(lockEventsTable, pq.QuoteIdentifier(b.eventsTable))
}

func (b queryBuilder) existingEventIDsQuery(eventIDs []string) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.eventsTable)).
		Select(goqu.C(colEventID)).
		Where(goqu.C(colEventID).In(eventIDs)))
}

func (b queryBuilder) hasEventQuery(eventID string) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.eventsTable)).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colEventID).Eq(eventID)))
}

func (b queryBuilder) eventSequenceQuery(eventID string) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.eventsTable)).
		Select(goqu.C(colID)).
		Where(goqu.C(colEventID).Eq(eventID)))
}

// eventsBeforeQuery counts the events committed before the given sequence, which is the global position.
func (b queryBuilder) eventsBeforeQuery(sequence int64) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.eventsTable)).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colID).Lt(sequence)))
}

func (b queryBuilder) membershipPositionQuery(stream eventstore.Stream, eventID string) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.streamsTable)).
		Select(goqu.C(colPosition)).
		Where(goqu.C(colStream).Eq(stream.Name()), goqu.C(colEventID).Eq(eventID)))
}

func (b queryBuilder) streamsOfQuery(eventID string) (string, error) {
	return toSQL(b.dialect.
		From(goqu.T(b.streamsTable)).
		Select(goqu.C(colStream)).
		Where(goqu.C(colEventID).Eq(eventID)).
		Order(goqu.C(colID).Asc()))
}

func (b queryBuilder) deleteStreamStatement(stream eventstore.Stream) (string, error) {
	return toSQL(b.dialect.Delete(goqu.T(b.streamsTable)).Where(goqu.C(colStream).Eq(stream.Name())))
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func toSQL(builder sqlBuilder) (string, error) {
	sqlQuery, _, err := builder.ToSQL()
	if err != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}
