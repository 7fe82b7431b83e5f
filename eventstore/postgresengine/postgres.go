package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/postgresengine/internal/adapters"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/serializers"
)

const (
	logMsgBuildQueryFailed  = "failed to build sql query"
	logMsgDBQueryFailed     = "database query execution failed"
	logMsgDBExecFailed      = "database statement execution failed"
	logMsgCloseRowsFailed   = "failed to close database rows"
	logMsgScanRowFailed     = "failed to scan database row"
	logMsgDecodeFailed      = "failed to decode event row"
	logMsgBeginTxFailed     = "failed to begin transaction"
	logMsgCommitTxFailed    = "failed to commit transaction"
	logMsgRollbackTxFailed  = "failed to roll back transaction"
	logMsgAppendRejected    = "append rejected"
	logMsgLinkRejected      = "link rejected"
	logMsgEventsAppended    = "events appended"
	logMsgEventsLinked      = "events linked"
	logMsgEventsRead        = "events read"
	logMsgStreamDeleted     = "stream deleted"
	logMsgSQLExecuted       = "executed sql for: "
	logMsgOperation         = "eventstore operation: "
	logAttrError            = "error"
	logAttrQuery            = "query"
	logAttrStream           = "stream"
	logAttrEventID          = "event_id"
	logAttrEventCount       = "event_count"
	logAttrDurationMS       = "duration_ms"
	logAttrExpectedVersion  = "expected_version"
	logAttrRowsAffected     = "rows_affected"
	logAttrReason           = "reason"
	timestampPrecision      = time.Microsecond
	operationCursorLookup   = "cursor_lookup"
	operationVersionCheck   = "version_check"
	operationStreamsOf      = "streams_of"
	operationPosition       = "position"
	operationHasEvent       = "has_event"
	operationBeginTx        = "begin"
	operationCommitTx       = "commit"
	operationExistenceCheck = "existence_check"
)

// Repository is the PostgreSQL eventstore.Repository.
//
// Events live in one table, stream memberships in a second one with unique (stream, position)
// and (stream, event_id) constraints. Appends and links run in a transaction; the unique
// constraints turn concurrent writers racing for the same position into ErrWrongExpectedVersion.
type Repository struct {
	db       adapters.DBAdapter
	replica  *pgxpool.Pool
	queries  queryBuilder
	codec    eventstore.Codec
	clock    func() time.Time
	observer eventstore.Observer
}

func newRepository(options ...Option) (*Repository, error) {
	r := &Repository{
		queries: newQueryBuilder(),
		codec:   serializers.NewJSON(),
		clock:   time.Now,
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// NewRepositoryFromPGXPool creates a new Repository using a pgx Pool with optional configuration.
func NewRepositoryFromPGXPool(db *pgxpool.Pool, options ...Option) (*Repository, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	r, err := newRepository(options...)
	if err != nil {
		return nil, err
	}

	r.db = adapters.NewPGXAdapter(db)
	if r.replica != nil {
		r.db = adapters.NewPGXAdapterWithReplica(db, r.replica)
	}

	return r, nil
}

// NewRepositoryFromSQLDB creates a new Repository using a sql.DB with optional configuration.
func NewRepositoryFromSQLDB(db *sql.DB, options ...Option) (*Repository, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	r, err := newRepository(options...)
	if err != nil {
		return nil, err
	}

	if r.replica != nil {
		return nil, ErrReplicaRequiresPGXPool
	}

	r.db = adapters.NewSQLAdapter(db)

	return r, nil
}

// NewRepositoryFromSQLX creates a new Repository using a sqlx.DB with optional configuration.
func NewRepositoryFromSQLX(db *sqlx.DB, options ...Option) (*Repository, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	r, err := newRepository(options...)
	if err != nil {
		return nil, err
	}

	if r.replica != nil {
		return nil, ErrReplicaRequiresPGXPool
	}

	r.db = adapters.NewSQLXAdapter(db)

	return r, nil
}

// AppendToStream implements eventstore.Repository.
//
// For ExpectedVersion None, Auto and Explicit the current last position is read inside the transaction;
// for the global stream the events table is locked first. Any stores the memberships without position.
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

	rows, err := r.encode(records)
	if err == nil {
		err = r.withTransaction(ctx, func(tx adapters.DBTx) error {
			return r.appendInTx(ctx, tx, rows, stream, expected)
		})
	}

	duration := time.Since(start)

	if err != nil {
		r.observer.Warn(ctx, logMsgAppendRejected,
			logAttrStream, stream.String(),
			logAttrExpectedVersion, expected.String(),
			logAttrReason, err.Error())
		r.finishWithError(ctx, span, eventstore.OperationAppend, eventstore.MetricAppendDuration, duration, err)

		return err
	}

	r.observer.Info(ctx, logMsgOperation+logMsgEventsAppended,
		logAttrStream, stream.String(),
		logAttrEventCount, len(rows),
		logAttrDurationMS, toMilliseconds(duration))
	r.recordSuccess(ctx, span, eventstore.OperationAppend, eventstore.MetricAppendDuration, duration, len(rows))

	return nil
}

// encode sets missing commit times and serializes data and metadata. Times are truncated to the column precision.
func (r *Repository) encode(records []eventstore.Record) ([]eventRow, error) {
	rows := make([]eventRow, 0, len(records))

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

		record.Timestamp = record.Timestamp.Truncate(timestampPrecision)
		record.ValidAt = record.ValidAt.Truncate(timestampPrecision)

		serialized, err := record.Serialize(r.codec)
		if err != nil {
			return nil, err
		}

		rows = append(rows, eventRow{
			eventID:   serialized.EventID,
			eventType: serialized.EventType,
			data:      serialized.Data,
			metadata:  serialized.Metadata,
			createdAt: record.Timestamp,
			validAt:   record.ValidAt,
		})
	}

	return rows, nil
}

func (r *Repository) appendInTx(
	ctx context.Context,
	tx adapters.DBTx,
	rows []eventRow,
	stream eventstore.Stream,
	expected eventstore.ExpectedVersion,
) error {

	after, err := r.checkExpectedVersion(ctx, tx, stream, expected)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		return nil
	}

	insertStmt, err := r.queries.insertEventsStatement(rows)
	if err != nil {
		return r.buildFailed(ctx, err)
	}

	if _, err = r.executeStatement(ctx, tx, eventstore.OperationAppend, insertStmt); err != nil {
		if isUniqueViolation(err) {
			return errors.Join(eventstore.ErrEventDuplicatedInStream, fmt.Errorf("appending to stream %s", stream), err)
		}

		return err
	}

	if stream.IsGlobal() {
		return nil
	}

	eventIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		eventIDs = append(eventIDs, row.eventID)
	}

	return r.insertMemberships(ctx, tx, eventstore.OperationAppend, stream, eventIDs, after)
}

func (r *Repository) insertMemberships(
	ctx context.Context,
	tx adapters.DBTx,
	operation string,
	stream eventstore.Stream,
	eventIDs []string,
	after *int64,
) error {

	insertStmt, err := r.queries.insertMembershipsStatement(stream, eventIDs, after)
	if err != nil {
		return r.buildFailed(ctx, err)
	}

	if _, err = r.executeStatement(ctx, tx, operation, insertStmt); err != nil {
		if isUniqueViolation(err) {
			return errors.Join(eventstore.ErrWrongExpectedVersion, fmt.Errorf("stream %s changed concurrently", stream), err)
		}

		return err
	}

	return nil
}

// checkExpectedVersion returns the position after which new members go, or nil for ExpectedVersion Any.
func (r *Repository) checkExpectedVersion(
	ctx context.Context,
	tx adapters.DBTx,
	stream eventstore.Stream,
	expected eventstore.ExpectedVersion,
) (*int64, error) {

	if !expected.IsEnforced() {
		return nil, nil
	}

	current, members, err := r.currentPosition(ctx, tx, stream)
	if err != nil {
		return nil, err
	}

	resolved, err := expected.Resolve(func() (int64, bool, error) {
		return current, current != eventstore.PositionDefault, nil
	})
	if err != nil {
		return nil, err
	}

	if resolved != current {
		return nil, errors.Join(
			eventstore.ErrWrongExpectedVersion,
			fmt.Errorf("stream %s: expected %d, current %d", stream, resolved, current),
		)
	}

	// Members appended with Any have no position, the stream is not empty all the same.
	if resolved == eventstore.PositionDefault && members > 0 && !expected.IsAuto() {
		return nil, errors.Join(
			eventstore.ErrWrongExpectedVersion,
			fmt.Errorf("stream %s: expected no events, found %d untracked", stream, members),
		)
	}

	return &current, nil
}

// currentPosition is the last tracked position of a named stream or the last commit index of the global stream.
// It also returns the number of members, which counts the untracked ones of a named stream.
func (r *Repository) currentPosition(ctx context.Context, tx adapters.DBTx, stream eventstore.Stream) (int64, int64, error) {
	if stream.IsGlobal() {
		if _, err := r.executeStatement(ctx, tx, operationVersionCheck, r.queries.lockEventsStatement()); err != nil {
			return 0, 0, err
		}

		countQuery, err := r.queries.countEventsQuery()
		if err != nil {
			return 0, 0, r.buildFailed(ctx, err)
		}

		count, _, err := r.queryNullInt64(ctx, tx, operationVersionCheck, countQuery)
		if err != nil {
			return 0, 0, err
		}

		return count.Int64 - 1, count.Int64, nil
	}

	lastPositionQuery, err := r.queries.lastPositionQuery(stream)
	if err != nil {
		return 0, 0, r.buildFailed(ctx, err)
	}

	rows, err := r.executeQuery(ctx, tx, operationVersionCheck, lastPositionQuery)
	if err != nil {
		return 0, 0, err
	}
	defer r.closeRows(ctx, rows)

	var lastPosition, members sql.NullInt64

	if rows.Next() {
		if err = rows.Scan(&lastPosition, &members); err != nil {
			r.observer.Error(ctx, logMsgScanRowFailed, err)
			return 0, 0, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}
	} else if err = rows.Err(); err != nil {
		return 0, 0, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	if !lastPosition.Valid {
		return eventstore.PositionDefault, members.Int64, nil
	}

	return lastPosition.Int64, members.Int64, nil
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

	err := r.withTransaction(ctx, func(tx adapters.DBTx) error {
		return r.linkInTx(ctx, tx, eventIDs, stream, expected)
	})

	duration := time.Since(start)

	if err != nil {
		r.observer.Warn(ctx, logMsgLinkRejected,
			logAttrStream, stream.String(),
			logAttrExpectedVersion, expected.String(),
			logAttrReason, err.Error())
		r.finishWithError(ctx, span, eventstore.OperationLink, eventstore.MetricLinkDuration, duration, err)

		return err
	}

	r.observer.Info(ctx, logMsgOperation+logMsgEventsLinked,
		logAttrStream, stream.String(),
		logAttrEventCount, len(eventIDs),
		logAttrDurationMS, toMilliseconds(duration))
	r.recordSuccess(ctx, span, eventstore.OperationLink, eventstore.MetricLinkDuration, duration, len(eventIDs))

	return nil
}

func (r *Repository) linkInTx(
	ctx context.Context,
	tx adapters.DBTx,
	eventIDs []string,
	stream eventstore.Stream,
	expected eventstore.ExpectedVersion,
) error {

	if err := r.requireExisting(ctx, tx, eventIDs); err != nil {
		return err
	}

	if stream.IsGlobal() {
		return nil
	}

	after, err := r.checkExpectedVersion(ctx, tx, stream, expected)
	if err != nil {
		return err
	}

	if len(eventIDs) == 0 {
		return nil
	}

	return r.insertMemberships(ctx, tx, eventstore.OperationLink, stream, eventIDs, after)
}

func (r *Repository) requireExisting(ctx context.Context, tx adapters.DBTx, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	existingQuery, err := r.queries.existingEventIDsQuery(eventIDs)
	if err != nil {
		return r.buildFailed(ctx, err)
	}

	existing, err := r.queryStrings(ctx, tx, operationExistenceCheck, existingQuery)
	if err != nil {
		return err
	}

	found := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		found[id] = struct{}{}
	}

	for _, id := range eventIDs {
		if _, ok := found[id]; !ok {
			return errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q", id))
		}
	}

	return nil
}

// HasEvent implements eventstore.Repository. It always asks the primary.
func (r *Repository) HasEvent(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	hasEventQuery, err := r.queries.hasEventQuery(eventID)
	if err != nil {
		return false, r.buildFailed(ctx, err)
	}

	count, _, err := r.queryNullInt64(eventstore.WithStrongConsistency(ctx), r.db, operationHasEvent, hasEventQuery)
	if err != nil {
		return false, err
	}

	return count.Int64 > 0, nil
}

// DeleteStream implements eventstore.Repository. Only the memberships are removed, the events stay.
// Deleting the global stream or an unknown stream does nothing.
func (r *Repository) DeleteStream(ctx context.Context, stream eventstore.Stream) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if stream.IsGlobal() {
		return nil
	}

	deleteStmt, err := r.queries.deleteStreamStatement(stream)
	if err != nil {
		return r.buildFailed(ctx, err)
	}

	rowsAffected, err := r.executeStatement(ctx, r.db, eventstore.OperationDeleteStream, deleteStmt)
	if err != nil {
		return err
	}

	if rowsAffected > 0 {
		r.observer.Info(ctx, logMsgOperation+logMsgStreamDeleted, logAttrStream, stream.String(), logAttrRowsAffected, rowsAffected)
	}

	return nil
}

// StreamsOf implements eventstore.Repository.
func (r *Repository) StreamsOf(ctx context.Context, eventID string) ([]eventstore.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamsOfQuery, err := r.queries.streamsOfQuery(eventID)
	if err != nil {
		return nil, r.buildFailed(ctx, err)
	}

	names, err := r.queryStrings(ctx, r.db, operationStreamsOf, streamsOfQuery)
	if err != nil {
		return nil, err
	}

	streams := make([]eventstore.Stream, 0, len(names))

	for _, name := range names {
		stream, err := eventstore.NewStream(name)
		if err != nil {
			return nil, err
		}

		streams = append(streams, stream)
	}

	return streams, nil
}

// PositionInStream implements eventstore.Repository.
//
// In the global stream the position is the number of events committed before. In a named stream
// members appended or linked with ExpectedVersion Any have no position, they report false.
func (r *Repository) PositionInStream(ctx context.Context, eventID string, stream eventstore.Stream) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	if stream.IsGlobal() {
		return r.globalPosition(ctx, eventID)
	}

	positionQuery, err := r.queries.membershipPositionQuery(stream, eventID)
	if err != nil {
		return 0, false, r.buildFailed(ctx, err)
	}

	position, found, err := r.queryNullInt64(ctx, r.db, operationPosition, positionQuery)
	if err != nil {
		return 0, false, err
	}

	if !found {
		return 0, false, errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q in stream %s", eventID, stream))
	}

	if !position.Valid {
		return eventstore.PositionDefault, false, nil
	}

	return position.Int64, true, nil
}

func (r *Repository) globalPosition(ctx context.Context, eventID string) (int64, bool, error) {
	sequenceQuery, err := r.queries.eventSequenceQuery(eventID)
	if err != nil {
		return 0, false, r.buildFailed(ctx, err)
	}

	sequence, found, err := r.queryNullInt64(ctx, r.db, operationPosition, sequenceQuery)
	if err != nil {
		return 0, false, err
	}

	if !found {
		return 0, false, errors.Join(eventstore.ErrEventNotFound, fmt.Errorf("event id %q", eventID))
	}

	beforeQuery, err := r.queries.eventsBeforeQuery(sequence.Int64)
	if err != nil {
		return 0, false, r.buildFailed(ctx, err)
	}

	before, _, err := r.queryNullInt64(ctx, r.db, operationPosition, beforeQuery)
	if err != nil {
		return 0, false, err
	}

	return before.Int64, true, nil
}

// withTransaction runs fn in a transaction on the primary. The transaction is rolled back if fn fails.
func (r *Repository) withTransaction(ctx context.Context, fn func(tx adapters.DBTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.observer.Error(ctx, logMsgBeginTxFailed, err)
		r.recordDatabaseError(ctx, operationBeginTx, err)

		return errors.Join(eventstore.ErrTransactionFailed, err)
	}

	if err = fn(tx); err != nil {
		if rollbackErr := tx.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil {
			r.observer.Warn(ctx, logMsgRollbackTxFailed, logAttrError, rollbackErr.Error())
		}

		return err
	}

	if err = tx.Commit(ctx); err != nil {
		r.observer.Error(ctx, logMsgCommitTxFailed, err)
		r.recordDatabaseError(ctx, operationCommitTx, err)

		return errors.Join(eventstore.ErrTransactionFailed, err)
	}

	return nil
}

// executeQuery executes the SQL query and logs it with timing information.
func (r *Repository) executeQuery(
	ctx context.Context,
	db adapters.DBQuerier,
	operation string,
	sqlQuery string,
) (adapters.DBRows, error) {

	start := time.Now()
	rows, queryErr := db.Query(ctx, sqlQuery)
	r.logQueryWithDuration(ctx, sqlQuery, operation, time.Since(start))

	if queryErr != nil {
		r.observer.Error(ctx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		r.recordDatabaseError(ctx, operation, queryErr)

		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}

	return rows, nil
}

// executeStatement executes a SQL statement and returns the affected rows.
// Unique violations are returned unwrapped and unlogged, the caller maps them to domain errors.
func (r *Repository) executeStatement(
	ctx context.Context,
	db adapters.DBQuerier,
	operation string,
	sqlStatement string,
) (int64, error) {

	start := time.Now()
	result, execErr := db.Exec(ctx, sqlStatement)
	r.logQueryWithDuration(ctx, sqlStatement, operation, time.Since(start))

	if execErr != nil {
		if isUniqueViolation(execErr) {
			return 0, execErr
		}

		r.observer.Error(ctx, logMsgDBExecFailed, execErr, logAttrQuery, sqlStatement)
		r.recordDatabaseError(ctx, operation, execErr)

		return 0, errors.Join(eventstore.ErrAppendingEventFailed, execErr)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	return rowsAffected, nil
}

// closeRows safely closes database rows and logs any errors.
func (r *Repository) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		r.observer.Warn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// queryNullInt64 reads the first column of the first row. It reports false if there is no row.
func (r *Repository) queryNullInt64(
	ctx context.Context,
	db adapters.DBQuerier,
	operation string,
	sqlQuery string,
) (sql.NullInt64, bool, error) {

	var value sql.NullInt64

	rows, err := r.executeQuery(ctx, db, operation, sqlQuery)
	if err != nil {
		return value, false, err
	}
	defer r.closeRows(ctx, rows)

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return value, false, errors.Join(eventstore.ErrQueryingEventsFailed, err)
		}

		return value, false, nil
	}

	if err = rows.Scan(&value); err != nil {
		r.observer.Error(ctx, logMsgScanRowFailed, err)
		return value, false, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	return value, true, nil
}

// queryStrings reads the first column of all rows.
func (r *Repository) queryStrings(
	ctx context.Context,
	db adapters.DBQuerier,
	operation string,
	sqlQuery string,
) ([]string, error) {

	rows, err := r.executeQuery(ctx, db, operation, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(ctx, rows)

	values := make([]string, 0)

	for rows.Next() {
		var value string
		if err = rows.Scan(&value); err != nil {
			r.observer.Error(ctx, logMsgScanRowFailed, err)
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		values = append(values, value)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return values, nil
}

func (r *Repository) buildFailed(ctx context.Context, err error) error {
	r.observer.Error(ctx, logMsgBuildQueryFailed, err)
	return err
}

var _ eventstore.Repository = (*Repository)(nil)
