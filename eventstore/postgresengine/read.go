package postgresengine

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/postgresengine/internal/adapters"
)

// Read implements eventstore.Repository.
//
// Cursor keys are looked up before the read. A cursor that is not part of the read scope yields no records.
func (r *Repository) Read(ctx context.Context, spec eventstore.SpecificationResult) ([]eventstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := r.observer.StartSpan(ctx, eventstore.OperationRead, map[string]string{
		eventstore.LabelStream:   spec.Stream().String(),
		eventstore.LabelReadMode: spec.ReadMode().String(),
	})
	start := time.Now()

	records, err := r.read(ctx, spec)

	duration := time.Since(start)

	if err != nil {
		r.finishWithError(ctx, span, eventstore.OperationRead, eventstore.MetricReadDuration, duration, err)
		return nil, err
	}

	r.observer.Debug(ctx, logMsgOperation+logMsgEventsRead,
		logAttrStream, spec.Stream().String(),
		logAttrEventCount, len(records),
		logAttrDurationMS, toMilliseconds(duration))
	r.recordSuccess(ctx, span, eventstore.OperationRead, eventstore.MetricReadDuration, duration, len(records))

	return records, nil
}

func (r *Repository) read(ctx context.Context, spec eventstore.SpecificationResult) ([]eventstore.Record, error) {
	empty := make([]eventstore.Record, 0)

	start, stop, found, err := r.lookupCursors(ctx, spec)
	if err != nil || !found {
		return empty, err
	}

	readQuery, ok, err := r.queries.readQuery(spec, start, stop)
	if err != nil {
		return nil, r.buildFailed(ctx, err)
	}

	if !ok {
		return empty, nil
	}

	records, err := r.queryRecords(ctx, r.db, eventstore.OperationRead, readQuery)
	if err != nil {
		return nil, err
	}

	if spec.ReadMode() == eventstore.ReadLast && spec.IsLimited() {
		records = records[max(0, len(records)-1):]
	}

	return records, nil
}

// ReadBatches implements eventstore.Repository. Each batch is one OFFSET/LIMIT query.
func (r *Repository) ReadBatches(ctx context.Context, spec eventstore.SpecificationResult) iter.Seq2[[]eventstore.Record, error] {
	return func(yield func([]eventstore.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		start, stop, found, err := r.lookupCursors(ctx, spec)
		if err != nil {
			yield(nil, err)
			return
		}

		if !found {
			return
		}

		enumerator := eventstore.NewBatchEnumerator(
			spec.BatchSize(),
			spec.Count(),
			func(offset, limit int) ([]eventstore.Record, error) {
				batchQuery, ok, err := r.queries.batchQuery(spec, start, stop, offset, limit)
				if err != nil {
					return nil, r.buildFailed(ctx, err)
				}

				if !ok {
					return nil, nil
				}

				return r.queryRecords(ctx, r.db, eventstore.OperationRead, batchQuery)
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

	start, stop, found, err := r.lookupCursors(ctx, spec)
	if err != nil || !found {
		return 0, err
	}

	countQuery, ok, err := r.queries.countQuery(spec, start, stop)
	if err != nil {
		return 0, r.buildFailed(ctx, err)
	}

	if !ok {
		return 0, nil
	}

	count, _, err := r.queryNullInt64(ctx, r.db, eventstore.OperationCount, countQuery)
	if err != nil {
		return 0, err
	}

	return int(count.Int64), nil
}

// lookupCursors resolves the start and stop cursors. It reports false if a cursor is outside the read scope.
func (r *Repository) lookupCursors(
	ctx context.Context,
	spec eventstore.SpecificationResult,
) (start *cursorKey, stop *cursorKey, found bool, err error) {

	if spec.Start() != "" {
		if start, found, err = r.lookupCursor(ctx, spec, spec.Start()); err != nil || !found {
			return nil, nil, false, err
		}
	}

	if spec.Stop() != "" {
		if stop, found, err = r.lookupCursor(ctx, spec, spec.Stop()); err != nil || !found {
			return nil, nil, false, err
		}
	}

	return start, stop, true, nil
}

func (r *Repository) lookupCursor(
	ctx context.Context,
	spec eventstore.SpecificationResult,
	eventID string,
) (*cursorKey, bool, error) {

	cursorQuery, err := r.queries.cursorKeyQuery(spec, eventID)
	if err != nil {
		return nil, false, r.buildFailed(ctx, err)
	}

	rows, err := r.executeQuery(ctx, r.db, operationCursorLookup, cursorQuery)
	if err != nil {
		return nil, false, err
	}
	defer r.closeRows(ctx, rows)

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, false, errors.Join(eventstore.ErrQueryingEventsFailed, err)
		}

		return nil, false, nil
	}

	key := &cursorKey{}

	if spec.TimeSort() == eventstore.SortByPosition {
		err = rows.Scan(&key.sequence)
	} else {
		err = rows.Scan(&key.at, &key.eventID)
	}

	if err != nil {
		r.observer.Error(ctx, logMsgScanRowFailed, err)
		return nil, false, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	return key, true, nil
}

// queryRecords runs a select of the record columns and decodes every row.
func (r *Repository) queryRecords(
	ctx context.Context,
	db adapters.DBQuerier,
	operation string,
	sqlQuery string,
) ([]eventstore.Record, error) {

	rows, err := r.executeQuery(ctx, db, operation, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(ctx, rows)

	records := make([]eventstore.Record, 0)

	for rows.Next() {
		row := eventRow{}

		if err = rows.Scan(&row.eventID, &row.eventType, &row.data, &row.metadata, &row.createdAt, &row.validAt); err != nil {
			r.observer.Error(ctx, logMsgScanRowFailed, err)
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		record, err := r.decode(row)
		if err != nil {
			r.observer.Error(ctx, logMsgDecodeFailed, err, logAttrEventID, row.eventID)
			return nil, err
		}

		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return records, nil
}

func (r *Repository) decode(row eventRow) (eventstore.Record, error) {
	serialized, err := eventstore.BuildSerializedRecord(
		row.eventID,
		row.eventType,
		row.data,
		row.metadata,
		row.createdAt,
		row.validAt,
	)
	if err != nil {
		return eventstore.Record{}, err
	}

	return serialized.Deserialize(r.codec)
}
