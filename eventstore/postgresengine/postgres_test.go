package postgresengine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/postgresengine"
	"github.com/AntonStoeckl/streams-eventstore-go/testutil/observability/testdoubles"
	"github.com/AntonStoeckl/streams-eventstore-go/testutil/postgresengine/postgreswrapper"
)

func givenRecord(t *testing.T, eventType string, at time.Time) eventstore.Record {
	t.Helper()

	record, err := eventstore.BuildRecord(
		postgreswrapper.GivenUniqueID(t),
		eventType,
		map[string]any{"order_id": "4711", "lines": []any{"a", "b"}, "total": 12.5},
		map[string]any{"correlation_id": "c-1"},
		at,
		time.Time{},
	)
	require.NoError(t, err, "error in arranging test data")

	return record
}

func givenRecords(t *testing.T, count int, eventType string) []eventstore.Record {
	t.Helper()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := make([]eventstore.Record, 0, count)

	for i := range count {
		records = append(records, givenRecord(t, eventType, start.Add(time.Duration(i)*time.Second)))
	}

	return records
}

func givenStream(t *testing.T) eventstore.Stream {
	t.Helper()

	stream, err := eventstore.NewStream("Order$" + postgreswrapper.GivenUniqueID(t))
	require.NoError(t, err, "error in arranging test data")

	return stream
}

func givenAppended(
	t *testing.T,
	repository *postgresengine.Repository,
	stream eventstore.Stream,
	records ...eventstore.Record,
) {

	t.Helper()

	err := repository.AppendToStream(context.Background(), records, stream, eventstore.AnyVersion())
	require.NoError(t, err, "error in arranging test data")
}

func eventIDsOf(records []eventstore.Record) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.EventID)
	}

	return ids
}

func eventIDsOfEvents(events []eventstore.Event) []string {
	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID())
	}

	return ids
}

func readerFor(repository *postgresengine.Repository) eventstore.Specification {
	return eventstore.NewSpecification(repository, eventstore.NewDefaultMapper())
}

func Test_AppendToStream_When_ReadBack_ItReturnsTheRecordsInOrder(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	records := givenRecords(t, 3, "OrderPlaced")

	// act
	err := repository.AppendToStream(ctx, records, stream, eventstore.NoneVersion())

	// assert
	require.NoError(t, err)

	spec := readerFor(repository).Stream(stream.Name()).Result()
	stored, err := repository.Read(ctx, spec)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	for i := range records {
		assert.True(t, records[i].Equal(stored[i]), "record %d differs after the round trip", i)
	}

	global, err := repository.Read(ctx, eventstore.NewSpecificationResult())
	require.NoError(t, err)
	assert.Equal(t, eventIDsOf(records), eventIDsOf(global))
}

func Test_AppendToStream_When_TheTimestampIsMissing_ItUsesTheClock(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	repository := postgreswrapper.CreateWrapperWithTestConfig(t, postgresengine.WithClock(func() time.Time { return fixed })).Repository()

	// arrange
	record := givenRecord(t, "OrderPlaced", time.Time{})

	// act
	err := repository.AppendToStream(ctx, []eventstore.Record{record}, eventstore.GlobalStream(), eventstore.AnyVersion())

	// assert
	require.NoError(t, err)

	stored, err := repository.Read(ctx, eventstore.NewSpecificationResult())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, fixed.Truncate(time.Microsecond).Equal(stored[0].Timestamp))
	assert.True(t, stored[0].Timestamp.Equal(stored[0].ValidAt))
}

func Test_AppendToStream_When_TheExpectedVersionDoesNotMatch_ItFailsWithoutSideEffects(t *testing.T) {
	testCases := []struct {
		description string
		expected    eventstore.ExpectedVersion
		shouldFail  bool
	}{
		{description: "none on a non-empty stream", expected: eventstore.NoneVersion(), shouldFail: true},
		{description: "exact version behind", expected: eventstore.ExactVersion(0), shouldFail: true},
		{description: "exact version ahead", expected: eventstore.ExactVersion(5), shouldFail: true},
		{description: "exact version matching", expected: eventstore.ExactVersion(1), shouldFail: false},
		{description: "auto", expected: eventstore.AutoVersion(), shouldFail: false},
		{description: "any", expected: eventstore.AnyVersion(), shouldFail: false},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// setup
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

			// arrange
			stream := givenStream(t)
			err := repository.AppendToStream(ctx, givenRecords(t, 2, "OrderPlaced"), stream, eventstore.NoneVersion())
			require.NoError(t, err, "error in arranging test data")
			next := givenRecords(t, 2, "OrderShipped")

			// act
			err = repository.AppendToStream(ctx, next, stream, tc.expected)

			// assert
			count, countErr := repository.Count(ctx, readerFor(repository).Stream(stream.Name()).Result())
			require.NoError(t, countErr)

			if tc.shouldFail {
				assert.ErrorIs(t, err, eventstore.ErrWrongExpectedVersion)
				assert.Equal(t, 2, count)

				exists, hasErr := repository.HasEvent(ctx, next[0].EventID)
				require.NoError(t, hasErr)
				assert.False(t, exists, "a rejected append must not store any event")

				return
			}

			assert.NoError(t, err)
			assert.Equal(t, 4, count)
		})
	}
}

func Test_AppendToStream_When_TheGlobalStreamIsEnforced_ItChecksTheCommitIndex(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()
	global := eventstore.GlobalStream()

	// act
	firstErr := repository.AppendToStream(ctx, givenRecords(t, 2, "OrderPlaced"), global, eventstore.NoneVersion())
	conflictErr := repository.AppendToStream(ctx, givenRecords(t, 1, "OrderPlaced"), global, eventstore.ExactVersion(0))
	matchingErr := repository.AppendToStream(ctx, givenRecords(t, 1, "OrderPlaced"), global, eventstore.ExactVersion(1))

	// assert
	assert.NoError(t, firstErr)
	assert.ErrorIs(t, conflictErr, eventstore.ErrWrongExpectedVersion)
	assert.NoError(t, matchingErr)
}

func Test_AppendToStream_When_AnEventIDExists_ItFailsAtomically(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	existing := givenRecord(t, "OrderPlaced", time.Now())
	givenAppended(t, repository, stream, existing)
	fresh := givenRecord(t, "OrderShipped", time.Now())

	// act
	err := repository.AppendToStream(ctx, []eventstore.Record{fresh, existing}, stream, eventstore.AnyVersion())

	// assert
	assert.ErrorIs(t, err, eventstore.ErrEventDuplicatedInStream)

	exists, hasErr := repository.HasEvent(ctx, fresh.EventID)
	require.NoError(t, hasErr)
	assert.False(t, exists)
}

func Test_AppendToStream_When_ManyWritersRace_ExactlyOneWins(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	const writers = 8
	batches := make([][]eventstore.Record, 0, writers)
	for range writers {
		batches = append(batches, givenRecords(t, 1, "OrderPlaced"))
	}

	var succeeded, conflicted atomic.Int32
	var wg sync.WaitGroup

	// act
	for _, batch := range batches {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repository.AppendToStream(ctx, batch, stream, eventstore.NoneVersion())
			if err == nil {
				succeeded.Add(1)
				return
			}

			if errors.Is(err, eventstore.ErrWrongExpectedVersion) {
				conflicted.Add(1)
			}
		}()
	}

	wg.Wait()

	// assert
	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(writers-1), conflicted.Load())
}

func Test_AppendToStream_When_TheVersionIsAny_PositionsAreUntracked(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	tracked := givenRecord(t, "OrderPlaced", time.Now())
	untracked := givenRecord(t, "OrderShipped", time.Now())
	require.NoError(t, repository.AppendToStream(ctx, []eventstore.Record{tracked}, stream, eventstore.NoneVersion()))
	require.NoError(t, repository.AppendToStream(ctx, []eventstore.Record{untracked}, stream, eventstore.AnyVersion()))

	// act
	trackedPosition, trackedOK, trackedErr := repository.PositionInStream(ctx, tracked.EventID, stream)
	untrackedPosition, untrackedOK, untrackedErr := repository.PositionInStream(ctx, untracked.EventID, stream)
	globalPosition, globalOK, globalErr := repository.PositionInStream(ctx, untracked.EventID, eventstore.GlobalStream())
	_, _, missingErr := repository.PositionInStream(ctx, "unknown", stream)

	// assert
	require.NoError(t, trackedErr)
	require.NoError(t, untrackedErr)
	require.NoError(t, globalErr)
	assert.Equal(t, int64(0), trackedPosition)
	assert.True(t, trackedOK)
	assert.Equal(t, eventstore.PositionDefault, untrackedPosition)
	assert.False(t, untrackedOK)
	assert.Equal(t, int64(1), globalPosition)
	assert.True(t, globalOK)
	assert.ErrorIs(t, missingErr, eventstore.ErrEventNotFound)
}

func Test_AppendToStream_When_OnlyUntrackedMembersExist_TheStreamIsNotEmpty(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	testCases := []struct {
		description   string
		expected      eventstore.ExpectedVersion
		expectedError error
	}{
		{description: "none", expected: eventstore.NoneVersion(), expectedError: eventstore.ErrWrongExpectedVersion},
		{description: "exact before the first position", expected: eventstore.ExactVersion(-1), expectedError: eventstore.ErrWrongExpectedVersion},
		{description: "auto", expected: eventstore.AutoVersion()},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// arrange
			stream := givenStream(t)
			untracked := givenRecord(t, "OrderPlaced", time.Now())
			require.NoError(t, repository.AppendToStream(ctx, []eventstore.Record{untracked}, stream, eventstore.AnyVersion()))

			// act
			err := repository.AppendToStream(ctx, []eventstore.Record{givenRecord(t, "OrderShipped", time.Now())}, stream, tc.expected)

			// assert
			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
			} else {
				assert.NoError(t, err)
			}

			count, countErr := repository.Count(ctx, readerFor(repository).Stream(stream.Name()).Result())
			require.NoError(t, countErr)

			if tc.expectedError != nil {
				assert.Equal(t, 1, count)
			} else {
				assert.Equal(t, 2, count)
			}
		})
	}
}

func Test_LinkToStream(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	source := givenStream(t)
	target := givenStream(t)
	records := givenRecords(t, 2, "OrderPlaced")
	givenAppended(t, repository, source, records...)

	// act
	linkErr := repository.LinkToStream(ctx, eventIDsOf(records), target, eventstore.NoneVersion())
	duplicateErr := repository.LinkToStream(ctx, []string{records[0].EventID}, target, eventstore.AnyVersion())
	unknownErr := repository.LinkToStream(ctx, []string{"unknown"}, target, eventstore.AnyVersion())
	globalErr := repository.LinkToStream(ctx, []string{records[0].EventID}, eventstore.GlobalStream(), eventstore.AnyVersion())

	// assert
	require.NoError(t, linkErr)
	assert.ErrorIs(t, duplicateErr, eventstore.ErrWrongExpectedVersion)
	assert.ErrorIs(t, unknownErr, eventstore.ErrEventNotFound)
	assert.NoError(t, globalErr)

	linked, err := repository.Read(ctx, readerFor(repository).Stream(target.Name()).Result())
	require.NoError(t, err)
	assert.Equal(t, eventIDsOf(records), eventIDsOf(linked))

	streams, err := repository.StreamsOf(ctx, records[1].EventID)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.Stream{source, target}, streams)

	position, ok, err := repository.PositionInStream(ctx, records[1].EventID, target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), position)
}

func Test_DeleteStream_When_AStreamIsDeleted_ItsEventsStayGlobal(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	records := givenRecords(t, 3, "OrderPlaced")
	givenAppended(t, repository, stream, records...)

	// act
	err := repository.DeleteStream(ctx, stream)
	unknownErr := repository.DeleteStream(ctx, givenStream(t))
	globalErr := repository.DeleteStream(ctx, eventstore.GlobalStream())

	// assert
	require.NoError(t, err)
	assert.NoError(t, unknownErr)
	assert.NoError(t, globalErr)

	inStream, err := repository.Count(ctx, readerFor(repository).Stream(stream.Name()).Result())
	require.NoError(t, err)
	assert.Equal(t, 0, inStream)

	global, err := repository.Count(ctx, eventstore.NewSpecificationResult())
	require.NoError(t, err)
	assert.Equal(t, 3, global)

	streams, err := repository.StreamsOf(ctx, records[0].EventID)
	require.NoError(t, err)
	assert.Empty(t, streams)
}

func Test_Read_When_CursorsAreGiven_TheyAreExclusive(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	other := givenStream(t)
	records := givenRecords(t, 5, "OrderPlaced")
	foreign := givenRecord(t, "OrderPlaced", time.Now())
	givenAppended(t, repository, stream, records...)
	givenAppended(t, repository, other, foreign)
	ids := eventIDsOf(records)
	reader := readerFor(repository).Stream(stream.Name())

	// act
	forward, forwardErr := reader.StartFrom(ids[0]).To(ids[4]).Execute(ctx)
	backward, backwardErr := reader.Backward().StartFrom(ids[3]).Execute(ctx)
	outOfScope, outOfScopeErr := reader.StartFrom(foreign.EventID).Execute(ctx)
	_, unknownErr := reader.StartFrom("unknown").Execute(ctx)

	// assert
	require.NoError(t, forwardErr)
	require.NoError(t, backwardErr)
	require.NoError(t, outOfScopeErr)
	assert.Equal(t, ids[1:4], eventIDsOfEvents(forward))
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, eventIDsOfEvents(backward))
	assert.Empty(t, outOfScope)
	assert.ErrorIs(t, unknownErr, eventstore.ErrEventNotFound)
}

func Test_Read_When_FiltersAndLimitsAreGiven(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	placed := givenRecords(t, 3, "OrderPlaced")
	shipped := givenRecords(t, 2, "OrderShipped")
	givenAppended(t, repository, stream, append(append([]eventstore.Record{}, placed...), shipped...)...)
	reader := readerFor(repository).Stream(stream.Name())

	// act
	ofType, ofTypeErr := reader.OfType("OrderShipped").Execute(ctx)
	limited, limitedErr := reader.Backward().Limit(2).Execute(ctx)
	byIDs, byIDsErr := reader.Events(ctx, []string{placed[2].EventID, placed[0].EventID})
	first, firstOK, firstErr := reader.First(ctx)
	last, lastOK, lastErr := reader.Last(ctx)
	lastOfLimit, _, lastOfLimitErr := reader.Limit(2).Last(ctx)
	count, countErr := reader.Limit(4).Count(ctx)
	noneAllowed, noneAllowedErr := reader.OfTypes([]string{}).Count(ctx)

	// assert
	require.NoError(t, ofTypeErr)
	require.NoError(t, limitedErr)
	require.NoError(t, byIDsErr)
	require.NoError(t, firstErr)
	require.NoError(t, lastErr)
	require.NoError(t, lastOfLimitErr)
	require.NoError(t, countErr)
	require.NoError(t, noneAllowedErr)

	assert.Equal(t, eventIDsOf(shipped), eventIDsOfEvents(ofType))
	assert.Equal(t, []string{shipped[1].EventID, shipped[0].EventID}, eventIDsOfEvents(limited))
	assert.Equal(t, []string{placed[0].EventID, placed[2].EventID}, eventIDsOfEvents(byIDs))
	assert.True(t, firstOK)
	assert.Equal(t, placed[0].EventID, first.ID())
	assert.True(t, lastOK)
	assert.Equal(t, shipped[1].EventID, last.ID())
	assert.Equal(t, placed[1].EventID, lastOfLimit.ID())
	assert.Equal(t, 4, count)
	assert.Equal(t, 0, noneAllowed)
}

func Test_Read_When_OrderedByTime(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []eventstore.Record

	for i, validOffset := range []int{3, 1, 2} {
		record, err := eventstore.BuildRecord(
			postgreswrapper.GivenUniqueID(t),
			"PriceChanged",
			map[string]any{"n": i},
			nil,
			base.Add(time.Duration(i)*time.Hour),
			base.Add(-time.Duration(validOffset)*24*time.Hour),
		)
		require.NoError(t, err)

		records = append(records, record)
	}

	givenAppended(t, repository, stream, records...)
	reader := readerFor(repository).Stream(stream.Name())

	// act
	asOf, asOfErr := reader.AsOf().Execute(ctx)
	asAt, asAtErr := reader.AsAt().Backward().Execute(ctx)
	newer, newerErr := reader.NewerThan(base).Execute(ctx)
	olderOrEqual, olderErr := reader.OlderThanOrEqual(base.Add(time.Hour)).Execute(ctx)
	afterCursor, cursorErr := reader.AsOf().StartFrom(records[0].EventID).Execute(ctx)

	// assert
	require.NoError(t, asOfErr)
	require.NoError(t, asAtErr)
	require.NoError(t, newerErr)
	require.NoError(t, olderErr)
	require.NoError(t, cursorErr)

	assert.Equal(t, []string{records[0].EventID, records[2].EventID, records[1].EventID}, eventIDsOfEvents(asOf))
	assert.Equal(t, []string{records[2].EventID, records[1].EventID, records[0].EventID}, eventIDsOfEvents(asAt))
	assert.Equal(t, []string{records[1].EventID, records[2].EventID}, eventIDsOfEvents(newer))
	assert.Equal(t, []string{records[0].EventID, records[1].EventID}, eventIDsOfEvents(olderOrEqual))
	assert.Equal(t, []string{records[2].EventID, records[1].EventID}, eventIDsOfEvents(afterCursor))
}

func Test_ReadBatches_When_TheResultSpansSeveralBatches(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTestConfig(t).Repository()

	// arrange
	stream := givenStream(t)
	records := givenRecords(t, 7, "OrderPlaced")
	givenAppended(t, repository, stream, records...)
	reader := readerFor(repository).Stream(stream.Name())

	testCases := []struct {
		description   string
		spec          eventstore.Specification
		expectedSizes []int
	}{
		{description: "unlimited", spec: reader.InBatchesOf(3), expectedSizes: []int{3, 3, 1}},
		{description: "limit below the total", spec: reader.InBatchesOf(3).Limit(5), expectedSizes: []int{3, 2}},
		{description: "batch size above the total", spec: reader.InBatchesOf(100), expectedSizes: []int{7}},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// act
			var sizes []int
			var ids []string

			for batch, err := range tc.spec.EachBatch(ctx) {
				require.NoError(t, err)

				sizes = append(sizes, len(batch))
				ids = append(ids, eventIDsOfEvents(batch)...)
			}

			// assert
			assert.Equal(t, tc.expectedSizes, sizes)
			assert.Equal(t, eventIDsOf(records)[:len(ids)], ids)
		})
	}
}

func Test_Repository_When_CustomTableNamesAreConfigured(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repository := postgreswrapper.CreateWrapperWithTables(t, "custom_events", "custom_events_in_streams").Repository()

	// arrange
	stream := givenStream(t)
	records := givenRecords(t, 2, "OrderPlaced")

	// act
	err := repository.AppendToStream(ctx, records, stream, eventstore.NoneVersion())

	// assert
	require.NoError(t, err)

	count, err := repository.Count(ctx, readerFor(repository).Stream(stream.Name()).Result())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func Test_Read_When_EventualConsistencyIsRequested_ItReadsFromTheReplica(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repository := postgreswrapper.CreatePGXWrapperWithReplica(t).Repository()

	// arrange
	stream := givenStream(t)
	records := givenRecords(t, 2, "OrderPlaced")
	givenAppended(t, repository, stream, records...)
	spec := readerFor(repository).Stream(stream.Name()).Result()

	// act & assert
	assert.Eventually(t, func() bool {
		stored, err := repository.Read(eventstore.WithEventualConsistency(ctx), spec)
		return err == nil && len(stored) == len(records)
	}, 5*time.Second, 50*time.Millisecond)

	exists, err := repository.HasEvent(eventstore.WithEventualConsistency(ctx), records[0].EventID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func Test_Repository_When_ObservabilityIsConfigured_ItLogsMetersAndTraces(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logHandler := testdoubles.NewLogHandlerSpy(false)
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	repository := postgreswrapper.CreateWrapperWithTestConfig(
		t,
		postgresengine.WithLogger(slog.New(logHandler)),
		postgresengine.WithMetrics(metrics),
		postgresengine.WithTracing(tracing),
	).Repository()

	// arrange
	stream := givenStream(t)

	// act
	appendErr := repository.AppendToStream(ctx, givenRecords(t, 2, "OrderPlaced"), stream, eventstore.NoneVersion())
	conflictErr := repository.AppendToStream(ctx, givenRecords(t, 1, "OrderPlaced"), stream, eventstore.NoneVersion())
	_, readErr := repository.Read(ctx, readerFor(repository).Stream(stream.Name()).Result())

	// assert
	require.NoError(t, appendErr)
	require.ErrorIs(t, conflictErr, eventstore.ErrWrongExpectedVersion)
	require.NoError(t, readErr)

	assert.True(t, logHandler.HasMessage(slog.LevelInfo, "eventstore operation: events appended"))
	assert.True(t, logHandler.HasAttribute("eventstore operation: events appended", "duration_ms"))
	assert.True(t, logHandler.HasMessage(slog.LevelWarn, "append rejected"))
	assert.True(t, logHandler.HasMessage(slog.LevelDebug, "executed sql for: "+eventstore.OperationRead))

	assert.True(t, metrics.HasDurationRecordForMetric(eventstore.MetricAppendDuration))
	assert.True(t, metrics.HasDurationRecordForMetric(eventstore.MetricReadDuration))
	assert.True(t, metrics.HasCounterRecordForMetric(eventstore.MetricConcurrencyConflicts))
	assert.Equal(t, float64(2), metrics.SumOfValues(eventstore.MetricEventsAppended))
	assert.Equal(t, float64(2), metrics.SumOfValues(eventstore.MetricEventsRead))

	readSpan, found := tracing.FindSpan("eventstore.read")
	require.True(t, found)
	assert.True(t, readSpan.Finished)
	assert.Equal(t, eventstore.StatusSuccess, readSpan.Status)
	assert.Equal(t, stream.Name(), readSpan.StartAttributes[eventstore.LabelStream])

	conflicted := 0
	for _, span := range tracing.GetSpanRecords() {
		if span.Name == "eventstore.append" && span.Status == eventstore.StatusConflict {
			conflicted++
		}
	}

	assert.Equal(t, 1, conflicted)
}

func Test_Repository_When_AContextualLoggerIsConfigured_ItIsPreferred(t *testing.T) {
	// setup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logHandler := testdoubles.NewLogHandlerSpy(false)
	contextualLogger := testdoubles.NewContextualLoggerSpy()
	metrics := testdoubles.NewContextualMetricsCollectorSpy()
	repository := postgreswrapper.CreateWrapperWithTestConfig(
		t,
		postgresengine.WithLogger(slog.New(logHandler)),
		postgresengine.WithContextualLogger(contextualLogger),
		postgresengine.WithMetrics(metrics),
	).Repository()

	// act
	err := repository.AppendToStream(ctx, givenRecords(t, 1, "OrderPlaced"), givenStream(t), eventstore.AnyVersion())

	// assert
	require.NoError(t, err)
	assert.True(t, contextualLogger.HasMessage("info", "eventstore operation: events appended"))
	assert.Equal(t, 0, logHandler.GetRecordCount())
	assert.Positive(t, metrics.ContextualCalls())
}
