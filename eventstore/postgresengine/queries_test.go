package postgresengine

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

func specFor(build func(eventstore.Specification) eventstore.Specification) eventstore.SpecificationResult {
	return build(eventstore.NewSpecification(nil, nil)).Result()
}

func Test_ReadQuery_RendersTheSelection(t *testing.T) {
	testCases := []struct {
		description string
		spec        eventstore.SpecificationResult
		start       *cursorKey
		stop        *cursorKey
		contains    []string
		notContains []string
	}{
		{
			description: "global stream in commit order",
			spec:        eventstore.NewSpecificationResult(),
			contains: []string{
				`SELECT "e"."event_id", "e"."event_type", "e"."data", "e"."metadata", "e"."created_at", "e"."valid_at"`,
				`FROM "events" AS "e"`,
				`ORDER BY "e"."id" ASC`,
			},
			notContains: []string{"JOIN", "LIMIT"},
		},
		{
			description: "named stream in membership order",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.Stream("Order$1")
			}),
			contains: []string{
				`INNER JOIN "events_in_streams" AS "s"`,
				`"s"."event_id" = "e"."event_id"`,
				`"s"."stream" = 'Order$1'`,
				`ORDER BY "s"."id" ASC`,
			},
		},
		{
			description: "backward with limit",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.Backward().Limit(10)
			}),
			contains: []string{`ORDER BY "e"."id" DESC`, `LIMIT 10`},
		},
		{
			description: "type and id filters",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.OfType("OrderShipped", "OrderPlaced").WithIDs([]string{"ev-2", "ev-1"})
			}),
			contains: []string{
				`"e"."event_type" IN ('OrderPlaced', 'OrderShipped')`,
				`"e"."event_id" IN ('ev-1', 'ev-2')`,
			},
		},
		{
			description: "forward cursors in position order",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.Stream("Order$1").StartFrom("ev-1").To("ev-9")
			}),
			start:    &cursorKey{sequence: 3},
			stop:     &cursorKey{sequence: 12},
			contains: []string{`"s"."id" > 3`, `"s"."id" < 12`},
		},
		{
			description: "backward cursors in position order",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.Backward().StartFrom("ev-9").To("ev-1")
			}),
			start:    &cursorKey{sequence: 12},
			stop:     &cursorKey{sequence: 3},
			contains: []string{`"e"."id" < 12`, `"e"."id" > 3`, `ORDER BY "e"."id" DESC`},
		},
		{
			description: "commit time order with event id tie-break",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.AsAt().StartFrom("ev-7")
			}),
			start: &cursorKey{at: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), eventID: "ev-7"},
			contains: []string{
				`ORDER BY "e"."created_at" ASC, "e"."event_id" ASC`,
				`"e"."event_id" > 'ev-7'`,
			},
		},
		{
			description: "valid time order backward",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.AsOf().Backward()
			}),
			contains: []string{`ORDER BY "e"."valid_at" DESC, "e"."event_id" DESC`},
		},
		{
			description: "first record",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.ReadFirst()
			}),
			contains: []string{`ORDER BY "e"."id" ASC`, `LIMIT 1`},
		},
		{
			description: "last record without limit reverses the order",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.ReadLast()
			}),
			contains: []string{`ORDER BY "e"."id" DESC`, `LIMIT 1`},
		},
		{
			description: "last record with limit keeps the order",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.ReadLast().Limit(5)
			}),
			contains: []string{`ORDER BY "e"."id" ASC`, `LIMIT 5`},
		},
		{
			description: "string literals are escaped",
			spec: specFor(func(s eventstore.Specification) eventstore.Specification {
				return s.Stream("O'Brien")
			}),
			contains: []string{`'O''Brien'`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// arrange
			builder := newQueryBuilder()

			// act
			sqlQuery, ok, err := builder.readQuery(tc.spec, tc.start, tc.stop)

			// assert
			require.NoError(t, err)
			assert.True(t, ok)

			for _, fragment := range tc.contains {
				assert.Contains(t, sqlQuery, fragment)
			}

			for _, fragment := range tc.notContains {
				assert.NotContains(t, sqlQuery, fragment)
			}
		})
	}
}

func Test_ReadQuery_When_AnAllowListIsEmpty_ItReportsNoMatch(t *testing.T) {
	// arrange
	builder := newQueryBuilder()
	byIDs := specFor(func(s eventstore.Specification) eventstore.Specification { return s.WithIDs([]string{}) })
	byTypes := specFor(func(s eventstore.Specification) eventstore.Specification { return s.OfTypes(nil) })

	// act
	_, idsOK, idsErr := builder.readQuery(byIDs, nil, nil)
	_, typesOK, typesErr := builder.readQuery(byTypes, nil, nil)

	// assert
	assert.NoError(t, idsErr)
	assert.False(t, idsOK)
	assert.NoError(t, typesErr)
	assert.False(t, typesOK)
}

func Test_BatchQuery_AddsOffsetAndLimit(t *testing.T) {
	// arrange
	builder := newQueryBuilder()
	spec := specFor(func(s eventstore.Specification) eventstore.Specification { return s.Limit(25).InBatchesOf(10) })

	// act
	sqlQuery, ok, err := builder.batchQuery(spec, nil, nil, 20, 5)

	// assert
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, sqlQuery, "LIMIT 5")
	assert.Contains(t, sqlQuery, "OFFSET 20")
}

func Test_CountQuery_WrapsTheLimitedSelection(t *testing.T) {
	// arrange
	builder := newQueryBuilder()
	spec := specFor(func(s eventstore.Specification) eventstore.Specification { return s.Stream("Order$1").Limit(3) })

	// act
	sqlQuery, ok, err := builder.countQuery(spec, nil, nil)

	// assert
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, sqlQuery, `SELECT COUNT(*) FROM (SELECT "e"."event_id" FROM "events" AS "e"`)
	assert.Contains(t, sqlQuery, `LIMIT 3`)
	assert.Contains(t, sqlQuery, `AS "matching"`)
}

func Test_CursorKeyQuery_SelectsTheOrderingKey(t *testing.T) {
	// arrange
	builder := newQueryBuilder()
	byPosition := specFor(func(s eventstore.Specification) eventstore.Specification { return s.Stream("Order$1") })
	byTime := specFor(func(s eventstore.Specification) eventstore.Specification { return s.AsOf() })

	// act
	positionQuery, positionErr := builder.cursorKeyQuery(byPosition, "ev-1")
	timeQuery, timeErr := builder.cursorKeyQuery(byTime, "ev-1")

	// assert
	require.NoError(t, positionErr)
	require.NoError(t, timeErr)
	assert.Contains(t, positionQuery, `SELECT "s"."id" FROM "events" AS "e" INNER JOIN "events_in_streams" AS "s"`)
	assert.Contains(t, positionQuery, `"e"."event_id" = 'ev-1'`)
	assert.Contains(t, timeQuery, `SELECT "e"."valid_at", "e"."event_id" FROM "events" AS "e"`)
}

func Test_WriteStatements_UseTheConfiguredTables(t *testing.T) {
	// arrange
	builder := newQueryBuilder()
	builder.eventsTable = "my_events"
	builder.streamsTable = "my_streams"
	stream, err := eventstore.NewStream("Order$1")
	require.NoError(t, err)
	after := int64(4)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	// act
	insertEvents, insertEventsErr := builder.insertEventsStatement([]eventRow{
		{eventID: "ev-1", eventType: "OrderPlaced", data: `{"id":1}`, metadata: `{}`, createdAt: at, validAt: at},
	})
	trackedMembers, trackedErr := builder.insertMembershipsStatement(stream, []string{"ev-1", "ev-2"}, &after)
	untrackedMembers, untrackedErr := builder.insertMembershipsStatement(stream, []string{"ev-3"}, nil)
	lastPosition, lastPositionErr := builder.lastPositionQuery(stream)
	deleteStream, deleteErr := builder.deleteStreamStatement(stream)

	// assert
	require.NoError(t, insertEventsErr)
	require.NoError(t, trackedErr)
	require.NoError(t, untrackedErr)
	require.NoError(t, lastPositionErr)
	require.NoError(t, deleteErr)

	assert.Contains(t, insertEvents, `INSERT INTO "my_events"`)
	assert.Contains(t, insertEvents, `'ev-1'`)
	assert.Contains(t, insertEvents, `'{"id":1}'`)

	assert.Contains(t, trackedMembers, `INSERT INTO "my_streams"`)
	assert.Contains(t, trackedMembers, `5`)
	assert.Contains(t, trackedMembers, `6`)
	assert.Contains(t, untrackedMembers, `NULL`)

	assert.Contains(t, lastPosition, `MAX("position")`)
	assert.Contains(t, lastPosition, `COUNT(*)`)
	assert.Contains(t, lastPosition, `FROM "my_streams"`)
	assert.Contains(t, deleteStream, `DELETE FROM "my_streams"`)
	assert.Equal(t, `LOCK TABLE "my_events" IN SHARE ROW EXCLUSIVE MODE`, builder.lockEventsStatement())
}

func Test_IsUniqueViolation(t *testing.T) {
	testCases := []struct {
		description string
		err         error
		expected    bool
	}{
		{description: "pgx unique violation", err: &pgconn.PgError{Code: "23505"}, expected: true},
		{description: "lib/pq unique violation", err: &pq.Error{Code: "23505"}, expected: true},
		{description: "wrapped unique violation", err: errors.Join(errors.New("insert"), &pgconn.PgError{Code: "23505"}), expected: true},
		{description: "pgx foreign key violation", err: &pgconn.PgError{Code: "23503"}, expected: false},
		{description: "lib/pq serialization failure", err: &pq.Error{Code: "40001"}, expected: false},
		{description: "plain error", err: errors.New("boom"), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, isUniqueViolation(tc.err))
		})
	}
}
