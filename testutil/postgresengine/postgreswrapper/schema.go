package postgreswrapper

import (
	"fmt"

	"github.com/lib/pq"
)

// Default table names of the postgresengine.Repository.
const (
	DefaultEventsTable  = "events"
	DefaultStreamsTable = "events_in_streams"
)

// SchemaStatements returns the DDL for an events table and its stream membership table.
func SchemaStatements(eventsTable, streamsTable string) []string {
	events := pq.QuoteIdentifier(eventsTable)
	streams := pq.QuoteIdentifier(streamsTable)

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         BIGSERIAL PRIMARY KEY,
			event_id   TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			data       TEXT NOT NULL,
			metadata   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			valid_at   TIMESTAMPTZ NOT NULL
		)`, events),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id       BIGSERIAL PRIMARY KEY,
			stream   TEXT NOT NULL,
			position BIGINT NULL,
			event_id TEXT NOT NULL REFERENCES %s (event_id),
			UNIQUE (stream, position),
			UNIQUE (stream, event_id)
		)`, streams, events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at, event_id)`,
			pq.QuoteIdentifier(eventsTable+"_created_at_idx"), events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (valid_at, event_id)`,
			pq.QuoteIdentifier(eventsTable+"_valid_at_idx"), events),
	}
}

// TruncateStatement empties both tables and resets the sequences.
func TruncateStatement(eventsTable, streamsTable string) string {
	return fmt.Sprintf(
		"TRUNCATE TABLE %s, %s RESTART IDENTITY",
		pq.QuoteIdentifier(streamsTable),
		pq.QuoteIdentifier(eventsTable),
	)
}
