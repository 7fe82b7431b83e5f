// Package postgresengine provides a PostgreSQL implementation of eventstore.Repository.
//
// Events are stored once in an events table; stream membership lives in a second table with
// unique (stream, position) and (stream, event_id) constraints. The global stream has no
// membership rows, it is the events table in commit order.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Transactional appends and links with expected version checks
//   - Concurrent writers racing for a position are rejected by the unique constraints
//   - Reads, batches, and counts built with goqu, including cursors and time ordering
//   - Optional read replica for eventually consistent reads (pgx only)
//   - Configurable table names, codec, logging, metrics, and tracing
//
// The expected schema, with the default table names:
//
//	CREATE TABLE events (
//		id         BIGSERIAL PRIMARY KEY,
//		event_id   TEXT NOT NULL UNIQUE,
//		event_type TEXT NOT NULL,
//		data       TEXT NOT NULL,
//		metadata   TEXT NOT NULL,
//		created_at TIMESTAMPTZ NOT NULL,
//		valid_at   TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE events_in_streams (
//		id       BIGSERIAL PRIMARY KEY,
//		stream   TEXT NOT NULL,
//		position BIGINT NULL,
//		event_id TEXT NOT NULL REFERENCES events (event_id),
//		UNIQUE (stream, position),
//		UNIQUE (stream, event_id)
//	);
//
// Usage examples:
//
//	db, _ := pgxpool.New(context.Background(), dsn)
//	repository, _ := postgresengine.NewRepositoryFromPGXPool(db)
//
//	// With a replica and logging
//	repository, _ := postgresengine.NewRepositoryFromPGXPool(
//		db,
//		postgresengine.WithReplica(replicaPool),
//		postgresengine.WithLogger(slog.Default()),
//	)
//
//	client, _ := eventstore.NewClient(repository)
package postgresengine
