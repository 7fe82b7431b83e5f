package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/postgresengine"
	"github.com/AntonStoeckl/streams-eventstore-go/testutil/postgresengine/config"
)

// Wrapper abstracts over the different client libraries.
type Wrapper interface {
	Repository() *postgresengine.Repository
	Exec(ctx context.Context, statement string) error
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing.
type PGXPoolWrapper struct {
	pool       *pgxpool.Pool
	replica    *pgxpool.Pool
	repository *postgresengine.Repository
}

func (w *PGXPoolWrapper) Repository() *postgresengine.Repository {
	return w.repository
}

func (w *PGXPoolWrapper) Exec(ctx context.Context, statement string) error {
	_, err := w.pool.Exec(ctx, statement)
	return err
}

// Pool returns the primary pool, e.g. to build a second Repository.
func (w *PGXPoolWrapper) Pool() *pgxpool.Pool {
	return w.pool
}

func (w *PGXPoolWrapper) Close() {
	if w.replica != nil {
		w.replica.Close()
	}

	w.pool.Close()
}

// SQLDBWrapper wraps sql.DB-based testing.
type SQLDBWrapper struct {
	db         *sql.DB
	repository *postgresengine.Repository
}

func (w *SQLDBWrapper) Repository() *postgresengine.Repository {
	return w.repository
}

func (w *SQLDBWrapper) Exec(ctx context.Context, statement string) error {
	_, err := w.db.ExecContext(ctx, statement)
	return err
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // makes no sense to handle this
}

// SQLXWrapper wraps sqlx.DB-based testing.
type SQLXWrapper struct {
	db         *sqlx.DB
	repository *postgresengine.Repository
}

func (w *SQLXWrapper) Repository() *postgresengine.Repository {
	return w.repository
}

func (w *SQLXWrapper) Exec(ctx context.Context, statement string) error {
	_, err := w.db.ExecContext(ctx, statement)
	return err
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // makes no sense to handle this
}

// SkipWithoutDatabase skips the test if no DSN is configured and returns the DSN otherwise.
func SkipWithoutDatabase(t testing.TB) string {
	t.Helper()

	dsn, ok := config.PostgresDSN()
	if !ok {
		t.Skipf("%s is not set, skipping PostgreSQL integration test", config.EnvPostgresDSN)
	}

	return dsn
}

// CreateWrapperWithTestConfig connects with the adapter from ADAPTER_TYPE, creates the schema with the
// default table names, empties it, and registers Close as test cleanup.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	return CreateWrapperWithTables(t, DefaultEventsTable, DefaultStreamsTable, options...)
}

// CreateWrapperWithTables is CreateWrapperWithTestConfig for custom table names.
func CreateWrapperWithTables(t testing.TB, eventsTable, streamsTable string, options ...postgresengine.Option) Wrapper {
	t.Helper()

	dsn := SkipWithoutDatabase(t)
	ctx := context.Background()

	options = append([]postgresengine.Option{
		postgresengine.WithEventsTableName(eventsTable),
		postgresengine.WithStreamsTableName(streamsTable),
	}, options...)

	var wrapper Wrapper

	switch adapterType := config.AdapterType(); adapterType {
	case config.AdapterTypePGXPool:
		poolConfig, err := config.PostgresPGXPoolConfig(dsn)
		require.NoError(t, err, "error parsing the DSN in test setup")

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		require.NoError(t, err, "error connecting to DB pool in test setup")

		repository, err := postgresengine.NewRepositoryFromPGXPool(pool, options...)
		require.NoError(t, err, "error creating repository")

		wrapper = &PGXPoolWrapper{pool: pool, repository: repository}

	case config.AdapterTypeSQLDB:
		db, err := config.PostgresSQLDBConfig(ctx, dsn)
		require.NoError(t, err, "error connecting to DB in test setup")

		repository, err := postgresengine.NewRepositoryFromSQLDB(db, options...)
		require.NoError(t, err, "error creating repository")

		wrapper = &SQLDBWrapper{db: db, repository: repository}

	case config.AdapterTypeSQLXDB:
		db, err := config.PostgresSQLXConfig(ctx, dsn)
		require.NoError(t, err, "error connecting to DB in test setup")

		repository, err := postgresengine.NewRepositoryFromSQLX(db, options...)
		require.NoError(t, err, "error creating repository")

		wrapper = &SQLXWrapper{db: db, repository: repository}

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported adapter type from env: %s", adapterType))
	}

	t.Cleanup(wrapper.Close)

	for _, statement := range SchemaStatements(eventsTable, streamsTable) {
		require.NoError(t, wrapper.Exec(ctx, statement), "error creating the schema")
	}

	require.NoError(t, wrapper.Exec(ctx, TruncateStatement(eventsTable, streamsTable)), "error cleaning up the tables")

	return wrapper
}

// CreatePGXWrapperWithReplica always uses pgx and configures the replica DSN (or the primary as stand-in) as replica.
func CreatePGXWrapperWithReplica(t testing.TB, options ...postgresengine.Option) *PGXPoolWrapper {
	t.Helper()

	dsn := SkipWithoutDatabase(t)
	replicaDSN, _ := config.PostgresReplicaDSN()
	ctx := context.Background()

	poolConfig, err := config.PostgresPGXPoolConfig(dsn)
	require.NoError(t, err, "error parsing the DSN in test setup")

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err, "error connecting to DB pool in test setup")

	replicaConfig, err := config.PostgresPGXPoolConfig(replicaDSN)
	require.NoError(t, err, "error parsing the replica DSN in test setup")

	replica, err := pgxpool.NewWithConfig(ctx, replicaConfig)
	require.NoError(t, err, "error connecting to the replica pool in test setup")

	repository, err := postgresengine.NewRepositoryFromPGXPool(pool, append(options, postgresengine.WithReplica(replica))...)
	require.NoError(t, err, "error creating repository")

	wrapper := &PGXPoolWrapper{pool: pool, replica: replica, repository: repository}
	t.Cleanup(wrapper.Close)

	for _, statement := range SchemaStatements(DefaultEventsTable, DefaultStreamsTable) {
		require.NoError(t, wrapper.Exec(ctx, statement), "error creating the schema")
	}

	require.NoError(t, wrapper.Exec(ctx, TruncateStatement(DefaultEventsTable, DefaultStreamsTable)), "error cleaning up the tables")

	return wrapper
}

// GivenUniqueID returns a fresh event or stream id.
func GivenUniqueID(t testing.TB) string {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return id.String()
}
