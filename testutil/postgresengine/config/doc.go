// Package config provides PostgreSQL database configuration for Repository integration tests.
//
// The DSN comes from the EVENTSTORE_POSTGRES_DSN environment variable, an optional read replica
// from EVENTSTORE_POSTGRES_REPLICA_DSN. ADAPTER_TYPE selects the client library the tests run with:
// pgx.pool (default), sql.db, or sqlx.db.
package config
