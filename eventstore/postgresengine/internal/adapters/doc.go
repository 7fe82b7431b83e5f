// Package adapters provide database adapter implementations for the PostgreSQL repository.
//
// Three PostgreSQL client libraries are supported: pgx.Pool, sql.DB, and sqlx.DB.
// All adapters offer the same DBAdapter interface with plain-SQL queries, statements,
// and transactions, so the repository builds its SQL once and runs it on any of them.
//
// Only the pgx adapter knows about read replicas: it routes queries to the replica pool
// when the context asks for eventstore.EventualConsistency. Transactions always use the primary.
package adapters
