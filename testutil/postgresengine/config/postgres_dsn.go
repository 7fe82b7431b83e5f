package config

import (
	"os"
	"strings"
)

// Environment variables read by the integration tests.
const (
	EnvPostgresDSN        = "EVENTSTORE_POSTGRES_DSN"
	EnvPostgresReplicaDSN = "EVENTSTORE_POSTGRES_REPLICA_DSN"
	EnvAdapterType        = "ADAPTER_TYPE"
)

// Adapter types selectable with ADAPTER_TYPE.
const (
	AdapterTypePGXPool = "pgx.pool"
	AdapterTypeSQLDB   = "sql.db"
	AdapterTypeSQLXDB  = "sqlx.db"
)

// PostgresDSN returns the DSN for the test database and whether it is configured.
func PostgresDSN() (string, bool) {
	dsn := os.Getenv(EnvPostgresDSN)
	return dsn, dsn != ""
}

// PostgresReplicaDSN returns the DSN for the replica, falling back to the primary DSN.
func PostgresReplicaDSN() (string, bool) {
	if dsn := os.Getenv(EnvPostgresReplicaDSN); dsn != "" {
		return dsn, true
	}

	return PostgresDSN()
}

// AdapterType returns the lower-cased ADAPTER_TYPE, defaulting to pgx.pool.
func AdapterType() string {
	adapterType := strings.ToLower(os.Getenv(EnvAdapterType))
	if adapterType == "" {
		return AdapterTypePGXPool
	}

	return adapterType
}
