// Package postgreswrapper creates postgresengine.Repository instances for integration tests
// over the adapter selected by ADAPTER_TYPE, bootstraps the schema, and cleans up between tests.
//
// Tests using it are skipped when EVENTSTORE_POSTGRES_DSN is not set.
package postgreswrapper
