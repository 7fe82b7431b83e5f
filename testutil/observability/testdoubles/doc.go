// Package testdoubles provides spies for the observability interfaces of the eventstore package:
// a slog.Handler that captures records, a metrics collector, a tracing collector, and a contextual logger.
//
// All spies are safe for concurrent use.
package testdoubles
