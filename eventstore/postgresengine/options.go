package postgresengine

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// ErrReplicaRequiresPGXPool is returned when WithReplica is used with a sql.DB or sqlx.DB repository.
var ErrReplicaRequiresPGXPool = errors.New("a read replica is only supported with a pgx pool")

// Option defines a functional option for configuring Repository.
type Option func(*Repository) error

// WithEventsTableName sets the name of the table holding the events.
func WithEventsTableName(tableName string) Option {
	return func(r *Repository) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableNameSupplied
		}

		r.queries.eventsTable = tableName

		return nil
	}
}

// WithStreamsTableName sets the name of the table holding the stream memberships.
func WithStreamsTableName(tableName string) Option {
	return func(r *Repository) error {
		if tableName == "" {
			return eventstore.ErrEmptyTableNameSupplied
		}

		r.queries.streamsTable = tableName

		return nil
	}
}

// WithReplica sets a read replica pool. Reads use it if the context carries eventstore.WithEventualConsistency.
func WithReplica(replica *pgxpool.Pool) Option {
	return func(r *Repository) error {
		if replica == nil {
			return eventstore.ErrNilDatabaseConnection
		}

		r.replica = replica

		return nil
	}
}

// WithCodec sets the codec used to serialize data and metadata into the text columns. The default is serializers.JSON.
func WithCodec(codec eventstore.Codec) Option {
	return func(r *Repository) error {
		if codec == nil {
			return eventstore.ErrNilCodec
		}

		r.codec = codec

		return nil
	}
}

// WithClock sets the source of commit times for records appended without a timestamp.
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) error {
		r.clock = clock
		return nil
	}
}

// WithLogger sets the logger for the Repository.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: Event counts, durations, deleted streams (production-safe)
// Warn level: Rejected appends and links, rollback failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(r *Repository) error {
		r.observer.Logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Repository.
// It takes precedence over WithLogger and receives the context, so trace and span ids can be correlated.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(r *Repository) error {
		r.observer.ContextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Repository.
// It receives append, link and read durations, event counts, concurrency conflicts, and database errors.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(r *Repository) error {
		r.observer.Metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Repository.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(r *Repository) error {
		r.observer.Tracing = collector
		return nil
	}
}
