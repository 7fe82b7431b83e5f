package memoryengine

import (
	"time"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// Option defines a functional option for configuring Repository.
type Option func(*Repository) error

// WithCodec sets the codec used to serialize data and metadata. The default is serializers.JSON.
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
//
// Info level: completed appends, links and deletes with counts and durations.
// Warn level: rejected appends and links (version conflicts, duplicates).
func WithLogger(logger eventstore.Logger) Option {
	return func(r *Repository) error {
		r.observer.Logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, it takes precedence over WithLogger.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(r *Repository) error {
		r.observer.ContextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Repository.
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
