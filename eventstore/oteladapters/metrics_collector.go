package oteladapters

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// durationBuckets covers sub-millisecond in-memory calls up to slow database round trips, in seconds.
var durationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var descriptions = map[string]string{
	eventstore.MetricAppendDuration:       "Duration of appends to a stream",
	eventstore.MetricLinkDuration:         "Duration of links to a stream",
	eventstore.MetricReadDuration:         "Duration of reads",
	eventstore.MetricEventsAppended:       "Number of events per successful append",
	eventstore.MetricEventsRead:           "Number of events per successful read",
	eventstore.MetricConcurrencyConflicts: "Appends and links rejected by an expected version or duplicate check",
	eventstore.MetricDatabaseErrors:       "Failed database statements",
}

// MetricsCollector implements eventstore.ContextualMetricsCollector on an OpenTelemetry meter.
//
// Instruments are created lazily per metric name:
//   - RecordDuration -> Float64Histogram in seconds
//   - IncrementCounter -> Int64Counter
//   - RecordValue -> Float64Gauge
//
// A metric name that fails instrument creation is dropped and reported to the error handler.
type MetricsCollector struct {
	meter        metric.Meter
	errorHandler func(error)

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
}

// MetricsOption configures a MetricsCollector.
type MetricsOption func(*MetricsCollector)

// WithInstrumentErrorHandler receives errors from instrument creation. By default they are ignored.
func WithInstrumentErrorHandler(handler func(error)) MetricsOption {
	return func(m *MetricsCollector) {
		m.errorHandler = handler
	}
}

// NewMetricsCollector uses a meter from the application's MeterProvider.
func NewMetricsCollector(meter metric.Meter, options ...MetricsOption) *MetricsCollector {
	m := &MetricsCollector{
		meter:        meter,
		errorHandler: func(error) {},
		histograms:   make(map[string]metric.Float64Histogram),
		counters:     make(map[string]metric.Int64Counter),
		gauges:       make(map[string]metric.Float64Gauge),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

func (m *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	m.RecordDurationContext(context.Background(), name, duration, labels)
}

// RecordDurationContext records with the context so exemplars can link to the active span.
func (m *MetricsCollector) RecordDurationContext(ctx context.Context, name string, duration time.Duration, labels map[string]string) {
	histogram, ok := cached(m, m.histograms, name, func() (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(
			name,
			metric.WithDescription(describe(name)),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(durationBuckets...),
		)
	})
	if !ok {
		return
	}

	histogram.Record(ctx, duration.Seconds(), withLabels(labels))
}

func (m *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.IncrementCounterContext(context.Background(), name, labels)
}

func (m *MetricsCollector) IncrementCounterContext(ctx context.Context, name string, labels map[string]string) {
	counter, ok := cached(m, m.counters, name, func() (metric.Int64Counter, error) {
		return m.meter.Int64Counter(name, metric.WithDescription(describe(name)))
	})
	if !ok {
		return
	}

	counter.Add(ctx, 1, withLabels(labels))
}

func (m *MetricsCollector) RecordValue(name string, value float64, labels map[string]string) {
	m.RecordValueContext(context.Background(), name, value, labels)
}

func (m *MetricsCollector) RecordValueContext(ctx context.Context, name string, value float64, labels map[string]string) {
	gauge, ok := cached(m, m.gauges, name, func() (metric.Float64Gauge, error) {
		return m.meter.Float64Gauge(name, metric.WithDescription(describe(name)))
	})
	if !ok {
		return
	}

	gauge.Record(ctx, value, withLabels(labels))
}

// cached returns the instrument for name from cache, creating it under the collector lock on first use.
func cached[T any](m *MetricsCollector, cache map[string]T, name string, create func() (T, error)) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if instrument, ok := cache[name]; ok {
		return instrument, true
	}

	instrument, err := create()
	if err != nil {
		m.errorHandler(err)

		var zero T
		return zero, false
	}

	cache[name] = instrument

	return instrument, true
}

func describe(name string) string {
	if description, ok := descriptions[name]; ok {
		return description
	}

	return "eventstore metric " + name
}

func withLabels(labels map[string]string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, value))
	}

	return metric.WithAttributeSet(attribute.NewSet(attrs...))
}

var _ eventstore.ContextualMetricsCollector = (*MetricsCollector)(nil)
