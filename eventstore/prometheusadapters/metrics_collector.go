// Package prometheusadapters provides a Prometheus implementation of eventstore.MetricsCollector.
//
//	registry := prometheus.NewRegistry()
//	repo, err := memoryengine.NewRepository(
//		memoryengine.WithMetrics(prometheusadapters.NewMetricsCollector(registry)),
//	)
package prometheusadapters

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// ErrUnexpectedLabels is reported when a call carries labels its metric family was not declared with.
var ErrUnexpectedLabels = errors.New("unexpected metric labels")

// DefaultBuckets are the histogram buckets for durations, in seconds.
var DefaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// knownLabels are the label names the engines use per metric. Families for other names take
// the label names of their first call.
var knownLabels = map[string][]string{
	eventstore.MetricAppendDuration:       {eventstore.LabelOperation, eventstore.LabelStatus},
	eventstore.MetricLinkDuration:         {eventstore.LabelOperation, eventstore.LabelStatus},
	eventstore.MetricReadDuration:         {eventstore.LabelOperation, eventstore.LabelStatus},
	eventstore.MetricEventsAppended:       {eventstore.LabelOperation, eventstore.LabelStatus},
	eventstore.MetricEventsRead:           {eventstore.LabelOperation, eventstore.LabelStatus},
	eventstore.MetricConcurrencyConflicts: {eventstore.LabelOperation, eventstore.LabelConflictType},
	eventstore.MetricDatabaseErrors:       {eventstore.LabelOperation, eventstore.LabelStatus, eventstore.LabelErrorType},
}

var help = map[string]string{
	eventstore.MetricAppendDuration:       "Append latency in seconds",
	eventstore.MetricLinkDuration:         "Link latency in seconds",
	eventstore.MetricReadDuration:         "Read latency in seconds",
	eventstore.MetricEventsAppended:       "Number of events of the last successful append",
	eventstore.MetricEventsRead:           "Number of events of the last successful read",
	eventstore.MetricConcurrencyConflicts: "Total number of appends and links rejected by a version or duplicate check",
	eventstore.MetricDatabaseErrors:       "Total number of failed database statements",
}

// family is one registered vector with its label names in order.
type family[V prometheus.Collector] struct {
	vec        V
	labelNames []string
}

// MetricsCollector maps RecordDuration to histograms, IncrementCounter to counters and RecordValue to gauges.
// Vectors are created and registered on first use; a vector that is already registered is reused.
type MetricsCollector struct {
	registerer   prometheus.Registerer
	namespace    string
	buckets      []float64
	errorHandler func(error)

	mu         sync.Mutex
	histograms map[string]family[*prometheus.HistogramVec]
	counters   map[string]family[*prometheus.CounterVec]
	gauges     map[string]family[*prometheus.GaugeVec]
}

// Option configures a MetricsCollector.
type Option func(*MetricsCollector)

// WithNamespace prefixes every metric name.
func WithNamespace(namespace string) Option {
	return func(m *MetricsCollector) {
		m.namespace = namespace
	}
}

// WithBuckets replaces DefaultBuckets.
func WithBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) {
		m.buckets = slices.Clone(buckets)
	}
}

// WithErrorHandler receives registration and label errors. By default they are ignored.
func WithErrorHandler(handler func(error)) Option {
	return func(m *MetricsCollector) {
		m.errorHandler = handler
	}
}

func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) *MetricsCollector {
	m := &MetricsCollector{
		registerer:   registerer,
		buckets:      DefaultBuckets,
		errorHandler: func(error) {},
		histograms:   make(map[string]family[*prometheus.HistogramVec]),
		counters:     make(map[string]family[*prometheus.CounterVec]),
		gauges:       make(map[string]family[*prometheus.GaugeVec]),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

func (m *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	f, ok := lookup(m, m.histograms, name, labels, func(labelNames []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      helpFor(name),
			Buckets:   m.buckets,
		}, labelNames)
	})
	if !ok {
		return
	}

	values, ok := m.labelValues(name, f.labelNames, labels)
	if !ok {
		return
	}

	f.vec.WithLabelValues(values...).Observe(duration.Seconds())
}

func (m *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	f, ok := lookup(m, m.counters, name, labels, func(labelNames []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      helpFor(name),
		}, labelNames)
	})
	if !ok {
		return
	}

	values, ok := m.labelValues(name, f.labelNames, labels)
	if !ok {
		return
	}

	f.vec.WithLabelValues(values...).Inc()
}

func (m *MetricsCollector) RecordValue(name string, value float64, labels map[string]string) {
	f, ok := lookup(m, m.gauges, name, labels, func(labelNames []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      helpFor(name),
		}, labelNames)
	})
	if !ok {
		return
	}

	values, ok := m.labelValues(name, f.labelNames, labels)
	if !ok {
		return
	}

	f.vec.WithLabelValues(values...).Set(value)
}

// lookup returns the family for name, creating and registering its vector on first use.
func lookup[V prometheus.Collector](
	m *MetricsCollector,
	families map[string]family[V],
	name string,
	labels map[string]string,
	create func(labelNames []string) V,
) (family[V], bool) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := families[name]; ok {
		return f, true
	}

	labelNames, known := knownLabels[name]
	if !known {
		labelNames = slices.Sorted(maps.Keys(labels))
	}

	f := family[V]{vec: create(labelNames), labelNames: labelNames}

	if err := m.registerer.Register(f.vec); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if !errors.As(err, &alreadyRegistered) {
			m.errorHandler(fmt.Errorf("registering %s: %w", name, err))
			return family[V]{}, false
		}

		existing, ok := alreadyRegistered.ExistingCollector.(V)
		if !ok {
			m.errorHandler(fmt.Errorf("registering %s: %w", name, err))
			return family[V]{}, false
		}

		f.vec = existing
	}

	families[name] = f

	return f, true
}

// labelValues orders the label values like labelNames. Missing labels are empty, unknown labels drop the call.
func (m *MetricsCollector) labelValues(name string, labelNames []string, labels map[string]string) ([]string, bool) {
	for key := range labels {
		if !slices.Contains(labelNames, key) {
			m.errorHandler(errors.Join(ErrUnexpectedLabels, fmt.Errorf("metric %s has no label %q", name, key)))
			return nil, false
		}
	}

	values := make([]string, len(labelNames))
	for i, labelName := range labelNames {
		values[i] = labels[labelName]
	}

	return values, true
}

func helpFor(name string) string {
	if text, ok := help[name]; ok {
		return text
	}

	return "eventstore metric " + name
}

var _ eventstore.MetricsCollector = (*MetricsCollector)(nil)
