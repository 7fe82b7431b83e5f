package testdoubles

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// SpySpanContext implements eventstore.SpanContext for testing tracing functionality.
type SpySpanContext struct {
	status     string
	attributes map[string]string
	mu         sync.Mutex
}

// SetStatus implements eventstore.SpanContext.
func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// AddAttribute implements eventstore.SpanContext.
func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}

	c.attributes[key] = value
}

// SpySpanRecord represents one span from start to finish.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Status          string
	EndAttributes   map[string]string
	Finished        bool
}

// TracingCollectorSpy is an eventstore.TracingCollector implementation that captures spans for testing.
type TracingCollectorSpy struct {
	spans []*SpySpanRecord
	index map[*SpySpanContext]*SpySpanRecord
	mu    sync.Mutex
}

// NewTracingCollectorSpy creates a new TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{index: make(map[*SpySpanContext]*SpySpanRecord)}
}

// StartSpan implements eventstore.TracingCollector.
func (s *TracingCollectorSpy) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, eventstore.SpanContext) {

	s.mu.Lock()
	defer s.mu.Unlock()

	spanCtx := &SpySpanContext{}
	record := &SpySpanRecord{Name: name, StartAttributes: maps.Clone(attrs)}
	s.spans = append(s.spans, record)
	s.index[spanCtx] = record

	return ctx, spanCtx
}

// FinishSpan implements eventstore.TracingCollector.
func (s *TracingCollectorSpy) FinishSpan(spanCtx eventstore.SpanContext, status string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spySpan, ok := spanCtx.(*SpySpanContext)
	if !ok {
		return
	}

	if record, found := s.index[spySpan]; found {
		record.Status = status
		record.EndAttributes = maps.Clone(attrs)
		record.Finished = true
	}
}

// GetSpanRecords returns copies of all captured spans.
func (s *TracingCollectorSpy) GetSpanRecords() []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpySpanRecord, 0, len(s.spans))
	for _, record := range s.spans {
		records = append(records, *record)
	}

	return records
}

// FindSpan returns the first span with the given name.
func (s *TracingCollectorSpy) FindSpan(name string) (SpySpanRecord, bool) {
	for _, record := range s.GetSpanRecords() {
		if record.Name == name {
			return record, true
		}
	}

	return SpySpanRecord{}, false
}

var _ eventstore.TracingCollector = (*TracingCollectorSpy)(nil)
