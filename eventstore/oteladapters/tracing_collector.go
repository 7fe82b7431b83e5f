package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

const attrStatus = "eventstore.status"

// TracingCollector implements eventstore.TracingCollector with an OpenTelemetry tracer.
// Spans are started as children of the span in the passed context.
type TracingCollector struct {
	tracer trace.Tracer
	kind   trace.SpanKind
}

// TracingOption configures a TracingCollector.
type TracingOption func(*TracingCollector)

// WithSpanKind overrides the default span kind, trace.SpanKindInternal.
// Use trace.SpanKindClient when the repository talks to a remote database.
func WithSpanKind(kind trace.SpanKind) TracingOption {
	return func(t *TracingCollector) {
		t.kind = kind
	}
}

// NewTracingCollector uses a tracer from the application's TracerProvider.
func NewTracingCollector(tracer trace.Tracer, options ...TracingOption) *TracingCollector {
	t := &TracingCollector{tracer: tracer, kind: trace.SpanKindInternal}

	for _, option := range options {
		option(t)
	}

	return t
}

func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, eventstore.SpanContext) {
	spanCtx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(t.kind),
		trace.WithAttributes(toAttributes(attrs)...),
	)

	return spanCtx, &SpanContext{span: span}
}

// FinishSpan sets the final attributes and status and ends the span. Foreign SpanContexts are ignored.
func (t *TracingCollector) FinishSpan(spanCtx eventstore.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*SpanContext)
	if !ok || span == nil {
		return
	}

	span.span.SetAttributes(toAttributes(attrs)...)
	span.setStatus(status, attrs[eventstore.LabelErrorType])
	span.span.End()
}

// SpanContext wraps an OpenTelemetry span as eventstore.SpanContext.
type SpanContext struct {
	span trace.Span
}

// Span exposes the wrapped span, e.g. to add events from a subscriber.
func (s *SpanContext) Span() trace.Span {
	return s.span
}

func (s *SpanContext) SetStatus(status string) {
	s.setStatus(status, "")
}

func (s *SpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

// setStatus maps the eventstore status values to span codes. The error type becomes the description.
func (s *SpanContext) setStatus(status string, errorType string) {
	s.span.SetAttributes(attribute.String(attrStatus, status))

	switch status {
	case eventstore.StatusSuccess:
		s.span.SetStatus(codes.Ok, "")
	case eventstore.StatusConflict:
		s.span.SetStatus(codes.Error, "concurrency conflict")
	case eventstore.StatusError:
		if errorType == "" {
			errorType = "operation failed"
		}

		s.span.SetStatus(codes.Error, errorType)
	}
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	converted := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		converted = append(converted, attribute.String(key, value))
	}

	return converted
}

var (
	_ eventstore.TracingCollector = (*TracingCollector)(nil)
	_ eventstore.SpanContext      = (*SpanContext)(nil)
)
