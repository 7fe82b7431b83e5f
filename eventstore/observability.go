package eventstore

import (
	"context"
	"time"
)

// Metric names recorded by the engines.
const (
	MetricAppendDuration       = "eventstore_append_duration_seconds"
	MetricLinkDuration         = "eventstore_link_duration_seconds"
	MetricReadDuration         = "eventstore_read_duration_seconds"
	MetricEventsAppended       = "eventstore_events_appended"
	MetricEventsRead           = "eventstore_events_read"
	MetricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	MetricDatabaseErrors       = "eventstore_database_errors_total"
)

// Operation names, used as span names and as the "operation" label.
const (
	OperationAppend       = "append"
	OperationLink         = "link"
	OperationRead         = "read"
	OperationCount        = "count"
	OperationDeleteStream = "delete_stream"
)

// Label and span attribute keys.
const (
	LabelOperation    = "operation"
	LabelStatus       = "status"
	LabelErrorType    = "error_type"
	LabelConflictType = "conflict_type"
	LabelStream       = "stream"
	LabelEventCount   = "event_count"
	LabelReadMode     = "read_mode"
	LabelExpected     = "expected_version"
	LabelDurationMS   = "duration_ms"
)

// Status values for spans and the "status" label.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusConflict = "conflict"
)

// Logger is satisfied by *slog.Logger and most structured loggers.
//
// Debug: statements with timing. Info: completed operations. Warn: conflicts and non-critical failures.
// Error: failures that abort an operation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger is a Logger with context-aware methods, e.g. for trace correlation.
// *slog.Logger satisfies it as well.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector receives durations, counters and values from the engines.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector is used instead of MetricsCollector when a collector implements it.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext is an active span.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector starts and finishes spans around repository operations.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// Observer bundles the optional observability collaborators of an engine.
// The zero value is usable and records nothing.
type Observer struct {
	Logger           Logger
	ContextualLogger ContextualLogger
	Metrics          MetricsCollector
	Tracing          TracingCollector
}

// Debug logs to the contextual logger if configured, otherwise to the logger.
func (o Observer) Debug(ctx context.Context, msg string, args ...any) {
	switch {
	case o.ContextualLogger != nil:
		o.ContextualLogger.DebugContext(ctx, msg, args...)
	case o.Logger != nil:
		o.Logger.Debug(msg, args...)
	}
}

func (o Observer) Info(ctx context.Context, msg string, args ...any) {
	switch {
	case o.ContextualLogger != nil:
		o.ContextualLogger.InfoContext(ctx, msg, args...)
	case o.Logger != nil:
		o.Logger.Info(msg, args...)
	}
}

func (o Observer) Warn(ctx context.Context, msg string, args ...any) {
	switch {
	case o.ContextualLogger != nil:
		o.ContextualLogger.WarnContext(ctx, msg, args...)
	case o.Logger != nil:
		o.Logger.Warn(msg, args...)
	}
}

func (o Observer) Error(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{"error", err.Error()}, args...)

	switch {
	case o.ContextualLogger != nil:
		o.ContextualLogger.ErrorContext(ctx, msg, allArgs...)
	case o.Logger != nil:
		o.Logger.Error(msg, allArgs...)
	}
}

// RecordDuration prefers the context-aware collector method.
func (o Observer) RecordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if o.Metrics == nil {
		return
	}

	if contextual, ok := o.Metrics.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	o.Metrics.RecordDuration(metric, duration, labels)
}

func (o Observer) IncrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.Metrics == nil {
		return
	}

	if contextual, ok := o.Metrics.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.Metrics.IncrementCounter(metric, labels)
}

func (o Observer) RecordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if o.Metrics == nil {
		return
	}

	if contextual, ok := o.Metrics.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	o.Metrics.RecordValue(metric, value, labels)
}

// StartSpan returns a nil SpanContext if no tracing collector is configured.
func (o Observer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, SpanContext) {
	if o.Tracing == nil {
		return ctx, nil
	}

	return o.Tracing.StartSpan(ctx, "eventstore."+operation, attrs)
}

func (o Observer) FinishSpan(span SpanContext, status string, attrs map[string]string) {
	if o.Tracing == nil || span == nil {
		return
	}

	o.Tracing.FinishSpan(span, status, attrs)
}

// ErrorType classifies an error for the "error_type" label.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case isAny(err, ErrWrongExpectedVersion):
		return "wrong_expected_version"
	case isAny(err, ErrEventDuplicatedInStream):
		return "duplicated_event"
	case isAny(err, ErrEventNotFound):
		return "event_not_found"
	case isAny(err, ErrBuildingQueryFailed):
		return "build_query"
	case isAny(err, ErrQueryingEventsFailed, ErrAppendingEventFailed, ErrTransactionFailed):
		return "database"
	case isAny(err, ErrScanningDBRowFailed, ErrDecodingFailed, ErrEncodingFailed, ErrInvalidTimestamp):
		return "serialization"
	case isAny(err, context.Canceled, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
