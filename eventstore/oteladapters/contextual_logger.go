// Package oteladapters connects the eventstore observability interfaces to OpenTelemetry.
//
// Wire them into an engine with its observability options:
//
//	repo, err := postgresengine.NewRepositoryFromPGXPool(pool,
//		postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger("orders")),
//		postgresengine.WithMetrics(oteladapters.NewMetricsCollector(meterProvider.Meter("orders"))),
//		postgresengine.WithTracing(oteladapters.NewTracingCollector(tracerProvider.Tracer("orders"))),
//	)
package oteladapters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

const badKey = "!BADKEY"

// SlogBridgeLogger implements eventstore.ContextualLogger on a *slog.Logger.
type SlogBridgeLogger struct {
	logger *slog.Logger
}

// NewSlogBridgeLogger logs through the otelslog bridge to the global LoggerProvider.
// Records carry the trace and span id of the context.
func NewSlogBridgeLogger(name string, options ...otelslog.Option) *SlogBridgeLogger {
	return &SlogBridgeLogger{logger: otelslog.NewLogger(name, options...)}
}

// NewSlogLogger logs to the given handler without the bridge.
func NewSlogLogger(handler slog.Handler) *SlogBridgeLogger {
	return &SlogBridgeLogger{logger: slog.New(handler)}
}

func (l *SlogBridgeLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *SlogBridgeLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

// OTelLogger implements eventstore.ContextualLogger on the OpenTelemetry log API directly.
type OTelLogger struct {
	logger log.Logger
	now    func() time.Time
}

func NewOTelLogger(logger log.Logger) *OTelLogger {
	return &OTelLogger{logger: logger, now: time.Now}
}

func (l *OTelLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityDebug, msg, args)
}

func (l *OTelLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityInfo, msg, args)
}

func (l *OTelLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityWarn, msg, args)
}

func (l *OTelLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.emit(ctx, log.SeverityError, msg, args)
}

func (l *OTelLogger) emit(ctx context.Context, severity log.Severity, msg string, args []any) {
	var record log.Record
	record.SetTimestamp(l.now())
	record.SetSeverity(severity)
	record.SetBody(log.StringValue(msg))
	record.AddAttributes(KeyValues(args)...)

	l.logger.Emit(ctx, record)
}

// KeyValues converts slog style arguments, alternating keys and values or slog.Attr, to log attributes.
// A value without a key is stored under "!BADKEY", like slog does.
func KeyValues(args []any) []log.KeyValue {
	converted := make([]log.KeyValue, 0, len(args)/2+1)

	for len(args) > 0 {
		switch key := args[0].(type) {
		case slog.Attr:
			converted = append(converted, log.KeyValue{Key: key.Key, Value: toValue(key.Value.Any())})
			args = args[1:]

		case string:
			if len(args) == 1 {
				converted = append(converted, log.String(badKey, key))
				return converted
			}

			converted = append(converted, log.KeyValue{Key: key, Value: toValue(args[1])})
			args = args[2:]

		default:
			converted = append(converted, log.KeyValue{Key: badKey, Value: toValue(key)})
			args = args[1:]
		}
	}

	return converted
}

func toValue(value any) log.Value {
	switch v := value.(type) {
	case string:
		return log.StringValue(v)
	case bool:
		return log.BoolValue(v)
	case int:
		return log.IntValue(v)
	case int64:
		return log.Int64Value(v)
	case float64:
		return log.Float64Value(v)
	case time.Duration:
		return log.Int64Value(v.Milliseconds())
	case time.Time:
		return log.StringValue(v.Format(time.RFC3339Nano))
	case error:
		return log.StringValue(v.Error())
	case fmt.Stringer:
		return log.StringValue(v.String())
	default:
		return log.StringValue(fmt.Sprint(v))
	}
}

var (
	_ eventstore.ContextualLogger = (*SlogBridgeLogger)(nil)
	_ eventstore.ContextualLogger = (*OTelLogger)(nil)
)
