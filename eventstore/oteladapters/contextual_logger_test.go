package oteladapters_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	"go.opentelemetry.io/otel/log/noop"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore/oteladapters"
)

// recordingLogger is a log.Logger that keeps every emitted record.
type recordingLogger struct {
	embedded.Logger

	mu      sync.Mutex
	records []log.Record
}

func (l *recordingLogger) Emit(_ context.Context, record log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
}

func (l *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool {
	return true
}

func attributesOf(record log.Record) map[string]log.Value {
	attrs := make(map[string]log.Value)
	record.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})

	return attrs
}

func Test_SlogLogger_When_Logging_AllLevelsReachTheHandler(t *testing.T) {
	// arrange
	var buf bytes.Buffer
	logger := oteladapters.NewSlogLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "executed sql for: read", "duration_ms", 1.25)
	logger.InfoContext(ctx, "eventstore operation: events appended", "stream", "Order$1", "event_count", 2)
	logger.WarnContext(ctx, "append rejected", "reason", "wrong expected version")
	logger.ErrorContext(ctx, "failed to begin transaction", "error", "connection refused")

	// assert
	output := buf.String()
	assert.Contains(t, output, `"level":"DEBUG","msg":"executed sql for: read","duration_ms":1.25`)
	assert.Contains(t, output, `"level":"INFO","msg":"eventstore operation: events appended","stream":"Order$1","event_count":2`)
	assert.Contains(t, output, `"level":"WARN","msg":"append rejected"`)
	assert.Contains(t, output, `"level":"ERROR","msg":"failed to begin transaction","error":"connection refused"`)
}

func Test_SlogBridgeLogger_When_NoProviderIsConfigured_ItDoesNotPanic(t *testing.T) {
	// arrange
	logger := oteladapters.NewSlogBridgeLogger("eventstore-test")

	// act & assert
	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "eventstore operation: events read", "event_count", 3)
	})
}

func Test_OTelLogger_When_Logging_ItEmitsTypedRecords(t *testing.T) {
	// arrange
	recorder := &recordingLogger{}
	logger := oteladapters.NewOTelLogger(recorder)
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "debug")
	logger.InfoContext(ctx, "eventstore operation: events appended",
		"stream", "Order$1",
		"event_count", 2,
		"duration_ms", 0.75,
		"tracked", true,
	)
	logger.WarnContext(ctx, "warn")
	logger.ErrorContext(ctx, "error", "error", errors.New("boom"))

	// assert
	require.Len(t, recorder.records, 4)
	assert.Equal(t, log.SeverityDebug, recorder.records[0].Severity())
	assert.Equal(t, log.SeverityInfo, recorder.records[1].Severity())
	assert.Equal(t, log.SeverityWarn, recorder.records[2].Severity())
	assert.Equal(t, log.SeverityError, recorder.records[3].Severity())
	assert.Equal(t, "eventstore operation: events appended", recorder.records[1].Body().AsString())
	assert.False(t, recorder.records[1].Timestamp().IsZero())

	attrs := attributesOf(recorder.records[1])
	assert.Equal(t, "Order$1", attrs["stream"].AsString())
	assert.Equal(t, int64(2), attrs["event_count"].AsInt64())
	assert.Equal(t, 0.75, attrs["duration_ms"].AsFloat64())
	assert.True(t, attrs["tracked"].AsBool())
	assert.Equal(t, "boom", attributesOf(recorder.records[3])["error"].AsString())
}

func Test_KeyValues(t *testing.T) {
	testCases := []struct {
		description string
		args        []any
		expected    map[string]string
	}{
		{description: "no args", args: nil, expected: map[string]string{}},
		{description: "pairs", args: []any{"a", "x", "b", "y"}, expected: map[string]string{"a": "x", "b": "y"}},
		{description: "dangling key", args: []any{"a", "x", "b"}, expected: map[string]string{"a": "x", "!BADKEY": "b"}},
		{description: "slog attr", args: []any{slog.String("a", "x"), "b", "y"}, expected: map[string]string{"a": "x", "b": "y"}},
		{description: "value without key", args: []any{42}, expected: map[string]string{"!BADKEY": "42"}},
		{description: "duration in milliseconds", args: []any{"took", 1500 * time.Millisecond}, expected: map[string]string{"took": "1500"}},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			// act
			converted := oteladapters.KeyValues(tc.args)

			// assert
			actual := make(map[string]string, len(converted))
			for _, kv := range converted {
				actual[kv.Key] = kv.Value.String()
			}

			assert.Equal(t, tc.expected, actual)
		})
	}
}

func Test_OTelLogger_When_TheLoggerIsNoop_ItDoesNotPanic(t *testing.T) {
	// arrange
	logger := oteladapters.NewOTelLogger(noop.NewLoggerProvider().Logger("eventstore-test"))

	// act & assert
	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "message", "key")
	})
}
