package memoryengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// recordSuccess records duration and event count metrics and finishes the span.
func (r *Repository) recordSuccess(
	ctx context.Context,
	span eventstore.SpanContext,
	operation string,
	durationMetric string,
	duration time.Duration,
	eventCount int,
) {

	labels := map[string]string{
		eventstore.LabelOperation: operation,
		eventstore.LabelStatus:    eventstore.StatusSuccess,
	}

	r.observer.RecordDuration(ctx, durationMetric, duration, labels)

	switch operation {
	case eventstore.OperationAppend:
		r.observer.RecordValue(ctx, eventstore.MetricEventsAppended, float64(eventCount), labels)
	case eventstore.OperationRead:
		r.observer.RecordValue(ctx, eventstore.MetricEventsRead, float64(eventCount), labels)
	}

	r.observer.FinishSpan(span, eventstore.StatusSuccess, map[string]string{
		eventstore.LabelEventCount: fmt.Sprintf("%d", eventCount),
		eventstore.LabelDurationMS: fmt.Sprintf("%.3f", toMilliseconds(duration)),
	})
}

// finishWithError records conflict or error metrics and finishes the span.
func (r *Repository) finishWithError(ctx context.Context, span eventstore.SpanContext, operation string, err error) {
	status := eventstore.StatusError

	if errors.Is(err, eventstore.ErrWrongExpectedVersion) || errors.Is(err, eventstore.ErrEventDuplicatedInStream) {
		status = eventstore.StatusConflict
		r.observer.IncrementCounter(ctx, eventstore.MetricConcurrencyConflicts, map[string]string{
			eventstore.LabelOperation:    operation,
			eventstore.LabelConflictType: eventstore.ErrorType(err),
		})
	}

	r.observer.FinishSpan(span, status, map[string]string{
		eventstore.LabelErrorType: eventstore.ErrorType(err),
	})
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
