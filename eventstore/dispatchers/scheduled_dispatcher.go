package dispatchers

import (
	"context"
	"errors"
	"fmt"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// ScheduledDispatcher hands subscribers to a Scheduler right away.
type ScheduledDispatcher struct {
	scheduler Scheduler
}

func NewScheduledDispatcher(scheduler Scheduler) (ScheduledDispatcher, error) {
	if scheduler == nil {
		return ScheduledDispatcher{}, ErrNilScheduler
	}

	return ScheduledDispatcher{scheduler: scheduler}, nil
}

func (d ScheduledDispatcher) Dispatch(
	ctx context.Context,
	subscriber eventstore.Subscriber,
	_ eventstore.Event,
	record eventstore.Record,
) error {

	return d.scheduler.Schedule(ctx, subscriber, record)
}

func (d ScheduledDispatcher) Verify(subscriber eventstore.Subscriber) bool {
	return d.scheduler.Verify(subscriber)
}

// CommitHooks runs callbacks once the surrounding transaction committed.
type CommitHooks interface {
	OnCommit(hook func(ctx context.Context) error) error
}

// AfterCommitDispatcher schedules subscribers only after the unit of work commits,
// so handlers never see events of a rolled back transaction.
type AfterCommitDispatcher struct {
	scheduler Scheduler
	hooks     CommitHooks
}

func NewAfterCommitDispatcher(scheduler Scheduler, hooks CommitHooks) (AfterCommitDispatcher, error) {
	if scheduler == nil {
		return AfterCommitDispatcher{}, ErrNilScheduler
	}

	if hooks == nil {
		return AfterCommitDispatcher{}, ErrNilCommitHooks
	}

	return AfterCommitDispatcher{scheduler: scheduler, hooks: hooks}, nil
}

func (d AfterCommitDispatcher) Dispatch(
	_ context.Context,
	subscriber eventstore.Subscriber,
	_ eventstore.Event,
	record eventstore.Record,
) error {

	if !d.scheduler.Verify(subscriber) {
		return errors.Join(eventstore.ErrInvalidSubscriber, fmt.Errorf("subscriber of type %T", subscriber))
	}

	return d.hooks.OnCommit(func(ctx context.Context) error {
		return d.scheduler.Schedule(ctx, subscriber, record)
	})
}

func (d AfterCommitDispatcher) Verify(subscriber eventstore.Subscriber) bool {
	return d.scheduler.Verify(subscriber)
}

var (
	_ eventstore.Dispatcher = ScheduledDispatcher{}
	_ eventstore.Dispatcher = AfterCommitDispatcher{}
)
