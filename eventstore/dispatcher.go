package eventstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Subscriber is anything a Dispatcher can invoke. Which kinds are accepted is decided by Dispatcher.Verify.
type Subscriber = any

// Handler is a subscriber that receives the published domain event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// RecordHandler is a subscriber that receives the stored record, typically a task executed by a worker.
type RecordHandler interface {
	HandleRecord(ctx context.Context, record Record) error
}

// RecordHandlerFunc adapts a function to RecordHandler.
type RecordHandlerFunc func(ctx context.Context, record Record) error

func (f RecordHandlerFunc) HandleRecord(ctx context.Context, record Record) error {
	return f(ctx, record)
}

// Dispatcher invokes or schedules the invocation of a subscriber for a published event.
type Dispatcher interface {
	Dispatch(ctx context.Context, subscriber Subscriber, event Event, record Record) error
	Verify(subscriber Subscriber) bool
}

// DirectDispatcher calls Handler subscribers synchronously.
// Besides Handler it accepts plain functions with the signatures func(context.Context, Event) error and func(Event).
type DirectDispatcher struct{}

func NewDirectDispatcher() DirectDispatcher {
	return DirectDispatcher{}
}

func (DirectDispatcher) Dispatch(ctx context.Context, subscriber Subscriber, event Event, _ Record) error {
	switch s := subscriber.(type) {
	case Handler:
		return s.Handle(ctx, event)
	case func(context.Context, Event) error:
		return s(ctx, event)
	case func(Event):
		s(event)
		return nil
	default:
		return errors.Join(ErrInvalidSubscriber, fmt.Errorf("subscriber of type %T", subscriber))
	}
}

func (DirectDispatcher) Verify(subscriber Subscriber) bool {
	switch s := subscriber.(type) {
	case Handler:
		return s != nil
	case func(context.Context, Event) error:
		return s != nil
	case func(Event):
		return s != nil
	default:
		return false
	}
}

// ComposedDispatcher delegates every subscriber to the first of its dispatchers that verifies it.
type ComposedDispatcher struct {
	dispatchers []Dispatcher
}

func NewComposedDispatcher(dispatchers ...Dispatcher) ComposedDispatcher {
	return ComposedDispatcher{dispatchers: slices.Clone(dispatchers)}
}

func (c ComposedDispatcher) Dispatch(ctx context.Context, subscriber Subscriber, event Event, record Record) error {
	for _, dispatcher := range c.dispatchers {
		if dispatcher.Verify(subscriber) {
			return dispatcher.Dispatch(ctx, subscriber, event, record)
		}
	}

	return errors.Join(ErrInvalidSubscriber, fmt.Errorf("subscriber of type %T", subscriber))
}

func (c ComposedDispatcher) Verify(subscriber Subscriber) bool {
	for _, dispatcher := range c.dispatchers {
		if dispatcher.Verify(subscriber) {
			return true
		}
	}

	return false
}
