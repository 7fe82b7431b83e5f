package eventstore

import (
	"context"
	"errors"
	"fmt"
)

// Broker notifies the subscribers of a published event through a Dispatcher.
type Broker struct {
	subscriptions *Subscriptions
	dispatcher    Dispatcher
}

// NewBroker wires a Broker. Nil arguments fall back to fresh Subscriptions and a DirectDispatcher.
func NewBroker(subscriptions *Subscriptions, dispatcher Dispatcher) *Broker {
	if subscriptions == nil {
		subscriptions = NewSubscriptions()
	}

	if dispatcher == nil {
		dispatcher = NewDirectDispatcher()
	}

	return &Broker{
		subscriptions: subscriptions,
		dispatcher:    dispatcher,
	}
}

// Call dispatches event to its subscribers in subscription order and stops at the first failure.
func (b *Broker) Call(ctx context.Context, event Event, record Record) error {
	for _, subscriber := range b.subscriptions.AllFor(event.Type()) {
		if err := b.dispatcher.Dispatch(ctx, subscriber, event, record); err != nil {
			return errors.Join(ErrDispatchFailed, fmt.Errorf("event %s of type %s", event.ID(), event.Type()), err)
		}
	}

	return nil
}

// AddSubscription fails with ErrInvalidSubscriber if the dispatcher cannot invoke the subscriber.
func (b *Broker) AddSubscription(subscriber Subscriber, eventTypes ...string) error {
	if err := b.verify(subscriber); err != nil {
		return err
	}

	b.subscriptions.AddSubscription(subscriber, eventTypes...)

	return nil
}

// AddGlobalSubscription fails with ErrInvalidSubscriber if the dispatcher cannot invoke the subscriber.
func (b *Broker) AddGlobalSubscription(subscriber Subscriber) error {
	if err := b.verify(subscriber); err != nil {
		return err
	}

	b.subscriptions.AddGlobalSubscription(subscriber)

	return nil
}

func (b *Broker) Subscriptions() *Subscriptions {
	return b.subscriptions
}

func (b *Broker) verify(subscriber Subscriber) error {
	if subscriber == nil || !b.dispatcher.Verify(subscriber) {
		return errors.Join(ErrInvalidSubscriber, fmt.Errorf("subscriber of type %T", subscriber))
	}

	return nil
}
