package eventstore

import (
	"reflect"
	"slices"
	"sync"
)

// Subscriptions is the registry of subscribers, indexed by event type ("local") plus subscribers to every event ("global").
// It is safe for concurrent use.
type Subscriptions struct {
	mu     sync.RWMutex
	local  map[string][]Subscriber
	global []Subscriber
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		local: make(map[string][]Subscriber),
	}
}

// AddSubscription registers the subscriber for each of the event types.
func (s *Subscriptions) AddSubscription(subscriber Subscriber, eventTypes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, eventType := range eventTypes {
		s.local[eventType] = append(s.local[eventType], subscriber)
	}
}

// AddGlobalSubscription registers the subscriber for all events. Registering the same subscriber twice has no effect.
func (s *Subscriptions) AddGlobalSubscription(subscriber Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.global {
		if sameSubscriber(existing, subscriber) {
			return
		}
	}

	s.global = append(s.global, subscriber)
}

// AllFor returns the subscribers of the event type followed by the global subscribers.
// A global subscriber that is also registered for the event type is returned once, in its local place.
func (s *Subscriptions) AllFor(eventType string) []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	local := s.local[eventType]

	all := make([]Subscriber, 0, len(local)+len(s.global))
	all = append(all, local...)

	for _, subscriber := range s.global {
		if !slices.ContainsFunc(local, func(existing Subscriber) bool { return sameSubscriber(existing, subscriber) }) {
			all = append(all, subscriber)
		}
	}

	return all
}

// LocalFor returns only the subscribers registered for the event type.
func (s *Subscriptions) LocalFor(eventType string) []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.local[eventType])
}

// Global returns the subscribers to all events.
func (s *Subscriptions) Global() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.global)
}

// sameSubscriber compares functions by code pointer and comparable values by equality.
func sameSubscriber(a, b Subscriber) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() || va.Type() != vb.Type() {
		return false
	}

	if va.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}

	if !va.Type().Comparable() {
		return false
	}

	return va.Interface() == vb.Interface()
}
