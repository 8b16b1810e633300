// Package events provides the in-process publish/subscribe bus that
// carries round phase-change notifications, outcome lifecycle events and
// platform disable/enable interrupts between components.
package events

import (
	"sync"
)

// Type identifies an event kind with type safety.
type Type string

// Event is implemented by every event published on the bus.
type Event interface {
	EventType() Type
}

// Handler receives published events.
type Handler func(Event)

// Predicate optionally narrows a subscription beyond its event type.
type Predicate func(Event) bool

// Bus manages event publishing and subscription. Subscriptions are keyed
// by a subscriber id so a component can release all of its subscriptions
// in one call during teardown.
type Bus interface {
	Subscribe(subscriberID string, t Type, handler Handler, opts ...SubscribeOption)
	Publish(event Event)
	UnsubscribeAll(subscriberID string)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithFilter attaches a predicate; the handler only sees events for which
// the predicate returns true.
func WithFilter(p Predicate) SubscribeOption {
	return func(s *subscription) { s.filter = p }
}

type subscription struct {
	subscriberID string
	handler      Handler
	filter       Predicate
}

// SimpleBus is a basic synchronous in-memory bus implementation. Handlers
// run on the publishing goroutine, in subscription order.
type SimpleBus struct {
	mu   sync.RWMutex
	subs map[Type][]*subscription
}

// NewBus creates a new event bus.
func NewBus() *SimpleBus {
	return &SimpleBus{subs: make(map[Type][]*subscription)}
}

// Subscribe adds a handler for events of type t.
func (bus *SimpleBus) Subscribe(subscriberID string, t Type, handler Handler, opts ...SubscribeOption) {
	sub := &subscription{subscriberID: subscriberID, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subs[t] = append(bus.subs[t], sub)
}

// Publish sends an event to all matching subscribers.
func (bus *SimpleBus) Publish(event Event) {
	bus.mu.RLock()
	subs := make([]*subscription, len(bus.subs[event.EventType()]))
	copy(subs, bus.subs[event.EventType()])
	bus.mu.RUnlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		sub.handler(event)
	}
}

// UnsubscribeAll removes every subscription registered under subscriberID.
func (bus *SimpleBus) UnsubscribeAll(subscriberID string) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for t, subs := range bus.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.subscriberID != subscriberID {
				kept = append(kept, sub)
			}
		}
		bus.subs[t] = kept
	}
}
