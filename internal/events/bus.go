package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/taskforge/internal/log"
)

// Handler handles a published event
type Handler func(Event)

type subscription struct {
	id        string
	eventType EventType
	handler   Handler
}

const wildcard EventType = "*"

// Bus is a synchronous pub-sub event bus. Handlers run on the publishing
// goroutine; specific subscribers are called before wildcard subscribers,
// each group in registration order.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[EventType][]subscription
	nextID        atomic.Uint64
	logger        *log.Logger
}

// NewBus creates a new event bus. A nil logger discards handler panics.
func NewBus(logger *log.Logger) *Bus {
	return &Bus{
		subscriptions: make(map[EventType][]subscription),
		logger:        log.OrDiscard(logger).WithComponent("events"),
	}
}

// Subscribe registers a handler for a specific event type and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	specific := append([]subscription(nil), b.subscriptions[event.Type]...)
	wild := append([]subscription(nil), b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, event)
	}
	for _, sub := range wild {
		b.safeCall(sub.handler, event)
	}
}

func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", string(event.Type),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
