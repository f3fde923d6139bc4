package events

import (
	"sync"
	"time"
)

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus routes events from producers (detector, price bridge) to
// consumers (distribution layer) without coupling them
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSetup publishes a setup lifecycle event. The event type follows the
// setup's stage; Data carries the full serialized setup.
func (eb *EventBus) PublishSetup(eventType EventType, setup map[string]interface{}) {
	eb.Publish(NewEvent(eventType, setup))
}

// PublishAdminAlert publishes a broadcast alert to every connected client
func (eb *EventBus) PublishAdminAlert(title, message, severity string) {
	eb.Publish(NewAdminAlert(title, message, severity))
}
