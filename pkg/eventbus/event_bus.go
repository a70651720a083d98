// Package eventbus carries the typed domain events between vidaflow
// services over a watermill-backed transport.
package eventbus

import (
	"context"

	"github.com/vidaflow/vidaflow/pkg/events"
)

// Event is any domain event that can travel over the bus.
type Event interface {
	GetType() events.EventType
}

// EventHandler consumes one decoded event. The event argument is the typed
// struct registered for the event type, passed by pointer.
type EventHandler func(ctx context.Context, event any) error

// EventPublisher is the write half of the bus. Key selects the partition so
// events of one execution stay ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber is the read half: register handlers, then Subscribe to
// start the consume loop.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
