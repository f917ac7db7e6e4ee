// Package eventbus provides event-driven communication between the API,
// dispatcher, and workers.
package eventbus

import (
	"context"

	"github.com/dripflow/dripflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

// EventBus carries the engine's lifecycle events (enrollments, execution
// completions, automation status changes).
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
