package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dripflow/dripflow/pkg/events"
)

// TriggerEventHandler is called for each received trigger event.
type TriggerEventHandler func(ctx context.Context, triggerEvent *events.TriggerEvent) error

// TriggerEventPublisher publishes trigger events.
type TriggerEventPublisher interface {
	PublishTriggerEvent(ctx context.Context, triggerEvent *events.TriggerEvent) error
}

// TriggerEventSubscriber subscribes to trigger events.
type TriggerEventSubscriber interface {
	HandleTriggerEvents(handler TriggerEventHandler) error
	SubscribeToTriggerEvents(ctx context.Context) error
}

// TriggerEventBus combines publishing and subscribing for trigger events.
// Delivery is at-least-once: handlers must tolerate redundant deliveries.
type TriggerEventBus interface {
	TriggerEventPublisher
	TriggerEventSubscriber
	Close() error
}

type watermillTriggerEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   []TriggerEventHandler
	logger     *slog.Logger
}

// NewTriggerEventBus creates a trigger event bus on top of any watermill
// publisher/subscriber pair (Kafka in production, GoChannel in tests).
func NewTriggerEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) TriggerEventBus {
	return &watermillTriggerEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make([]TriggerEventHandler, 0),
		logger:     logger.With("module", "trigger_event_bus"),
	}
}

func (t *watermillTriggerEventBus) PublishTriggerEvent(ctx context.Context, triggerEvent *events.TriggerEvent) error {
	if err := triggerEvent.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(triggerEvent)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to marshal trigger event", "error", err, "event_type", triggerEvent.Type)

		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, triggerEvent.SubscriberID) // Kafka partitioning key
	msg.Metadata.Set(events.EventTypeMetadataKey, triggerEvent.Type)

	err = t.publisher.Publish(events.TriggerTopic, msg)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to publish trigger event", "error", err)

		return err
	}

	return nil
}

func (t *watermillTriggerEventBus) HandleTriggerEvents(handler TriggerEventHandler) error {
	t.handlers = append(t.handlers, handler)

	return nil
}

func (t *watermillTriggerEventBus) SubscribeToTriggerEvents(ctx context.Context) error {
	if len(t.handlers) == 0 {
		t.logger.WarnContext(ctx, "No handlers registered for trigger events")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting trigger event subscription", "topic", events.TriggerTopic)

	messages, err := t.subscriber.Subscribe(ctx, events.TriggerTopic)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to subscribe to trigger events", "error", err, "topic", events.TriggerTopic)

		return err
	}

	go func() {
		for msg := range messages {
			var triggerEvent events.TriggerEvent
			if err := json.Unmarshal(msg.Payload, &triggerEvent); err != nil {
				t.logger.ErrorContext(ctx, "Failed to unmarshal trigger event", "error", err, "message_id", msg.UUID)
				msg.Nack()

				continue
			}

			success := true

			for _, handler := range t.handlers {
				if err := handler(ctx, &triggerEvent); err != nil {
					t.logger.ErrorContext(ctx, "Trigger event handler failed",
						"error", err,
						"event_type", triggerEvent.Type,
						"subscriber_id", triggerEvent.SubscriberID)

					success = false
				}
			}

			if success {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

func (t *watermillTriggerEventBus) Close() error {
	var publisherErr, subscriberErr error

	if t.publisher != nil {
		publisherErr = t.publisher.Close()
		if publisherErr != nil {
			t.logger.Error("Failed to close trigger event publisher", "error", publisherErr)
		}
	}

	if t.subscriber != nil {
		subscriberErr = t.subscriber.Close()
		if subscriberErr != nil {
			t.logger.Error("Failed to close trigger event subscriber", "error", subscriberErr)
		}
	}

	if publisherErr != nil {
		return publisherErr
	}

	return subscriberErr
}
