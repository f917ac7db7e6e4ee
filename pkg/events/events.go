// Package events defines the domain events consumed by the engine and the
// lifecycle events it publishes.
package events

import (
	"errors"
	"time"
)

type EventType string

// Kafka topics.
const TriggerTopic = "dripflow.trigger-events" // Domain events in (at-least-once)
const Topic = "dripflow.events"                // Engine lifecycle events out

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	SubscriberEnrolledEvent  EventType = "subscriber.enrolled"
	ExecutionCompletedEvent  EventType = "execution.completed"
	ExecutionFailedEvent     EventType = "execution.failed"
	ExecutionCancelledEvent  EventType = "execution.cancelled"
	AutomationActivatedEvent EventType = "automation.activated"
	AutomationPausedEvent    EventType = "automation.paused"
)

// TriggerEvent is a domain event emitted by the platform (signup, open,
// purchase, ...). It is transient input: the engine reacts to it but does
// not persist it.
type TriggerEvent struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	SubscriberID string         `json:"subscriber_id"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Source       string         `json:"source,omitempty"`
}

var (
	ErrMissingEventType    = errors.New("trigger event type is required")
	ErrMissingSubscriberID = errors.New("trigger event subscriber id is required")
)

// Validate checks the fields the engine depends on.
func (e *TriggerEvent) Validate() error {
	if e.Type == "" {
		return ErrMissingEventType
	}

	if e.SubscriberID == "" {
		return ErrMissingSubscriberID
	}

	return nil
}

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	AutomationID string    `json:"automation_id"`
	WorkerID     string    `json:"worker_id,omitempty"`
}

type SubscriberEnrolled struct {
	BaseEvent

	InstanceID   string `json:"instance_id"`
	SubscriberID string `json:"subscriber_id"`
}

func (e SubscriberEnrolled) GetType() EventType {
	return SubscriberEnrolledEvent
}

type ExecutionCompleted struct {
	BaseEvent

	InstanceID   string        `json:"instance_id"`
	SubscriberID string        `json:"subscriber_id"`
	Duration     time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	InstanceID   string `json:"instance_id"`
	SubscriberID string `json:"subscriber_id"`
	Reason       string `json:"reason"`
	Attempts     int    `json:"attempts"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	InstanceID   string `json:"instance_id"`
	SubscriberID string `json:"subscriber_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type AutomationActivated struct {
	BaseEvent
}

func (e AutomationActivated) GetType() EventType {
	return AutomationActivatedEvent
}

type AutomationPaused struct {
	BaseEvent
}

func (e AutomationPaused) GetType() EventType {
	return AutomationPausedEvent
}
