package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dripflow/dripflow/pkg/channels/gochannel"
	"github.com/dripflow/dripflow/pkg/channels/kafka"
	"github.com/dripflow/dripflow/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus for the given provider.
func NewEventBus(provider, serviceName string, brokers []string, logger *slog.Logger) eventbus.EventBus {
	pub, sub := createChannel(provider, serviceName, brokers, logger)

	return eventbus.NewWatermillEventBus(pub, sub)
}

// NewTriggerEventBus creates the inbound trigger event bus for the given
// provider.
func NewTriggerEventBus(provider, serviceName string, brokers []string, logger *slog.Logger) eventbus.TriggerEventBus {
	pub, sub := createChannel(provider, serviceName, brokers, logger)

	return eventbus.NewTriggerEventBus(logger, pub, sub)
}

func createChannel(provider, serviceName string, brokers []string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName, brokers)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create GoChannel pub/sub: %w", err))
		}

		return pub, sub
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
