// Package main provides the Dripflow dispatcher service. It consumes the
// inbound trigger event stream and converts each event into a queue job,
// leaving matching and enrollment to the workers.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/services"
)

type DispatcherManager struct {
	id         string
	triggerBus eventbus.TriggerEventBus
	enrollment *services.Enrollment
	logger     *slog.Logger
}

func NewDispatcherManager(
	id string,
	triggerBus eventbus.TriggerEventBus,
	enrollment *services.Enrollment,
	logger *slog.Logger,
) *DispatcherManager {
	return &DispatcherManager{
		id:         id,
		triggerBus: triggerBus,
		enrollment: enrollment,
		logger:     logger.With("module", "dispatcher_manager"),
	}
}

func (d *DispatcherManager) Start(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Starting dispatcher manager")

	if err := d.triggerBus.HandleTriggerEvents(d.handleTriggerEvent); err != nil {
		return err
	}

	if err := d.triggerBus.SubscribeToTriggerEvents(ctx); err != nil {
		d.logger.ErrorContext(ctx, "Failed to subscribe to trigger events", "error", err)

		return err
	}

	d.logger.InfoContext(ctx, "Dispatcher started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		d.logger.InfoContext(ctx, "Shutting down dispatcher...")
	case <-ctx.Done():
	}

	return nil
}

// handleTriggerEvent forwards one trigger event into the job queue. An
// error leaves the message unacked so the bus redelivers it.
func (d *DispatcherManager) handleTriggerEvent(ctx context.Context, triggerEvent *events.TriggerEvent) error {
	d.logger.InfoContext(ctx, "Processing trigger event",
		"event_type", triggerEvent.Type,
		"subscriber_id", triggerEvent.SubscriberID)

	return d.enrollment.OnTriggerEvent(ctx, triggerEvent)
}
