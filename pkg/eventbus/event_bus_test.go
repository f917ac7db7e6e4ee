package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/channels/gochannel"
	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/log"
)

func newTestEventBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestEventBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []*events.SubscriberEnrolled
	)

	err := bus.Handle(events.SubscriberEnrolledEvent, func(_ context.Context, event any) error {
		enrolled, ok := event.(*events.SubscriberEnrolled)
		require.True(t, ok)

		mu.Lock()
		received = append(received, enrolled)
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	event := events.SubscriberEnrolled{
		BaseEvent: events.BaseEvent{
			ID:           bus.GenerateID(),
			Type:         events.SubscriberEnrolledEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: "auto-1",
		},
		InstanceID:   "exec-1",
		SubscriberID: "sub-1",
	}

	require.NoError(t, bus.Publish(ctx, "auto-1", event))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "exec-1", received[0].InstanceID)
	assert.Equal(t, "sub-1", received[0].SubscriberID)
	assert.Equal(t, "auto-1", received[0].AutomationID)
}

func TestWatermillEventBus_UnhandledEventTypeIsAcked(t *testing.T) {
	bus := newTestEventBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		count int
	)

	err := bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		count++
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler for enrollment events; the message is dropped without
	// blocking later deliveries.
	enrolled := events.SubscriberEnrolled{
		BaseEvent: events.BaseEvent{
			ID:           bus.GenerateID(),
			Type:         events.SubscriberEnrolledEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: "auto-1",
		},
		InstanceID:   "exec-1",
		SubscriberID: "sub-1",
	}
	require.NoError(t, bus.Publish(ctx, "auto-1", enrolled))

	completed := events.ExecutionCompleted{
		BaseEvent: events.BaseEvent{
			ID:           bus.GenerateID(),
			Type:         events.ExecutionCompletedEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: "auto-1",
		},
		InstanceID:   "exec-1",
		SubscriberID: "sub-1",
	}
	require.NoError(t, bus.Publish(ctx, "auto-1", completed))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTriggerEventBus_RoundTrip(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewTriggerEventBus(log.NewTestLogger(), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []*events.TriggerEvent
	)

	require.NoError(t, bus.HandleTriggerEvents(func(_ context.Context, triggerEvent *events.TriggerEvent) error {
		mu.Lock()
		received = append(received, triggerEvent)
		mu.Unlock()

		return nil
	}))

	require.NoError(t, bus.SubscribeToTriggerEvents(ctx))

	require.NoError(t, bus.PublishTriggerEvent(ctx, &events.TriggerEvent{
		Type:         "user.signed_up",
		SubscriberID: "sub-1",
		Data:         map[string]any{"plan": "pro"},
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "user.signed_up", received[0].Type)
	assert.Equal(t, "sub-1", received[0].SubscriberID)
	assert.Equal(t, "pro", received[0].Data["plan"])
}

func TestTriggerEventBus_RejectsInvalidEvent(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewTriggerEventBus(log.NewTestLogger(), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	err = bus.PublishTriggerEvent(context.Background(), &events.TriggerEvent{Type: "user.signed_up"})
	assert.Error(t, err)
}
