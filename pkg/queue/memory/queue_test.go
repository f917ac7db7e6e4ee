package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/queue"
)

func TestQueue_PriorityOrdering(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "low", Type: queue.JobTypeExecuteAutomation, Priority: queue.PriorityLow}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "normal", Type: queue.JobTypeExecuteAutomation, Priority: queue.PriorityNormal}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "critical", Type: queue.JobTypeProcessTrigger, Priority: queue.PriorityCritical}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "high", Type: queue.JobTypeExecuteAutomation, Priority: queue.PriorityHigh}))

	var order []string

	for range 4 {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)

		order = append(order, job.ID)

		require.NoError(t, q.Complete(ctx, job))
	}

	assert.Equal(t, []string{"critical", "high", "normal", "low"}, order)
}

func TestQueue_FIFOWithinTier(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, q.Enqueue(ctx, queue.Job{ID: id, Type: queue.JobTypeExecuteAutomation, Priority: queue.PriorityHigh}))
	}

	for _, want := range []string{"first", "second", "third"} {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, job.ID)
		require.NoError(t, q.Complete(ctx, job))
	}
}

func TestQueue_DelayedJobInvisibleUntilDue(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Job{
		ID:           "later",
		Type:         queue.JobTypeProcessScheduledStep,
		Priority:     queue.PriorityCritical,
		ScheduledFor: time.Now().Add(50 * time.Millisecond),
	}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "now", Type: queue.JobTypeExecuteAutomation, Priority: queue.PriorityLow}))

	// The delayed job outranks "now" but is not yet eligible.
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "now", job.ID)
	require.NoError(t, q.Complete(ctx, job))

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", job.ID)
	require.NoError(t, q.Complete(ctx, job))
}

func TestQueue_DequeueBlocksUntilContextDone(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	job, err := q.Dequeue(ctx)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CompleteRequiresActiveJob(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	err := q.Complete(ctx, &queue.Job{ID: "ghost"})
	assert.ErrorIs(t, err, queue.ErrJobNotActive)

	err = q.Fail(ctx, &queue.Job{ID: "ghost"}, "boom")
	assert.ErrorIs(t, err, queue.ErrJobNotActive)
}

func TestQueue_ClaimIdempotencyKeyOnce(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	claimed, err := q.ClaimIdempotencyKey(ctx, "key-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = q.ClaimIdempotencyKey(ctx, "key-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = q.ClaimIdempotencyKey(ctx, "key-2", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestQueue_ClaimExpiredKeyAgain(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	now := time.Now()
	q.now = func() time.Time { return now }

	claimed, err := q.ClaimIdempotencyKey(ctx, "key", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	q.now = func() time.Time { return now.Add(2 * time.Minute) }

	claimed, err = q.ClaimIdempotencyKey(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestQueue_Metrics(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "w", Type: queue.JobTypeExecuteAutomation, Priority: queue.PriorityHigh}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{
		ID: "d", Type: queue.JobTypeProcessScheduledStep, ScheduledFor: time.Now().Add(time.Hour),
	}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "done", Type: queue.JobTypeProcessTrigger, Priority: queue.PriorityCritical}))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "done", job.ID)
	require.NoError(t, q.Complete(ctx, job))

	metrics, err := q.Metrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), metrics[queue.JobTypeExecuteAutomation].Waiting)
	assert.Equal(t, int64(1), metrics[queue.JobTypeProcessScheduledStep].Delayed)
	assert.Equal(t, int64(1), metrics[queue.JobTypeProcessTrigger].Completed)
	assert.Equal(t, int64(0), metrics[queue.JobTypeRetryFailedStep].Waiting)
}

func TestQueue_PurgeRetention(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	now := time.Now()
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "old", Type: queue.JobTypeExecuteAutomation}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: "fresh", Type: queue.JobTypeExecuteAutomation}))

	for range 2 {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)

		if job.ID == "old" {
			require.NoError(t, q.Complete(ctx, job))
		} else {
			// Finish "fresh" a day later.
			q.now = func() time.Time { return now.Add(25 * time.Hour) }
			require.NoError(t, q.Complete(ctx, job))
			q.now = func() time.Time { return now }
		}
	}

	q.now = func() time.Time { return now.Add(26 * time.Hour) }

	require.NoError(t, q.Purge(ctx, queue.DefaultRetention))

	metrics, err := q.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics[queue.JobTypeExecuteAutomation].Completed)
}

func TestQueue_PurgeCapsRetained(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for range 5 {
		require.NoError(t, q.Enqueue(ctx, queue.Job{Type: queue.JobTypeExecuteAutomation}))

		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
	}

	require.NoError(t, q.Purge(ctx, queue.RetentionPolicy{
		CompletedMaxAge: time.Hour,
		FailedMaxAge:    time.Hour,
		MaxRetained:     2,
	}))

	metrics, err := q.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics[queue.JobTypeExecuteAutomation].Completed)
}

func TestQueue_ClosedQueue(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Close())

	err := q.Enqueue(ctx, queue.Job{Type: queue.JobTypeExecuteAutomation})
	assert.ErrorIs(t, err, queue.ErrQueueClosed)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}
