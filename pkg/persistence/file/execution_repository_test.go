package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

func testInstance(id, automationID, subscriberID string) *models.ExecutionInstance {
	now := time.Now().UTC()

	return &models.ExecutionInstance{
		ID:               id,
		AutomationID:     automationID,
		SubscriberID:     subscriberID,
		CurrentNodeID:    "start",
		Status:           models.ExecutionStatusActive,
		EnrolledAt:       now,
		LastTransitionAt: now,
	}
}

func finish(t *testing.T, repo *ExecutionRepository, instance *models.ExecutionInstance, status models.ExecutionStatus) {
	t.Helper()

	require.NoError(t, instance.TransitionTo(status, time.Now().UTC()))
	require.NoError(t, repo.Update(context.Background(), instance))
}

func TestExecutionRepository_CreateAndGet(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	instance := testInstance("exec-1", "auto-1", "sub-1")
	require.NoError(t, repo.CreateOpen(ctx, instance))

	got, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)

	assert.Equal(t, instance.AutomationID, got.AutomationID)
	assert.Equal(t, instance.SubscriberID, got.SubscriberID)
	assert.Equal(t, models.ExecutionStatusActive, got.Status)
}

func TestExecutionRepository_GetMissing(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_CreateOpenRejectsSecondOpenInstance(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-1", "auto-1", "sub-1")))

	err := repo.CreateOpen(ctx, testInstance("exec-2", "auto-1", "sub-1"))
	assert.True(t, persistence.IsOpenInstanceExists(err))
}

func TestExecutionRepository_CreateOpenAllowsAfterFinish(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	first := testInstance("exec-1", "auto-1", "sub-1")
	require.NoError(t, repo.CreateOpen(ctx, first))
	finish(t, repo, first, models.ExecutionStatusCompleted)

	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-2", "auto-1", "sub-1")))
}

func TestExecutionRepository_CreateOpenScopedToAutomationAndSubscriber(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-1", "auto-1", "sub-1")))
	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-2", "auto-1", "sub-2")))
	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-3", "auto-2", "sub-1")))
}

func TestExecutionRepository_FindOpen(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-1", "auto-1", "sub-1")))

	got, err := repo.FindOpen(ctx, "auto-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ID)

	_, err = repo.FindOpen(ctx, "auto-1", "sub-2")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_FindOpenIgnoresTerminal(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	instance := testInstance("exec-1", "auto-1", "sub-1")
	require.NoError(t, repo.CreateOpen(ctx, instance))
	finish(t, repo, instance, models.ExecutionStatusCancelled)

	_, err := repo.FindOpen(ctx, "auto-1", "sub-1")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_HasAnyInstance(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	instance := testInstance("exec-1", "auto-1", "sub-1")
	require.NoError(t, repo.CreateOpen(ctx, instance))
	finish(t, repo, instance, models.ExecutionStatusCompleted)

	// Terminal instances still count as enrollment history.
	has, err := repo.HasAnyInstance(ctx, "auto-1", "sub-1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasAnyInstance(ctx, "auto-1", "sub-2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestExecutionRepository_ListByAutomation(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	first := testInstance("exec-1", "auto-1", "sub-1")
	require.NoError(t, repo.CreateOpen(ctx, first))
	finish(t, repo, first, models.ExecutionStatusCompleted)

	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-2", "auto-1", "sub-2")))
	require.NoError(t, repo.CreateOpen(ctx, testInstance("exec-3", "auto-2", "sub-3")))

	all, err := repo.ListByAutomation(ctx, "auto-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := repo.ListOpenByAutomation(ctx, "auto-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "exec-2", open[0].ID)
}

func TestExecutionRepository_UpdateMissing(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	err := repo.Update(context.Background(), testInstance("missing", "auto-1", "sub-1"))
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_Leases(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	acquired, err := repo.TryAcquireLease(ctx, "exec-1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Another worker cannot take a held lease.
	acquired, err = repo.TryAcquireLease(ctx, "exec-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// The holder can reacquire its own lease.
	acquired, err = repo.TryAcquireLease(ctx, "exec-1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, repo.RenewLease(ctx, "exec-1", "worker-a", time.Minute))

	err = repo.RenewLease(ctx, "exec-1", "worker-b", time.Minute)
	assert.True(t, persistence.IsLeaseNotHeld(err))
}

func TestExecutionRepository_ExpiredLeaseIsReclaimable(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	acquired, err := repo.TryAcquireLease(ctx, "exec-1", "worker-a", -time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = repo.TryAcquireLease(ctx, "exec-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// The original holder lost the lease and cannot renew it.
	err = repo.RenewLease(ctx, "exec-1", "worker-a", time.Minute)
	assert.True(t, persistence.IsLeaseNotHeld(err))
}

func TestExecutionRepository_ReleaseLease(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	acquired, err := repo.TryAcquireLease(ctx, "exec-1", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Releasing someone else's lease is a no-op.
	require.NoError(t, repo.ReleaseLease(ctx, "exec-1", "worker-b"))

	acquired, err = repo.TryAcquireLease(ctx, "exec-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, repo.ReleaseLease(ctx, "exec-1", "worker-a"))

	acquired, err = repo.TryAcquireLease(ctx, "exec-1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}
