package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dripflow/dripflow/pkg/delivery"
	"github.com/dripflow/dripflow/pkg/log"
	"github.com/dripflow/dripflow/pkg/mocks"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/persistence/file"
	"github.com/dripflow/dripflow/pkg/queue"
	queuememory "github.com/dripflow/dripflow/pkg/queue/memory"
	"github.com/dripflow/dripflow/pkg/services"
	submemory "github.com/dripflow/dripflow/pkg/subscriber/memory"
)

type testEnv struct {
	worker      *Worker
	persistence persistence.Persistence
	queue       *queuememory.Queue
	subscribers *submemory.Provider
	sender      *mocks.MockSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.NewTestLogger()
	store := file.NewPersistence(t.TempDir())
	jobQueue := queuememory.NewQueue()
	subscribers := submemory.NewProvider()
	sender := &mocks.MockSender{}

	subscribers.Put(&models.SubscriberSnapshot{
		ID:         "sub-1",
		Attributes: map[string]any{"country": "BR", "score": 80.0},
	})

	enrollment := services.NewEnrollment(store, jobQueue, subscribers, nil, logger)

	worker := NewWorker("worker-test", Deps{
		Persistence: store,
		Queue:       jobQueue,
		Subscribers: subscribers,
		Sender:      sender,
		Enrollment:  enrollment,
	}, 1, noop.NewTracerProvider().Tracer("test"), logger)

	return &testEnv{
		worker:      worker,
		persistence: store,
		queue:       jobQueue,
		subscribers: subscribers,
		sender:      sender,
	}
}

func linearGraph() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "welcome"}},
			{ID: "exit", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "send", Branch: models.BranchDefault},
			{Source: "send", Target: "exit", Branch: models.BranchDefault},
		},
	}
}

func (env *testEnv) saveAutomation(t *testing.T, status models.AutomationStatus, graph *models.WorkflowGraph) *models.Automation {
	t.Helper()

	automation := &models.Automation{
		ID:     "auto-1",
		Name:   "Welcome flow",
		Status: status,
		Graph:  graph,
		Trigger: models.TriggerConfig{
			EventType: "user.signed_up",
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	require.NoError(t, env.persistence.AutomationRepository().Save(context.Background(), automation))

	return automation
}

func (env *testEnv) createInstance(t *testing.T, automationID, nodeID string) *models.ExecutionInstance {
	t.Helper()

	now := time.Now().UTC()
	instance := &models.ExecutionInstance{
		ID:               "exec-test1",
		AutomationID:     automationID,
		SubscriberID:     "sub-1",
		CurrentNodeID:    nodeID,
		Status:           models.ExecutionStatusActive,
		EnrolledAt:       now,
		LastTransitionAt: now,
	}

	require.NoError(t, env.persistence.ExecutionRepository().CreateOpen(context.Background(), instance))

	return instance
}

func (env *testEnv) reload(t *testing.T, instanceID string) *models.ExecutionInstance {
	t.Helper()

	instance, err := env.persistence.ExecutionRepository().GetByID(context.Background(), instanceID)
	require.NoError(t, err)

	return instance
}

func stepJob(automationID, instanceID, nodeID string) *queue.Job {
	return &queue.Job{
		ID:           "job-1",
		Type:         queue.JobTypeExecuteAutomation,
		Priority:     queue.PriorityHigh,
		AutomationID: automationID,
		SubscriberID: "sub-1",
		InstanceID:   instanceID,
		NodeID:       nodeID,
	}
}

func TestStepJob_HappyPathCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.MatchedBy(func(req delivery.SendRequest) bool {
		return req.SubscriberID == "sub-1" && req.TemplateID == "welcome"
	})).Return(nil).Once()

	err := env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start"))
	require.NoError(t, err)

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.StepsTaken)

	outcomes := make([]string, 0, len(got.History))
	for _, entry := range got.History {
		outcomes = append(outcomes, entry.Outcome)
	}

	assert.Equal(t, []string{"started", "sent", "completed"}, outcomes)

	env.sender.AssertExpectations(t)
}

func TestStepJob_TransientSendFailureSchedulesRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.Anything).
		Return(delivery.NewTransientError("smtp timeout", nil)).Once()

	err := env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start"))
	require.NoError(t, err)

	// The instance stays active while the retry waits its turn, with the
	// failed attempt on record.
	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusActive, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, "send", got.History[1].NodeID)
	assert.Contains(t, got.History[1].Outcome, "send_failed")

	metrics, err := env.queue.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics[queue.JobTypeRetryFailedStep].Delayed)

	// The retry attempt succeeds and the instance completes.
	env.sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	retry := stepJob(automation.ID, instance.ID, "send")
	retry.Type = queue.JobTypeRetryFailedStep
	retry.Attempt = 1

	require.NoError(t, env.worker.handleStepJob(ctx, retry))

	got = env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

	env.sender.AssertExpectations(t)
}

func TestStepJob_TerminalSendFailureFailsInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.Anything).
		Return(delivery.NewTerminalError("address suppressed", nil)).Once()

	err := env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start"))
	require.NoError(t, err)

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "send failed")
}

func TestStepJob_RetryBudgetExhaustedFailsInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.Anything).
		Return(delivery.NewTransientError("smtp timeout", nil)).Once()

	job := stepJob(automation.ID, instance.ID, "send")
	job.Type = queue.JobTypeRetryFailedStep
	job.Attempt = MaxAttempts

	require.NoError(t, env.worker.handleStepJob(ctx, job))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)

	require.Len(t, got.History, 1)
	assert.Equal(t, "send", got.History[0].NodeID)
	assert.Contains(t, got.History[0].Outcome, "failed")
	assert.Equal(t, MaxAttempts, got.History[0].Attempt)
}

func TestStepJob_FailedSendAttemptsRecordedInHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.Anything).
		Return(delivery.NewTransientError("smtp timeout", nil)).Times(MaxAttempts + 1)

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		retry := stepJob(automation.ID, instance.ID, "send")
		retry.Type = queue.JobTypeRetryFailedStep
		retry.Attempt = attempt

		require.NoError(t, env.worker.handleStepJob(ctx, retry))
	}

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)

	// Every attempt against the send node left a history entry: the
	// transient failures plus the terminal one.
	var outcomes []string

	for _, entry := range got.History {
		if entry.NodeID == "send" {
			outcomes = append(outcomes, entry.Outcome)
		}
	}

	require.Len(t, outcomes, MaxAttempts+1)

	for _, outcome := range outcomes[:MaxAttempts] {
		assert.Contains(t, outcome, "send_failed")
	}

	assert.Contains(t, outcomes[MaxAttempts], "failed")

	env.sender.AssertExpectations(t)
}

func TestHandleJob_StepJobInfraErrorRedeliversJob(t *testing.T) {
	ctx := context.Background()
	logger := log.NewTestLogger()
	store := file.NewPersistence(t.TempDir())
	subscribers := submemory.NewProvider()
	sender := &mocks.MockSender{}
	jobQueue := &mocks.MockQueue{}

	worker := NewWorker("worker-test", Deps{
		Persistence: store,
		Queue:       jobQueue,
		Subscribers: subscribers,
		Sender:      sender,
	}, 1, noop.NewTracerProvider().Tracer("test"), logger)

	graph := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "wait", Kind: models.NodeKindDelay, Config: map[string]any{"duration": "1h"}},
			{ID: "exit", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "wait", Branch: models.BranchDefault},
			{Source: "wait", Target: "exit", Branch: models.BranchDefault},
		},
	}

	automation := &models.Automation{
		ID:        "auto-1",
		Name:      "Welcome flow",
		Status:    models.AutomationStatusActive,
		Graph:     graph,
		Trigger:   models.TriggerConfig{EventType: "user.signed_up"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AutomationRepository().Save(ctx, automation))

	now := time.Now().UTC()
	instance := &models.ExecutionInstance{
		ID:               "exec-test1",
		AutomationID:     automation.ID,
		SubscriberID:     "sub-1",
		CurrentNodeID:    "start",
		Status:           models.ExecutionStatusActive,
		EnrolledAt:       now,
		LastTransitionAt: now,
	}
	require.NoError(t, store.ExecutionRepository().CreateOpen(ctx, instance))

	// The delayed continuation cannot be enqueued, so a copy of the job
	// must come back later instead of leaving the instance parked forever.
	jobQueue.On("Enqueue", mock.Anything, mock.MatchedBy(func(j queue.Job) bool {
		return j.Type == queue.JobTypeProcessScheduledStep
	})).Return(errors.New("connection refused")).Once()
	jobQueue.On("Enqueue", mock.Anything, mock.MatchedBy(func(j queue.Job) bool {
		return j.Type == queue.JobTypeExecuteAutomation && j.InstanceID == instance.ID && !j.ScheduledFor.IsZero()
	})).Return(nil).Once()
	jobQueue.On("Fail", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	worker.handleJob(ctx, stepJob(automation.ID, instance.ID, "start"))

	jobQueue.AssertExpectations(t)
	jobQueue.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestStepJob_ConditionTrueBranchExits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	graph := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{
				"field": "country", "operator": "equals", "value": "BR",
			}},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "keep-going"}},
			{ID: "out", Kind: models.NodeKindExit},
			{ID: "done", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "check", Branch: models.BranchDefault},
			{Source: "check", Target: "out", Branch: models.BranchTrue},
			{Source: "check", Target: "send", Branch: models.BranchFalse},
			{Source: "send", Target: "done", Branch: models.BranchDefault},
		},
	}

	automation := env.saveAutomation(t, models.AutomationStatusActive, graph)
	instance := env.createInstance(t, automation.ID, "start")

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	// Arriving at an exit along a condition branch is an early exit, not a
	// completion.
	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusExited, got.Status)

	env.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestStepJob_ConditionFalseBranchCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.subscribers.Put(&models.SubscriberSnapshot{
		ID:         "sub-1",
		Attributes: map[string]any{"country": "US"},
	})

	graph := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{
				"field": "country", "operator": "equals", "value": "BR",
			}},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "keep-going"}},
			{ID: "out", Kind: models.NodeKindExit},
			{ID: "done", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "check", Branch: models.BranchDefault},
			{Source: "check", Target: "out", Branch: models.BranchTrue},
			{Source: "check", Target: "send", Branch: models.BranchFalse},
			{Source: "send", Target: "done", Branch: models.BranchDefault},
		},
	}

	automation := env.saveAutomation(t, models.AutomationStatusActive, graph)
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

	env.sender.AssertExpectations(t)
}

func TestStepJob_ConditionEvalErrorTakesFalseBranch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	graph := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{
				"field": "attributes.missing", "operator": "equals", "value": "x",
			}},
			{ID: "out", Kind: models.NodeKindExit},
			{ID: "done", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "check", Branch: models.BranchDefault},
			{Source: "check", Target: "out", Branch: models.BranchTrue},
			{Source: "check", Target: "done", Branch: models.BranchFalse},
		},
	}

	automation := env.saveAutomation(t, models.AutomationStatusActive, graph)
	instance := env.createInstance(t, automation.ID, "start")

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusExited, got.Status)

	var checkEntry *models.HistoryEntry

	for i := range got.History {
		if got.History[i].NodeID == "check" {
			checkEntry = &got.History[i]
		}
	}

	require.NotNil(t, checkEntry)
	assert.Contains(t, checkEntry.Outcome, "false: ")
	assert.Contains(t, checkEntry.Outcome, "not found")
}

func TestStepJob_DelayParksInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	graph := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "wait", Kind: models.NodeKindDelay, Config: map[string]any{"duration": "1h"}},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "followup"}},
			{ID: "exit", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "wait", Branch: models.BranchDefault},
			{Source: "wait", Target: "send", Branch: models.BranchDefault},
			{Source: "send", Target: "exit", Branch: models.BranchDefault},
		},
	}

	automation := env.saveAutomation(t, models.AutomationStatusActive, graph)
	instance := env.createInstance(t, automation.ID, "start")

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusWaitingDelay, got.Status)
	assert.Equal(t, "send", got.CurrentNodeID)

	metrics, err := env.queue.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics[queue.JobTypeProcessScheduledStep].Delayed)

	env.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	// The scheduled continuation wakes the instance and finishes the run.
	env.sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	continuation := stepJob(automation.ID, instance.ID, "send")
	continuation.Type = queue.JobTypeProcessScheduledStep

	require.NoError(t, env.worker.handleStepJob(ctx, continuation))

	got = env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

	env.sender.AssertExpectations(t)
}

func TestStepJob_PausedAutomationRequeues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusPaused, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	// Held, not failed: the job comes back later with its budget intact.
	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusActive, got.Status)
	assert.Empty(t, got.History)

	metrics, err := env.queue.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics[queue.JobTypeExecuteAutomation].Delayed)
}

func TestStepJob_ArchivedAutomationCancelsInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusArchived, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, got.Status)
}

func TestStepJob_MissingAutomationCancelsInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	require.NoError(t, env.persistence.AutomationRepository().Delete(ctx, automation.ID))

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, got.Status)
}

func TestStepJob_TerminalInstanceDiscardsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	now := time.Now().UTC()
	require.NoError(t, instance.TransitionTo(models.ExecutionStatusCompleted, now))
	require.NoError(t, env.persistence.ExecutionRepository().Update(ctx, instance))

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Empty(t, got.History)
}

func TestStepJob_MissingInstanceDiscardsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())

	assert.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, "exec-ghost", "start")))
}

func TestStepJob_DuplicateDeliverySkipsSend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	// A previous delivery of attempt 0 already claimed the send.
	key := queue.IdempotencyKey(automation.ID, "sub-1", "send", 0)
	claimed, err := env.queue.ClaimIdempotencyKey(ctx, key, time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	// The instance still advances past the node.
	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

	env.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestStepJob_StepBudgetExceededFailsInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	instance.StepsTaken = MaxSteps
	require.NoError(t, env.persistence.ExecutionRepository().Update(ctx, instance))

	require.NoError(t, env.worker.handleStepJob(ctx, stepJob(automation.ID, instance.ID, "start")))

	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "steps exceeded")
}

func TestStepJob_SnapshotFailureRequeuesWithoutBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	graph := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{
				"field": "country", "operator": "equals", "value": "BR",
			}},
			{ID: "out", Kind: models.NodeKindExit},
			{ID: "done", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "check", Branch: models.BranchDefault},
			{Source: "check", Target: "out", Branch: models.BranchTrue},
			{Source: "check", Target: "done", Branch: models.BranchFalse},
		},
	}

	automation := env.saveAutomation(t, models.AutomationStatusActive, graph)

	now := time.Now().UTC()
	instance := &models.ExecutionInstance{
		ID:               "exec-nosub",
		AutomationID:     automation.ID,
		SubscriberID:     "sub-unknown",
		CurrentNodeID:    "start",
		Status:           models.ExecutionStatusActive,
		EnrolledAt:       now,
		LastTransitionAt: now,
	}
	require.NoError(t, env.persistence.ExecutionRepository().CreateOpen(ctx, instance))

	job := stepJob(automation.ID, instance.ID, "start")
	job.SubscriberID = "sub-unknown"

	require.NoError(t, env.worker.handleStepJob(ctx, job))

	// The instance is not failed; the job is redelivered later, pinned to
	// the condition node.
	got := env.reload(t, instance.ID)
	assert.Equal(t, models.ExecutionStatusActive, got.Status)

	metrics, err := env.queue.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics[queue.JobTypeExecuteAutomation].Delayed)
}

func TestWorker_RunProcessesJobsFromQueue(t *testing.T) {
	env := newTestEnv(t)

	automation := env.saveAutomation(t, models.AutomationStatusActive, linearGraph())
	instance := env.createInstance(t, automation.ID, "start")

	env.sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, env.queue.Enqueue(ctx, *stepJob(automation.ID, instance.ID, "start")))

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = env.worker.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		got := env.reload(t, instance.ID)

		return got.Status == models.ExecutionStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	env.sender.AssertExpectations(t)
}
