package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dripflow/dripflow/pkg/delivery"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/dripflow/dripflow/pkg/workflow"
)

// Step outcomes recorded in instance history.
const (
	outcomeStarted        = "started"
	outcomeSent           = "sent"
	outcomeTrue           = "true"
	outcomeFalse          = "false"
	outcomeDelayScheduled = "delay_scheduled"
	outcomeCompleted      = "completed"
	outcomeExited         = "exited"
	outcomeSendFailed     = "send_failed"
	outcomeFailed         = "failed"
)

// handleStepJob advances one execution instance. It acquires the instance
// lease first; while held, this worker is the only writer of the instance.
func (w *Worker) handleStepJob(ctx context.Context, job *queue.Job) error {
	executionRepo := w.deps.Persistence.ExecutionRepository()

	instance, err := executionRepo.GetByID(ctx, job.InstanceID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			// Instance was removed; nothing to do.
			w.logger.WarnContext(ctx, "Job references missing instance, discarding",
				"job_id", job.ID, "instance_id", job.InstanceID)

			return nil
		}

		return err
	}

	// Terminal instances never move again; late jobs are discarded.
	if instance.Status.IsTerminal() {
		return nil
	}

	automation, err := w.deps.Persistence.AutomationRepository().GetByID(ctx, job.AutomationID)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			return w.cancelInstance(ctx, instance, job.AutomationID)
		}

		return err
	}

	switch automation.Status {
	case models.AutomationStatusArchived:
		return w.cancelInstance(ctx, instance, automation.ID)
	case models.AutomationStatusPaused, models.AutomationStatusDraft:
		// Hold the instance without consuming its retry budget.
		return w.requeue(ctx, job, pausedRequeueDelay)
	case models.AutomationStatusActive:
	}

	acquired, err := executionRepo.TryAcquireLease(ctx, instance.ID, w.id, leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lease: %w", err)
	}

	if !acquired {
		// Another worker is stepping this instance; come back shortly.
		return w.requeue(ctx, job, leaseRetryDelay)
	}

	defer func() {
		if releaseErr := executionRepo.ReleaseLease(context.WithoutCancel(ctx), instance.ID, w.id); releaseErr != nil {
			w.logger.ErrorContext(ctx, "Failed to release instance lease",
				"instance_id", instance.ID, "error", releaseErr)
		}
	}()

	return w.runSteps(ctx, automation, instance, job)
}

// runSteps walks the graph from the job's node until the instance parks
// (delay), finishes (exit), fails, or yields (retry or infra requeue).
func (w *Worker) runSteps(ctx context.Context, automation *models.Automation, instance *models.ExecutionInstance, job *queue.Job) error {
	plan, err := workflow.Compile(automation.Graph)
	if err != nil {
		return w.failInstance(ctx, instance, automation.ID, job.Attempt,
			fmt.Sprintf("invalid workflow graph: %v", err))
	}

	nodeID := job.NodeID
	if nodeID == "" {
		nodeID = instance.CurrentNodeID
	}

	// A scheduled continuation wakes the instance out of its delay.
	if instance.Status == models.ExecutionStatusWaitingDelay {
		if err := instance.TransitionTo(models.ExecutionStatusActive, time.Now().UTC()); err != nil {
			return nil
		}
	}

	arrivalBranch := models.BranchDefault
	attempt := job.Attempt

	for {
		node := plan.Node(nodeID)
		if node == nil {
			return w.failInstance(ctx, instance, automation.ID, attempt,
				fmt.Sprintf("node %s not found in workflow graph", nodeID))
		}

		if instance.StepsTaken >= MaxSteps {
			return w.failInstance(ctx, instance, automation.ID, attempt,
				fmt.Sprintf("maximum of %d steps exceeded", MaxSteps))
		}

		now := time.Now().UTC()
		instance.CurrentNodeID = nodeID
		branch := models.BranchDefault

		switch node.Kind {
		case models.NodeKindStart:
			instance.RecordStep(nodeID, outcomeStarted, attempt, now)

		case models.NodeKindCondition:
			outcome, result, evalErr := w.evaluateCondition(ctx, node, instance.SubscriberID)
			if evalErr != nil {
				// Infrastructure failure (snapshot fetch): redeliver the job
				// later without consuming the retry budget.
				return w.requeueAt(ctx, job, nodeID, attempt, infraRequeueDelay)
			}

			instance.RecordStep(nodeID, outcome, attempt, now)

			if result {
				branch = models.BranchTrue
			} else {
				branch = models.BranchFalse
			}

		case models.NodeKindSendEmail:
			done, stepErr := w.sendEmail(ctx, automation, instance, node, job, attempt)
			if stepErr != nil {
				return stepErr
			}

			if done {
				// A retry was scheduled or the instance failed; this job is
				// finished either way.
				return w.updateInstance(ctx, instance)
			}

			instance.RecordStep(nodeID, outcomeSent, attempt, now)

		case models.NodeKindDelay:
			return w.scheduleDelay(ctx, plan, instance, node, job, attempt, now)

		case models.NodeKindExit:
			return w.finishInstance(ctx, automation, instance, arrivalBranch, attempt, now)
		}

		next, ok := plan.Next(nodeID, branch)
		if !ok {
			return w.failInstance(ctx, instance, automation.ID, attempt,
				fmt.Sprintf("no %s edge out of node %s", branch, nodeID))
		}

		if err := w.updateInstance(ctx, instance); err != nil {
			return err
		}

		arrivalBranch = branch
		nodeID = next
		attempt = 0
	}
}

// evaluateCondition fetches a fresh snapshot and evaluates the node's
// condition against it. Evaluation errors are a FALSE outcome with the
// reason recorded; only the snapshot fetch itself is an error.
func (w *Worker) evaluateCondition(ctx context.Context, node *models.Node, subscriberID string) (string, bool, error) {
	snapshot, err := w.deps.Subscribers.Snapshot(ctx, subscriberID)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to fetch subscriber snapshot",
			"subscriber_id", subscriberID, "node_id", node.ID, "error", err)

		return "", false, err
	}

	cond, err := node.ConditionConfig()
	if err != nil {
		return fmt.Sprintf("%s: %v", outcomeFalse, err), false, nil
	}

	evaluator := &models.ConditionEvaluator{}

	result, evalErr := evaluator.Evaluate(cond, *snapshot)
	if evalErr != nil {
		return fmt.Sprintf("%s: %v", outcomeFalse, evalErr), false, nil
	}

	if result {
		return outcomeTrue, true, nil
	}

	return outcomeFalse, false, nil
}

// sendEmail performs the send_email side effect behind an idempotency
// claim. Returns done=true when the step did not advance (retry scheduled
// or instance failed).
func (w *Worker) sendEmail(ctx context.Context, automation *models.Automation, instance *models.ExecutionInstance, node *models.Node, job *queue.Job, attempt int) (bool, error) {
	cfg, err := node.SendEmailConfig()
	if err != nil {
		return true, w.failInstance(ctx, instance, automation.ID, attempt,
			fmt.Sprintf("invalid send_email config on node %s: %v", node.ID, err))
	}

	key := queue.IdempotencyKey(automation.ID, instance.SubscriberID, node.ID, attempt)

	claimed, err := w.deps.Queue.ClaimIdempotencyKey(ctx, key, idempotencyTTL)
	if err != nil {
		// Can't prove the claim store is reachable; redeliver rather than
		// risk a duplicate send.
		return true, w.requeueAt(ctx, job, node.ID, attempt, infraRequeueDelay)
	}

	if !claimed {
		// A previous delivery of this attempt already sent it.
		w.logger.InfoContext(ctx, "Skipping duplicate send",
			"instance_id", instance.ID, "node_id", node.ID, "attempt", attempt)

		return false, nil
	}

	variables := make(map[string]any, len(cfg.Variables))
	for k, v := range cfg.Variables {
		variables[k] = v
	}

	sendErr := w.deps.Sender.Send(ctx, delivery.SendRequest{
		SubscriberID: instance.SubscriberID,
		TemplateID:   cfg.TemplateID,
		Variables:    variables,
	})
	if sendErr == nil {
		return false, nil
	}

	if delivery.IsRecoverable(sendErr) && attempt+1 <= MaxAttempts {
		retryAttempt := attempt + 1

		// The failed attempt shows up in the instance history, not just in
		// worker logs.
		instance.RecordStep(node.ID, fmt.Sprintf("%s: %v", outcomeSendFailed, sendErr), attempt, time.Now().UTC())

		retry := queue.Job{
			Type:         queue.JobTypeRetryFailedStep,
			Priority:     job.Priority,
			AutomationID: automation.ID,
			SubscriberID: instance.SubscriberID,
			InstanceID:   instance.ID,
			NodeID:       node.ID,
			Attempt:      retryAttempt,
			ScheduledFor: time.Now().Add(RetryDelay(retryAttempt)),
		}

		if err := w.deps.Queue.Enqueue(ctx, retry); err != nil {
			return true, fmt.Errorf("failed to enqueue retry: %w", err)
		}

		w.logger.InfoContext(ctx, "Scheduled send retry",
			"instance_id", instance.ID, "node_id", node.ID,
			"attempt", retryAttempt, "delay", RetryDelay(retryAttempt).String())

		return true, nil
	}

	return true, w.failInstance(ctx, instance, automation.ID, attempt,
		fmt.Sprintf("send failed on node %s: %v", node.ID, sendErr))
}

// scheduleDelay parks the instance and enqueues the continuation as a
// future-eligible job, so waiting consumes no worker capacity.
func (w *Worker) scheduleDelay(ctx context.Context, plan *workflow.ExecutionPlan, instance *models.ExecutionInstance, node *models.Node, job *queue.Job, attempt int, now time.Time) error {
	cfg, err := node.DelayConfig()
	if err != nil {
		return w.failInstance(ctx, instance, job.AutomationID, attempt,
			fmt.Sprintf("invalid delay config on node %s: %v", node.ID, err))
	}

	next, ok := plan.Next(node.ID, models.BranchDefault)
	if !ok {
		return w.failInstance(ctx, instance, job.AutomationID, attempt,
			fmt.Sprintf("no default edge out of delay node %s", node.ID))
	}

	instance.RecordStep(node.ID, outcomeDelayScheduled, attempt, now)

	if err := instance.TransitionTo(models.ExecutionStatusWaitingDelay, now); err != nil {
		return nil
	}

	instance.CurrentNodeID = next

	if err := w.updateInstance(ctx, instance); err != nil {
		return err
	}

	continuation := queue.Job{
		Type:         queue.JobTypeProcessScheduledStep,
		Priority:     queue.PriorityNormal,
		AutomationID: job.AutomationID,
		SubscriberID: instance.SubscriberID,
		InstanceID:   instance.ID,
		NodeID:       next,
		ScheduledFor: now.Add(cfg.Duration),
	}

	if err := w.deps.Queue.Enqueue(ctx, continuation); err != nil {
		return fmt.Errorf("failed to enqueue delayed continuation: %w", err)
	}

	w.logger.InfoContext(ctx, "Instance waiting on delay",
		"instance_id", instance.ID, "node_id", node.ID,
		"duration", cfg.Duration.String(), "next_node_id", next)

	return nil
}

// finishInstance settles an instance that reached an exit node: arriving
// along a condition branch is an early exit, arriving along a default edge
// is normal completion.
func (w *Worker) finishInstance(ctx context.Context, automation *models.Automation, instance *models.ExecutionInstance, arrivalBranch models.Branch, attempt int, now time.Time) error {
	status := models.ExecutionStatusCompleted
	outcome := outcomeCompleted

	if arrivalBranch == models.BranchTrue || arrivalBranch == models.BranchFalse {
		status = models.ExecutionStatusExited
		outcome = outcomeExited
	}

	instance.RecordStep(instance.CurrentNodeID, outcome, attempt, now)

	if err := instance.TransitionTo(status, now); err != nil {
		return nil
	}

	if err := w.updateInstance(ctx, instance); err != nil {
		return err
	}

	if status == models.ExecutionStatusCompleted {
		w.publishCompleted(ctx, automation.ID, instance)
	}

	w.logger.InfoContext(ctx, "Instance finished",
		"instance_id", instance.ID, "automation_id", automation.ID,
		"status", string(status), "steps_taken", instance.StepsTaken)

	return nil
}

// failInstance marks the instance failed and publishes the failure event.
// The job itself completes: the failure is recorded on the instance, not
// the queue.
func (w *Worker) failInstance(ctx context.Context, instance *models.ExecutionInstance, automationID string, attempt int, reason string) error {
	now := time.Now().UTC()

	if err := instance.Fail(reason, now); err != nil {
		return nil
	}

	instance.RecordStep(instance.CurrentNodeID, fmt.Sprintf("%s: %s", outcomeFailed, reason), attempt, now)

	if err := w.updateInstance(ctx, instance); err != nil {
		return err
	}

	w.publishFailed(ctx, automationID, instance, attempt+1, reason)

	w.logger.WarnContext(ctx, "Instance failed",
		"instance_id", instance.ID, "automation_id", automationID, "reason", reason)

	return nil
}

// cancelInstance settles an instance whose automation is archived or gone.
func (w *Worker) cancelInstance(ctx context.Context, instance *models.ExecutionInstance, automationID string) error {
	now := time.Now().UTC()

	if err := instance.TransitionTo(models.ExecutionStatusCancelled, now); err != nil {
		return nil
	}

	if err := w.updateInstance(ctx, instance); err != nil {
		return err
	}

	w.publishCancelled(ctx, automationID, instance)

	w.logger.InfoContext(ctx, "Instance cancelled",
		"instance_id", instance.ID, "automation_id", automationID)

	return nil
}

func (w *Worker) updateInstance(ctx context.Context, instance *models.ExecutionInstance) error {
	if err := w.deps.Persistence.ExecutionRepository().Update(ctx, instance); err != nil {
		return fmt.Errorf("failed to update instance %s: %w", instance.ID, err)
	}

	return nil
}

func (w *Worker) publishCompleted(ctx context.Context, automationID string, instance *models.ExecutionInstance) {
	if w.deps.EventBus == nil {
		return
	}

	event := events.ExecutionCompleted{
		BaseEvent: events.BaseEvent{
			ID:           w.deps.EventBus.GenerateID(),
			Type:         events.ExecutionCompletedEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: automationID,
			WorkerID:     w.id,
		},
		InstanceID:   instance.ID,
		SubscriberID: instance.SubscriberID,
		Duration:     instance.LastTransitionAt.Sub(instance.EnrolledAt),
	}

	if err := w.deps.EventBus.Publish(ctx, automationID, event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish completion event",
			"instance_id", instance.ID, "error", err)
	}
}

func (w *Worker) publishFailed(ctx context.Context, automationID string, instance *models.ExecutionInstance, attempts int, reason string) {
	if w.deps.EventBus == nil {
		return
	}

	event := events.ExecutionFailed{
		BaseEvent: events.BaseEvent{
			ID:           w.deps.EventBus.GenerateID(),
			Type:         events.ExecutionFailedEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: automationID,
			WorkerID:     w.id,
		},
		InstanceID:   instance.ID,
		SubscriberID: instance.SubscriberID,
		Reason:       reason,
		Attempts:     attempts,
	}

	if err := w.deps.EventBus.Publish(ctx, automationID, event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish failure event",
			"instance_id", instance.ID, "error", err)
	}
}

func (w *Worker) publishCancelled(ctx context.Context, automationID string, instance *models.ExecutionInstance) {
	if w.deps.EventBus == nil {
		return
	}

	event := events.ExecutionCancelled{
		BaseEvent: events.BaseEvent{
			ID:           w.deps.EventBus.GenerateID(),
			Type:         events.ExecutionCancelledEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: automationID,
			WorkerID:     w.id,
		},
		InstanceID:   instance.ID,
		SubscriberID: instance.SubscriberID,
	}

	if err := w.deps.EventBus.Publish(ctx, automationID, event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish cancellation event",
			"instance_id", instance.ID, "error", err)
	}
}
