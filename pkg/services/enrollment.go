package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/dripflow/dripflow/pkg/subscriber"
	"github.com/dripflow/dripflow/pkg/workflow"
)

// Enrollment matches incoming trigger events against active automations
// and enrolls subscribers into execution instances.
type Enrollment struct {
	persistence persistence.Persistence
	queue       queue.Queue
	subscribers subscriber.Provider
	eventBus    eventbus.EventBus
	evaluator   *models.ConditionEvaluator
	logger      *slog.Logger
}

// NewEnrollment creates a new enrollment service.
func NewEnrollment(
	persistence persistence.Persistence,
	jobQueue queue.Queue,
	subscribers subscriber.Provider,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Enrollment {
	return &Enrollment{
		persistence: persistence,
		queue:       jobQueue,
		subscribers: subscribers,
		eventBus:    eventBus,
		evaluator:   &models.ConditionEvaluator{},
		logger:      logger.With("module", "enrollment_service"),
	}
}

// OnTriggerEvent converts a trigger event into a process_trigger job.
// Matching and enrollment happen on a worker, so the dispatcher stays a
// thin bridge between the event stream and the queue.
func (s *Enrollment) OnTriggerEvent(ctx context.Context, triggerEvent *events.TriggerEvent) error {
	if err := triggerEvent.Validate(); err != nil {
		return err
	}

	job := queue.Job{
		Type:         queue.JobTypeProcessTrigger,
		Priority:     queue.PriorityCritical,
		SubscriberID: triggerEvent.SubscriberID,
		EventType:    triggerEvent.Type,
		EventData:    triggerEvent.Data,
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue trigger job: %w", err)
	}

	return nil
}

// ProcessTrigger matches a trigger event against active automations and
// enrolls the subscriber into each match. A snapshot fetch failure aborts
// the whole job so the queue redelivers it.
func (s *Enrollment) ProcessTrigger(ctx context.Context, subscriberID, eventType string) error {
	automations, err := s.persistence.AutomationRepository().GetActiveByEventType(ctx, eventType)
	if err != nil {
		return fmt.Errorf("failed to match automations: %w", err)
	}

	if len(automations) == 0 {
		return nil
	}

	snapshot, err := s.subscribers.Snapshot(ctx, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscriber snapshot: %w", err)
	}

	for _, automation := range automations {
		if err := s.enroll(ctx, automation, snapshot); err != nil {
			return fmt.Errorf("failed to enroll subscriber %s in automation %s: %w",
				subscriberID, automation.ID, err)
		}
	}

	return nil
}

// Enroll enrolls a subscriber directly, bypassing trigger matching but not
// the segment filter or re-entry rules. Used by the manual enrollment API.
func (s *Enrollment) Enroll(ctx context.Context, automationID, subscriberID string) (*models.ExecutionInstance, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	if !automation.IsActive() {
		return nil, NewConflictError("Enroll", "NOT_ACTIVE",
			"subscribers can only be enrolled in active automations", ErrAutomationNotActive)
	}

	snapshot, err := s.subscribers.Snapshot(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriber snapshot: %w", err)
	}

	if err := s.enroll(ctx, automation, snapshot); err != nil {
		return nil, err
	}

	instance, err := s.persistence.ExecutionRepository().FindOpen(ctx, automationID, subscriberID)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// GetExecution returns one execution instance by id.
func (s *Enrollment) GetExecution(ctx context.Context, instanceID string) (*models.ExecutionInstance, error) {
	return s.persistence.ExecutionRepository().GetByID(ctx, instanceID)
}

// ListExecutions returns all execution instances of an automation.
func (s *Enrollment) ListExecutions(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error) {
	if _, err := s.persistence.AutomationRepository().GetByID(ctx, automationID); err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().ListByAutomation(ctx, automationID)
}

func (s *Enrollment) enroll(ctx context.Context, automation *models.Automation, snapshot *models.SubscriberSnapshot) error {
	if automation.Trigger.SegmentFilter != nil {
		matched, err := s.evaluator.Evaluate(*automation.Trigger.SegmentFilter, *snapshot)
		if err != nil {
			// Evaluation errors count as a non-match, never as a failure.
			s.logger.WarnContext(ctx, "Segment filter evaluation failed, skipping enrollment",
				"automation_id", automation.ID, "subscriber_id", snapshot.ID, "error", err)

			return nil
		}

		if !matched {
			return nil
		}
	}

	executionRepo := s.persistence.ExecutionRepository()

	if !automation.Trigger.AllowReentry {
		enrolledBefore, err := executionRepo.HasAnyInstance(ctx, automation.ID, snapshot.ID)
		if err != nil {
			return fmt.Errorf("failed to check enrollment history: %w", err)
		}

		if enrolledBefore {
			return nil
		}
	}

	plan, err := workflow.Compile(automation.Graph)
	if err != nil {
		return fmt.Errorf("failed to compile workflow graph: %w", err)
	}

	now := time.Now().UTC()

	instance := &models.ExecutionInstance{
		ID:               "exec-" + uuid.New().String()[:8],
		AutomationID:     automation.ID,
		SubscriberID:     snapshot.ID,
		CurrentNodeID:    plan.StartNodeID(),
		Status:           models.ExecutionStatusActive,
		EnrolledAt:       now,
		LastTransitionAt: now,
	}

	err = executionRepo.CreateOpen(ctx, instance)
	if err != nil {
		// A concurrent enrollment won the race; this delivery is redundant.
		if persistence.IsOpenInstanceExists(err) {
			return nil
		}

		return err
	}

	job := queue.Job{
		Type:         queue.JobTypeExecuteAutomation,
		Priority:     queue.PriorityHigh,
		AutomationID: automation.ID,
		SubscriberID: snapshot.ID,
		InstanceID:   instance.ID,
		NodeID:       instance.CurrentNodeID,
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue execution job: %w", err)
	}

	s.publishEnrolled(ctx, automation, instance)

	s.logger.InfoContext(ctx, "Subscriber enrolled",
		"automation_id", automation.ID,
		"subscriber_id", snapshot.ID,
		"instance_id", instance.ID)

	return nil
}

func (s *Enrollment) publishEnrolled(ctx context.Context, automation *models.Automation, instance *models.ExecutionInstance) {
	if s.eventBus == nil {
		return
	}

	event := events.SubscriberEnrolled{
		BaseEvent: events.BaseEvent{
			ID:           s.eventBus.GenerateID(),
			Type:         events.SubscriberEnrolledEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: automation.ID,
		},
		InstanceID:   instance.ID,
		SubscriberID: instance.SubscriberID,
	}

	if err := s.eventBus.Publish(ctx, automation.ID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish enrollment event",
			"automation_id", automation.ID, "instance_id", instance.ID, "error", err)
	}
}
