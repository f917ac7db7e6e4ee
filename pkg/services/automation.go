package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/workflow"
)

// ErrAutomationNotFound is returned when an automation is not found.
var ErrAutomationNotFound = persistence.ErrAutomationNotFound

// Automation manages automation definitions and their lifecycle. Graph
// mutations are only allowed in draft or paused status; activation
// validates the graph and freezes it.
type Automation struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewAutomation creates a new automation service.
func NewAutomation(persistence persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *Automation {
	return &Automation{
		persistence: persistence,
		eventBus:    eventBus,
		validator:   validator.New(),
		logger:      logger.With("module", "automation_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateAutomationRequest contains the definition for a new automation.
type CreateAutomationRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Graph       *models.WorkflowGraph `json:"graph"`
	Trigger     models.TriggerConfig  `json:"trigger"`
}

// Create stores a new automation in draft status. The graph is accepted as
// given; structural validation happens at activation.
func (s *Automation) Create(ctx context.Context, req CreateAutomationRequest) (*models.Automation, error) {
	now := time.Now().UTC()

	automation := &models.Automation{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Status:      models.AutomationStatusDraft,
		Graph:       req.Graph,
		Trigger:     req.Trigger,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.validateDefinition(automation); err != nil {
		return nil, err
	}

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.logger.InfoContext(ctx, "Automation created", "automation_id", automation.ID, "name", automation.Name)

	return automation, nil
}

// UpdateAutomationRequest carries the editable fields of an automation.
type UpdateAutomationRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Graph       *models.WorkflowGraph `json:"graph"`
	Trigger     models.TriggerConfig  `json:"trigger"`
}

// Update replaces the definition of a draft or paused automation.
func (s *Automation) Update(ctx context.Context, id string, req UpdateAutomationRequest) (*models.Automation, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status == models.AutomationStatusArchived {
		return nil, NewConflictError("Update", "AUTOMATION_ARCHIVED",
			"archived automations cannot be modified", ErrCannotModifyArchived)
	}

	if !automation.IsMutable() {
		return nil, NewConflictError("Update", "AUTOMATION_ACTIVE",
			"pause the automation before editing it", ErrCannotModifyActive)
	}

	automation.Name = req.Name
	automation.Description = req.Description
	automation.Graph = req.Graph
	automation.Trigger = req.Trigger

	if err := s.validateDefinition(automation); err != nil {
		return nil, err
	}

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return automation, nil
}

// Get returns an automation by id.
func (s *Automation) Get(ctx context.Context, id string) (*models.Automation, error) {
	return s.persistence.AutomationRepository().GetByID(ctx, id)
}

// List returns all automations.
func (s *Automation) List(ctx context.Context) ([]*models.Automation, error) {
	return s.persistence.AutomationRepository().GetAll(ctx)
}

// Activate validates the workflow graph and flips the automation to
// active. Validation failure leaves the automation untouched.
func (s *Automation) Activate(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !automation.IsMutable() {
		if automation.Status == models.AutomationStatusArchived {
			return nil, NewConflictError("Activate", "AUTOMATION_ARCHIVED",
				"archived automations cannot be activated", ErrCannotModifyArchived)
		}

		return nil, NewConflictError("Activate", "NOT_ACTIVATABLE",
			"automation is already active", ErrNotActivatable)
	}

	if err := workflow.Validate(automation.Graph); err != nil {
		return nil, NewValidationError("Activate", "INVALID_GRAPH", err.Error(), err)
	}

	now := time.Now().UTC()
	automation.Status = models.AutomationStatusActive
	automation.ActivatedAt = &now

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.publishLifecycleEvent(ctx, automation, events.AutomationActivated{})

	s.logger.InfoContext(ctx, "Automation activated", "automation_id", automation.ID)

	return automation, nil
}

// Pause stops enrollment and holds running instances. Instances keep their
// state; the scheduler requeues their jobs until the automation resumes.
func (s *Automation) Pause(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !automation.IsActive() {
		return nil, NewConflictError("Pause", "NOT_PAUSABLE",
			"only active automations can be paused", ErrNotPausable)
	}

	automation.Status = models.AutomationStatusPaused

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.publishLifecycleEvent(ctx, automation, events.AutomationPaused{})

	s.logger.InfoContext(ctx, "Automation paused", "automation_id", automation.ID)

	return automation, nil
}

// Archive retires the automation and cancels every open instance. Any job
// arriving later for a cancelled instance is discarded by the scheduler.
func (s *Automation) Archive(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status == models.AutomationStatusArchived {
		return automation, nil
	}

	automation.Status = models.AutomationStatusArchived

	if err := s.persistence.AutomationRepository().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	open, err := s.persistence.ExecutionRepository().ListOpenByAutomation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list open instances: %w", err)
	}

	now := time.Now().UTC()

	for _, instance := range open {
		if err := instance.TransitionTo(models.ExecutionStatusCancelled, now); err != nil {
			continue
		}

		if err := s.persistence.ExecutionRepository().Update(ctx, instance); err != nil {
			s.logger.ErrorContext(ctx, "Failed to cancel instance during archive",
				"automation_id", id, "instance_id", instance.ID, "error", err)

			continue
		}

		s.publishExecutionCancelled(ctx, automation, instance)
	}

	s.logger.InfoContext(ctx, "Automation archived",
		"automation_id", automation.ID, "cancelled_instances", len(open))

	return automation, nil
}

// Delete removes an automation definition.
func (s *Automation) Delete(ctx context.Context, id string) error {
	return s.persistence.AutomationRepository().Delete(ctx, id)
}

func (s *Automation) validateDefinition(automation *models.Automation) error {
	if automation.Name == "" {
		return NewValidationError("validateDefinition", "NAME_REQUIRED",
			"automation name is required", ErrAutomationNameRequired)
	}

	if automation.Graph == nil {
		return NewValidationError("validateDefinition", "GRAPH_REQUIRED",
			"automation must have a workflow graph", ErrGraphRequired)
	}

	if automation.Trigger.EventType == "" {
		return NewValidationError("validateDefinition", "TRIGGER_EVENT_REQUIRED",
			"automation trigger must name an event type", ErrTriggerEventRequired)
	}

	if automation.Trigger.SegmentFilter != nil && !models.KnownOperator(automation.Trigger.SegmentFilter.Operator) {
		return NewValidationError("validateDefinition", "INVALID_SEGMENT_FILTER",
			fmt.Sprintf("unknown segment filter operator %q", automation.Trigger.SegmentFilter.Operator),
			ErrInvalidRequest)
	}

	if err := s.validator.Struct(automation); err != nil {
		return NewValidationError("validateDefinition", "INVALID_AUTOMATION", err.Error(), ErrInvalidRequest)
	}

	return nil
}

func (s *Automation) publishLifecycleEvent(ctx context.Context, automation *models.Automation, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	base := events.BaseEvent{
		ID:           s.eventBus.GenerateID(),
		Timestamp:    time.Now().UTC(),
		AutomationID: automation.ID,
	}

	switch e := event.(type) {
	case events.AutomationActivated:
		e.BaseEvent = base
		e.Type = events.AutomationActivatedEvent
		event = e
	case events.AutomationPaused:
		e.BaseEvent = base
		e.Type = events.AutomationPausedEvent
		event = e
	}

	if err := s.eventBus.Publish(ctx, automation.ID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"automation_id", automation.ID, "event_type", event.GetType(), "error", err)
	}
}

func (s *Automation) publishExecutionCancelled(ctx context.Context, automation *models.Automation, instance *models.ExecutionInstance) {
	if s.eventBus == nil {
		return
	}

	event := events.ExecutionCancelled{
		BaseEvent: events.BaseEvent{
			ID:           s.eventBus.GenerateID(),
			Type:         events.ExecutionCancelledEvent,
			Timestamp:    time.Now().UTC(),
			AutomationID: automation.ID,
		},
		InstanceID:   instance.ID,
		SubscriberID: instance.SubscriberID,
	}

	if err := s.eventBus.Publish(ctx, automation.ID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish cancellation event",
			"automation_id", automation.ID, "instance_id", instance.ID, "error", err)
	}
}
