package web

import "github.com/dripflow/dripflow/pkg/models"

// CreateAutomationRequest is the payload for creating an automation.
type CreateAutomationRequest struct {
	Name        string                `json:"name"        validate:"required,min=3"`
	Description string                `json:"description"`
	Graph       *models.WorkflowGraph `json:"graph"       validate:"required"`
	Trigger     models.TriggerConfig  `json:"trigger"     validate:"required"`
}

// UpdateAutomationRequest is the payload for partially updating a draft or
// paused automation. Nil fields keep their current value.
type UpdateAutomationRequest struct {
	Name        *string               `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string               `json:"description,omitempty"`
	Graph       *models.WorkflowGraph `json:"graph,omitempty"`
	Trigger     *models.TriggerConfig `json:"trigger,omitempty"`
}

// CreateEnrollmentRequest is the payload for manually enrolling a
// subscriber into an automation.
type CreateEnrollmentRequest struct {
	SubscriberID string `json:"subscriber_id" validate:"required"`
}
