// Package models defines the core domain models for the marketing
// automation workflow engine.
package models

import "time"

// AutomationStatus represents the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"    // Editable, not enrolling
	AutomationStatusActive   AutomationStatus = "active"   // Enrolling and executing
	AutomationStatusPaused   AutomationStatus = "paused"   // Editable, instances held
	AutomationStatusArchived AutomationStatus = "archived" // Terminal, instances cancelled
)

// TriggerConfig binds an automation to a domain event type. The optional
// segment filter restricts enrollment to subscribers matching a condition
// evaluated against their snapshot at trigger time.
type TriggerConfig struct {
	EventType     string     `json:"event_type"               validate:"required"`
	SegmentFilter *Condition `json:"segment_filter,omitempty"`
	AllowReentry  bool       `json:"allow_reentry"`
}

// Automation is the definition of a marketing automation: a trigger plus a
// workflow graph. The graph is only mutated while the automation is in
// draft or paused status; activation validates the graph and freezes it.
type Automation struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"         validate:"required,min=3"`
	Description string           `json:"description"`
	Status      AutomationStatus `json:"status"       validate:"required"`
	Graph       *WorkflowGraph   `json:"graph"        validate:"required"`
	Trigger     TriggerConfig    `json:"trigger"      validate:"required"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ActivatedAt *time.Time       `json:"activated_at,omitempty"`
}

// IsMutable reports whether the definition may still be edited.
func (a *Automation) IsMutable() bool {
	return a.Status == AutomationStatusDraft || a.Status == AutomationStatusPaused
}

// IsActive reports whether the automation enrolls and executes subscribers.
func (a *Automation) IsActive() bool {
	return a.Status == AutomationStatusActive
}
