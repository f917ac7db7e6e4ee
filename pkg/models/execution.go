package models

import (
	"errors"
	"time"
)

// ExecutionStatus represents the state of one subscriber's run through an
// automation.
type ExecutionStatus string

const (
	ExecutionStatusActive       ExecutionStatus = "active"
	ExecutionStatusWaitingDelay ExecutionStatus = "waiting_delay"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusFailed       ExecutionStatus = "failed"
	ExecutionStatusExited       ExecutionStatus = "exited"
	ExecutionStatusCancelled    ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final. No job may transition an
// instance out of a terminal status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusExited, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// HistoryEntry records one node visit of an execution instance.
type HistoryEntry struct {
	NodeID    string    `json:"node_id"`
	EnteredAt time.Time `json:"entered_at"`
	Outcome   string    `json:"outcome"`
	Attempt   int       `json:"attempt"`
}

// ErrTerminalInstance is returned when a transition is attempted on an
// instance already in a terminal status.
var ErrTerminalInstance = errors.New("execution instance is in a terminal status")

// ExecutionInstance tracks one subscriber's progress through an automation.
// It is created by enrollment and mutated only by the scheduler, which
// holds a per-instance lease while stepping (single writer).
type ExecutionInstance struct {
	ID               string          `json:"id"`
	AutomationID     string          `json:"automation_id"  validate:"required"`
	SubscriberID     string          `json:"subscriber_id"  validate:"required"`
	CurrentNodeID    string          `json:"current_node_id"`
	Status           ExecutionStatus `json:"status"`
	EnrolledAt       time.Time       `json:"enrolled_at"`
	LastTransitionAt time.Time       `json:"last_transition_at"`
	StepsTaken       int             `json:"steps_taken"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	History          []HistoryEntry  `json:"history"`
}

// RecordStep appends a history entry for the current node.
func (e *ExecutionInstance) RecordStep(nodeID, outcome string, attempt int, at time.Time) {
	e.History = append(e.History, HistoryEntry{
		NodeID:    nodeID,
		EnteredAt: at,
		Outcome:   outcome,
		Attempt:   attempt,
	})
	e.StepsTaken++
	e.LastTransitionAt = at
}

// TransitionTo moves the instance to a new status. Terminal statuses are
// final: transitioning out of one returns ErrTerminalInstance.
func (e *ExecutionInstance) TransitionTo(status ExecutionStatus, at time.Time) error {
	if e.Status.IsTerminal() {
		return ErrTerminalInstance
	}

	e.Status = status
	e.LastTransitionAt = at

	return nil
}

// Fail marks the instance failed with a reason.
func (e *ExecutionInstance) Fail(reason string, at time.Time) error {
	if err := e.TransitionTo(ExecutionStatusFailed, at); err != nil {
		return err
	}

	e.FailureReason = reason

	return nil
}
