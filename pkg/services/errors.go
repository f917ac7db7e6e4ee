// Package services provides the business logic layer over persistence,
// queue, and event bus.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest         = errors.New("invalid request")
	ErrAutomationNil          = errors.New("automation cannot be nil")
	ErrAutomationNameRequired = errors.New("automation name is required")
	ErrGraphRequired          = errors.New("automation must have a workflow graph")
	ErrTriggerEventRequired   = errors.New("automation trigger must name an event type")
	ErrInvalidStatus          = errors.New("invalid automation status")

	// Business Logic Conflicts (409 Conflict).
	ErrCannotModifyActive   = errors.New("cannot modify an active automation")
	ErrCannotModifyArchived = errors.New("automation is archived")
	ErrNotActivatable       = errors.New("only draft or paused automations can be activated")
	ErrNotPausable          = errors.New("only active automations can be paused")
	ErrAutomationNotActive  = errors.New("automation is not active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAutomationNil) ||
		errors.Is(err, ErrAutomationNameRequired) ||
		errors.Is(err, ErrGraphRequired) ||
		errors.Is(err, ErrTriggerEventRequired) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyActive) ||
		errors.Is(err, ErrCannotModifyArchived) ||
		errors.Is(err, ErrNotActivatable) ||
		errors.Is(err, ErrNotPausable) ||
		errors.Is(err, ErrAutomationNotActive)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
