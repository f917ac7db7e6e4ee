// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrExecutionNotFound indicates an execution instance was not found.
	ErrExecutionNotFound = errors.New("execution instance not found")

	// ErrOpenInstanceExists indicates the subscriber already has an open
	// instance in the automation.
	ErrOpenInstanceExists = errors.New("open execution instance already exists")

	// ErrLeaseNotHeld indicates a lease renewal by an owner that no longer
	// holds the lease.
	ErrLeaseNotHeld = errors.New("lease not held")
)

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g., "GetByID", "Save")
	ID  string // Entity ID if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.ID, e.Err)
	}

	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, id string, err error) *StoreError {
	return &StoreError{Op: op, ID: id, Err: err}
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution instance was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsOpenInstanceExists checks if an error indicates a duplicate open instance.
func IsOpenInstanceExists(err error) bool {
	return errors.Is(err, ErrOpenInstanceExists)
}

// IsLeaseNotHeld checks if an error indicates a lost lease.
func IsLeaseNotHeld(err error) bool {
	return errors.Is(err, ErrLeaseNotHeld)
}
