// Package delivery abstracts the email sending channel used by send_email
// nodes.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

// SendRequest describes one templated email send.
type SendRequest struct {
	SubscriberID string
	TemplateID   string
	Variables    map[string]any
}

// Sender delivers templated emails. Implementations must treat a call as a
// side effect: the scheduler guards every call with an idempotency claim,
// so a sender is never asked twice for the same attempt.
type Sender interface {
	Send(ctx context.Context, req SendRequest) error
}

// Error is a delivery failure classified by the channel. Terminal failures
// (invalid template, suppressed address) must not be retried; everything
// else is treated as transient.
type Error struct {
	Reason   string
	Terminal bool
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("delivery failed: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTerminalError creates a delivery error that must not be retried.
func NewTerminalError(reason string, err error) *Error {
	return &Error{Reason: reason, Terminal: true, Err: err}
}

// NewTransientError creates a retryable delivery error.
func NewTransientError(reason string, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// IsRecoverable reports whether a send failure should be retried. Errors
// not classified by the channel are assumed transient.
func IsRecoverable(err error) bool {
	var deliveryErr *Error
	if errors.As(err, &deliveryErr) {
		return !deliveryErr.Terminal
	}

	return true
}
