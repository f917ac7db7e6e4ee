// Package persistence provides the data storage abstraction layer for
// automations and execution instances.
package persistence

import (
	"context"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// Persistence is the storage provider contract. Implementations must keep
// AutomationRepository and ExecutionRepository consistent with each other
// (an execution instance always references a stored automation).
type Persistence interface {
	AutomationRepository() AutomationRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores automation definitions.
type AutomationRepository interface {
	GetAll(ctx context.Context) ([]*models.Automation, error)
	GetByID(ctx context.Context, id string) (*models.Automation, error)

	// GetActiveByEventType returns active automations whose trigger listens
	// for the given event type. Used by the trigger matcher on every
	// incoming event.
	GetActiveByEventType(ctx context.Context, eventType string) ([]*models.Automation, error)

	Save(ctx context.Context, automation *models.Automation) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution instances and the per-instance
// leases that serialize workers.
type ExecutionRepository interface {
	// CreateOpen persists a new instance, enforcing that at most one open
	// (active or waiting_delay) instance exists per automation and
	// subscriber. Returns ErrOpenInstanceExists when one already does.
	CreateOpen(ctx context.Context, instance *models.ExecutionInstance) error

	GetByID(ctx context.Context, id string) (*models.ExecutionInstance, error)

	// FindOpen returns the open instance for the automation and subscriber,
	// or ErrExecutionNotFound when none is open.
	FindOpen(ctx context.Context, automationID, subscriberID string) (*models.ExecutionInstance, error)

	ListByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error)

	// HasAnyInstance reports whether the subscriber has ever been enrolled
	// in the automation, in any status. Used to enforce re-entry rules.
	HasAnyInstance(ctx context.Context, automationID, subscriberID string) (bool, error)

	// ListOpenByAutomation returns instances still in a non-terminal status,
	// used when archiving cancels everything in flight.
	ListOpenByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error)

	Update(ctx context.Context, instance *models.ExecutionInstance) error

	// TryAcquireLease attempts to become the single writer for an instance.
	// It returns true when the lease is free, expired, or already held by
	// owner (reacquisition extends it).
	TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error)

	// RenewLease extends a held lease. Returns ErrLeaseNotHeld when owner
	// does not hold it anymore.
	RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error

	// ReleaseLease frees the lease if held by owner. Releasing a lease that
	// is not held is not an error.
	ReleaseLease(ctx context.Context, instanceID, owner string) error
}
