package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

const uniqueViolationCode = "23505"

// ExecutionRepository handles execution instance database operations,
// including the per-instance leases that serialize workers.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , automation_id
  , subscriber_id
  , current_node_id
  , status
  , enrolled_at
  , last_transition_at
  , steps_taken
  , failure_reason
  , history
`

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.ExecutionInstance, error) {
	var (
		instance    models.ExecutionInstance
		historyJSON []byte
	)

	err := row.Scan(
		&instance.ID,
		&instance.AutomationID,
		&instance.SubscriberID,
		&instance.CurrentNodeID,
		&instance.Status,
		&instance.EnrolledAt,
		&instance.LastTransitionAt,
		&instance.StepsTaken,
		&instance.FailureReason,
		&historyJSON,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(historyJSON, &instance.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}

	return &instance, nil
}

// CreateOpen inserts a new instance. The partial unique index on open
// statuses enforces at most one open instance per automation and
// subscriber; a unique violation maps to ErrOpenInstanceExists.
func (r *ExecutionRepository) CreateOpen(ctx context.Context, instance *models.ExecutionInstance) error {
	historyJSON, err := json.Marshal(instance.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		INSERT INTO executions (id, automation_id, subscriber_id, current_node_id, status,
			enrolled_at, last_transition_at, steps_taken, failure_reason, history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.AutomationID,
		instance.SubscriberID,
		instance.CurrentNodeID,
		instance.Status,
		instance.EnrolledAt,
		instance.LastTransitionAt,
		instance.StepsTaken,
		instance.FailureReason,
		historyJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			return persistence.NewStoreError("CreateOpen", instance.ID, persistence.ErrOpenInstanceExists)
		}

		return persistence.NewStoreError("CreateOpen", instance.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionInstance, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE id = $1
	`

	instance, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return instance, nil
}

func (r *ExecutionRepository) FindOpen(ctx context.Context, automationID, subscriberID string) (*models.ExecutionInstance, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE automation_id = $1
		  AND subscriber_id = $2
		  AND status IN ('active', 'waiting_delay')
	`

	instance, err := r.scanExecution(r.db.QueryRowContext(ctx, query, automationID, subscriberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("FindOpen", automationID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return instance, nil
}

func (r *ExecutionRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE automation_id = $1
		ORDER BY enrolled_at
	`

	return r.queryInstances(ctx, query, automationID)
}

func (r *ExecutionRepository) ListOpenByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE automation_id = $1
		  AND status IN ('active', 'waiting_delay')
		ORDER BY enrolled_at
	`

	return r.queryInstances(ctx, query, automationID)
}

func (r *ExecutionRepository) queryInstances(ctx context.Context, query string, args ...any) ([]*models.ExecutionInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.ExecutionInstance, 0)

	for rows.Next() {
		instance, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return instances, nil
}

func (r *ExecutionRepository) HasAnyInstance(ctx context.Context, automationID, subscriberID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM executions WHERE automation_id = $1 AND subscriber_id = $2)`,
		automationID, subscriberID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check instance existence: %w", err)
	}

	return exists, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, instance *models.ExecutionInstance) error {
	historyJSON, err := json.Marshal(instance.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := `
		UPDATE executions SET
			current_node_id = $2,
			status = $3,
			last_transition_at = $4,
			steps_taken = $5,
			failure_reason = $6,
			history = $7
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		instance.ID,
		instance.CurrentNodeID,
		instance.Status,
		instance.LastTransitionAt,
		instance.StepsTaken,
		instance.FailureReason,
		historyJSON,
	)
	if err != nil {
		return persistence.NewStoreError("Update", instance.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("Update", instance.ID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Update", instance.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// TryAcquireLease acquires the instance lease with a single compare-and-set
// update. The lease is free when unowned or expired; the current owner may
// reacquire to extend.
func (r *ExecutionRepository) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	query := `
		UPDATE executions SET
			lease_owner = $2,
			lease_expires_at = NOW() + make_interval(secs => $3)
		WHERE id = $1
		  AND (lease_owner IS NULL OR lease_expires_at <= NOW() OR lease_owner = $2)
	`

	res, err := r.db.ExecContext(ctx, query, instanceID, owner, ttl.Seconds())
	if err != nil {
		return false, persistence.NewStoreError("TryAcquireLease", instanceID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, persistence.NewStoreError("TryAcquireLease", instanceID, err)
	}

	return affected > 0, nil
}

func (r *ExecutionRepository) RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error {
	query := `
		UPDATE executions SET
			lease_expires_at = NOW() + make_interval(secs => $3)
		WHERE id = $1
		  AND lease_owner = $2
		  AND lease_expires_at > NOW()
	`

	res, err := r.db.ExecContext(ctx, query, instanceID, owner, ttl.Seconds())
	if err != nil {
		return persistence.NewStoreError("RenewLease", instanceID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("RenewLease", instanceID, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("RenewLease", instanceID, persistence.ErrLeaseNotHeld)
	}

	return nil
}

func (r *ExecutionRepository) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	query := `
		UPDATE executions SET
			lease_owner = NULL,
			lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2
	`

	if _, err := r.db.ExecContext(ctx, query, instanceID, owner); err != nil {
		return persistence.NewStoreError("ReleaseLease", instanceID, err)
	}

	return nil
}
