package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// AutomationRepository handles automation-related database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

const automationColumns = `
	id
  , name
  , description
  , status
  , graph
  , trigger_config
  , created_at
  , updated_at
  , activated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AutomationRepository) scanAutomation(row rowScanner) (*models.Automation, error) {
	var (
		automation  models.Automation
		graphJSON   []byte
		triggerJSON []byte
		activatedAt sql.NullTime
	)

	err := row.Scan(
		&automation.ID,
		&automation.Name,
		&automation.Description,
		&automation.Status,
		&graphJSON,
		&triggerJSON,
		&automation.CreatedAt,
		&automation.UpdatedAt,
		&activatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(graphJSON, &automation.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}

	if err := json.Unmarshal(triggerJSON, &automation.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
	}

	if activatedAt.Valid {
		automation.ActivatedAt = &activatedAt.Time
	}

	return &automation, nil
}

// GetAll returns all automations, newest first.
func (r *AutomationRepository) GetAll(ctx context.Context) ([]*models.Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE id = $1 AND deleted_at IS NULL
	`

	automation, err := r.scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("GetByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}

	return automation, nil
}

func (r *AutomationRepository) GetActiveByEventType(ctx context.Context, eventType string) ([]*models.Automation, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automations
		WHERE status = $1
		  AND trigger_config->>'event_type' = $2
		  AND deleted_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, models.AutomationStatusActive, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations by event type: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

// Save upserts an automation.
func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	graphJSON, err := json.Marshal(automation.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	triggerJSON, err := json.Marshal(automation.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	query := `
		INSERT INTO automations (id, name, description, status, graph, trigger_config, created_at, updated_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			graph = EXCLUDED.graph,
			trigger_config = EXCLUDED.trigger_config,
			updated_at = EXCLUDED.updated_at,
			activated_at = EXCLUDED.activated_at
	`

	var activatedAt sql.NullTime
	if automation.ActivatedAt != nil {
		activatedAt = sql.NullTime{Time: *automation.ActivatedAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.Name,
		automation.Description,
		automation.Status,
		graphJSON,
		triggerJSON,
		automation.CreatedAt,
		automation.UpdatedAt,
		activatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Save", automation.ID, err)
	}

	return nil
}

// Delete soft deletes an automation by setting deleted_at.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE automations SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return persistence.NewStoreError("Delete", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewStoreError("Delete", id, persistence.ErrAutomationNotFound)
	}

	return nil
}
