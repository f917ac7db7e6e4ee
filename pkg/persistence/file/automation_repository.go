package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// AutomationRepository stores automations as JSON files under
// <root>/automations.
type AutomationRepository struct {
	root string
	mu   sync.RWMutex
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(root string) *AutomationRepository {
	return &AutomationRepository{root: root}
}

func (ar *AutomationRepository) dir() string {
	return path.Join(ar.root, "automations")
}

func (ar *AutomationRepository) filePath(id string) string {
	return path.Join(ar.dir(), id+".json")
}

func (ar *AutomationRepository) GetAll(ctx context.Context) ([]*models.Automation, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	return ar.loadAll(ctx)
}

func (ar *AutomationRepository) loadAll(ctx context.Context) ([]*models.Automation, error) {
	root := os.DirFS(ar.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list automation files: %w", err)
	}

	automations := make([]*models.Automation, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-5] // Remove .json extension

		automation, err := ar.load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load automation %s: %w", id, err)
		}

		automations = append(automations, automation)
	}

	return automations, nil
}

func (ar *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	return ar.load(ctx, id)
}

func (ar *AutomationRepository) load(_ context.Context, id string) (*models.Automation, error) {
	data, err := os.ReadFile(ar.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	var automation models.Automation
	if err := json.Unmarshal(data, &automation); err != nil {
		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	return &automation, nil
}

func (ar *AutomationRepository) GetActiveByEventType(ctx context.Context, eventType string) ([]*models.Automation, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	all, err := ar.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.Automation, 0)

	for _, automation := range all {
		if automation.IsActive() && automation.Trigger.EventType == eventType {
			matches = append(matches, automation)
		}
	}

	return matches, nil
}

func (ar *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if err := os.MkdirAll(ar.dir(), 0o755); err != nil {
		return persistence.NewStoreError("Save", automation.ID, err)
	}

	data, err := json.MarshalIndent(automation, "", "  ")
	if err != nil {
		return persistence.NewStoreError("Save", automation.ID, err)
	}

	if err := os.WriteFile(ar.filePath(automation.ID), data, 0o600); err != nil {
		return persistence.NewStoreError("Save", automation.ID, err)
	}

	return nil
}

func (ar *AutomationRepository) Delete(_ context.Context, id string) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if err := os.Remove(ar.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.NewStoreError("Delete", id, persistence.ErrAutomationNotFound)
		}

		return persistence.NewStoreError("Delete", id, err)
	}

	return nil
}
