package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// ExecutionRepository stores execution instances as JSON files under
// <root>/executions. Leases live in memory only.
type ExecutionRepository struct {
	root   string
	mu     sync.Mutex
	leases map[string]lease
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		root:   root,
		leases: make(map[string]lease),
	}
}

func (er *ExecutionRepository) dir() string {
	return path.Join(er.root, "executions")
}

func (er *ExecutionRepository) filePath(id string) string {
	return path.Join(er.dir(), id+".json")
}

func (er *ExecutionRepository) CreateOpen(ctx context.Context, instance *models.ExecutionInstance) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	open, err := er.findOpenLocked(ctx, instance.AutomationID, instance.SubscriberID)
	if err != nil && !persistence.IsExecutionNotFound(err) {
		return err
	}

	if open != nil {
		return persistence.NewStoreError("CreateOpen", instance.ID, persistence.ErrOpenInstanceExists)
	}

	return er.writeLocked(instance, "CreateOpen")
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionInstance, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	return er.load(ctx, id)
}

func (er *ExecutionRepository) load(_ context.Context, id string) (*models.ExecutionInstance, error) {
	data, err := os.ReadFile(er.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewStoreError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	var instance models.ExecutionInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	return &instance, nil
}

func (er *ExecutionRepository) FindOpen(ctx context.Context, automationID, subscriberID string) (*models.ExecutionInstance, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	instance, err := er.findOpenLocked(ctx, automationID, subscriberID)
	if err != nil {
		return nil, err
	}

	if instance == nil {
		return nil, persistence.NewStoreError("FindOpen", automationID, persistence.ErrExecutionNotFound)
	}

	return instance, nil
}

func (er *ExecutionRepository) findOpenLocked(ctx context.Context, automationID, subscriberID string) (*models.ExecutionInstance, error) {
	instances, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, instance := range instances {
		if instance.AutomationID == automationID &&
			instance.SubscriberID == subscriberID &&
			!instance.Status.IsTerminal() {
			return instance, nil
		}
	}

	return nil, nil
}

func (er *ExecutionRepository) loadAll(ctx context.Context) ([]*models.ExecutionInstance, error) {
	root := os.DirFS(er.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	instances := make([]*models.ExecutionInstance, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		id := file[:len(file)-5]

		instance, err := er.load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func (er *ExecutionRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error) {
	return er.list(ctx, automationID, false)
}

func (er *ExecutionRepository) ListOpenByAutomation(ctx context.Context, automationID string) ([]*models.ExecutionInstance, error) {
	return er.list(ctx, automationID, true)
}

func (er *ExecutionRepository) list(ctx context.Context, automationID string, openOnly bool) ([]*models.ExecutionInstance, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	all, err := er.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.ExecutionInstance, 0)

	for _, instance := range all {
		if instance.AutomationID != automationID {
			continue
		}

		if openOnly && instance.Status.IsTerminal() {
			continue
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func (er *ExecutionRepository) HasAnyInstance(ctx context.Context, automationID, subscriberID string) (bool, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	all, err := er.loadAll(ctx)
	if err != nil {
		return false, err
	}

	for _, instance := range all {
		if instance.AutomationID == automationID && instance.SubscriberID == subscriberID {
			return true, nil
		}
	}

	return false, nil
}

func (er *ExecutionRepository) Update(_ context.Context, instance *models.ExecutionInstance) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	if _, err := os.Stat(er.filePath(instance.ID)); os.IsNotExist(err) {
		return persistence.NewStoreError("Update", instance.ID, persistence.ErrExecutionNotFound)
	}

	return er.writeLocked(instance, "Update")
}

func (er *ExecutionRepository) writeLocked(instance *models.ExecutionInstance, op string) error {
	if err := os.MkdirAll(er.dir(), 0o755); err != nil {
		return persistence.NewStoreError(op, instance.ID, err)
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return persistence.NewStoreError(op, instance.ID, err)
	}

	if err := os.WriteFile(er.filePath(instance.ID), data, 0o600); err != nil {
		return persistence.NewStoreError(op, instance.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) TryAcquireLease(_ context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	now := time.Now()

	current, ok := er.leases[instanceID]
	if ok && current.expiresAt.After(now) && current.owner != owner {
		return false, nil
	}

	er.leases[instanceID] = lease{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

func (er *ExecutionRepository) RenewLease(_ context.Context, instanceID, owner string, ttl time.Duration) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	now := time.Now()

	current, ok := er.leases[instanceID]
	if !ok || current.owner != owner || !current.expiresAt.After(now) {
		return persistence.NewStoreError("RenewLease", instanceID, persistence.ErrLeaseNotHeld)
	}

	er.leases[instanceID] = lease{owner: owner, expiresAt: now.Add(ttl)}

	return nil
}

func (er *ExecutionRepository) ReleaseLease(_ context.Context, instanceID, owner string) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	current, ok := er.leases[instanceID]
	if ok && current.owner == owner {
		delete(er.leases, instanceID)
	}

	return nil
}
