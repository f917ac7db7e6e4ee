// Package memory provides an in-memory subscriber provider for tests and
// local development.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/subscriber"
)

// Provider stores subscriber snapshots in memory.
type Provider struct {
	mu        sync.RWMutex
	snapshots map[string]*models.SubscriberSnapshot
}

var _ subscriber.Provider = (*Provider)(nil)

// NewProvider creates an empty in-memory provider.
func NewProvider() *Provider {
	return &Provider{snapshots: make(map[string]*models.SubscriberSnapshot)}
}

// Put stores or replaces a subscriber snapshot.
func (p *Provider) Put(snapshot *models.SubscriberSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snapshots[snapshot.ID] = snapshot
}

// Snapshot returns a copy of the stored snapshot so callers cannot mutate
// shared state.
func (p *Provider) Snapshot(_ context.Context, subscriberID string) (*models.SubscriberSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stored, ok := p.snapshots[subscriberID]
	if !ok {
		return nil, subscriber.ErrSubscriberNotFound
	}

	snapshot := &models.SubscriberSnapshot{
		ID:           stored.ID,
		Attributes:   maps.Clone(stored.Attributes),
		CustomFields: maps.Clone(stored.CustomFields),
	}

	return snapshot, nil
}
