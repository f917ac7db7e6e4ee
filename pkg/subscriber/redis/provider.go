// Package redis provides a subscriber provider backed by Redis, for
// deployments where the surrounding platform pushes subscriber snapshots
// into a shared cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/subscriber"
)

// Provider reads subscriber snapshots stored as JSON under
// <prefix><subscriber id>.
type Provider struct {
	client redis.UniversalClient
	prefix string
}

var _ subscriber.Provider = (*Provider)(nil)

// NewProvider creates a Redis-backed provider. prefix namespaces the
// snapshot keys (defaults to "dripflow:subscriber:").
func NewProvider(ctx context.Context, client redis.UniversalClient, prefix string) (*Provider, error) {
	if prefix == "" {
		prefix = "dripflow:subscriber:"
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Provider{client: client, prefix: prefix}, nil
}

func (p *Provider) Snapshot(ctx context.Context, subscriberID string) (*models.SubscriberSnapshot, error) {
	payload, err := p.client.Get(ctx, p.prefix+subscriberID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, subscriber.ErrSubscriberNotFound
		}

		return nil, fmt.Errorf("failed to fetch subscriber snapshot: %w", err)
	}

	var snapshot models.SubscriberSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode subscriber snapshot: %w", err)
	}

	if snapshot.ID == "" {
		snapshot.ID = subscriberID
	}

	return &snapshot, nil
}
