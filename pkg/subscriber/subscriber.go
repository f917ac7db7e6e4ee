// Package subscriber abstracts the subscriber profile store. The engine
// only ever reads point-in-time snapshots; profile data lives in the wider
// platform, not here.
package subscriber

import (
	"context"
	"errors"

	"github.com/dripflow/dripflow/pkg/models"
)

// ErrSubscriberNotFound indicates no profile exists for the given id.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// Provider fetches subscriber snapshots. Condition evaluation and segment
// filtering always work on a snapshot fetched at evaluation time, never on
// cached state.
type Provider interface {
	Snapshot(ctx context.Context, subscriberID string) (*models.SubscriberSnapshot, error)
}

// IsSubscriberNotFound checks if an error indicates a missing subscriber.
func IsSubscriberNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound)
}
