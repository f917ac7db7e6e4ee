package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// Analytics aggregates execution data per automation. Everything is
// derived from instance records; no separate counters to keep in sync.
type Analytics struct {
	persistence persistence.Persistence
}

// NewAnalytics creates a new analytics service.
func NewAnalytics(persistence persistence.Persistence) *Analytics {
	return &Analytics{persistence: persistence}
}

// NodeStats is the per-node slice of the funnel: how many instances
// entered a node and how their visits broke down by outcome.
type NodeStats struct {
	NodeID   string         `json:"node_id"`
	Entered  int            `json:"entered"`
	Outcomes map[string]int `json:"outcomes"`
}

// AutomationStats summarizes all executions of one automation.
type AutomationStats struct {
	AutomationID   string                         `json:"automation_id"`
	TotalEnrolled  int                            `json:"total_enrolled"`
	StatusCounts   map[models.ExecutionStatus]int `json:"status_counts"`
	CompletionRate float64                        `json:"completion_rate"`
	AverageSteps   float64                        `json:"average_steps"`
	NodeFunnel     []NodeStats                    `json:"node_funnel"`
}

// AutomationStats computes statistics for one automation from its
// execution instances.
func (s *Analytics) AutomationStats(ctx context.Context, automationID string) (*AutomationStats, error) {
	// Resolve the automation first so a missing id is a not-found, not an
	// empty stats object.
	if _, err := s.persistence.AutomationRepository().GetByID(ctx, automationID); err != nil {
		return nil, err
	}

	instances, err := s.persistence.ExecutionRepository().ListByAutomation(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	stats := &AutomationStats{
		AutomationID: automationID,
		StatusCounts: make(map[models.ExecutionStatus]int),
	}

	funnel := make(map[string]*NodeStats)
	totalSteps := 0
	finished := 0
	completed := 0

	for _, instance := range instances {
		stats.TotalEnrolled++
		stats.StatusCounts[instance.Status]++
		totalSteps += instance.StepsTaken

		if instance.Status.IsTerminal() {
			finished++
		}

		if instance.Status == models.ExecutionStatusCompleted {
			completed++
		}

		seen := make(map[string]bool)

		for _, entry := range instance.History {
			node, ok := funnel[entry.NodeID]
			if !ok {
				node = &NodeStats{NodeID: entry.NodeID, Outcomes: make(map[string]int)}
				funnel[entry.NodeID] = node
			}

			// Entered counts distinct instances; a delay loop revisiting a
			// node does not inflate it.
			if !seen[entry.NodeID] {
				node.Entered++
				seen[entry.NodeID] = true
			}

			node.Outcomes[entry.Outcome]++
		}
	}

	if finished > 0 {
		stats.CompletionRate = float64(completed) / float64(finished)
	}

	if stats.TotalEnrolled > 0 {
		stats.AverageSteps = float64(totalSteps) / float64(stats.TotalEnrolled)
	}

	stats.NodeFunnel = make([]NodeStats, 0, len(funnel))
	for _, node := range funnel {
		stats.NodeFunnel = append(stats.NodeFunnel, *node)
	}

	// Deterministic output ordering for API responses and tests.
	sort.Slice(stats.NodeFunnel, func(i, j int) bool {
		return stats.NodeFunnel[i].NodeID < stats.NodeFunnel[j].NodeID
	})

	return stats, nil
}
