// Package workflow validates and compiles automation workflow graphs and
// steps execution instances through them.
package workflow

import (
	"errors"
	"fmt"

	"github.com/dripflow/dripflow/pkg/models"
)

// ValidationError describes why a graph was rejected. NodeID is empty for
// graph-level problems.
type ValidationError struct {
	Reason string
	NodeID string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid workflow graph: %s (node %s)", e.Reason, e.NodeID)
	}

	return "invalid workflow graph: " + e.Reason
}

// IsValidationError reports whether err is a graph validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}

// Validate enforces the structural invariants of a workflow graph:
// exactly one start node, no dangling edges, both branches on every
// condition node, an outgoing edge on every non-exit node, reachability
// from start, and acyclicity along any path that does not pass through a
// delay node. Activation runs Validate so the scheduler never sees a
// malformed graph.
func Validate(g *models.WorkflowGraph) error {
	if g == nil || len(g.Nodes) == 0 {
		return &ValidationError{Reason: "graph has no nodes"}
	}

	nodes := make(map[string]*models.Node, len(g.Nodes))

	var start *models.Node

	for _, n := range g.Nodes {
		if n.ID == "" {
			return &ValidationError{Reason: "node has an empty id"}
		}

		if _, exists := nodes[n.ID]; exists {
			return &ValidationError{Reason: "duplicate node id", NodeID: n.ID}
		}

		nodes[n.ID] = n

		if n.Kind == models.NodeKindStart {
			if start != nil {
				return &ValidationError{Reason: "graph has more than one start node", NodeID: n.ID}
			}

			start = n
		}
	}

	if start == nil {
		return &ValidationError{Reason: "graph has no start node"}
	}

	outgoing := make(map[string][]*models.Edge)

	for _, e := range g.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return &ValidationError{Reason: "edge references unknown source node", NodeID: e.Source}
		}

		if _, ok := nodes[e.Target]; !ok {
			return &ValidationError{Reason: "edge references unknown target node", NodeID: e.Target}
		}

		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	for _, n := range g.Nodes {
		if err := validateNodeEdges(n, outgoing[n.ID]); err != nil {
			return err
		}

		if err := validateNodeConfig(n); err != nil {
			return err
		}
	}

	if err := checkReachability(start, nodes, outgoing); err != nil {
		return err
	}

	return checkAcyclicOutsideDelays(nodes, outgoing)
}

func validateNodeEdges(n *models.Node, edges []*models.Edge) error {
	switch n.Kind {
	case models.NodeKindExit:
		if len(edges) > 0 {
			return &ValidationError{Reason: "exit node must not have outgoing edges", NodeID: n.ID}
		}

		return nil
	case models.NodeKindCondition:
		var hasTrue, hasFalse bool

		for _, e := range edges {
			switch e.Branch {
			case models.BranchTrue:
				if hasTrue {
					return &ValidationError{Reason: "condition node has more than one true edge", NodeID: n.ID}
				}

				hasTrue = true
			case models.BranchFalse:
				if hasFalse {
					return &ValidationError{Reason: "condition node has more than one false edge", NodeID: n.ID}
				}

				hasFalse = true
			default:
				return &ValidationError{Reason: "condition node edges must be labeled true or false", NodeID: n.ID}
			}
		}

		if !hasTrue || !hasFalse {
			return &ValidationError{Reason: "condition node requires both a true and a false edge", NodeID: n.ID}
		}

		return nil
	default:
		defaults := 0

		for _, e := range edges {
			if e.Branch != models.BranchDefault && e.Branch != "" {
				return &ValidationError{Reason: "only condition nodes may use true/false edges", NodeID: n.ID}
			}

			defaults++
		}

		if defaults != 1 {
			return &ValidationError{Reason: "node requires exactly one outgoing default edge", NodeID: n.ID}
		}

		return nil
	}
}

func checkReachability(start *models.Node, nodes map[string]*models.Node, outgoing map[string][]*models.Edge) error {
	visited := make(map[string]bool, len(nodes))
	stack := []string{start.ID}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[id] {
			continue
		}

		visited[id] = true

		for _, e := range outgoing[id] {
			stack = append(stack, e.Target)
		}
	}

	for id := range nodes {
		if !visited[id] {
			return &ValidationError{Reason: "node is not reachable from start", NodeID: id}
		}
	}

	return nil
}

// checkAcyclicOutsideDelays rejects cycles that contain no delay node.
// Cycles through a delay are allowed (drip loops) and bounded at runtime
// by the per-instance step guard. The check runs a DFS over the subgraph
// of non-delay nodes only: any cycle there is a cycle without a delay.
func checkAcyclicOutsideDelays(nodes map[string]*models.Node, outgoing map[string][]*models.Edge) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(nodes))

	var visit func(id string) error

	visit = func(id string) error {
		state[id] = inStack

		for _, e := range outgoing[id] {
			target := nodes[e.Target]
			if target.Kind == models.NodeKindDelay {
				continue
			}

			switch state[e.Target] {
			case inStack:
				return &ValidationError{Reason: "cycle without a delay node", NodeID: e.Target}
			case unvisited:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}

		state[id] = done

		return nil
	}

	for id, n := range nodes {
		if n.Kind == models.NodeKindDelay {
			continue
		}

		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}
