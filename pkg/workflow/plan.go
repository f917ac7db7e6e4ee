package workflow

import (
	"github.com/dripflow/dripflow/pkg/models"
)

// ExecutionPlan is the compiled form of a validated graph: an adjacency
// map keyed by node id and branch, giving O(1) lookups while stepping.
type ExecutionPlan struct {
	startID string
	nodes   map[string]*models.Node
	next    map[string]map[models.Branch]string
}

// Compile validates the graph and precomputes the adjacency map.
func Compile(g *models.WorkflowGraph) (*ExecutionPlan, error) {
	if err := Validate(g); err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{
		nodes: make(map[string]*models.Node, len(g.Nodes)),
		next:  make(map[string]map[models.Branch]string, len(g.Nodes)),
	}

	for _, n := range g.Nodes {
		plan.nodes[n.ID] = n

		if n.Kind == models.NodeKindStart {
			plan.startID = n.ID
		}
	}

	for _, e := range g.Edges {
		branch := e.Branch
		if branch == "" {
			branch = models.BranchDefault
		}

		if plan.next[e.Source] == nil {
			plan.next[e.Source] = make(map[models.Branch]string)
		}

		plan.next[e.Source][branch] = e.Target
	}

	return plan, nil
}

// StartNodeID returns the id of the graph's single start node.
func (p *ExecutionPlan) StartNodeID() string {
	return p.startID
}

// Node returns the node with the given id, or nil.
func (p *ExecutionPlan) Node(id string) *models.Node {
	return p.nodes[id]
}

// Next returns the target node id of the edge leaving nodeID under the
// given branch.
func (p *ExecutionPlan) Next(nodeID string, branch models.Branch) (string, bool) {
	targets, ok := p.next[nodeID]
	if !ok {
		return "", false
	}

	target, ok := targets[branch]

	return target, ok
}
