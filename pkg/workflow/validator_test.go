package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
)

// linearGraph builds start -> send -> exit.
func linearGraph() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "welcome"}},
			{ID: "exit", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "send", Branch: models.BranchDefault},
			{Source: "send", Target: "exit", Branch: models.BranchDefault},
		},
	}
}

func conditionGraph() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "check", Kind: models.NodeKindCondition, Config: map[string]any{"field": "plan", "operator": "equals", "value": "pro"}},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "upsell"}},
			{ID: "exit", Kind: models.NodeKindExit},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "check", Branch: models.BranchDefault},
			{Source: "check", Target: "send", Branch: models.BranchTrue},
			{Source: "check", Target: "exit", Branch: models.BranchFalse},
			{Source: "send", Target: "exit", Branch: models.BranchDefault},
		},
	}
}

func TestValidate_LinearGraph(t *testing.T) {
	assert.NoError(t, Validate(linearGraph()))
}

func TestValidate_ConditionGraph(t *testing.T) {
	assert.NoError(t, Validate(conditionGraph()))
}

func TestValidate_NilOrEmptyGraph(t *testing.T) {
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(&models.WorkflowGraph{}))
}

func TestValidate_NoStartNode(t *testing.T) {
	g := linearGraph()
	g.Nodes[0].Kind = models.NodeKindSendEmail
	g.Nodes[0].Config = map[string]any{"template_id": "x"}

	err := Validate(g)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "no start node")
}

func TestValidate_TwoStartNodes(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, &models.Node{ID: "start2", Kind: models.NodeKindStart})
	g.Edges = append(g.Edges, &models.Edge{Source: "start2", Target: "send", Branch: models.BranchDefault})

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one start node")
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes, &models.Node{ID: "send", Kind: models.NodeKindExit})

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestValidate_DanglingEdge(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, &models.Edge{Source: "send", Target: "ghost", Branch: models.BranchTrue})

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target node")
}

func TestValidate_ConditionMissingFalseBranch(t *testing.T) {
	g := conditionGraph()

	edges := g.Edges[:0]

	for _, e := range g.Edges {
		if e.Source == "check" && e.Branch == models.BranchFalse {
			continue
		}

		edges = append(edges, e)
	}

	g.Edges = edges

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both a true and a false edge")
}

func TestValidate_ConditionWithDefaultEdge(t *testing.T) {
	g := conditionGraph()
	g.Edges = append(g.Edges, &models.Edge{Source: "check", Target: "exit", Branch: models.BranchDefault})

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labeled true or false")
}

func TestValidate_TrueEdgeOnNonCondition(t *testing.T) {
	g := linearGraph()
	g.Edges[1].Branch = models.BranchTrue

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only condition nodes")
}

func TestValidate_NonExitNodeWithoutOutgoingEdge(t *testing.T) {
	g := linearGraph()
	g.Edges = g.Edges[:1]

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one outgoing default edge")
}

func TestValidate_ExitNodeWithOutgoingEdge(t *testing.T) {
	g := linearGraph()
	g.Edges = append(g.Edges, &models.Edge{Source: "exit", Target: "start", Branch: models.BranchDefault})

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit node must not have outgoing edges")
}

func TestValidate_UnreachableNode(t *testing.T) {
	g := linearGraph()
	g.Nodes = append(g.Nodes,
		&models.Node{ID: "orphan", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "x"}},
	)
	g.Edges = append(g.Edges, &models.Edge{Source: "orphan", Target: "exit", Branch: models.BranchDefault})

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable from start")
}

func TestValidate_CycleWithoutDelayRejected(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "a", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "a"}},
			{ID: "b", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "b"}},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "a", Branch: models.BranchDefault},
			{Source: "a", Target: "b", Branch: models.BranchDefault},
			{Source: "b", Target: "a", Branch: models.BranchDefault},
		},
	}

	err := Validate(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle without a delay node")
}

func TestValidate_CycleThroughDelayAllowed(t *testing.T) {
	// Drip loop: send -> delay -> send, bounded at runtime by the step guard.
	g := &models.WorkflowGraph{
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindStart},
			{ID: "send", Kind: models.NodeKindSendEmail, Config: map[string]any{"template_id": "drip"}},
			{ID: "wait", Kind: models.NodeKindDelay, Config: map[string]any{"duration": "24h"}},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "send", Branch: models.BranchDefault},
			{Source: "send", Target: "wait", Branch: models.BranchDefault},
			{Source: "wait", Target: "send", Branch: models.BranchDefault},
		},
	}

	assert.NoError(t, Validate(g))
}

func TestCompile_AdjacencyLookups(t *testing.T) {
	plan, err := Compile(conditionGraph())
	require.NoError(t, err)

	assert.Equal(t, "start", plan.StartNodeID())

	next, ok := plan.Next("start", models.BranchDefault)
	require.True(t, ok)
	assert.Equal(t, "check", next)

	next, ok = plan.Next("check", models.BranchTrue)
	require.True(t, ok)
	assert.Equal(t, "send", next)

	next, ok = plan.Next("check", models.BranchFalse)
	require.True(t, ok)
	assert.Equal(t, "exit", next)

	_, ok = plan.Next("exit", models.BranchDefault)
	assert.False(t, ok)

	assert.NotNil(t, plan.Node("send"))
	assert.Nil(t, plan.Node("ghost"))
}

func TestCompile_RejectsInvalidGraph(t *testing.T) {
	g := linearGraph()
	g.Edges = g.Edges[:1]

	plan, err := Compile(g)
	assert.Error(t, err)
	assert.Nil(t, plan)
}

func TestCompile_EmptyBranchIsDefault(t *testing.T) {
	g := linearGraph()
	g.Edges[0].Branch = ""

	plan, err := Compile(g)
	require.NoError(t, err)

	next, ok := plan.Next("start", models.BranchDefault)
	require.True(t, ok)
	assert.Equal(t, "send", next)
}
