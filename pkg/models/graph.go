package models

import (
	"errors"
	"fmt"
	"time"
)

// NodeKind is the closed set of node types a workflow graph supports.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindCondition NodeKind = "condition"
	NodeKindSendEmail NodeKind = "send_email"
	NodeKindDelay     NodeKind = "delay"
	NodeKindExit      NodeKind = "exit"
)

// Branch labels an outgoing edge. Only condition nodes use true/false;
// every other node advances along its default edge.
type Branch string

const (
	BranchDefault Branch = "default"
	BranchTrue    Branch = "true"
	BranchFalse   Branch = "false"
)

// Node is one step of a workflow graph. Config is kind-specific and is
// decoded through the typed accessors below.
type Node struct {
	ID     string         `json:"id"     validate:"required"`
	Kind   NodeKind       `json:"kind"   validate:"required"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes under a branch label.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Branch Branch `json:"branch"`
}

// WorkflowGraph is the node/edge definition of an automation. It is plain
// data; validation and compilation live in pkg/workflow.
type WorkflowGraph struct {
	Nodes []*Node `json:"nodes" validate:"required,min=1"`
	Edges []*Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (g *WorkflowGraph) NodeByID(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// SendEmailConfig is the decoded config of a send_email node.
type SendEmailConfig struct {
	TemplateID string
	Variables  map[string]string
}

// DelayConfig is the decoded config of a delay node.
type DelayConfig struct {
	Duration time.Duration
}

var (
	ErrMissingTemplateID = errors.New("send_email node requires a template_id")
	ErrInvalidDuration   = errors.New("delay node requires a positive duration")
	ErrMissingCondition  = errors.New("condition node requires a condition")
)

// SendEmailConfig decodes the node config of a send_email node.
func (n *Node) SendEmailConfig() (SendEmailConfig, error) {
	templateID, _ := n.Config["template_id"].(string)
	if templateID == "" {
		return SendEmailConfig{}, ErrMissingTemplateID
	}

	vars := make(map[string]string)

	if raw, ok := n.Config["variables"].(map[string]any); ok {
		for k, v := range raw {
			vars[k] = fmt.Sprintf("%v", v)
		}
	}

	return SendEmailConfig{TemplateID: templateID, Variables: vars}, nil
}

// DelayConfig decodes the node config of a delay node. Durations are Go
// duration strings ("48h", "15m").
func (n *Node) DelayConfig() (DelayConfig, error) {
	raw, _ := n.Config["duration"].(string)
	if raw == "" {
		return DelayConfig{}, ErrInvalidDuration
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return DelayConfig{}, ErrInvalidDuration
	}

	return DelayConfig{Duration: d}, nil
}

// ConditionConfig decodes the node config of a condition node.
func (n *Node) ConditionConfig() (Condition, error) {
	field, _ := n.Config["field"].(string)
	operator, _ := n.Config["operator"].(string)

	if field == "" || operator == "" {
		return Condition{}, ErrMissingCondition
	}

	return Condition{
		Field:    field,
		Operator: Operator(operator),
		Value:    n.Config["value"],
	}, nil
}
