package workflow

import (
	"fmt"
	"strings"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// nodeConfigSchemas holds the JSON schema for each node kind's config map.
// Schemas are checked at activation time only; the scheduler assumes an
// active automation carries well-formed configs.
var nodeConfigSchemas = map[models.NodeKind]map[string]any{
	models.NodeKindStart: {
		"type":                 "object",
		"additionalProperties": false,
	},
	models.NodeKindExit: {
		"type":                 "object",
		"additionalProperties": false,
	},
	models.NodeKindSendEmail: {
		"type":     "object",
		"required": []any{"template_id"},
		"properties": map[string]any{
			"template_id": map[string]any{"type": "string", "minLength": 1},
			"variables":   map[string]any{"type": "object"},
		},
		"additionalProperties": false,
	},
	models.NodeKindDelay: {
		"type":     "object",
		"required": []any{"duration"},
		"properties": map[string]any{
			"duration": map[string]any{"type": "string", "minLength": 2},
		},
		"additionalProperties": false,
	},
	models.NodeKindCondition: {
		"type":     "object",
		"required": []any{"field", "operator"},
		"properties": map[string]any{
			"field": map[string]any{"type": "string", "minLength": 1},
			"operator": map[string]any{
				"type": "string",
				"enum": []any{
					"equals", "not_equals", "contains",
					"greater_than", "less_than", "in", "is_set",
				},
			},
			"value": map[string]any{},
		},
		"additionalProperties": false,
	},
}

// validateNodeConfig checks a node's config against its kind schema, then
// runs the typed decoders for the constraints a JSON schema cannot express
// (duration parsing).
func validateNodeConfig(n *models.Node) error {
	schema, ok := nodeConfigSchemas[n.Kind]
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("unknown node kind %q", n.Kind), NodeID: n.ID}
	}

	config := n.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return &ValidationError{Reason: "config schema check failed: " + err.Error(), NodeID: n.ID}
	}

	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}

		return &ValidationError{Reason: "invalid config: " + strings.Join(reasons, "; "), NodeID: n.ID}
	}

	switch n.Kind {
	case models.NodeKindDelay:
		if _, err := n.DelayConfig(); err != nil {
			return &ValidationError{Reason: err.Error(), NodeID: n.ID}
		}
	case models.NodeKindSendEmail:
		if _, err := n.SendEmailConfig(); err != nil {
			return &ValidationError{Reason: err.Error(), NodeID: n.ID}
		}
	case models.NodeKindCondition:
		if _, err := n.ConditionConfig(); err != nil {
			return &ValidationError{Reason: err.Error(), NodeID: n.ID}
		}
	}

	return nil
}
