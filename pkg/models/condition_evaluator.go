// Package models provides condition evaluation over subscriber snapshots.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SubscriberSnapshot is the engine's read-only view of a subscriber:
// built-in attributes plus the free-form custom fields map.
type SubscriberSnapshot struct {
	ID           string         `json:"id"`
	Attributes   map[string]any `json:"attributes"`
	CustomFields map[string]any `json:"custom_fields"`
}

// ConditionEvaluator resolves a condition against a subscriber snapshot.
// Evaluate is a pure function: no I/O, no clock reads, identical inputs
// produce identical results. On any resolution error it returns false
// together with the reason so the caller can record it; it never panics
// past this boundary.
type ConditionEvaluator struct{}

// Evaluate returns the branch decision for the condition. A non-nil error
// always accompanies a false result and carries the resolution failure
// reason.
func (ConditionEvaluator) Evaluate(cond Condition, snapshot SubscriberSnapshot) (bool, error) {
	if !KnownOperator(cond.Operator) {
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}

	value, found := resolveField(cond.Field, snapshot)

	if cond.Operator == OperatorIsSet {
		return found && !isEmpty(value), nil
	}

	if !found {
		return false, fmt.Errorf("field %q not found in snapshot", cond.Field)
	}

	switch cond.Operator {
	case OperatorEquals:
		return looseEquals(value, cond.Value), nil
	case OperatorNotEquals:
		return !looseEquals(value, cond.Value), nil
	case OperatorContains:
		return evalContains(value, cond.Value)
	case OperatorGreaterThan, OperatorLessThan:
		left, leftOk := toFloat(value)
		right, rightOk := toFloat(cond.Value)

		if !leftOk || !rightOk {
			return false, fmt.Errorf("field %q is not comparable as a number", cond.Field)
		}

		if cond.Operator == OperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	case OperatorIn:
		return evalIn(value, cond.Value)
	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// resolveField walks a dot-path into the snapshot. "id" resolves to the
// subscriber id; paths prefixed "attributes." or "custom_fields." address
// the respective map; bare paths try attributes first, then custom fields.
func resolveField(field string, snapshot SubscriberSnapshot) (any, bool) {
	if field == "id" {
		return snapshot.ID, true
	}

	parts := strings.Split(field, ".")

	switch parts[0] {
	case "attributes":
		return walkPath(snapshot.Attributes, parts[1:])
	case "custom_fields":
		return walkPath(snapshot.CustomFields, parts[1:])
	default:
		if v, ok := walkPath(snapshot.Attributes, parts); ok {
			return v, true
		}

		return walkPath(snapshot.CustomFields, parts)
	}
}

func walkPath(root map[string]any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}

	var current any = root

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// looseEquals compares numerically when both sides coerce to numbers,
// otherwise by string form. This mirrors how condition values arrive from
// JSON configs, where 42 and "42" are routinely interchangeable.
func looseEquals(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, rok := toFloat(right); rok {
			return lf == rf
		}
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func evalContains(value, needle any) (bool, error) {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, fmt.Sprintf("%v", needle)), nil
	case []any:
		for _, item := range v {
			if looseEquals(item, needle) {
				return true, nil
			}
		}

		return false, nil
	case []string:
		for _, item := range v {
			if looseEquals(item, needle) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("contains requires a string or list field, got %T", value)
	}
}

func evalIn(value, set any) (bool, error) {
	switch s := set.(type) {
	case []any:
		for _, item := range s {
			if looseEquals(value, item) {
				return true, nil
			}
		}

		return false, nil
	case []string:
		for _, item := range s {
			if looseEquals(value, item) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("in requires a list value, got %T", set)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return s == ""
	}

	return false
}
