package models

// Operator is a comparison operator supported by condition nodes and
// segment filters.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorIn          Operator = "in"
	OperatorIsSet       Operator = "is_set"
)

// KnownOperator reports whether op is part of the supported set.
func KnownOperator(op Operator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorContains,
		OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorIsSet:
		return true
	default:
		return false
	}
}

// Condition compares a subscriber field against a value. Field supports
// dot-path lookup into the snapshot, including the custom fields map.
type Condition struct {
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value,omitempty"`
}
