package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() SubscriberSnapshot {
	return SubscriberSnapshot{
		ID: "sub-1",
		Attributes: map[string]any{
			"email":   "ana@example.com",
			"country": "BR",
			"score":   42.0,
			"tags":    []any{"vip", "beta"},
			"address": map[string]any{
				"city": "Recife",
			},
		},
		CustomFields: map[string]any{
			"plan":     "pro",
			"referrer": "",
		},
	}
}

func TestEvaluate_Equals(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "country",
		Operator: OperatorEquals,
		Value:    "BR",
	}, testSnapshot())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_EqualsNumericCoercion(t *testing.T) {
	evaluator := ConditionEvaluator{}

	// A numeric field compared against its string form still matches.
	result, err := evaluator.Evaluate(Condition{
		Field:    "score",
		Operator: OperatorEquals,
		Value:    "42",
	}, testSnapshot())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_NotEquals(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "country",
		Operator: OperatorNotEquals,
		Value:    "US",
	}, testSnapshot())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_ContainsString(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "email",
		Operator: OperatorContains,
		Value:    "@example.com",
	}, testSnapshot())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_ContainsList(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "tags",
		Operator: OperatorContains,
		Value:    "vip",
	}, testSnapshot())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_ContainsWrongType(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "score",
		Operator: OperatorContains,
		Value:    "4",
	}, testSnapshot())

	// Errors always pair with a false result.
	require.Error(t, err)
	assert.False(t, result)
}

func TestEvaluate_GreaterThanLessThan(t *testing.T) {
	evaluator := ConditionEvaluator{}
	snapshot := testSnapshot()

	result, err := evaluator.Evaluate(Condition{Field: "score", Operator: OperatorGreaterThan, Value: 40}, snapshot)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = evaluator.Evaluate(Condition{Field: "score", Operator: OperatorLessThan, Value: 40}, snapshot)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_GreaterThanNonNumeric(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "email",
		Operator: OperatorGreaterThan,
		Value:    10,
	}, testSnapshot())

	require.Error(t, err)
	assert.False(t, result)
}

func TestEvaluate_In(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "country",
		Operator: OperatorIn,
		Value:    []any{"AR", "BR", "CL"},
	}, testSnapshot())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_InRequiresList(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "country",
		Operator: OperatorIn,
		Value:    "BR",
	}, testSnapshot())

	require.Error(t, err)
	assert.False(t, result)
}

func TestEvaluate_IsSet(t *testing.T) {
	evaluator := ConditionEvaluator{}
	snapshot := testSnapshot()

	result, err := evaluator.Evaluate(Condition{Field: "custom_fields.plan", Operator: OperatorIsSet}, snapshot)
	require.NoError(t, err)
	assert.True(t, result)

	// Empty strings count as unset.
	result, err = evaluator.Evaluate(Condition{Field: "custom_fields.referrer", Operator: OperatorIsSet}, snapshot)
	require.NoError(t, err)
	assert.False(t, result)

	// is_set never errors on missing fields.
	result, err = evaluator.Evaluate(Condition{Field: "custom_fields.nope", Operator: OperatorIsSet}, snapshot)
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluate_DotPathResolution(t *testing.T) {
	evaluator := ConditionEvaluator{}
	snapshot := testSnapshot()

	result, err := evaluator.Evaluate(Condition{
		Field:    "attributes.address.city",
		Operator: OperatorEquals,
		Value:    "Recife",
	}, snapshot)
	require.NoError(t, err)
	assert.True(t, result)

	// Bare paths fall back to attributes, then custom fields.
	result, err = evaluator.Evaluate(Condition{Field: "plan", Operator: OperatorEquals, Value: "pro"}, snapshot)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = evaluator.Evaluate(Condition{Field: "id", Operator: OperatorEquals, Value: "sub-1"}, snapshot)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_MissingField(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "attributes.missing",
		Operator: OperatorEquals,
		Value:    "x",
	}, testSnapshot())

	require.Error(t, err)
	assert.False(t, result)
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	evaluator := ConditionEvaluator{}

	result, err := evaluator.Evaluate(Condition{
		Field:    "country",
		Operator: Operator("matches_regex"),
		Value:    ".*",
	}, testSnapshot())

	require.Error(t, err)
	assert.False(t, result)
}

func TestEvaluate_IsPure(t *testing.T) {
	evaluator := ConditionEvaluator{}
	cond := Condition{Field: "score", Operator: OperatorGreaterThan, Value: 40}
	snapshot := testSnapshot()

	first, err := evaluator.Evaluate(cond, snapshot)
	require.NoError(t, err)

	for range 10 {
		again, err := evaluator.Evaluate(cond, snapshot)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
