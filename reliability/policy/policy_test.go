//go:build unit

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purposePolicy(operator string, right any) Policy {
	return Policy{
		"permission": []any{
			map[string]any{
				"action": "odrl:use",
				"constraint": []any{
					map[string]any{"leftOperand": "odrl:purpose", "operator": operator, "rightOperand": right},
				},
			},
		},
	}
}

func TestEvaluate_NoPermissionDenies(t *testing.T) {
	d := Evaluate(Policy{}, Request{Purpose: "research"})

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoPermission, d.Reason)
}

func TestEvaluate_UnconstrainedPermissionAllows(t *testing.T) {
	p := Policy{"permission": []any{map[string]any{"action": "use"}}}

	d := Evaluate(p, Request{Purpose: "anything"})

	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonPermissionGranted, d.Reason)
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		right    any
		attrs    map[string]any
		purpose  string
		allowed  bool
	}{
		{name: "eq match", operator: "eq", right: "research", purpose: "research", allowed: true},
		{name: "eq mismatch", operator: "odrl:eq", right: "research", purpose: "marketing"},
		{name: "neq", operator: "neq", right: "marketing", purpose: "research", allowed: true},
		{name: "in list", operator: "isAnyOf", right: []any{"a", "research"}, purpose: "research", allowed: true},
		{name: "in @list", operator: "in", right: map[string]any{"@list": []any{"x", "research"}}, purpose: "research", allowed: true},
		{name: "nin", operator: "isNoneOf", right: []any{"marketing"}, purpose: "research", allowed: true},
		{name: "nin hit", operator: "nin", right: []any{"research"}, purpose: "research"},
		{name: "contains string", operator: "contains", right: "search", purpose: "research", allowed: true},
		{name: "unknown operator", operator: "startsWith", right: "re", purpose: "research"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(purposePolicy(tt.operator, tt.right), Request{Purpose: tt.purpose, Attributes: tt.attrs})

			assert.Equal(t, tt.allowed, d.Allowed)
		})
	}
}

func TestEvaluate_NumericComparisons(t *testing.T) {
	p := Policy{
		"permission": []any{
			map[string]any{
				"constraint": map[string]any{"leftOperand": "count", "operator": "lteq", "rightOperand": 10.0},
			},
		},
	}

	assert.True(t, Evaluate(p, Request{Attributes: map[string]any{"count": 10}}).Allowed)
	assert.False(t, Evaluate(p, Request{Attributes: map[string]any{"count": 11}}).Allowed)
	assert.False(t, Evaluate(p, Request{Attributes: map[string]any{"count": "10"}}).Allowed)
	assert.False(t, Evaluate(p, Request{Attributes: map[string]any{"count": true}}).Allowed)
}

func TestEvaluate_MissingLeftOperandFails(t *testing.T) {
	assert.False(t, Evaluate(purposePolicy("eq", "research"), Request{}).Allowed)
}

func TestEvaluate_LogicalConstraints(t *testing.T) {
	eq := func(v string) map[string]any {
		return map[string]any{"leftOperand": "purpose", "operator": "eq", "rightOperand": v}
	}

	build := func(kind string, items ...any) Policy {
		return Policy{"permission": []any{map[string]any{"constraint": map[string]any{kind: items}}}}
	}

	assert.True(t, Evaluate(build("or", eq("a"), eq("research")), Request{Purpose: "research"}).Allowed)
	assert.False(t, Evaluate(build("and", eq("a"), eq("research")), Request{Purpose: "research"}).Allowed)
	assert.True(t, Evaluate(build("odrl:xone", eq("a"), eq("research")), Request{Purpose: "research"}).Allowed)
	assert.False(t, Evaluate(build("xone", eq("research"), eq("research")), Request{Purpose: "research"}).Allowed)
}

func TestEvaluate_ProhibitionOverridesPermission(t *testing.T) {
	p := purposePolicy("in", []any{"research", "marketing"})
	p["prohibition"] = []any{
		map[string]any{
			"action":     "use",
			"constraint": map[string]any{"leftOperand": "purpose", "operator": "eq", "rightOperand": "marketing"},
		},
	}

	assert.True(t, Evaluate(p, Request{Purpose: "research"}).Allowed)

	d := Evaluate(p, Request{Purpose: "marketing"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonProhibited, d.Reason)
}

func TestEvaluate_DutiesMustHold(t *testing.T) {
	p := Policy{
		"permission": []any{
			map[string]any{
				"action": "use",
				"duty": []any{
					map[string]any{
						"action":     "attribute",
						"constraint": map[string]any{"leftOperand": "region", "operator": "eq", "rightOperand": "EU"},
					},
				},
			},
		},
	}

	d := Evaluate(p, Request{Attributes: map[string]any{"region": "EU"}})
	require.True(t, d.Allowed)
	require.Len(t, d.Duties, 1)
	assert.Equal(t, "attribute", d.Duties[0]["action"])

	assert.False(t, Evaluate(p, Request{Attributes: map[string]any{"region": "US"}}).Allowed)

	p["obligation"] = []any{"not an object"}
	assert.False(t, Evaluate(p, Request{Attributes: map[string]any{"region": "EU"}}).Allowed)
}

func TestEvaluate_ActionFiltersPermissions(t *testing.T) {
	p := Policy{"permission": []any{map[string]any{"action": "odrl:distribute"}}}

	assert.False(t, Evaluate(p, Request{Action: "use"}).Allowed)
	assert.True(t, Evaluate(p, Request{Action: "distribute"}).Allowed)
	assert.True(t, Evaluate(p, Request{}).Allowed)
}

func TestFromJSON(t *testing.T) {
	p, err := FromJSON([]byte(`{"permission":[{"action":"use","constraint":[{"leftOperand":"purpose","operator":"eq","rightOperand":"research"}]}]}`))
	require.NoError(t, err)

	assert.True(t, p.Allows("research"))
	assert.False(t, p.Allows("marketing"))

	empty, err := FromJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = FromJSON([]byte(`{`))
	assert.Error(t, err)
}
