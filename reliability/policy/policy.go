package policy

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Policy is an ODRL-style policy document with permission, prohibition and
// obligation arrays.
type Policy map[string]any

// Request is the context a policy is evaluated against.
type Request struct {
	// Action is matched against each permission's action when both are set.
	Action string
	// Purpose is exposed to constraints as the "purpose" left operand.
	Purpose string
	// Attributes are additional left operands. They override Purpose.
	Attributes map[string]any
}

// Decision is the evaluation outcome.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Duties lists the duties attached to the granting permission.
	Duties []map[string]any `json:"duties,omitempty"`
}

const (
	ReasonNoPermission      = "no permission defined"
	ReasonNoMatchingGrant   = "no permission matches the request"
	ReasonProhibited        = "request matches a prohibition"
	ReasonPermissionGranted = "permission granted"
)

// FromJSON decodes a policy document. An empty input is an empty policy.
func FromJSON(data []byte) (Policy, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Policy{}, nil
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	if p == nil {
		p = Policy{}
	}

	return p, nil
}

// Allows reports whether purpose satisfies p.
func (p Policy) Allows(purpose string) bool {
	return Evaluate(p, Request{Purpose: purpose}).Allowed
}

// Evaluate runs p against req.
func Evaluate(p Policy, req Request) Decision {
	ctx := make(map[string]any, len(req.Attributes)+1)
	if req.Purpose != "" {
		ctx["purpose"] = req.Purpose
	}

	for k, v := range req.Attributes {
		ctx[k] = v
	}

	permissions := rules(p["permission"])
	if len(permissions) == 0 {
		return Decision{Reason: ReasonNoPermission}
	}

	var granted map[string]any

	for _, permission := range permissions {
		if !actionMatches(permission["action"], req.Action) {
			continue
		}

		if !constraintHolds(permission["constraint"], ctx) {
			continue
		}

		if !dutiesHold(p, permission, ctx) {
			continue
		}

		granted = permission

		break
	}

	if granted == nil {
		return Decision{Reason: ReasonNoMatchingGrant}
	}

	for _, prohibition := range rules(p["prohibition"]) {
		if actionMatches(prohibition["action"], req.Action) && constraintHolds(prohibition["constraint"], ctx) {
			return Decision{Reason: ReasonProhibited}
		}
	}

	return Decision{Allowed: true, Reason: ReasonPermissionGranted, Duties: duties(p, granted)}
}

func rules(v any) []map[string]any {
	var out []map[string]any

	for _, item := range asList(v) {
		if rule, ok := item.(map[string]any); ok {
			out = append(out, rule)
		}
	}

	return out
}

func duties(p Policy, permission map[string]any) []map[string]any {
	all := make([]any, 0)
	all = append(all, asList(permission["duty"])...)
	all = append(all, asList(permission["obligation"])...)
	all = append(all, asList(p["obligation"])...)

	out := make([]map[string]any, 0, len(all))

	for _, item := range all {
		if duty, ok := item.(map[string]any); ok {
			out = append(out, duty)
		}
	}

	return out
}

// dutiesHold fails on any duty that is not an object or whose constraints
// do not hold.
func dutiesHold(p Policy, permission map[string]any, ctx map[string]any) bool {
	for _, source := range []any{permission["duty"], permission["obligation"], p["obligation"]} {
		for _, item := range asList(source) {
			duty, ok := item.(map[string]any)
			if !ok || !constraintHolds(duty["constraint"], ctx) {
				return false
			}
		}
	}

	return true
}

func actionMatches(ruleAction any, requested string) bool {
	if requested == "" || ruleAction == nil {
		return true
	}

	for _, item := range asList(ruleAction) {
		switch v := item.(type) {
		case string:
			if strings.EqualFold(token(v), token(requested)) {
				return true
			}
		case map[string]any:
			if name, ok := v["rdf:value"].(map[string]any); ok && actionMatches(name["@id"], requested) {
				return true
			}

			if actionMatches(v["@id"], requested) {
				return true
			}
		}
	}

	return false
}

func constraintHolds(constraint any, ctx map[string]any) bool {
	switch c := constraint.(type) {
	case nil:
		return true
	case []any:
		for _, item := range c {
			if !constraintHolds(item, ctx) {
				return false
			}
		}

		return true
	case map[string]any:
		return objectHolds(c, ctx)
	default:
		return false
	}
}

func objectHolds(c map[string]any, ctx map[string]any) bool {
	if items, ok := logical(c, "and"); ok {
		for _, item := range items {
			if !constraintHolds(item, ctx) {
				return false
			}
		}

		return true
	}

	if items, ok := logical(c, "or"); ok {
		for _, item := range items {
			if constraintHolds(item, ctx) {
				return true
			}
		}

		return false
	}

	if items, ok := logical(c, "xone"); ok {
		matches := 0

		for _, item := range items {
			if constraintHolds(item, ctx) {
				matches++
			}
		}

		return matches == 1
	}

	left, ok := contextValue(ctx, c["leftOperand"])
	if !ok {
		return false
	}

	return compare(operator(c["operator"]), left, c["rightOperand"])
}

func logical(c map[string]any, name string) ([]any, bool) {
	for _, key := range []string{name, "odrl:" + name} {
		if v, ok := c[key]; ok {
			return asList(v), true
		}
	}

	return nil, false
}

func contextValue(ctx map[string]any, operand any) (any, bool) {
	name, ok := operand.(string)
	if !ok {
		return nil, false
	}

	key := token(name)
	if key == "" {
		return nil, false
	}

	if v, ok := ctx[key]; ok && v != nil {
		return v, true
	}

	if v, ok := ctx["odrl:"+key]; ok && v != nil {
		return v, true
	}

	return nil, false
}

func operator(v any) string {
	name, ok := v.(string)
	if !ok {
		return "eq"
	}

	return strings.ToLower(token(name))
}

func compare(op string, left, right any) bool {
	values := rightValues(right)

	switch op {
	case "eq", "in", "isanyof":
		return anyEqual(left, values)
	case "neq", "nin", "notin", "isnoneof":
		return !anyEqual(left, values)
	case "gt", "gteq", "gte", "lt", "lteq", "lte":
		return ordered(op, left, values)
	case "contains", "includes", "ispartof":
		return contains(left, values)
	default:
		return false
	}
}

func ordered(op string, left any, values []any) bool {
	l, ok := number(left)
	if !ok {
		return false
	}

	for _, item := range values {
		r, ok := number(item)
		if !ok {
			continue
		}

		switch op {
		case "gt":
			return l > r
		case "gteq", "gte":
			return l >= r
		case "lt":
			return l < r
		default:
			return l <= r
		}
	}

	return false
}

func contains(left any, values []any) bool {
	switch l := left.(type) {
	case string:
		for _, item := range values {
			if strings.Contains(l, fmt.Sprint(item)) {
				return true
			}
		}
	case []any:
		for _, item := range values {
			if anyEqual(item, l) {
				return true
			}
		}
	case []string:
		for _, item := range values {
			for _, s := range l {
				if equal(s, item) {
					return true
				}
			}
		}
	case map[string]any:
		for _, item := range values {
			if key, ok := item.(string); ok {
				if _, found := l[key]; found {
					return true
				}
			}
		}
	}

	return false
}

func anyEqual(left any, values []any) bool {
	for _, item := range values {
		if equal(left, item) {
			return true
		}
	}

	return false
}

func equal(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)

		return ok && x == y
	}

	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

func rightValues(v any) []any {
	if m, ok := v.(map[string]any); ok {
		if list, found := m["@list"]; found {
			return asList(list)
		}
	}

	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}

		return out
	default:
		return []any{v}
	}
}

func asList(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}

		return out
	default:
		return []any{v}
	}
}

// token strips a namespace prefix: "odrl:purpose" becomes "purpose".
func token(v string) string {
	if i := strings.LastIndex(v, ":"); i >= 0 {
		v = v[i+1:]
	}

	return strings.TrimSpace(v)
}
