package condition

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Operators accepted by Evaluate. Anything else evaluates to false; the
// routing validator is responsible for flagging malformed conditions.
const (
	OpEqual    = "=="
	OpNotEqual = "!="
	OpGreater  = ">"
	OpGreaterE = ">="
	OpLess     = "<"
	OpLessE    = "<="
	OpIn       = "in"
	OpNotIn    = "not-in"
	OpIsNull   = "is-null"
	OpNotNull  = "not-null"
)

// Predicate compares a dotted-path field of the data object to a value.
type Predicate struct {
	Field string `json:"Field"`
	Op    string `json:"Op"`
	Value any    `json:"Value,omitempty"`
}

// Condition combines predicates under AND or OR. The stored JSON shape
// (Operator/Conditions/Field/Op/Value) is fixed for interop with existing
// route and transition data.
type Condition struct {
	Operator   string      `json:"Operator"`
	Conditions []Predicate `json:"Conditions"`
}

// Parse decodes a stored condition JSON blob.
func Parse(raw string) (Condition, error) {
	var c Condition
	err := json.Unmarshal([]byte(raw), &c)
	return c, err
}

// Evaluate applies the condition to a generic JSON-like data object. It is
// total: it never panics and never returns an error. An empty predicate
// list is vacuously true under AND and false under OR.
func Evaluate(c Condition, data map[string]any) bool {
	switch strings.ToUpper(strings.TrimSpace(c.Operator)) {
	case "OR":
		for _, p := range c.Conditions {
			if evalPredicate(p, data) {
				return true
			}
		}
		return false
	default: // AND is the default combinator
		for _, p := range c.Conditions {
			if !evalPredicate(p, data) {
				return false
			}
		}
		return true
	}
}

func evalPredicate(p Predicate, data map[string]any) bool {
	node := resolve(data, p.Field)
	switch p.Op {
	case OpIsNull:
		return node == nil
	case OpNotNull:
		return node != nil
	case OpEqual:
		return canonicalEqual(node, p.Value)
	case OpNotEqual:
		return !canonicalEqual(node, p.Value)
	case OpGreater:
		return toFloat(node) > toFloat(p.Value)
	case OpGreaterE:
		return toFloat(node) >= toFloat(p.Value)
	case OpLess:
		return toFloat(node) < toFloat(p.Value)
	case OpLessE:
		return toFloat(node) <= toFloat(p.Value)
	case OpIn:
		return member(node, p.Value)
	case OpNotIn:
		list, ok := p.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if canonicalEqual(node, item) {
				return false
			}
		}
		return true
	default:
		// Unknown operator never errors; malformed conditions are caught
		// by the routing validator.
		return false
	}
}

// resolve walks a dotted path through nested objects, yielding nil at the
// first missing or non-object intermediate node.
func resolve(data map[string]any, field string) any {
	if field == "" || data == nil {
		return nil
	}
	parts := strings.Split(field, ".")
	var node any = data
	for _, part := range parts {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return node
}

// canonicalEqual compares operands by canonical JSON serialization, so
// equality is syntactic: the string "1" and the number 1 are not equal.
func canonicalEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func member(node, value any) bool {
	list, ok := value.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if canonicalEqual(node, item) {
			return true
		}
	}
	return false
}

// toFloat coerces an operand for ordering comparisons. Non-numeric values
// coerce to 0.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}
