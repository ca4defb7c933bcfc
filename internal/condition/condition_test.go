package condition

import (
	"encoding/json"
	"testing"
)

func dataFromJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	return data
}

func TestEmptyCombinators(t *testing.T) {
	data := map[string]any{"a": 1}
	if !Evaluate(Condition{Operator: "AND"}, data) {
		t.Fatalf("empty AND should be vacuously true")
	}
	if Evaluate(Condition{Operator: "OR"}, data) {
		t.Fatalf("empty OR should be false")
	}
}

func TestDottedPathResolution(t *testing.T) {
	data := dataFromJSON(t, `{"customerHeader": {"customerNumber": "42"}}`)
	eq := Condition{Operator: "AND", Conditions: []Predicate{
		{Field: "customerHeader.customerNumber", Op: "==", Value: "42"},
	}}
	if !Evaluate(eq, data) {
		t.Fatalf("expected nested equality to hold")
	}
	missing := Condition{Operator: "AND", Conditions: []Predicate{
		{Field: "customerHeader.missing", Op: "is-null"},
	}}
	if !Evaluate(missing, data) {
		t.Fatalf("missing leaf should be null")
	}
	// Non-object intermediate stops the walk at nil.
	through := Condition{Operator: "AND", Conditions: []Predicate{
		{Field: "customerHeader.customerNumber.deeper", Op: "is-null"},
	}}
	if !Evaluate(through, data) {
		t.Fatalf("walk through a scalar should yield null")
	}
}

func TestSyntacticEquality(t *testing.T) {
	data := dataFromJSON(t, `{"n": 1, "s": "1"}`)
	if Evaluate(Condition{Conditions: []Predicate{{Field: "s", Op: "==", Value: float64(1)}}}, data) {
		t.Fatalf("string \"1\" must not equal number 1")
	}
	if !Evaluate(Condition{Conditions: []Predicate{{Field: "n", Op: "==", Value: float64(1)}}}, data) {
		t.Fatalf("number 1 should equal 1")
	}
	if !Evaluate(Condition{Conditions: []Predicate{{Field: "n", Op: "!=", Value: "1"}}}, data) {
		t.Fatalf("number 1 should differ from string \"1\"")
	}
}

func TestOrderingCoercion(t *testing.T) {
	data := dataFromJSON(t, `{"amount": "12.5", "label": "abc"}`)
	if !Evaluate(Condition{Conditions: []Predicate{{Field: "amount", Op: ">", Value: float64(10)}}}, data) {
		t.Fatalf("numeric string should coerce for ordering")
	}
	// Non-numeric operands coerce to 0.
	if Evaluate(Condition{Conditions: []Predicate{{Field: "label", Op: ">", Value: float64(0)}}}, data) {
		t.Fatalf("non-numeric operand should coerce to 0")
	}
	if !Evaluate(Condition{Conditions: []Predicate{{Field: "label", Op: ">=", Value: float64(0)}}}, data) {
		t.Fatalf("0 >= 0 should hold")
	}
}

func TestMembership(t *testing.T) {
	data := dataFromJSON(t, `{"status": "approved"}`)
	in := Condition{Conditions: []Predicate{
		{Field: "status", Op: "in", Value: []any{"approved", "review"}},
	}}
	if !Evaluate(in, data) {
		t.Fatalf("expected membership")
	}
	notIn := Condition{Conditions: []Predicate{
		{Field: "status", Op: "not-in", Value: []any{"rejected"}},
	}}
	if !Evaluate(notIn, data) {
		t.Fatalf("expected non-membership")
	}
	// Non-list right-hand side degrades to false for both operators.
	if Evaluate(Condition{Conditions: []Predicate{{Field: "status", Op: "in", Value: "approved"}}}, data) {
		t.Fatalf("in with non-list RHS should be false")
	}
	if Evaluate(Condition{Conditions: []Predicate{{Field: "status", Op: "not-in", Value: "approved"}}}, data) {
		t.Fatalf("not-in with non-list RHS should be false")
	}
}

func TestUnknownOperatorNeverErrors(t *testing.T) {
	data := dataFromJSON(t, `{"a": {"b": [1, 2, 3]}}`)
	weird := Condition{Operator: "AND", Conditions: []Predicate{
		{Field: "a.b", Op: "matches-regex", Value: ".*"},
	}}
	if Evaluate(weird, data) {
		t.Fatalf("unknown operator should evaluate false")
	}
	// Totality: nil data and an empty field resolve both sides to null,
	// and null equals null under canonical-form comparison.
	if !Evaluate(Condition{Conditions: []Predicate{{Field: "", Op: "=="}}}, nil) {
		t.Fatalf("nil-vs-nil should be equal in canonical form")
	}
	if !Evaluate(Condition{Conditions: []Predicate{{Field: "x", Op: "is-null"}}}, nil) {
		t.Fatalf("missing field on nil data is null")
	}
}

func TestOrCombination(t *testing.T) {
	data := dataFromJSON(t, `{"kind": "b"}`)
	c := Condition{Operator: "OR", Conditions: []Predicate{
		{Field: "kind", Op: "==", Value: "a"},
		{Field: "kind", Op: "==", Value: "b"},
	}}
	if !Evaluate(c, data) {
		t.Fatalf("OR should succeed on second predicate")
	}
}

func TestParseStoredShape(t *testing.T) {
	raw := `{"Operator":"AND","Conditions":[{"Field":"total","Op":">=","Value":100}]}`
	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Operator != "AND" || len(c.Conditions) != 1 || c.Conditions[0].Field != "total" {
		t.Fatalf("unexpected condition: %+v", c)
	}
	if !Evaluate(c, dataFromJSON(t, `{"total": 150}`)) {
		t.Fatalf("expected condition satisfied")
	}
}
