// Package rules matches incidents against declarative, externally authored rules.
//
// A Rule is a list of Conditions that must all hold. Each Condition compares the
// value found at a dot separated field path of the incident with a literal.
// Missing fields never match: a condition on an unresolvable path is false for
// every operator, including neq.
package rules

import (
	"log"
	"sort"
	"sync"
)

type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpLt  Operator = "lt"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte, OpIn:
		return true
	}
	return false
}

type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

type Rule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
}

// Evaluator evaluates conditions and keeps per field counts of unresolved paths
// so rule authors can find conditions that never see data.
type Evaluator struct {
	// Logf receives rule authoring feedback. Defaults to log.Printf.
	Logf func(format string, v ...interface{})

	mu         sync.Mutex
	unresolved map[string]uint64
}

func NewEvaluator(logf func(format string, v ...interface{})) *Evaluator {
	if logf == nil {
		logf = log.Printf
	}
	return &Evaluator{
		Logf:       logf,
		unresolved: make(map[string]uint64),
	}
}

// Evaluate reports whether every condition holds for the incident. An empty
// list holds for any incident.
func (ev *Evaluator) Evaluate(conditions []Condition, incident Value) bool {
	for _, c := range conditions {
		if !ev.evaluate(c, incident) {
			return false
		}
	}
	return true
}

// Match returns the rules whose conditions all hold, in input order.
func (ev *Evaluator) Match(rules []Rule, incident Value) []Rule {
	matched := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if ev.Evaluate(r.Conditions, incident) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Unresolved returns the fields that could not be resolved, most frequent first.
func (ev *Evaluator) Unresolved() []FieldCount {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	out := make([]FieldCount, 0, len(ev.unresolved))
	for f, n := range ev.unresolved {
		out = append(out, FieldCount{Field: f, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Field < out[j].Field
	})
	return out
}

type FieldCount struct {
	Field string `json:"field"`
	Count uint64 `json:"count"`
}

func (ev *Evaluator) evaluate(c Condition, incident Value) bool {
	if !c.Operator.Valid() {
		ev.logf("rules: unknown operator %q on field %q\n", c.Operator, c.Field)
		return false
	}
	actual, found := incident.Lookup(c.Field)
	if !found {
		ev.noteUnresolved(c.Field)
		return false
	}
	return Compare(c.Operator, actual, c.Value)
}

func (ev *Evaluator) noteUnresolved(field string) {
	ev.mu.Lock()
	ev.unresolved[field]++
	first := ev.unresolved[field] == 1
	ev.mu.Unlock()
	if first {
		ev.logf("rules: field %q not present in incident, condition is false\n", field)
	}
}

func (ev *Evaluator) logf(format string, v ...interface{}) {
	if ev.Logf != nil {
		ev.Logf(format, v...)
	}
}

// Compare applies op to a resolved field value and a condition literal.
// Ordering operators accept two numbers or two strings; anything else is false.
func Compare(op Operator, actual, expected Value) bool {
	switch op {
	case OpEq:
		return actual.Equal(expected)
	case OpNeq:
		return !actual.Equal(expected)
	case OpGt, OpLt, OpGte, OpLte:
		cmp, ok := order(actual, expected)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return cmp > 0
		case OpLt:
			return cmp < 0
		case OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case OpIn:
		members, ok := expected.AsArray()
		if !ok {
			return false
		}
		for _, m := range members {
			if actual.Equal(m) {
				return true
			}
		}
	}
	return false
}

func order(a, b Value) (int, bool) {
	if an, ok := a.AsNumber(); ok {
		bn, ok := b.AsNumber()
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		case an == bn:
			return 0, true
		}
		// NaN
		return 0, false
	}
	if as, ok := a.AsString(); ok {
		bs, ok := b.AsString()
		if !ok {
			return 0, false
		}
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
