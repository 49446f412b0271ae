package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func incident(t *testing.T, raw string) Value {
	t.Helper()
	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestEvaluate_EmptyConditionsMatchAnything(t *testing.T) {
	ev := NewEvaluator(nil)
	assert.True(t, ev.Evaluate(nil, Null()))
	assert.True(t, ev.Evaluate([]Condition{}, incident(t, `{"severityScore": 10}`)))
}

func TestEvaluate_SeverityThreshold(t *testing.T) {
	ev := NewEvaluator(nil)
	conds := []Condition{{Field: "severityScore", Operator: OpGt, Value: Number(50)}}

	assert.True(t, ev.Evaluate(conds, incident(t, `{"severityScore": 75}`)))
	assert.False(t, ev.Evaluate(conds, incident(t, `{"severityScore": 30}`)))
}

func TestEvaluate_Operators(t *testing.T) {
	inc := incident(t, `{
		"type": "contact",
		"severity": "high",
		"severityScore": 75,
		"lap": 12,
		"context": {
			"closingSpeed": 14.5,
			"flags": ["yellow"],
			"drivers": [{"id": "d1", "offTrack": false}, {"id": "d2", "offTrack": true}]
		}
	}`)

	cases := []struct {
		cond Condition
		want bool
	}{
		{Condition{"type", OpEq, String("contact")}, true},
		{Condition{"type", OpEq, String("off_track")}, false},
		{Condition{"type", OpNeq, String("off_track")}, true},
		{Condition{"lap", OpEq, Number(12)}, true},
		{Condition{"lap", OpEq, String("12")}, false},
		{Condition{"lap", OpGte, Number(12)}, true},
		{Condition{"lap", OpLte, Number(11)}, false},
		{Condition{"lap", OpLt, Number(13)}, true},
		{Condition{"context.closingSpeed", OpGt, Number(10)}, true},
		{Condition{"severity", OpIn, Array(String("med"), String("high"))}, true},
		{Condition{"severity", OpIn, Array(String("low"))}, false},
		{Condition{"severity", OpIn, String("high")}, false},
		{Condition{"context.drivers.1.offTrack", OpEq, Bool(true)}, true},
		{Condition{"context.drivers.0.id", OpEq, String("d1")}, true},
		{Condition{"context.flags", OpEq, Array(String("yellow"))}, true},
		{Condition{"severity", OpGt, Number(1)}, false},
		{Condition{"severity", OpGt, String("abc")}, true},
	}
	ev := NewEvaluator(nil)
	for _, c := range cases {
		name := fmt.Sprintf("%s %s %s", c.cond.Field, c.cond.Operator, c.cond.Value)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, ev.Evaluate([]Condition{c.cond}, inc))
		})
	}
}

func TestEvaluate_MissingFieldsFailClosed(t *testing.T) {
	var logged []string
	ev := NewEvaluator(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	inc := incident(t, `{"severityScore": 75, "context": {"drivers": []}}`)

	for _, cond := range []Condition{
		{"context.weather", OpNeq, String("rain")},
		{"context.drivers.0.id", OpEq, String("d1")},
		{"severityScore.value", OpGt, Number(1)},
		{"", OpEq, Null()},
	} {
		assert.False(t, ev.Evaluate([]Condition{cond}, inc), cond.Field)
	}
	assert.False(t, ev.Evaluate([]Condition{{"context.weather", OpNeq, String("dry")}}, inc))

	unresolved := ev.Unresolved()
	require.NotEmpty(t, unresolved)
	assert.Equal(t, "context.weather", unresolved[0].Field)
	assert.Equal(t, uint64(2), unresolved[0].Count)
	// one log line per distinct field
	assert.Len(t, logged, 4)
}

func TestEvaluate_ConditionsAreANDed(t *testing.T) {
	ev := NewEvaluator(nil)
	inc := incident(t, `{"type": "contact", "severityScore": 40}`)
	conds := []Condition{
		{"type", OpEq, String("contact")},
		{"severityScore", OpGt, Number(50)},
	}
	assert.False(t, ev.Evaluate(conds, inc))
	conds[1].Value = Number(20)
	assert.True(t, ev.Evaluate(conds, inc))
}

func TestEvaluate_UnknownOperatorIsFalse(t *testing.T) {
	ev := NewEvaluator(func(string, ...interface{}) {})
	inc := incident(t, `{"lap": 3}`)
	assert.False(t, ev.Evaluate([]Condition{{"lap", Operator("contains"), Number(3)}}, inc))
}

func TestMatch(t *testing.T) {
	ev := NewEvaluator(nil)
	rs := []Rule{
		{ID: "any", Name: "catch all"},
		{ID: "severe", Conditions: []Condition{{"severityScore", OpGte, Number(75)}}},
		{ID: "pit", Conditions: []Condition{{"context.inPitLane", OpEq, Bool(true)}}},
	}
	matched := ev.Match(rs, incident(t, `{"severityScore": 75}`))
	require.Len(t, matched, 2)
	assert.Equal(t, "any", matched[0].ID)
	assert.Equal(t, "severe", matched[1].ID)
}

func TestReadRules(t *testing.T) {
	rs, err := ReadRules(strings.NewReader(`[
		{"id": "r1", "name": "heavy contact", "conditions": [
			{"field": "severityScore", "operator": "gt", "value": 50},
			{"field": "severity", "operator": "in", "value": ["med", "high"]}
		]}
	]`))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Len(t, rs[0].Conditions, 2)
	assert.True(t, rs[0].Conditions[1].Value.Equal(Array(String("med"), String("high"))))

	_, err = ReadRules(strings.NewReader(`[{"id": "r1", "conditions": [{"field": "x", "operator": "like", "value": 1}]}]`))
	assert.ErrorContains(t, err, "unknown operator")

	_, err = ReadRules(strings.NewReader(`[{"id": "a"}, {"id": "a"}]`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ReadRules(strings.NewReader(`{`))
	assert.Error(t, err)

	rs, err = LoadRules("")
	assert.NoError(t, err)
	assert.Nil(t, rs)
}

func TestValueJSONRoundTrip(t *testing.T) {
	v := incident(t, `{"b": [1, "x", null, true], "a": {"n": 2.5}}`)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": {"n": 2.5}, "b": [1, "x", null, true]}`, string(data))

	n, found := v.Lookup("a.n")
	require.True(t, found)
	f, ok := n.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	w := v.With("c", String("new"))
	_, found = v.Field("c")
	assert.False(t, found, "With copies")
	c, _ := w.Field("c")
	assert.Equal(t, `"new"`, c.String())
}
