package incidents

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitwall/pkg/rules"
)

func TestClassifyContact(t *testing.T) {
	cases := []struct {
		name    string
		signals ContactSignals
		want    ContactClassification
	}{
		{"rear end", ContactSignals{HitFromBehind: true}, ContactClassification{ContactRearEnd, PositionBehind, RuleHitFromBehind}},
		{"rear end wins over side by side", ContactSignals{HitFromBehind: true, SideBySide: true}, ContactClassification{ContactRearEnd, PositionBehind, RuleHitFromBehind}},
		{"divebomb", ContactSignals{LateLunge: true, SideBySide: true}, ContactClassification{ContactDivebomb, PositionInside, RuleLateLunge}},
		{"squeeze", ContactSignals{ClosingDoor: true, SideBySide: true}, ContactClassification{ContactSqueeze, PositionOutside, RuleClosingDoor}},
		{"side contact", ContactSignals{SideBySide: true}, ContactClassification{ContactSide, PositionAlongside, RuleSideBySide}},
		{"nothing", ContactSignals{}, ContactClassification{ContactUnknown, PositionUnknown, RuleContactFallback}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if diff := cmp.Diff(c.want, ClassifyContact(c.signals)); diff != "" {
				t.Errorf("unexpected classification (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetermineFault(t *testing.T) {
	rearEnd := DetermineFault(FaultSignals{ContactType: ContactRearEnd})
	assert.GreaterOrEqual(t, rearEnd.Confidence, 0.8)
	assert.Equal(t, RoleFollowing, rearEnd.PrimaryDriver)
	assert.False(t, rearEnd.Shared)
	assert.Equal(t, RuleRearEndFollowing, rearEnd.Rule)

	rejoin := DetermineFault(FaultSignals{ContactType: ContactRearEnd, UnsafeRejoin: true})
	assert.Equal(t, RoleRejoining, rejoin.PrimaryDriver)
	assert.Equal(t, 0.95, rejoin.Confidence)
	assert.Equal(t, RuleUnsafeRejoin, rejoin.Rule)

	mutual := DetermineFault(FaultSignals{ContactType: ContactSide, BothAggressive: true})
	assert.Equal(t, FaultAssessment{Shared: true, RacingIncident: true, Confidence: 0.6, Rule: RuleMutualAggression}, mutual)

	violation := DetermineFault(FaultSignals{ContactType: ContactSide, BothAggressive: true, RuleViolation: true})
	assert.Equal(t, FaultAssessment{Shared: true, RacingIncident: true, Confidence: 0.5, Rule: RuleFaultFallback}, violation)

	for _, ct := range []ContactType{ContactUnknown, ContactDivebomb, ContactSqueeze, ""} {
		f := DetermineFault(FaultSignals{ContactType: ct})
		assert.True(t, f.Shared, ct)
		assert.True(t, f.RacingIncident, ct)
		assert.Empty(t, f.PrimaryDriver, ct)
		assert.Equal(t, 0.5, f.Confidence, ct)
	}
}

func candidate(t *testing.T, raw string) IncidentCandidate {
	t.Helper()
	var c IncidentCandidate
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestClassify_RearEnd(t *testing.T) {
	rulebook := []rules.Rule{
		{ID: "heavy", Conditions: []rules.Condition{{Field: "severityScore", Operator: rules.OpGt, Value: rules.Number(50)}}},
		{ID: "turn1", Conditions: []rules.Condition{{Field: "corner", Operator: rules.OpEq, Value: rules.Number(1)}}},
		{ID: "wet", Conditions: []rules.Condition{{Field: "context.weather", Operator: rules.OpEq, Value: rules.String("wet")}}},
	}
	cl := NewClassifier(rules.NewEvaluator(func(string, ...interface{}) {}), rulebook)

	ic := cl.Classify(candidate(t, `{
		"id": "inc-1",
		"sessionId": "s1",
		"type": "contact",
		"severity": "high",
		"involvedDrivers": ["d3", "d7"],
		"lap": 4,
		"corner": 1,
		"context": {"hitFromBehind": true, "followingDriver": "d7"}
	}`))

	assert.NotEmpty(t, ic.ID)
	assert.Equal(t, "inc-1", ic.IncidentID)
	assert.Equal(t, ContactRearEnd, ic.Contact.Type)
	assert.Equal(t, PositionBehind, ic.Contact.AggressorPosition)
	assert.Equal(t, "d7", ic.AtFaultDriverID)
	assert.Equal(t, 0.9, ic.Confidence)
	assert.False(t, ic.RacingIncident)
	assert.Equal(t, 75.0, ic.SeverityScore)
	assert.Equal(t, []string{"heavy", "turn1"}, ic.MatchedRules)
	assert.Equal(t, []string{RuleHitFromBehind, RuleRearEndFollowing}, ic.DecisionPath)
	assert.True(t, ic.NeedsReview(0.7))
}

func TestClassify_AmbiguousFallsBack(t *testing.T) {
	cl := NewClassifier(nil, nil)
	ic := cl.Classify(IncidentCandidate{ID: "inc-2", SessionID: "s1", Severity: SeverityLow})

	assert.Equal(t, ContactUnknown, ic.Contact.Type)
	assert.True(t, ic.Fault.Shared)
	assert.True(t, ic.RacingIncident)
	assert.Equal(t, 0.5, ic.Confidence)
	assert.Empty(t, ic.AtFaultDriverID)
	assert.Empty(t, ic.MatchedRules)
	assert.Equal(t, 25.0, ic.SeverityScore)
	assert.False(t, ic.NeedsReview(0.7))
}

func TestClassify_UnsafeRejoinWithoutDriverId(t *testing.T) {
	cl := NewClassifier(nil, nil)
	ic := cl.Classify(candidate(t, `{"id": "inc-3", "severity": "med", "context": {"unsafeRejoin": true, "sideBySide": true}}`))

	assert.Equal(t, ContactSide, ic.Contact.Type)
	assert.Equal(t, RoleRejoining, ic.Fault.PrimaryDriver)
	assert.Empty(t, ic.AtFaultDriverID)
	assert.Equal(t, 0.95, ic.Confidence)
}

func TestCandidateAsValue(t *testing.T) {
	score := 62.0
	c := IncidentCandidate{ID: "x", Severity: SeverityLow, SeverityScore: &score, InvolvedDrivers: []string{"a", "b"}}
	v := c.AsValue()

	got, found := v.Lookup("severityScore")
	require.True(t, found)
	n, _ := got.AsNumber()
	assert.Equal(t, 62.0, n)

	second, found := v.Lookup("involvedDrivers.1")
	require.True(t, found)
	s, _ := second.AsString()
	assert.Equal(t, "b", s)

	ctx, found := v.Lookup("context")
	require.True(t, found)
	assert.Equal(t, rules.KindObject, ctx.Kind())
}

func TestRenderTable(t *testing.T) {
	out := RenderTable("s1", []IncidentClassification{
		{Lap: 4, Corner: 1, InvolvedDrivers: []string{"d3", "d7"}, Contact: ContactClassification{Type: ContactRearEnd}, AtFaultDriverID: "d7", Confidence: 0.9, MatchedRules: []string{"heavy"}},
		{Lap: 9, InvolvedDrivers: []string{"d1", "d2"}, Contact: ContactClassification{Type: ContactUnknown}, RacingIncident: true, Confidence: 0.5},
	})
	assert.Contains(t, out, "Incidents s1")
	assert.Contains(t, out, "rear_end")
	assert.Contains(t, out, "90%")
	assert.Contains(t, out, "racing incident")
}
