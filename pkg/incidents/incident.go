package incidents

import (
	"time"

	"github.com/google/uuid"

	"pitwall/pkg/rules"
)

type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityMed  Severity = "med"
	SeverityHigh Severity = "high"
)

// Score maps the reported severity to the default severity score.
func (s Severity) Score() float64 {
	switch s {
	case SeverityHigh:
		return 75
	case SeverityMed:
		return 50
	case SeverityLow:
		return 25
	}
	return 0
}

// IncidentCandidate is an incident reported by the upstream detector. Context
// carries arbitrary nested evidence, e.g. {"hitFromBehind": true, "followingDriver": "d7"}.
type IncidentCandidate struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"sessionId"`
	Type            string      `json:"type"`
	Severity        Severity    `json:"severity"`
	SeverityScore   *float64    `json:"severityScore,omitempty"`
	InvolvedDrivers []string    `json:"involvedDrivers"`
	Lap             int         `json:"lap"`
	Corner          int         `json:"corner,omitempty"`
	SessionTimeMs   float64     `json:"sessionTimeMs"`
	Context         rules.Value `json:"context"`
}

// Score is the explicit severity score or the default of the severity level.
func (c IncidentCandidate) Score() float64 {
	if c.SeverityScore != nil {
		return *c.SeverityScore
	}
	return c.Severity.Score()
}

// AsValue exposes the candidate to rule conditions.
func (c IncidentCandidate) AsValue() rules.Value {
	drivers := make([]rules.Value, len(c.InvolvedDrivers))
	for i, d := range c.InvolvedDrivers {
		drivers[i] = rules.String(d)
	}
	ctx := c.Context
	if ctx.IsNull() {
		ctx = rules.Object(nil)
	}
	return rules.Object(map[string]rules.Value{
		"id":              rules.String(c.ID),
		"sessionId":       rules.String(c.SessionID),
		"type":            rules.String(c.Type),
		"severity":        rules.String(string(c.Severity)),
		"severityScore":   rules.Number(c.Score()),
		"involvedDrivers": rules.Array(drivers...),
		"lap":             rules.Number(float64(c.Lap)),
		"corner":          rules.Number(float64(c.Corner)),
		"sessionTimeMs":   rules.Number(c.SessionTimeMs),
		"context":         ctx,
	})
}

func (c IncidentCandidate) contactSignals() ContactSignals {
	return ContactSignals{
		HitFromBehind: c.flag("hitFromBehind"),
		LateLunge:     c.flag("lateLunge"),
		ClosingDoor:   c.flag("closingDoor"),
		SideBySide:    c.flag("sideBySide"),
	}
}

func (c IncidentCandidate) flag(name string) bool {
	v, found := c.Context.Lookup(name)
	if !found {
		return false
	}
	b, _ := v.AsBool()
	return b
}

func (c IncidentCandidate) driverFor(role string) string {
	if v, found := c.Context.Lookup(role + "Driver"); found {
		if id, ok := v.AsString(); ok {
			return id
		}
	}
	return ""
}

type IncidentClassification struct {
	ID              string                `json:"id"`
	IncidentID      string                `json:"incidentId"`
	SessionID       string                `json:"sessionId"`
	Lap             int                   `json:"lap"`
	Corner          int                   `json:"corner,omitempty"`
	InvolvedDrivers []string              `json:"involvedDrivers"`
	SeverityScore   float64               `json:"severityScore"`
	Contact         ContactClassification `json:"contact"`
	Fault           FaultAssessment       `json:"fault"`
	AtFaultDriverID string                `json:"atFaultDriverId,omitempty"`
	Confidence      float64               `json:"confidence"`
	RacingIncident  bool                  `json:"racingIncident"`
	MatchedRules    []string              `json:"matchedRules"`
	DecisionPath    []string              `json:"decisionPath"`
	ClassifiedAt    time.Time             `json:"classifiedAt"`
}

// NeedsReview reports whether stewards should look at the classification.
func (ic IncidentClassification) NeedsReview(minConfidence float64) bool {
	return !ic.RacingIncident && ic.Confidence >= minConfidence
}

// Classifier combines the contact decision tree, the fault policy and the rulebook.
type Classifier struct {
	evaluator *rules.Evaluator
	rulebook  []rules.Rule
	now       func() time.Time
}

func NewClassifier(evaluator *rules.Evaluator, rulebook []rules.Rule) *Classifier {
	if evaluator == nil {
		evaluator = rules.NewEvaluator(nil)
	}
	return &Classifier{
		evaluator: evaluator,
		rulebook:  rulebook,
		now:       time.Now,
	}
}

// Classify never fails: ambiguous evidence ends in the shared fault fallback.
func (cl *Classifier) Classify(c IncidentCandidate) IncidentClassification {
	contact := ClassifyContact(c.contactSignals())
	fault := DetermineFault(FaultSignals{
		ContactType:    contact.Type,
		UnsafeRejoin:   c.flag("unsafeRejoin"),
		BothAggressive: c.flag("bothAggressive"),
		RuleViolation:  c.flag("ruleViolation"),
	})

	matched := cl.evaluator.Match(cl.rulebook, c.AsValue())
	ids := make([]string, 0, len(matched))
	for _, r := range matched {
		ids = append(ids, r.ID)
	}

	ic := IncidentClassification{
		ID:              uuid.NewString(),
		IncidentID:      c.ID,
		SessionID:       c.SessionID,
		Lap:             c.Lap,
		Corner:          c.Corner,
		InvolvedDrivers: append([]string(nil), c.InvolvedDrivers...),
		SeverityScore:   c.Score(),
		Contact:         contact,
		Fault:           fault,
		Confidence:      fault.Confidence,
		RacingIncident:  fault.RacingIncident,
		MatchedRules:    ids,
		DecisionPath:    []string{contact.Rule, fault.Rule},
		ClassifiedAt:    cl.now(),
	}
	if fault.PrimaryDriver != "" {
		ic.AtFaultDriverID = c.driverFor(fault.PrimaryDriver)
	}
	return ic
}

func (cl *Classifier) Evaluator() *rules.Evaluator {
	return cl.evaluator
}
