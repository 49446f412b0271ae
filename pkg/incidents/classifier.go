package incidents

// ContactType is the geometry of a contact between two cars.
type ContactType string

const (
	ContactRearEnd  ContactType = "rear_end"
	ContactSide     ContactType = "side_contact"
	ContactDivebomb ContactType = "divebomb"
	ContactSqueeze  ContactType = "squeeze"
	ContactUnknown  ContactType = "unknown"
)

// AggressorPosition is where the car that initiated the contact was.
type AggressorPosition string

const (
	PositionBehind    AggressorPosition = "behind"
	PositionInside    AggressorPosition = "inside"
	PositionOutside   AggressorPosition = "outside"
	PositionAlongside AggressorPosition = "alongside"
	PositionUnknown   AggressorPosition = "unknown"
)

// Driver roles used for fault assignment before they are resolved to driver ids.
const (
	RoleFollowing = "following"
	RoleRejoining = "rejoining"
	RoleInside    = "inside"
	RoleOutside   = "outside"
)

// Names of the decision branches, recorded with every result.
const (
	RuleHitFromBehind    = "contact.hit_from_behind"
	RuleLateLunge        = "contact.late_lunge"
	RuleClosingDoor      = "contact.closing_door"
	RuleSideBySide       = "contact.side_by_side"
	RuleContactFallback  = "contact.fallback"
	RuleUnsafeRejoin     = "fault.unsafe_rejoin"
	RuleRearEndFollowing = "fault.rear_end_following"
	RuleMutualAggression = "fault.mutual_aggression"
	RuleFaultFallback    = "fault.fallback"
)

type ContactSignals struct {
	HitFromBehind bool `json:"hitFromBehind"`
	// LateLunge is a move from far back into the apex the defender could not see.
	LateLunge bool `json:"lateLunge"`
	// ClosingDoor is a car moving across onto another car already alongside.
	ClosingDoor bool `json:"closingDoor"`
	SideBySide  bool `json:"sideBySide"`
}

type ContactClassification struct {
	Type              ContactType       `json:"type"`
	AggressorPosition AggressorPosition `json:"aggressorPosition"`
	Rule              string            `json:"rule"`
}

// ClassifyContact walks a fixed priority list; the first matching branch wins
// and unknown is returned when nothing matches.
func ClassifyContact(s ContactSignals) ContactClassification {
	switch {
	case s.HitFromBehind:
		return ContactClassification{Type: ContactRearEnd, AggressorPosition: PositionBehind, Rule: RuleHitFromBehind}
	case s.LateLunge:
		return ContactClassification{Type: ContactDivebomb, AggressorPosition: PositionInside, Rule: RuleLateLunge}
	case s.ClosingDoor:
		return ContactClassification{Type: ContactSqueeze, AggressorPosition: PositionOutside, Rule: RuleClosingDoor}
	case s.SideBySide:
		return ContactClassification{Type: ContactSide, AggressorPosition: PositionAlongside, Rule: RuleSideBySide}
	}
	return ContactClassification{Type: ContactUnknown, AggressorPosition: PositionUnknown, Rule: RuleContactFallback}
}

type FaultSignals struct {
	ContactType    ContactType `json:"contactType"`
	UnsafeRejoin   bool        `json:"unsafeRejoin"`
	BothAggressive bool        `json:"bothAggressive"`
	RuleViolation  bool        `json:"ruleViolation"`
}

type FaultAssessment struct {
	// PrimaryDriver is the role at fault, empty when fault is shared.
	PrimaryDriver  string  `json:"primaryDriver,omitempty"`
	Shared         bool    `json:"shared"`
	RacingIncident bool    `json:"racingIncident"`
	Confidence     float64 `json:"confidence"`
	Rule           string  `json:"rule"`
}

const (
	confidenceUnsafeRejoin = 0.95
	confidenceRearEnd      = 0.9
	confidenceMutual       = 0.6
	confidenceFloor        = 0.5
)

// DetermineFault applies the fault policy in order. An unsafe rejoin is the
// most specific evidence and is checked before the contact geometry.
func DetermineFault(s FaultSignals) FaultAssessment {
	switch {
	case s.UnsafeRejoin:
		return FaultAssessment{PrimaryDriver: RoleRejoining, Confidence: confidenceUnsafeRejoin, Rule: RuleUnsafeRejoin}
	case s.ContactType == ContactRearEnd:
		return FaultAssessment{PrimaryDriver: RoleFollowing, Confidence: confidenceRearEnd, Rule: RuleRearEndFollowing}
	case s.BothAggressive && !s.RuleViolation:
		return FaultAssessment{Shared: true, RacingIncident: true, Confidence: confidenceMutual, Rule: RuleMutualAggression}
	}
	return FaultAssessment{Shared: true, RacingIncident: true, Confidence: confidenceFloor, Rule: RuleFaultFallback}
}
