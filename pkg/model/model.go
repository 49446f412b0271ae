package model

import (
	"fmt"
	"time"
)

type StintStatus string

const (
	StintActive   StintStatus = "active"
	StintComplete StintStatus = "complete"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// SessionPhase mirrors the phase reported by the capture agent race events.
type SessionPhase string

const (
	PhasePreRace   SessionPhase = "pre_race"
	PhaseFormation SessionPhase = "formation"
	PhaseRacing    SessionPhase = "racing"
	PhaseCaution   SessionPhase = "caution"
	PhaseRestart   SessionPhase = "restart"
	PhaseFinished  SessionPhase = "finished"
)

func (p SessionPhase) Valid() bool {
	switch p {
	case PhasePreRace, PhaseFormation, PhaseRacing, PhaseCaution, PhaseRestart, PhaseFinished:
		return true
	}
	return false
}

// Counts reports whether laps completed in this phase feed pace and fuel statistics.
func (p SessionPhase) Counts() bool {
	return p != PhasePreRace && p != PhaseFormation
}

type TireWear struct {
	FL float64 `json:"fl"`
	FR float64 `json:"fr"`
	RL float64 `json:"rl"`
	RR float64 `json:"rr"`
}

type Fuel struct {
	Level float64 `json:"level"`
	Pct   float64 `json:"pct"`
}

// Tick is the high frequency positional sample of a single driver.
type Tick struct {
	DriverID      string  `json:"driverId"`
	LapDistPct    float64 `json:"lapDistPct"`
	CurrentLap    int     `json:"currentLap"`
	InPit         bool    `json:"inPit"`
	SessionTimeMs float64 `json:"sessionTimeMs"`
}

// StrategyUpdate is the periodic fuel and tire sample of a single driver.
type StrategyUpdate struct {
	DriverID      string   `json:"driverId"`
	Fuel          Fuel     `json:"fuel"`
	Tires         TireWear `json:"tires"`
	SessionTimeMs float64  `json:"sessionTimeMs"`
}

type DriverTelemetryState struct {
	DriverID      string    `json:"driverId"`
	LapDistPct    float64   `json:"lapDistPct"`
	CurrentLap    int       `json:"currentLap"`
	InPit         bool      `json:"inPit"`
	FuelLevel     float64   `json:"fuelLevel"`
	FuelPct       float64   `json:"fuelPct"`
	Tires         TireWear  `json:"tires"`
	SessionTimeMs float64   `json:"sessionTimeMs"`
	LastSeen      time.Time `json:"-"`
}

type LapRecord struct {
	DriverID  string  `json:"driverId"`
	LapNumber int     `json:"lapNumber"`
	LapTimeMs float64 `json:"lapTimeMs"`
	FuelUsed  float64 `json:"fuelUsed"`
	Clean     bool    `json:"clean"`
	Timestamp float64 `json:"timestamp"` // session time (ms) of the crossing tick
}

type Stint struct {
	DriverID string      `json:"driverId"`
	Number   int         `json:"number"`
	StartLap int         `json:"startLap"`
	EndLap   int         `json:"endLap"`
	Laps     []LapRecord `json:"laps"`
	FuelLoad float64     `json:"fuelLoad"`
	Status   StintStatus `json:"status"`
}

// CleanLaps returns the stint laps usable for pace statistics, in order.
func (s Stint) CleanLaps() []LapRecord {
	clean := make([]LapRecord, 0, len(s.Laps))
	for _, l := range s.Laps {
		if l.Clean {
			clean = append(clean, l)
		}
	}
	return clean
}

// StrategySnapshot is derived on demand and never persisted. Nil pointers are undefined values.
type StrategySnapshot struct {
	DriverID               string   `json:"driverId"`
	StintNumber            int      `json:"stintNumber"`
	CurrentStintLaps       int      `json:"currentStintLaps"`
	TireAge                int      `json:"tireAge"`
	FuelLevel              float64  `json:"fuelLevel"`
	FuelPct                float64  `json:"fuelPct"`
	PaceLast3              *float64 `json:"paceLast3,omitempty"`
	PaceLast5              *float64 `json:"paceLast5,omitempty"`
	FuelPerLap             *float64 `json:"fuelPerLap,omitempty"`
	EstimatedLapsRemaining *int     `json:"estimatedLapsRemaining,omitempty"`
	DegradationSlope       *float64 `json:"degradationSlope,omitempty"`
	ProjectedCliffLap      *int     `json:"projectedCliffLap,omitempty"`
}

type DriverStrategy struct {
	DriverID               string   `json:"driverId"`
	CurrentStintLaps       int      `json:"currentStintLaps"`
	TireAge                int      `json:"tireAge"`
	FuelPct                float64  `json:"fuelPct"`
	FuelPerLap             *float64 `json:"fuelPerLap"`
	DegradationSlope       *float64 `json:"degradationSlope"`
	EstimatedLapsRemaining *int     `json:"estimatedLapsRemaining"`
	ProjectedCliffLap      *int     `json:"projectedCliffLap,omitempty"`
}

func (s StrategySnapshot) Broadcast() DriverStrategy {
	return DriverStrategy{
		DriverID:               s.DriverID,
		CurrentStintLaps:       s.CurrentStintLaps,
		TireAge:                s.TireAge,
		FuelPct:                s.FuelPct,
		FuelPerLap:             s.FuelPerLap,
		DegradationSlope:       s.DegradationSlope,
		EstimatedLapsRemaining: s.EstimatedLapsRemaining,
		ProjectedCliffLap:      s.ProjectedCliffLap,
	}
}

type StrategyBroadcast struct {
	SessionID string           `json:"sessionId"`
	Timestamp int64            `json:"timestamp"` // unix ms
	Drivers   []DriverStrategy `json:"drivers"`
}

type SessionInfo struct {
	SessionID   string        `json:"sessionId"`
	TrackName   string        `json:"trackName"`
	SessionType string        `json:"sessionType"`
	Status      SessionStatus `json:"status"`
}

func (si SessionInfo) String() string {
	return fmt.Sprintf("%s (%s @ %s) [%s]", si.SessionID, si.SessionType, si.TrackName, si.Status)
}
