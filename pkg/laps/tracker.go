package laps

import (
	"errors"
	"math"

	"pitwall/pkg/model"
)

var (
	// ErrMalformedTick is returned for NaN or out of range values.
	ErrMalformedTick = errors.New("malformed tick")
	// ErrOutOfOrderTick is returned when session time does not increase.
	ErrOutOfOrderTick = errors.New("out of order tick")
	// ErrLapJump is returned when lap counter and lap distance disagree.
	ErrLapJump = errors.New("inconsistent lap transition")
)

const (
	DefaultWrapHigh = 0.9
	DefaultWrapLow  = 0.1
)

// Sample is the input of ProcessTick: the positional tick plus the last known fuel and tire state.
type Sample struct {
	DriverID      string
	LapDistPct    float64
	CurrentLap    int
	InPit         bool
	FuelLevel     float64
	Tires         model.TireWear
	SessionTimeMs float64
	// Counts is false while the session phase excludes laps from statistics.
	Counts bool
}

type Stats struct {
	Accepted   uint64 `json:"accepted"`
	Laps       uint64 `json:"laps"`
	Malformed  uint64 `json:"malformed"`
	OutOfOrder uint64 `json:"outOfOrder"`
	LapJumps   uint64 `json:"lapJumps"`
}

func (s Stats) Dropped() uint64 {
	return s.Malformed + s.OutOfOrder + s.LapJumps
}

type lapState struct {
	prev         Sample
	lapStartTime float64
	lapStartFuel float64
	pitSeen      bool
	excluded     bool
}

// Tracker detects lap completions per driver. It is not safe for concurrent use;
// the owning session serializes access.
type Tracker struct {
	wrapHigh float64
	wrapLow  float64
	drivers  map[string]*lapState
	stats    Stats
}

func NewTracker(wrapHigh, wrapLow float64) *Tracker {
	if wrapHigh <= 0 || wrapHigh >= 1 {
		wrapHigh = DefaultWrapHigh
	}
	if wrapLow <= 0 || wrapLow >= wrapHigh {
		wrapLow = DefaultWrapLow
	}
	return &Tracker{
		wrapHigh: wrapHigh,
		wrapLow:  wrapLow,
		drivers:  make(map[string]*lapState),
	}
}

// ProcessTick returns a LapRecord when the sample completes a lap, nil otherwise.
// Rejected samples return an error and leave the tracker usable.
func (t *Tracker) ProcessTick(s Sample) (*model.LapRecord, error) {
	if !validSample(s) {
		t.stats.Malformed++
		return nil, ErrMalformedTick
	}

	st, found := t.drivers[s.DriverID]
	if !found {
		t.drivers[s.DriverID] = newLapState(s)
		t.stats.Accepted++
		return nil, nil
	}

	if s.SessionTimeMs <= st.prev.SessionTimeMs {
		t.stats.OutOfOrder++
		return nil, ErrOutOfOrderTick
	}

	wrapped := st.prev.LapDistPct >= t.wrapHigh && s.LapDistPct <= t.wrapLow
	lapDelta := s.CurrentLap - st.prev.CurrentLap

	switch {
	case wrapped && lapDelta == 1:
		st.pitSeen = st.pitSeen || s.InPit
		st.excluded = st.excluded || !s.Counts
		lap := &model.LapRecord{
			DriverID:  s.DriverID,
			LapNumber: st.prev.CurrentLap,
			LapTimeMs: s.SessionTimeMs - st.lapStartTime,
			FuelUsed:  st.lapStartFuel - s.FuelLevel,
			Clean:     !st.pitSeen && !st.excluded,
			Timestamp: s.SessionTimeMs,
		}
		t.drivers[s.DriverID] = newLapState(s)
		t.stats.Accepted++
		t.stats.Laps++
		return lap, nil
	case lapDelta == 0 && !wrapped:
		st.prev = s
		st.pitSeen = st.pitSeen || s.InPit
		st.excluded = st.excluded || !s.Counts
		t.stats.Accepted++
		return nil, nil
	default:
		// the interrupted lap cannot be timed, start over from this tick
		t.drivers[s.DriverID] = newLapState(s)
		t.stats.LapJumps++
		return nil, ErrLapJump
	}
}

func (t *Tracker) Forget(driverID string) {
	delete(t.drivers, driverID)
}

func (t *Tracker) Reset() {
	t.drivers = make(map[string]*lapState)
	t.stats = Stats{}
}

func (t *Tracker) Stats() Stats {
	return t.stats
}

func newLapState(s Sample) *lapState {
	return &lapState{
		prev:         s,
		lapStartTime: s.SessionTimeMs,
		lapStartFuel: s.FuelLevel,
		pitSeen:      s.InPit,
		excluded:     !s.Counts,
	}
}

func validSample(s Sample) bool {
	if s.DriverID == "" || s.CurrentLap < 0 {
		return false
	}
	if !finite(s.LapDistPct) || !finite(s.SessionTimeMs) || !finite(s.FuelLevel) {
		return false
	}
	return s.LapDistPct >= 0 && s.LapDistPct < 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
