package stints

import (
	"pitwall/pkg/model"
)

type Transition int

const (
	NoTransition Transition = iota
	FirstSeen
	PitEntry
	PitExit
)

func (t Transition) String() string {
	switch t {
	case FirstSeen:
		return "first_seen"
	case PitEntry:
		return "pit_entry"
	case PitExit:
		return "pit_exit"
	default:
		return "none"
	}
}

type driverStints struct {
	inPit bool
	// history holds completed stints followed by the active one
	history []*model.Stint
	// pending is true between pit entry and pit exit
	pending bool
}

func (ds *driverStints) active() *model.Stint {
	return ds.history[len(ds.history)-1]
}

// Tracker groups completed laps into stints per driver.
// It is not safe for concurrent use; the owning session serializes access.
type Tracker struct {
	drivers map[string]*driverStints
}

func NewTracker() *Tracker {
	return &Tracker{
		drivers: make(map[string]*driverStints),
	}
}

// ProcessPitState detects pit entry (false->true) and pit exit (true->false).
// The first observation of a driver opens its first stint.
func (t *Tracker) ProcessPitState(driverID string, inPit bool, currentLap int, fuelLevel float64, sessionTimeMs float64) Transition {
	ds, found := t.drivers[driverID]
	if !found {
		t.drivers[driverID] = &driverStints{
			inPit:   inPit,
			history: []*model.Stint{newStint(driverID, 1, currentLap, fuelLevel)},
		}
		return FirstSeen
	}

	switch {
	case !ds.inPit && inPit:
		ds.inPit = true
		current := ds.active()
		current.Status = model.StintComplete
		current.EndLap = max(current.EndLap, currentLap)
		ds.history = append(ds.history, newStint(driverID, current.Number+1, currentLap+1, fuelLevel))
		ds.pending = true
		return PitEntry
	case ds.inPit && !inPit:
		ds.inPit = false
		next := ds.active()
		if ds.pending {
			prev := ds.history[len(ds.history)-2]
			// in-lap and out-lap stay with the stint that ended in the pits
			prev.EndLap = max(prev.EndLap, currentLap)
			next.StartLap = prev.EndLap + 1
		}
		next.FuelLoad = fuelLevel
		ds.pending = false
		return PitExit
	}
	return NoTransition
}

// AddLapToStint appends a completed lap to the stint covering its lap number.
// While a driver is between pit entry and pit exit the successor stint has not
// started yet, so laps completed in that window belong to the stint that ended.
// It returns the number of the stint that received the lap.
func (t *Tracker) AddLapToStint(lap model.LapRecord) int {
	ds, found := t.drivers[lap.DriverID]
	if !found {
		t.ProcessPitState(lap.DriverID, false, lap.LapNumber, 0, lap.Timestamp)
		ds = t.drivers[lap.DriverID]
	}

	candidates := ds.history
	if ds.pending {
		candidates = ds.history[:len(ds.history)-1]
	}
	target := candidates[0]
	for _, s := range candidates {
		if lap.LapNumber >= s.StartLap {
			target = s
		}
	}
	if lap.LapNumber < target.StartLap {
		target.StartLap = lap.LapNumber
	}
	target.EndLap = max(target.EndLap, lap.LapNumber)
	target.Laps = append(target.Laps, lap)

	if ds.pending {
		next := ds.active()
		next.StartLap = max(next.StartLap, target.EndLap+1)
	}
	return target.Number
}

// CurrentStint returns a copy of the active stint.
func (t *Tracker) CurrentStint(driverID string) (model.Stint, bool) {
	ds, found := t.drivers[driverID]
	if !found {
		return model.Stint{}, false
	}
	return copyStint(ds.active()), true
}

// Stints returns copies of all stints of the driver, oldest first.
func (t *Tracker) Stints(driverID string) []model.Stint {
	ds, found := t.drivers[driverID]
	if !found {
		return nil
	}
	out := make([]model.Stint, 0, len(ds.history))
	for _, s := range ds.history {
		out = append(out, copyStint(s))
	}
	return out
}

func (t *Tracker) ActiveStintLapCount(driverID string) int {
	ds, found := t.drivers[driverID]
	if !found {
		return 0
	}
	return len(ds.active().Laps)
}

// InPit reports the last observed pit flag of the driver.
func (t *Tracker) InPit(driverID string) bool {
	ds, found := t.drivers[driverID]
	return found && ds.inPit
}

func (t *Tracker) Forget(driverID string) {
	delete(t.drivers, driverID)
}

func (t *Tracker) Reset() {
	t.drivers = make(map[string]*driverStints)
}

func newStint(driverID string, number, startLap int, fuelLoad float64) *model.Stint {
	return &model.Stint{
		DriverID: driverID,
		Number:   number,
		StartLap: startLap,
		FuelLoad: fuelLoad,
		Status:   model.StintActive,
		Laps:     []model.LapRecord{},
	}
}

func copyStint(s *model.Stint) model.Stint {
	c := *s
	c.Laps = append([]model.LapRecord(nil), s.Laps...)
	return c
}
