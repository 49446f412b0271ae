package strategy

import (
	"errors"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"pitwall/pkg/analytics"
	"pitwall/pkg/laps"
	"pitwall/pkg/model"
	"pitwall/pkg/stints"
)

var (
	ErrSessionNotStarted = errors.New("session not started")
	ErrSessionEnded      = errors.New("session ended")
	ErrMalformedUpdate   = errors.New("malformed strategy update")
	ErrUnknownDriver     = errors.New("unknown driver")
)

type Config struct {
	WrapHigh           float64
	WrapLow            float64
	MinDegradationLaps int
	CliffThresholdMs   float64
	// DriverTimeout is how long a driver may stay silent before its telemetry state is released.
	DriverTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WrapHigh:           laps.DefaultWrapHigh,
		WrapLow:            laps.DefaultWrapLow,
		MinDegradationLaps: analytics.DefaultMinDegradationLaps,
		CliffThresholdMs:   analytics.DefaultCliffThresholdMs,
		DriverTimeout:      60 * time.Second,
	}
}

// Recorder receives laps and finished stints for persistence. Implementations must not block.
type Recorder interface {
	RecordLap(sessionID string, lap model.LapRecord)
	RecordStint(sessionID string, stint model.Stint)
}

type nopRecorder struct{}

func (nopRecorder) RecordLap(string, model.LapRecord) {}
func (nopRecorder) RecordStint(string, model.Stint)   {}

// Engine owns every per-driver structure of one session. All methods serialize
// on mu, so the positional path and the analytics path never interleave.
type Engine struct {
	mu        sync.Mutex
	sessionID string
	cfg       Config
	now       func() time.Time
	recorder  Recorder

	active  bool
	phase   model.SessionPhase
	laps    *laps.Tracker
	stints  *stints.Tracker
	drivers map[string]*model.DriverTelemetryState
}

func NewEngine(sessionID string, cfg Config, recorder Recorder, now func() time.Time) *Engine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		sessionID: sessionID,
		cfg:       cfg,
		now:       now,
		recorder:  recorder,
	}
	e.reset()
	return e
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

func (e *Engine) reset() {
	e.active = true
	e.phase = model.PhaseRacing
	e.laps = laps.NewTracker(e.cfg.WrapHigh, e.cfg.WrapLow)
	e.stints = stints.NewTracker()
	e.drivers = make(map[string]*model.DriverTelemetryState)
}

// Reset discards all per-driver state and reopens the session.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

// End stops tick acceptance and releases per-driver state. Open stints are
// handed to the recorder before they are dropped.
func (e *Engine) End() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	ids := e.driverIDs()
	for _, id := range ids {
		if s, found := e.stints.CurrentStint(id); found && len(s.Laps) > 0 {
			e.recorder.RecordStint(e.sessionID, s)
		}
	}
	e.active = false
	e.laps.Reset()
	e.stints.Reset()
	e.drivers = make(map[string]*model.DriverTelemetryState)
}

func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) SetPhase(phase model.SessionPhase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if phase == "" {
		return
	}
	if phase != e.phase {
		log.Printf("session %s phase %s -> %s\n", e.sessionID, e.phase, phase)
	}
	e.phase = phase
}

func (e *Engine) Phase() model.SessionPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// ProcessTelemetryTick is the high frequency path: positional bookkeeping only.
// A completed lap is returned when the tick crosses the line.
func (e *Engine) ProcessTelemetryTick(tick model.Tick) (*model.LapRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return nil, ErrSessionEnded
	}

	st := e.drivers[tick.DriverID]
	sample := laps.Sample{
		DriverID:      tick.DriverID,
		LapDistPct:    tick.LapDistPct,
		CurrentLap:    tick.CurrentLap,
		InPit:         tick.InPit,
		SessionTimeMs: tick.SessionTimeMs,
		Counts:        e.phase.Counts(),
	}
	if st != nil {
		sample.FuelLevel = st.FuelLevel
		sample.Tires = st.Tires
	}

	lap, err := e.laps.ProcessTick(sample)
	if err != nil && !errors.Is(err, laps.ErrLapJump) {
		return nil, err
	}
	if errors.Is(err, laps.ErrLapJump) {
		log.Printf("session %s driver %s: lap %d after inconsistent transition, lap discarded\n", e.sessionID, tick.DriverID, tick.CurrentLap)
	}

	if st == nil {
		st = &model.DriverTelemetryState{DriverID: tick.DriverID}
		e.drivers[tick.DriverID] = st
	}
	st.LapDistPct = tick.LapDistPct
	st.CurrentLap = tick.CurrentLap
	st.InPit = tick.InPit
	st.SessionTimeMs = tick.SessionTimeMs
	st.LastSeen = e.now()

	if lap != nil {
		number := e.stints.AddLapToStint(*lap)
		e.recorder.RecordLap(e.sessionID, *lap)
		// completed stints still take in-laps and out-laps
		if cur, found := e.stints.CurrentStint(tick.DriverID); found && cur.Number != number {
			e.recordStint(tick.DriverID, number)
		}
	}

	switch e.stints.ProcessPitState(tick.DriverID, tick.InPit, tick.CurrentLap, st.FuelLevel, tick.SessionTimeMs) {
	case stints.PitEntry, stints.PitExit:
		if cur, found := e.stints.CurrentStint(tick.DriverID); found && cur.Number > 1 {
			e.recordStint(tick.DriverID, cur.Number-1)
		}
	}
	return lap, err
}

// recordStint hands the current state of a stint to the recorder. Rows are
// keyed by stint number, so a later call replaces the earlier one.
func (e *Engine) recordStint(driverID string, number int) {
	for _, s := range e.stints.Stints(driverID) {
		if s.Number == number {
			e.recorder.RecordStint(e.sessionID, s)
			return
		}
	}
}

// ProcessStrategyUpdate is the low frequency path: it refreshes fuel and tire state only.
func (e *Engine) ProcessStrategyUpdate(u model.StrategyUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrSessionEnded
	}
	if u.DriverID == "" || !finite(u.Fuel.Level, u.Fuel.Pct, u.Tires.FL, u.Tires.FR, u.Tires.RL, u.Tires.RR) {
		return ErrMalformedUpdate
	}

	st, found := e.drivers[u.DriverID]
	if !found {
		st = &model.DriverTelemetryState{DriverID: u.DriverID}
		e.drivers[u.DriverID] = st
	}
	st.FuelLevel = u.Fuel.Level
	st.FuelPct = u.Fuel.Pct
	st.Tires = u.Tires
	st.LastSeen = e.now()
	return nil
}

// DriverStrategy assembles the strategy snapshot of a driver from the current
// lap and stint state. It never mutates the engine.
func (e *Engine) DriverStrategy(driverID string) (model.StrategySnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, found := e.drivers[driverID]
	if !found {
		return model.StrategySnapshot{}, false
	}
	return e.snapshot(st), true
}

// Snapshots returns the snapshot of every known driver ordered by driver id.
func (e *Engine) Snapshots() []model.StrategySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.StrategySnapshot, 0, len(e.drivers))
	for _, id := range e.driverIDs() {
		out = append(out, e.snapshot(e.drivers[id]))
	}
	return out
}

// BroadcastUpdate builds the aggregated per session event. It reports false
// when the session is no longer active or has no drivers.
func (e *Engine) BroadcastUpdate() (model.StrategyBroadcast, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active || len(e.drivers) == 0 {
		return model.StrategyBroadcast{}, false
	}
	b := model.StrategyBroadcast{
		SessionID: e.sessionID,
		Timestamp: e.now().UnixMilli(),
		Drivers:   make([]model.DriverStrategy, 0, len(e.drivers)),
	}
	for _, id := range e.driverIDs() {
		b.Drivers = append(b.Drivers, e.snapshot(e.drivers[id]).Broadcast())
	}
	return b, true
}

// Sweep releases the telemetry state of drivers silent for longer than the
// driver timeout. Their stints are kept. It returns the released driver ids.
func (e *Engine) Sweep(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.DriverTimeout <= 0 {
		return nil
	}
	var released []string
	for _, id := range e.driverIDs() {
		if now.Sub(e.drivers[id].LastSeen) > e.cfg.DriverTimeout {
			delete(e.drivers, id)
			e.laps.Forget(id)
			released = append(released, id)
		}
	}
	return released
}

// Stints returns copies of the stints of a driver.
func (e *Engine) Stints(driverID string) []model.Stint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stints.Stints(driverID)
}

func (e *Engine) LapStats() laps.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.laps.Stats()
}

func (e *Engine) DriverCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.drivers)
}

func (e *Engine) snapshot(st *model.DriverTelemetryState) model.StrategySnapshot {
	snap := model.StrategySnapshot{
		DriverID:  st.DriverID,
		FuelLevel: st.FuelLevel,
		FuelPct:   st.FuelPct,
	}

	var sessionLaps []model.LapRecord
	for _, s := range e.stints.Stints(st.DriverID) {
		for _, l := range s.Laps {
			if l.Clean {
				sessionLaps = append(sessionLaps, l)
			}
		}
	}

	if cur, found := e.stints.CurrentStint(st.DriverID); found {
		snap.StintNumber = cur.Number
		snap.CurrentStintLaps = len(cur.Laps)
		snap.TireAge = max(0, st.CurrentLap-cur.StartLap)
		if tr, ok := analytics.Degradation(cur.CleanLaps(), e.cfg.MinDegradationLaps); ok {
			snap.DegradationSlope = ptr(tr.Slope)
			if cliff, ok := analytics.ProjectCliffLap(tr, e.cfg.CliffThresholdMs); ok {
				snap.ProjectedCliffLap = ptr(cliff)
			}
		}
	}

	if v, ok := analytics.RollingPace(sessionLaps, 3); ok {
		snap.PaceLast3 = ptr(v)
	}
	if v, ok := analytics.RollingPace(sessionLaps, 5); ok {
		snap.PaceLast5 = ptr(v)
	}
	if perLap, ok := analytics.FuelPerLap(sessionLaps); ok {
		snap.FuelPerLap = ptr(perLap)
		if n, ok := analytics.EstimateLapsRemaining(st.FuelLevel, perLap); ok {
			snap.EstimatedLapsRemaining = ptr(n)
		}
	}
	return snap
}

func (e *Engine) driverIDs() []string {
	ids := make([]string, 0, len(e.drivers))
	for id := range e.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func ptr[T any](v T) *T {
	return &v
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
