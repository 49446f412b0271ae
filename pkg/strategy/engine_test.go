package strategy

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitwall/pkg/model"
)

type fakeRecorder struct {
	mu     sync.Mutex
	laps   []model.LapRecord
	stints []model.Stint
}

func (r *fakeRecorder) RecordLap(_ string, lap model.LapRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.laps = append(r.laps, lap)
}

func (r *fakeRecorder) RecordStint(_ string, s model.Stint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stints = append(r.stints, s)
}

func (r *fakeRecorder) lastStint(number int) model.Stint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out model.Stint
	for _, s := range r.stints {
		if s.Number == number {
			out = s
		}
	}
	return out
}

type fakePublisher struct {
	sent []model.StrategyBroadcast
}

func (p *fakePublisher) PublishStrategy(b model.StrategyBroadcast) {
	p.sent = append(p.sent, b)
}

var epoch = time.Date(2026, 5, 24, 14, 0, 0, 0, time.UTC)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func tick(driver string, pct float64, lap int, t float64, inPit bool) model.Tick {
	return model.Tick{DriverID: driver, LapDistPct: pct, CurrentLap: lap, InPit: inPit, SessionTimeMs: t}
}

func fuel(driver string, level float64) model.StrategyUpdate {
	return model.StrategyUpdate{
		DriverID: driver,
		Fuel:     model.Fuel{Level: level, Pct: level / 60 * 100},
		Tires:    model.TireWear{FL: 0.9, FR: 0.9, RL: 0.95, RR: 0.95},
	}
}

// driveStint runs laps first..last with lap n lasting 90s + 100ms*(n-first),
// burning 2L per lap, and returns the session time and fuel after the final crossing.
func driveStint(t *testing.T, e *Engine, first, last int, start, startFuel float64) (float64, float64) {
	t.Helper()
	now := start
	level := startFuel
	for n := first; n <= last; n++ {
		lapMs := 90_000 + 100*float64(n-first)
		require.NoError(t, e.ProcessStrategyUpdate(fuel("d1", level)))
		_, err := e.ProcessTelemetryTick(tick("d1", 0.02, n, now, false))
		require.NoError(t, err)
		_, err = e.ProcessTelemetryTick(tick("d1", 0.5, n, now+lapMs/2, false))
		require.NoError(t, err)
		_, err = e.ProcessTelemetryTick(tick("d1", 0.95, n, now+lapMs-500, false))
		require.NoError(t, err)
		now += lapMs
		level -= 2
	}
	require.NoError(t, e.ProcessStrategyUpdate(fuel("d1", level)))
	lap, err := e.ProcessTelemetryTick(tick("d1", 0.02, last+1, now, false))
	require.NoError(t, err)
	require.NotNil(t, lap)
	return now, level
}

func TestEngine_LapCompletionScenario(t *testing.T) {
	rec := &fakeRecorder{}
	e := NewEngine("s1", DefaultConfig(), rec, nil)

	require.NoError(t, e.ProcessStrategyUpdate(fuel("d1", 40.0)))
	lap, err := e.ProcessTelemetryTick(tick("d1", 0.97, 5, 1000, false))
	require.NoError(t, err)
	assert.Nil(t, lap)

	require.NoError(t, e.ProcessStrategyUpdate(fuel("d1", 38.1)))
	lap, err = e.ProcessTelemetryTick(tick("d1", 0.02, 6, 93000, false))
	require.NoError(t, err)
	require.NotNil(t, lap)
	assert.Equal(t, 92000.0, lap.LapTimeMs)
	assert.InDelta(t, 1.9, lap.FuelUsed, 1e-9)
	assert.True(t, lap.Clean)

	require.Len(t, rec.laps, 1)
	assert.Equal(t, 5, rec.laps[0].LapNumber)
}

func TestEngine_DriverStrategy(t *testing.T) {
	e := NewEngine("s1", DefaultConfig(), nil, nil)
	driveStint(t, e, 1, 6, 0, 60)

	snap, found := e.DriverStrategy("d1")
	require.True(t, found)

	assert.Equal(t, 1, snap.StintNumber)
	assert.Equal(t, 6, snap.CurrentStintLaps)
	assert.Equal(t, 6, snap.TireAge)
	assert.Equal(t, 48.0, snap.FuelLevel)
	require.NotNil(t, snap.PaceLast3)
	assert.InDelta(t, 90_400, *snap.PaceLast3, 1e-6)
	require.NotNil(t, snap.PaceLast5)
	assert.InDelta(t, 90_300, *snap.PaceLast5, 1e-6)
	require.NotNil(t, snap.FuelPerLap)
	assert.InDelta(t, 2.0, *snap.FuelPerLap, 1e-9)
	require.NotNil(t, snap.EstimatedLapsRemaining)
	assert.Equal(t, 24, *snap.EstimatedLapsRemaining)
	require.NotNil(t, snap.DegradationSlope)
	assert.InDelta(t, 100, *snap.DegradationSlope, 1e-6)
	require.NotNil(t, snap.ProjectedCliffLap)
	assert.Equal(t, 16, *snap.ProjectedCliffLap)

	_, found = e.DriverStrategy("nobody")
	assert.False(t, found)
}

func TestEngine_DriverStrategyIsPure(t *testing.T) {
	e := NewEngine("s1", DefaultConfig(), nil, nil)
	driveStint(t, e, 1, 4, 0, 60)

	first, _ := e.DriverStrategy("d1")
	second, _ := e.DriverStrategy("d1")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("snapshots differ (-first +second):\n%s", diff)
	}
}

func TestEngine_UndefinedValuesStayNil(t *testing.T) {
	e := NewEngine("s1", DefaultConfig(), nil, nil)
	driveStint(t, e, 1, 2, 0, 60)

	snap, _ := e.DriverStrategy("d1")
	assert.Nil(t, snap.PaceLast3)
	assert.Nil(t, snap.PaceLast5)
	assert.Nil(t, snap.DegradationSlope)
	assert.Nil(t, snap.ProjectedCliffLap)
	assert.NotNil(t, snap.FuelPerLap)
}

func TestEngine_DegradationResetsEachStint(t *testing.T) {
	rec := &fakeRecorder{}
	e := NewEngine("s1", DefaultConfig(), rec, nil)
	now, _ := driveStint(t, e, 1, 5, 0, 60)

	// pit during lap 6 and refuel
	_, err := e.ProcessTelemetryTick(tick("d1", 0.5, 6, now+40_000, true))
	require.NoError(t, err)
	require.Len(t, rec.stints, 1, "completed stint is recorded at pit entry")
	require.NoError(t, e.ProcessStrategyUpdate(fuel("d1", 60)))
	_, err = e.ProcessTelemetryTick(tick("d1", 0.7, 6, now+70_000, false))
	require.NoError(t, err)
	_, err = e.ProcessTelemetryTick(tick("d1", 0.95, 6, now+110_000, false))
	require.NoError(t, err)

	snap, _ := e.DriverStrategy("d1")
	assert.Equal(t, 2, snap.StintNumber)
	assert.Equal(t, 0, snap.CurrentStintLaps)
	assert.Nil(t, snap.DegradationSlope, "new stint has no clean laps yet")

	lap, err := e.ProcessTelemetryTick(tick("d1", 0.02, 7, now+115_000, false))
	require.NoError(t, err)
	require.NotNil(t, lap)
	assert.False(t, lap.Clean)

	ss := e.Stints("d1")
	require.Len(t, ss, 2)
	assert.Equal(t, 6, ss[0].EndLap)
	assert.Len(t, ss[0].Laps, 6)
	assert.Equal(t, 7, ss[1].StartLap)

	// the recorder holds the final state of the completed stint
	last := rec.lastStint(1)
	assert.Equal(t, 6, last.EndLap)
	assert.Len(t, last.Laps, 6)
}

func TestEngine_FormationLapsAreNotClean(t *testing.T) {
	e := NewEngine("s1", DefaultConfig(), nil, nil)
	e.SetPhase(model.PhaseFormation)
	_, _ = e.ProcessTelemetryTick(tick("d1", 0.5, 0, 1000, false))
	_, _ = e.ProcessTelemetryTick(tick("d1", 0.95, 0, 60_000, false))
	e.SetPhase(model.PhaseRacing)
	lap, err := e.ProcessTelemetryTick(tick("d1", 0.01, 1, 61_000, false))
	require.NoError(t, err)
	require.NotNil(t, lap)
	assert.False(t, lap.Clean)
	assert.Equal(t, model.PhaseRacing, e.Phase())
}

func TestEngine_RejectedTicksAreCounted(t *testing.T) {
	e := NewEngine("s1", DefaultConfig(), nil, nil)
	_, err := e.ProcessTelemetryTick(tick("d1", 0.5, 1, 1000, false))
	require.NoError(t, err)
	_, err = e.ProcessTelemetryTick(tick("d1", 1.5, 1, 2000, false))
	assert.Error(t, err)
	_, err = e.ProcessTelemetryTick(tick("d1", 0.6, 1, 500, false))
	assert.Error(t, err)

	assert.Equal(t, uint64(2), e.LapStats().Dropped())

	err = e.ProcessStrategyUpdate(model.StrategyUpdate{DriverID: ""})
	assert.ErrorIs(t, err, ErrMalformedUpdate)
}

func TestEngine_BroadcastUpdate(t *testing.T) {
	now := epoch
	e := NewEngine("s1", DefaultConfig(), nil, fixedClock(&now))

	_, ok := e.BroadcastUpdate()
	assert.False(t, ok, "no drivers yet")

	driveStint(t, e, 1, 3, 0, 60)
	require.NoError(t, e.ProcessStrategyUpdate(fuel("d0", 30)))

	b, ok := e.BroadcastUpdate()
	require.True(t, ok)
	assert.Equal(t, "s1", b.SessionID)
	assert.Equal(t, epoch.UnixMilli(), b.Timestamp)
	require.Len(t, b.Drivers, 2)
	assert.Equal(t, "d0", b.Drivers[0].DriverID)
	assert.Equal(t, "d1", b.Drivers[1].DriverID)
	assert.Equal(t, 3, b.Drivers[1].CurrentStintLaps)

	e.End()
	_, ok = e.BroadcastUpdate()
	assert.False(t, ok)
	_, err := e.ProcessTelemetryTick(tick("d1", 0.1, 4, 999_999, false))
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestEngine_EndRecordsOpenStints(t *testing.T) {
	rec := &fakeRecorder{}
	e := NewEngine("s1", DefaultConfig(), rec, nil)
	driveStint(t, e, 1, 3, 0, 60)

	e.End()
	require.Len(t, rec.stints, 1)
	assert.Len(t, rec.stints[0].Laps, 3)
	assert.Equal(t, 0, e.DriverCount())
	assert.False(t, e.Active())
}

func TestEngine_Sweep(t *testing.T) {
	now := epoch
	cfg := DefaultConfig()
	cfg.DriverTimeout = time.Minute
	e := NewEngine("s1", cfg, nil, fixedClock(&now))

	_, err := e.ProcessTelemetryTick(tick("d1", 0.5, 1, 1000, false))
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = e.ProcessTelemetryTick(tick("d2", 0.5, 1, 1000, false))
	require.NoError(t, err)

	released := e.Sweep(epoch.Add(61 * time.Second))
	assert.Equal(t, []string{"d1"}, released)
	assert.Equal(t, 1, e.DriverCount())

	_, found := e.DriverStrategy("d1")
	assert.False(t, found)
}
