package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitwall/pkg/model"
)

func cleanLaps(times ...float64) []model.LapRecord {
	laps := make([]model.LapRecord, len(times))
	for i, t := range times {
		laps[i] = model.LapRecord{LapNumber: i + 1, LapTimeMs: t, Clean: true, FuelUsed: 2}
	}
	return laps
}

func TestRollingPace(t *testing.T) {
	laps := cleanLaps(91_000, 90_000, 92_000, 93_000, 94_000)

	p3, ok := RollingPace(laps, 3)
	require.True(t, ok)
	assert.Equal(t, 93_000.0, p3)

	p5, ok := RollingPace(laps, 5)
	require.True(t, ok)
	assert.Equal(t, 92_000.0, p5)
}

func TestRollingPace_PartialWindowIsUndefined(t *testing.T) {
	laps := cleanLaps(91_000, 90_000)
	_, ok := RollingPace(laps, 3)
	assert.False(t, ok)

	_, ok = RollingPace(nil, 3)
	assert.False(t, ok)

	_, ok = RollingPace(laps, 0)
	assert.False(t, ok)
}

func TestRollingPace_SkipsDirtyLaps(t *testing.T) {
	laps := cleanLaps(90_000, 91_000, 120_000, 92_000)
	laps[2].Clean = false

	p3, ok := RollingPace(laps, 3)
	require.True(t, ok)
	assert.Equal(t, 91_000.0, p3)

	_, ok = RollingPace(laps, 4)
	assert.False(t, ok, "only three clean laps exist")
}

func TestFuelPerLap(t *testing.T) {
	_, ok := FuelPerLap(nil)
	assert.False(t, ok)

	laps := []model.LapRecord{{FuelUsed: 2.0}, {FuelUsed: 2.2}, {FuelUsed: 1.8}}
	perLap, ok := FuelPerLap(laps)
	require.True(t, ok)
	assert.InDelta(t, 2.0, perLap, 1e-9)

	// refuel laps and zero usage are ignored
	laps = append(laps, model.LapRecord{FuelUsed: -40}, model.LapRecord{FuelUsed: 0})
	perLap, ok = FuelPerLap(laps)
	require.True(t, ok)
	assert.InDelta(t, 2.0, perLap, 1e-9)

	_, ok = FuelPerLap([]model.LapRecord{{FuelUsed: -3}, {FuelUsed: 0}})
	assert.False(t, ok)
}

func TestEstimateLapsRemaining(t *testing.T) {
	n, ok := EstimateLapsRemaining(21, 2)
	require.True(t, ok)
	assert.Equal(t, 10, n)

	_, ok = EstimateLapsRemaining(21, 0)
	assert.False(t, ok)
}

func TestDegradation(t *testing.T) {
	_, ok := Degradation(cleanLaps(90_000, 90_100), 3)
	assert.False(t, ok, "below the minimum lap count")

	tr, ok := Degradation(cleanLaps(90_000, 90_100, 90_200, 90_300), 3)
	require.True(t, ok)
	assert.InDelta(t, 100, tr.Slope, 1e-6)
	assert.Equal(t, 1, tr.FirstLap)
	assert.Equal(t, 4, tr.LastLap)
	assert.Equal(t, 4, tr.Laps)
	assert.InDelta(t, 90_000, tr.At(1), 1e-6)
}

func TestDegradation_IgnoresDirtyLaps(t *testing.T) {
	laps := cleanLaps(90_000, 130_000, 90_300, 90_450, 90_600)
	laps[1].Clean = false

	tr, ok := Degradation(laps, 3)
	require.True(t, ok)
	assert.InDelta(t, 150, tr.Slope, 1e-6)
	assert.Equal(t, 4, tr.Laps)
}

func TestProjectCliffLap(t *testing.T) {
	tr, ok := Degradation(cleanLaps(90_000, 90_100, 90_200, 90_300), 3)
	require.True(t, ok)

	cliff, ok := ProjectCliffLap(tr, 1500)
	require.True(t, ok)
	assert.Equal(t, 16, cliff)

	// improving pace never reaches a cliff
	improving, ok := Degradation(cleanLaps(91_000, 90_800, 90_600), 3)
	require.True(t, ok)
	_, ok = ProjectCliffLap(improving, 1500)
	assert.False(t, ok)

	_, ok = ProjectCliffLap(Trend{}, 1500)
	assert.False(t, ok)
}
