// Package analytics derives pace, fuel and tire degradation figures from lap records.
//
// Every function returns an ok flag; false means the value is undefined for the
// given input and callers must not substitute a default.
package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"pitwall/pkg/model"
)

const (
	DefaultMinDegradationLaps = 3
	DefaultCliffThresholdMs   = 1500.0
)

// RollingPace is the mean lap time of the last window clean laps.
// It is undefined when fewer clean laps than window exist.
func RollingPace(laps []model.LapRecord, window int) (float64, bool) {
	if window <= 0 {
		return 0, false
	}
	clean := make([]float64, 0, window)
	for i := len(laps) - 1; i >= 0 && len(clean) < window; i-- {
		if laps[i].Clean {
			clean = append(clean, laps[i].LapTimeMs)
		}
	}
	if len(clean) < window {
		return 0, false
	}
	return stat.Mean(clean, nil), true
}

// FuelPerLap is the mean fuel used over laps that consumed fuel.
func FuelPerLap(laps []model.LapRecord) (float64, bool) {
	used := make([]float64, 0, len(laps))
	for _, l := range laps {
		if l.FuelUsed > 0 {
			used = append(used, l.FuelUsed)
		}
	}
	if len(used) == 0 {
		return 0, false
	}
	return stat.Mean(used, nil), true
}

// EstimateLapsRemaining is the number of full laps the fuel level covers.
func EstimateLapsRemaining(fuelLevel, perLap float64) (int, bool) {
	if perLap <= 0 || fuelLevel < 0 || math.IsNaN(fuelLevel) {
		return 0, false
	}
	return int(math.Floor(fuelLevel / perLap)), true
}

// Trend is the least squares fit of lap time (ms) against lap number.
type Trend struct {
	Slope     float64 // ms lost per lap
	Intercept float64
	FirstLap  int
	LastLap   int
	Laps      int
}

// At returns the fitted lap time for a lap number.
func (tr Trend) At(lapNumber int) float64 {
	return tr.Intercept + tr.Slope*float64(lapNumber)
}

// Degradation fits the clean laps of a single stint. Fewer than minLaps clean
// laps give no trend, noise dominates short samples.
func Degradation(stintLaps []model.LapRecord, minLaps int) (Trend, bool) {
	if minLaps < 2 {
		minLaps = 2
	}
	xs := make([]float64, 0, len(stintLaps))
	ys := make([]float64, 0, len(stintLaps))
	tr := Trend{}
	for _, l := range stintLaps {
		if !l.Clean {
			continue
		}
		if len(xs) == 0 {
			tr.FirstLap = l.LapNumber
		}
		tr.LastLap = l.LapNumber
		xs = append(xs, float64(l.LapNumber))
		ys = append(ys, l.LapTimeMs)
	}
	if len(xs) < minLaps || tr.FirstLap == tr.LastLap {
		return Trend{}, false
	}
	tr.Intercept, tr.Slope = stat.LinearRegression(xs, ys, nil, false)
	tr.Laps = len(xs)
	if math.IsNaN(tr.Slope) || math.IsInf(tr.Slope, 0) {
		return Trend{}, false
	}
	return tr, true
}

// ProjectCliffLap extrapolates the trend to the first lap whose fitted time is
// thresholdMs slower than the fitted time of the stint's first clean lap.
// The result is advisory: it assumes degradation stays linear.
func ProjectCliffLap(tr Trend, thresholdMs float64) (int, bool) {
	if tr.Laps == 0 || tr.Slope <= 0 || thresholdMs <= 0 {
		return 0, false
	}
	// tolerate float noise from the fit so an exact multiple does not round up
	lapsToCliff := math.Ceil(thresholdMs/tr.Slope - 1e-9)
	if lapsToCliff > math.MaxInt32 {
		return 0, false
	}
	return tr.FirstLap + int(lapsToCliff), true
}
