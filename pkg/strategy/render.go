package strategy

import (
	"bytes"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"pitwall/pkg/helper"
	"pitwall/pkg/model"
)

const (
	tableDriver = "Driver"
	tableStint  = "Stint"
	tableLaps   = "Laps"
	tableTires  = "Tires"
	tableFuel   = "Fuel"
	tablePace   = "Pace (3)"
	tableDeg    = "Deg ms/lap"
	tableCliff  = "Cliff"
)

// RenderTable renders driver snapshots as a plain text table for the pit wall.
func RenderTable(sessionID string, snaps []model.StrategySnapshot) string {
	var b bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&b)
	style := table.StyleRounded
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.SetTitle(fmt.Sprintf("Session %s", sessionID))
	t.AppendHeader(table.Row{tableDriver, tableStint, tableLaps, tableTires, tableFuel, "Fuel/lap", "Est. laps", tablePace, tableDeg, tableCliff})
	for _, s := range snaps {
		pace := "-"
		if s.PaceLast3 != nil {
			pace = helper.LapTime(*s.PaceLast3)
		}
		t.AppendRow([]interface{}{
			s.DriverID,
			fmt.Sprintf("%d", s.StintNumber),
			fmt.Sprintf("%d", s.CurrentStintLaps),
			fmt.Sprintf("%d", s.TireAge),
			fmt.Sprintf("%.1f%%", s.FuelPct),
			helper.Float(s.FuelPerLap, 2),
			helper.Int(s.EstimatedLapsRemaining),
			pace,
			helper.Float(s.DegradationSlope, 0),
			helper.Int(s.ProjectedCliffLap),
		})
	}
	t.Render()
	return b.String()
}

// RenderLaps renders a driver's lap history with the gap of every lap to the best clean lap.
func RenderLaps(driverID string, laps []model.LapRecord) string {
	best := 0.0
	for _, l := range laps {
		if l.Clean && (best == 0 || l.LapTimeMs < best) {
			best = l.LapTimeMs
		}
	}

	var b bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&b)
	style := table.StyleRounded
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.SetTitle(fmt.Sprintf("Driver %s", driverID))
	t.AppendHeader(table.Row{"Lap", "Time", "Gap", "Fuel", "Clean", "At"})
	for _, l := range laps {
		gap := "-"
		if best > 0 {
			gap = helper.Delta(l.LapTimeMs - best)
		}
		clean := ""
		if l.Clean {
			clean = "✓"
		}
		t.AppendRow([]interface{}{
			fmt.Sprintf("%d", l.LapNumber),
			helper.LapTime(l.LapTimeMs),
			gap,
			fmt.Sprintf("%.2f", l.FuelUsed),
			clean,
			helper.SessionClock(l.Timestamp),
		})
	}
	t.Render()
	return b.String()
}
