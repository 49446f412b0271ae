package incidents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderTable renders classifications for the stewards' desk.
func RenderTable(sessionID string, ics []IncidentClassification) string {
	var b bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&b)
	style := table.StyleRounded
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.SetTitle(fmt.Sprintf("Incidents %s", sessionID))
	t.AppendHeader(table.Row{"Lap", "Turn", "Drivers", "Contact", "At fault", "Conf.", "Rules"})
	for _, ic := range ics {
		atFault := ic.AtFaultDriverID
		switch {
		case ic.RacingIncident:
			atFault = "racing incident"
		case atFault == "":
			atFault = ic.Fault.PrimaryDriver
		}
		turn := "-"
		if ic.Corner > 0 {
			turn = fmt.Sprintf("%d", ic.Corner)
		}
		t.AppendRow([]interface{}{
			fmt.Sprintf("%d", ic.Lap),
			turn,
			strings.Join(ic.InvolvedDrivers, ", "),
			string(ic.Contact.Type),
			atFault,
			fmt.Sprintf("%.0f%%", ic.Confidence*100),
			strings.Join(ic.MatchedRules, ", "),
		})
	}
	t.Render()
	return b.String()
}
