package helper

import (
	"fmt"
	"strings"
)

// LapTime converts milliseconds to minutes:seconds.milliseconds
func LapTime(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	total := int64(ms + 0.5)
	minutes := total / 60000
	seconds := (total % 60000) / 1000
	millis := total % 1000
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, millis)
}

// Delta formats a lap time difference in seconds, signed and right aligned.
func Delta(ms float64) string {
	diff := fmt.Sprintf("%+.3fs", ms/1000)
	chars := len(diff)
	if chars < 9 {
		// add spaces to the left
		diff = strings.Repeat(" ", 9-chars) + diff
	}
	return diff
}

// SessionClock formats session time in milliseconds as hours and minutes.
func SessionClock(ms float64) string {
	seconds := ms / 1000
	if seconds <= 0 {
		seconds = 0
	}
	hours := int(seconds / 3600)
	seconds = seconds - float64(hours*3600)
	minutes := int(seconds / 60)
	return fmt.Sprintf("%02dh %02dm", hours, minutes)
}

// Float renders an optional value with the given precision, "-" when undefined.
func Float(v *float64, precision int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", precision, *v)
}

// Int renders an optional integer, "-" when undefined.
func Int(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
