package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"pitwall/pkg/incidents"
	"pitwall/pkg/model"
)

func buildCreateTables() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS laps (
		session_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		lap_number INTEGER NOT NULL,
		lap_time_ms REAL NOT NULL,
		fuel_used REAL NOT NULL,
		clean INTEGER NOT NULL,
		session_time_ms REAL NOT NULL,
		PRIMARY KEY (session_id, driver_id, lap_number));`,
		`CREATE TABLE IF NOT EXISTS stints (
		session_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		start_lap INTEGER NOT NULL,
		end_lap INTEGER NOT NULL,
		laps INTEGER NOT NULL,
		fuel_load REAL NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (session_id, driver_id, number));`,
		`CREATE TABLE IF NOT EXISTS incident_classifications (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		lap INTEGER NOT NULL,
		corner INTEGER NOT NULL,
		contact_type TEXT NOT NULL,
		at_fault_driver_id TEXT NOT NULL,
		confidence REAL NOT NULL,
		racing_incident INTEGER NOT NULL,
		document TEXT NOT NULL,
		classified_at INTEGER NOT NULL);`,
	}
}

func buildInsertLapCommand(sessionID string, l model.LapRecord) (string, []any) {
	fields := "session_id, driver_id, lap_number, lap_time_ms, fuel_used, clean, session_time_ms"
	return `INSERT OR REPLACE INTO laps (` + fields + `) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{sessionID, l.DriverID, l.LapNumber, l.LapTimeMs, l.FuelUsed, boolInt(l.Clean), l.Timestamp}
}

func buildSelectLapsCommand(sessionID, driverID string) (string, []any, func(*sql.Rows) ([]model.LapRecord, error)) {
	fields := "driver_id, lap_number, lap_time_ms, fuel_used, clean, session_time_ms"
	return `SELECT ` + fields + ` FROM laps WHERE session_id = ? AND driver_id = ? ORDER BY lap_number`,
		[]any{sessionID, driverID}, processSelectLapsRows
}

func processSelectLapsRows(rows *sql.Rows) ([]model.LapRecord, error) {
	defer rows.Close()

	laps := make([]model.LapRecord, 0)
	for rows.Next() {
		var l model.LapRecord
		var clean int
		err := rows.Scan(&l.DriverID, &l.LapNumber, &l.LapTimeMs, &l.FuelUsed, &clean, &l.Timestamp)
		if err != nil {
			return laps, err
		}
		l.Clean = clean == 1
		laps = append(laps, l)
	}
	return laps, rows.Err()
}

func buildInsertStintCommand(sessionID string, s model.Stint) (string, []any) {
	fields := "session_id, driver_id, number, start_lap, end_lap, laps, fuel_load, status"
	return `INSERT OR REPLACE INTO stints (` + fields + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{sessionID, s.DriverID, s.Number, s.StartLap, s.EndLap, len(s.Laps), s.FuelLoad, string(s.Status)}
}

func buildSelectStintsCommand(sessionID, driverID string) (string, []any, func(*sql.Rows) ([]StintRow, error)) {
	fields := "driver_id, number, start_lap, end_lap, laps, fuel_load, status"
	return `SELECT ` + fields + ` FROM stints WHERE session_id = ? AND driver_id = ? ORDER BY number`,
		[]any{sessionID, driverID}, processSelectStintsRows
}

func processSelectStintsRows(rows *sql.Rows) ([]StintRow, error) {
	defer rows.Close()

	stints := make([]StintRow, 0)
	for rows.Next() {
		var s StintRow
		var status string
		err := rows.Scan(&s.DriverID, &s.Number, &s.StartLap, &s.EndLap, &s.Laps, &s.FuelLoad, &status)
		if err != nil {
			return stints, err
		}
		s.Status = model.StintStatus(status)
		stints = append(stints, s)
	}
	return stints, rows.Err()
}

func buildInsertClassificationCommand(ic incidents.IncidentClassification) (string, []any, error) {
	doc, err := json.Marshal(ic)
	if err != nil {
		return "", nil, err
	}
	fields := "id, incident_id, session_id, lap, corner, contact_type, at_fault_driver_id, confidence, racing_incident, document, classified_at"
	return `INSERT OR REPLACE INTO incident_classifications (` + fields + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{ic.ID, ic.IncidentID, ic.SessionID, ic.Lap, ic.Corner, string(ic.Contact.Type), ic.AtFaultDriverID,
			ic.Confidence, boolInt(ic.RacingIncident), string(doc), ic.ClassifiedAt.UnixMilli()}, nil
}

func buildSelectClassificationsCommand(sessionID string) (string, []any, func(*sql.Rows) ([]incidents.IncidentClassification, error)) {
	return `SELECT document, classified_at FROM incident_classifications WHERE session_id = ? ORDER BY classified_at, id`,
		[]any{sessionID}, processSelectClassificationsRows
}

func processSelectClassificationsRows(rows *sql.Rows) ([]incidents.IncidentClassification, error) {
	defer rows.Close()

	out := make([]incidents.IncidentClassification, 0)
	for rows.Next() {
		var doc string
		var at int64
		if err := rows.Scan(&doc, &at); err != nil {
			return out, err
		}
		var ic incidents.IncidentClassification
		if err := json.Unmarshal([]byte(doc), &ic); err != nil {
			return out, err
		}
		ic.ClassifiedAt = time.UnixMilli(at).UTC()
		out = append(out, ic)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
