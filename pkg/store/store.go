// Package store persists completed laps, stints and incident classifications
// to sqlite. Persistence is best effort: the live pipeline never waits on it.
package store

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"pitwall/pkg/incidents"
	"pitwall/pkg/model"
)

const DbName = "./pitwall.db"

// StintRow is a persisted stint without its laps.
type StintRow struct {
	DriverID string            `json:"driverId"`
	Number   int               `json:"number"`
	StartLap int               `json:"startLap"`
	EndLap   int               `json:"endLap"`
	Laps     int               `json:"laps"`
	FuelLoad float64           `json:"fuelLoad"`
	Status   model.StintStatus `json:"status"`
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = DbName
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}

	for _, stmt := range buildCreateTables() {
		if _, err = db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "init database")
		}
	}
	log.Printf("store: using database %s\n", path)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

func (s *Store) InsertLap(sessionID string, lap model.LapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args := buildInsertLapCommand(sessionID, lap)
	_, err := s.db.Exec(query, args...)
	return errors.Wrapf(err, "insert lap %d of %s", lap.LapNumber, lap.DriverID)
}

func (s *Store) InsertStint(sessionID string, stint model.Stint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args := buildInsertStintCommand(sessionID, stint)
	_, err := s.db.Exec(query, args...)
	return errors.Wrapf(err, "insert stint %d of %s", stint.Number, stint.DriverID)
}

func (s *Store) InsertClassification(ic incidents.IncidentClassification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := buildInsertClassificationCommand(ic)
	if err != nil {
		return errors.Wrap(err, "encode classification")
	}
	_, err = s.db.Exec(query, args...)
	return errors.Wrapf(err, "insert classification %s", ic.ID)
}

func (s *Store) ListLaps(sessionID, driverID string) ([]model.LapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, read := buildSelectLapsCommand(sessionID, driverID)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select laps")
	}
	return read(rows)
}

func (s *Store) ListStints(sessionID, driverID string) ([]StintRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, read := buildSelectStintsCommand(sessionID, driverID)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select stints")
	}
	return read(rows)
}

func (s *Store) ListClassifications(sessionID string) ([]incidents.IncidentClassification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, read := buildSelectClassificationsCommand(sessionID)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select classifications")
	}
	return read(rows)
}
