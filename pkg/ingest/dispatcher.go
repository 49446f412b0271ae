// Package ingest applies capture agent messages to the strategy engines, the
// incident classifier and the broadcast hub.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitwall/pkg/caster"
	"pitwall/pkg/hub"
	"pitwall/pkg/incidents"
	"pitwall/pkg/laps"
	"pitwall/pkg/model"
	"pitwall/pkg/pubsub"
	"pitwall/pkg/strategy"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingSession = errors.New("message without session id")
	ErrMalformedBody  = errors.New("malformed message body")
	ErrInvalidPhase   = errors.New("invalid session phase")
)

// Hub is the part of the broadcast hub fed by ingest.
type Hub interface {
	UpsertSession(info model.SessionInfo)
	EndSession(sessionID string)
	Touch(sessionID string)
	Publish(sessionID, typ string, body any) int
	RecordDrop(reason pubsub.DropReason)
}

// ClassificationRecorder persists classifications. Implementations must not block.
type ClassificationRecorder interface {
	RecordClassification(ic incidents.IncidentClassification)
}

// Alerter forwards classifications to stewards. Implementations must not block.
type Alerter interface {
	Enqueue(ic incidents.IncidentClassification)
}

type Stats struct {
	Received      uint64 `json:"received"`
	Rejected      uint64 `json:"rejected"`
	Ticks         uint64 `json:"ticks"`
	RejectedTicks uint64 `json:"rejectedTicks"`
	Laps          uint64 `json:"laps"`
	Updates       uint64 `json:"updates"`
	Incidents     uint64 `json:"incidents"`
	Receiving     bool   `json:"receiving"`
}

type Dispatcher struct {
	manager    *strategy.Manager
	hub        Hub
	classifier *incidents.Classifier
	recorder   ClassificationRecorder
	alerter    Alerter

	mu    sync.Mutex
	stats Stats
	// sessions already reported as receiving data without a live engine
	orphaned map[string]bool
}

func NewDispatcher(manager *strategy.Manager, h Hub, classifier *incidents.Classifier) *Dispatcher {
	return &Dispatcher{
		manager:    manager,
		hub:        h,
		classifier: classifier,
		orphaned:   make(map[string]bool),
	}
}

func (d *Dispatcher) WithRecorder(r ClassificationRecorder) *Dispatcher {
	d.recorder = r
	return d
}

func (d *Dispatcher) WithAlerter(a Alerter) *Dispatcher {
	d.alerter = a
	return d
}

// Run dispatches messages until doneChan fires or ctx ends. Without data for
// idle the connection is reported as not receiving.
func (d *Dispatcher) Run(ctx context.Context, messageChan <-chan Message, doneChan <-chan error, idle time.Duration) {
	timeout := time.After(idle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-doneChan:
			d.setReceiving(false)
			return
		case <-timeout:
			if d.setReceiving(false) {
				log.Printf("ingest: no data for %s\n", idle)
			}
			timeout = time.After(idle)
		case m := <-messageChan:
			timeout = time.After(idle)
			d.setReceiving(true)
			if err := d.Dispatch(m); err != nil && !isOrphan(err) {
				log.Printf("ingest: %s message for %q: %s\n", m.MessageType, m.SessionID, err)
			}
		}
	}
}

// Dispatch applies a single message. Per car failures inside a batch are
// counted and logged without failing the message.
func (d *Dispatcher) Dispatch(m Message) error {
	d.count(func(s *Stats) { s.Received++ })

	if m.SessionID == "" {
		return d.reject(ErrMissingSession)
	}

	switch m.MessageType {
	case mtSessionStart:
		body, err := decode[SessionStart](m)
		if err != nil {
			return d.reject(err)
		}
		d.manager.StartSession(m.SessionID)
		d.mu.Lock()
		delete(d.orphaned, m.SessionID)
		d.mu.Unlock()
		d.hub.UpsertSession(model.SessionInfo{
			SessionID:   m.SessionID,
			TrackName:   body.TrackName,
			SessionType: body.SessionType,
			Status:      model.SessionActive,
		})
		log.Printf("ingest: session %s started (%s @ %s)\n", m.SessionID, body.SessionType, body.TrackName)
		return nil
	case mtSessionEnd:
		d.manager.EndSession(m.SessionID)
		d.hub.EndSession(m.SessionID)
		return nil
	case mtTelemetry:
		body, err := decode[Telemetry](m)
		if err != nil {
			return d.reject(err)
		}
		return d.telemetry(m.SessionID, body)
	case mtStrategy:
		body, err := decode[Strategy](m)
		if err != nil {
			return d.reject(err)
		}
		return d.strategyUpdates(m.SessionID, body)
	case mtRaceEvent:
		body, err := decode[RaceEvent](m)
		if err != nil {
			return d.reject(err)
		}
		return d.raceEvent(m.SessionID, body)
	case mtIncident:
		body, err := decode[incidents.IncidentCandidate](m)
		if err != nil {
			return d.reject(err)
		}
		d.incident(m.SessionID, body)
		return nil
	}
	return d.reject(fmt.Errorf("%w: %q", ErrUnknownType, m.MessageType))
}

func (d *Dispatcher) telemetry(sessionID string, body Telemetry) error {
	var completed, rejected uint64
	for _, tick := range body.Cars {
		if tick.SessionTimeMs == 0 {
			tick.SessionTimeMs = body.SessionTimeMs
		}
		lap, err := d.manager.ProcessTelemetryTick(sessionID, tick)
		switch {
		case isOrphan(err):
			return d.orphan(sessionID, uint64(len(body.Cars)), err)
		case errors.Is(err, laps.ErrLapJump):
			// logged by the engine
		case err != nil:
			rejected++
			log.Printf("ingest: session %s tick for %q rejected: %s\n", sessionID, tick.DriverID, err)
		}
		if lap != nil {
			completed++
		}
	}
	d.hub.Touch(sessionID)
	d.count(func(s *Stats) {
		s.Ticks += uint64(len(body.Cars))
		s.RejectedTicks += rejected
		s.Laps += completed
	})
	return nil
}

func (d *Dispatcher) strategyUpdates(sessionID string, body Strategy) error {
	var applied uint64
	for _, u := range body.Cars {
		if u.SessionTimeMs == 0 {
			u.SessionTimeMs = body.SessionTimeMs
		}
		err := d.manager.ProcessStrategyUpdate(sessionID, u)
		switch {
		case isOrphan(err):
			return d.orphan(sessionID, 0, err)
		case err != nil:
			log.Printf("ingest: session %s strategy update for %q rejected: %s\n", sessionID, u.DriverID, err)
		default:
			applied++
		}
	}
	d.hub.Touch(sessionID)
	d.count(func(s *Stats) { s.Updates += applied })
	return nil
}

func (d *Dispatcher) raceEvent(sessionID string, body RaceEvent) error {
	e, found := d.manager.Engine(sessionID)
	if !found {
		return d.orphan(sessionID, 0, strategy.ErrSessionNotStarted)
	}
	if body.SessionPhase != "" {
		if !body.SessionPhase.Valid() {
			return d.reject(fmt.Errorf("%w: %q", ErrInvalidPhase, body.SessionPhase))
		}
		e.SetPhase(body.SessionPhase)
	}
	d.hub.Touch(sessionID)
	return nil
}

func (d *Dispatcher) incident(sessionID string, c incidents.IncidentCandidate) {
	if c.SessionID == "" {
		c.SessionID = sessionID
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	ic := d.classifier.Classify(c)
	d.hub.Publish(c.SessionID, hub.TypeIncident, ic)
	if d.recorder != nil {
		d.recorder.RecordClassification(ic)
	}
	if d.alerter != nil {
		d.alerter.Enqueue(ic)
	}
	d.count(func(s *Stats) { s.Incidents++ })
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// reject counts a message that could not be applied.
func (d *Dispatcher) reject(err error) error {
	d.hub.RecordDrop(pubsub.DropParse)
	d.count(func(s *Stats) { s.Rejected++ })
	return err
}

const maxOrphaned = 1024

// orphan counts a message for a session without a live engine. It is logged
// once per session until the session starts again.
func (d *Dispatcher) orphan(sessionID string, ticks uint64, err error) error {
	d.mu.Lock()
	d.stats.Rejected++
	d.stats.RejectedTicks += ticks
	first := !d.orphaned[sessionID]
	if first && len(d.orphaned) >= maxOrphaned {
		clear(d.orphaned)
	}
	d.orphaned[sessionID] = true
	d.mu.Unlock()
	if first {
		log.Printf("ingest: session %s: %s, ignoring its messages\n", sessionID, err)
	}
	return err
}

func isOrphan(err error) bool {
	return errors.Is(err, strategy.ErrSessionNotStarted) || errors.Is(err, strategy.ErrSessionEnded)
}

func (d *Dispatcher) count(f func(s *Stats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(&d.stats)
}

// setReceiving updates the receiving flag and reports whether it changed.
func (d *Dispatcher) setReceiving(receiving bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.stats.Receiving != receiving
	d.stats.Receiving = receiving
	return changed
}

func decode[T any](m Message) (T, error) {
	var zero T
	if len(m.Body) == 0 {
		return zero, nil
	}
	v, err := caster.JSONChannelCaster[T]{}.From(m.Body)
	if err != nil {
		return zero, fmt.Errorf("%w: %s", ErrMalformedBody, err)
	}
	return v, nil
}
