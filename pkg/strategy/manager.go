package strategy

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"pitwall/pkg/model"
)

// Publisher delivers strategy broadcasts to viewers.
type Publisher interface {
	PublishStrategy(b model.StrategyBroadcast)
}

// Manager is the arena of session engines indexed by session id.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	now       func() time.Time
	recorder  Recorder
	publisher Publisher
	engines   map[string]*Engine
}

func NewManager(cfg Config, recorder Recorder, publisher Publisher) *Manager {
	return &Manager{
		cfg:       cfg,
		now:       time.Now,
		recorder:  recorder,
		publisher: publisher,
		engines:   make(map[string]*Engine),
	}
}

// WithClock replaces the wall clock. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// StartSession resets all per-driver state of the session. Calling it again for
// a running session starts it over.
func (m *Manager) StartSession(sessionID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, found := m.engines[sessionID]; found {
		e.Reset()
		return e
	}
	e := NewEngine(sessionID, m.cfg, m.recorder, m.now)
	m.engines[sessionID] = e
	log.Printf("session %s started\n", sessionID)
	return e
}

// EndSession stops tick acceptance for the session and releases its state.
func (m *Manager) EndSession(sessionID string) bool {
	m.mu.Lock()
	e, found := m.engines[sessionID]
	delete(m.engines, sessionID)
	m.mu.Unlock()
	if !found {
		return false
	}
	e.End()
	log.Printf("session %s ended\n", sessionID)
	return true
}

func (m *Manager) Engine(sessionID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.engines[sessionID]
	return e, found
}

func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) ProcessTelemetryTick(sessionID string, tick model.Tick) (*model.LapRecord, error) {
	e, found := m.Engine(sessionID)
	if !found {
		return nil, ErrSessionNotStarted
	}
	return e.ProcessTelemetryTick(tick)
}

func (m *Manager) ProcessStrategyUpdate(sessionID string, u model.StrategyUpdate) error {
	e, found := m.Engine(sessionID)
	if !found {
		return ErrSessionNotStarted
	}
	return e.ProcessStrategyUpdate(u)
}

func (m *Manager) DriverStrategy(sessionID, driverID string) (model.StrategySnapshot, error) {
	e, found := m.Engine(sessionID)
	if !found {
		return model.StrategySnapshot{}, ErrSessionNotStarted
	}
	snap, found := e.DriverStrategy(driverID)
	if !found {
		return snap, ErrUnknownDriver
	}
	return snap, nil
}

func (m *Manager) snapshotEngines() []*Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	es := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		es = append(es, e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].sessionID < es[j].sessionID })
	return es
}

// BroadcastAll publishes one strategy event per active session and returns how many were sent.
func (m *Manager) BroadcastAll() int {
	sent := 0
	for _, e := range m.snapshotEngines() {
		b, ok := e.BroadcastUpdate()
		if !ok {
			continue
		}
		if m.publisher != nil {
			m.publisher.PublishStrategy(b)
		}
		sent++
	}
	return sent
}

// SweepAll releases silent drivers in every session.
func (m *Manager) SweepAll(t time.Time) {
	for _, e := range m.snapshotEngines() {
		if released := e.Sweep(t); len(released) > 0 {
			log.Printf("session %s: released silent drivers %v\n", e.sessionID, released)
		}
	}
}

// Run drives the low frequency analytics path until ctx is done.
func (m *Manager) Run(ctx context.Context, ticker *time.Ticker) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				m.BroadcastAll()
				m.SweepAll(t)
			}
		}
	}()
}
