// Package webserver exposes the viewer and ingest websockets and a small REST
// surface over the live session state.
package webserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"pitwall/pkg/hub"
	"pitwall/pkg/ingest"
	"pitwall/pkg/strategy"
)

var upgrader = websocket.Upgrader{} // use default options

type Manager struct {
	r          *mux.Router
	addr       string
	teamToken  string
	ingestIdle time.Duration

	hub        *hub.Hub
	strategies *strategy.Manager
	dispatcher *ingest.Dispatcher
	stats      map[string]func() any
}

func NewManager(addr string, h *hub.Hub, strategies *strategy.Manager, dispatcher *ingest.Dispatcher) *Manager {
	m := &Manager{
		r:          mux.NewRouter(),
		addr:       addr,
		ingestIdle: 5 * time.Second,
		hub:        h,
		strategies: strategies,
		dispatcher: dispatcher,
		stats:      make(map[string]func() any),
	}

	m.rootHandlers()
	return m
}

// WithTeamToken requires token for team role viewers. An empty token admits every team viewer.
func (m *Manager) WithTeamToken(token string) *Manager {
	m.teamToken = token
	return m
}

func (m *Manager) WithIngestIdle(d time.Duration) *Manager {
	if d > 0 {
		m.ingestIdle = d
	}
	return m
}

// WithStats adds a named section to /debug/stats.
func (m *Manager) WithStats(name string, f func() any) *Manager {
	m.stats[name] = f
	return m
}

func (m *Manager) Router() *mux.Router {
	return m.r
}

func (m *Manager) rootHandlers() {
	m.r.HandleFunc("/ws", m.viewerHandler())
	m.r.HandleFunc("/ingest", m.ingestHandler())
	m.r.HandleFunc("/sessions", m.sessionsHandler()).Methods(http.MethodGet)
	m.r.HandleFunc("/sessions/{id}/strategy", m.strategyHandler()).Methods(http.MethodGet)
	m.r.HandleFunc("/sessions/{id}/strategy.txt", m.strategyTextHandler()).Methods(http.MethodGet)
	m.r.HandleFunc("/debug/stats", m.statsHandler()).Methods(http.MethodGet)
}

func (m *Manager) Debug() {
	_ = m.r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err == nil {
			fmt.Println("ROUTE:", pathTemplate)
		}
		methods, err := route.GetMethods()
		if err == nil {
			fmt.Println("Methods:", strings.Join(methods, ","))
		}
		fmt.Println()
		return nil
	})
}

// Serve listens until ctx is done, then shuts the server down gracefully.
func (m *Manager) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         m.addr,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      m.r,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("webserver listening on %s\n", m.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "webserver")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	log.Println("webserver shutting down")
	return errors.Wrap(err, "webserver shutdown")
}
