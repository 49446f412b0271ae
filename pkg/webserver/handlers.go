package webserver

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"pitwall/pkg/strategy"
)

func (m *Manager) sessionsHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"active":  m.hub.ActiveSessions(),
			"rooms":   m.hub.Rooms(),
			"engines": m.strategies.Sessions(),
		})
	}
}

func (m *Manager) strategyHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		e, found := m.strategies.Engine(mux.Vars(r)["id"])
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": strategy.ErrSessionNotStarted.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": e.SessionID(),
			"phase":     e.Phase(),
			"drivers":   e.Snapshots(),
		})
	}
}

func (m *Manager) strategyTextHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		e, found := m.strategies.Engine(mux.Vars(r)["id"])
		if !found {
			http.Error(w, strategy.ErrSessionNotStarted.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(strategy.RenderTable(e.SessionID(), e.Snapshots())))
	}
}

func (m *Manager) statsHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"hub":    m.hub.Stats(),
			"ingest": m.dispatcher.Stats(),
		}
		lapStats := map[string]any{}
		for _, id := range m.strategies.Sessions() {
			if e, found := m.strategies.Engine(id); found {
				lapStats[id] = e.LapStats()
			}
		}
		out["laps"] = lapStats
		for name, f := range m.stats {
			out[name] = f()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webserver: encode response: %s\n", err)
	}
}
