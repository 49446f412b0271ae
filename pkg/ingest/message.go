package ingest

import (
	"encoding/json"

	"pitwall/pkg/caster"
	"pitwall/pkg/model"
)

// Message types sent by the capture agent.
const (
	mtSessionStart = "session_start"
	mtSessionEnd   = "session_end"
	mtTelemetry    = "telemetry"
	mtStrategy     = "strategy"
	mtRaceEvent    = "race_event"
	mtIncident     = "incident"
)

type Message struct {
	MessageType string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	Timestamp   int64           `json:"timestamp"`
	Body        json.RawMessage `json:"body,omitempty"`
}

type SessionStart struct {
	TrackName   string `json:"trackName"`
	SessionType string `json:"sessionType"`
}

type Telemetry struct {
	SessionTimeMs float64      `json:"sessionTimeMs"`
	Cars          []model.Tick `json:"cars"`
}

type Strategy struct {
	SessionTimeMs float64                `json:"sessionTimeMs"`
	Cars          []model.StrategyUpdate `json:"cars"`
}

type RaceEvent struct {
	FlagState    string             `json:"flagState"`
	SessionPhase model.SessionPhase `json:"sessionPhase"`
	Lap          int                `json:"lap"`
}

// DecodeMessage decodes one websocket frame. Every failure, including an
// empty or truncated frame, is a malformed message rather than a broken connection.
func DecodeMessage(data []byte) (Message, error) {
	return caster.JSONChannelCaster[Message]{}.From(data)
}
