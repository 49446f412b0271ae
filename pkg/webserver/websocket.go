package webserver

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pitwall/pkg/caster"
	"pitwall/pkg/hub"
	"pitwall/pkg/ingest"
	"pitwall/pkg/pubsub"
)

const writeWait = 10 * time.Second

// clientMessage is a room protocol request. The session id may come at the top
// level or inside the body.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Body      struct {
		SessionID string `json:"sessionId"`
	} `json:"body"`
}

func (cm clientMessage) sessionID() string {
	if cm.SessionID != "" {
		return cm.SessionID
	}
	return cm.Body.SessionID
}

func (m *Manager) authorized(r *http.Request, role hub.Role) bool {
	if role != hub.RoleTeam || m.teamToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.teamToken)) == 1
}

func (m *Manager) viewerHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := hub.ParseRole(r.URL.Query().Get("role"))
		if !ok {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}
		if !m.authorized(r, role) {
			m.hub.RecordDrop(pubsub.DropAuth)
			http.Error(w, "team token required", http.StatusUnauthorized)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Print("upgrade:", err)
			return
		}
		defer c.Close()
		_ = c.SetReadDeadline(time.Time{})

		client := m.hub.Connect(role)
		defer m.hub.Disconnect(client)

		done := make(chan struct{})
		defer close(done)
		go writeEvents(c, client, done)

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Println("read:", err)
				}
				return
			}
			cm, err := caster.JSONChannelCaster[clientMessage]{}.From(data)
			if err != nil {
				m.hub.RecordDrop(pubsub.DropParse)
				m.hub.Send(client, hub.TypeError, hub.Error{Message: "malformed message"})
				continue
			}
			m.handleClientMessage(client, cm)
		}
	}
}

func (m *Manager) handleClientMessage(client *hub.Client, cm clientMessage) {
	sessionID := cm.sessionID()
	switch {
	case sessionID == "" && (cm.Type == hub.TypeRoomJoin || cm.Type == hub.TypeRoomLeave):
		m.hub.Send(client, hub.TypeError, hub.Error{Message: "sessionId required"})
	case cm.Type == hub.TypeRoomJoin:
		m.hub.Join(client, sessionID)
	case cm.Type == hub.TypeRoomLeave:
		m.hub.Leave(client, sessionID)
	default:
		m.hub.RecordDrop(pubsub.DropParse)
		m.hub.Send(client, hub.TypeError, hub.Error{Message: "unknown message type " + cm.Type})
	}
}

// writeEvents is the only writer of the connection.
func writeEvents(c *websocket.Conn, client *hub.Client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env := <-client.Out():
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(env); err != nil {
				log.Println("write:", err)
				c.Close()
				return
			}
		}
	}
}

func (m *Manager) ingestHandler() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Print("upgrade:", err)
			return
		}
		defer c.Close()
		_ = c.SetReadDeadline(time.Time{})
		log.Printf("ingest: capture agent connected from %s\n", r.RemoteAddr)

		doneErr := make(chan error, 1)
		messageChan := make(chan ingest.Message)
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			m.dispatcher.Run(r.Context(), messageChan, doneErr, m.ingestIdle)
		}()
		defer func() { <-finished }()

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Println("ingest read:", err)
				}
				doneErr <- err
				return
			}
			msg, err := ingest.DecodeMessage(data)
			if err != nil {
				m.hub.RecordDrop(pubsub.DropParse)
				continue
			}
			select {
			case messageChan <- msg:
			case <-finished:
				return
			}
		}
	}
}

