// Package hub distributes derived race state to viewers through session rooms.
//
// Every session has a room. A client joining a room first receives the current
// session state, the last strategy broadcast and the broadcast delay, then
// room:joined, and after that only incremental events. Viewer roles other than
// team receive high frequency events at a reduced rate.
package hub

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitwall/pkg/model"
	"pitwall/pkg/pubsub"
)

// Server to client event types.
const (
	TypeSessionActive  = "session:active"
	TypeSessionState   = "session:state"
	TypeBroadcastDelay = "broadcast:delay"
	TypeRoomJoined     = "room:joined"
	TypeStrategyUpdate = "strategy:update"
	TypeIncident       = "incident:classified"
	TypeError          = "error"
)

// Client to server message types.
const (
	TypeRoomJoin  = "room:join"
	TypeRoomLeave = "room:leave"
)

type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Body      any    `json:"body,omitempty"`
}

type SessionActive struct {
	SessionID   string `json:"sessionId"`
	TrackName   string `json:"trackName"`
	SessionType string `json:"sessionType"`
}

type BroadcastDelay struct {
	SessionID string `json:"sessionId"`
	DelayMs   int64  `json:"delayMs"`
}

type RoomJoined struct {
	SessionID string `json:"sessionId"`
}

type Error struct {
	Message string `json:"message"`
}

type Role string

const (
	RoleTeam      Role = "team"
	RoleBroadcast Role = "broadcast"
	RolePublic    Role = "public"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleTeam, RoleBroadcast, RolePublic:
		return Role(s), true
	case "":
		return RolePublic, true
	}
	return "", false
}

type Config struct {
	// StaleAfter hides sessions without updates from newly connecting clients.
	StaleAfter      time.Duration
	BroadcastRateHz float64
	PublicRateHz    float64
	ClientBuffer    int
	DefaultDelayMs  int64
}

func DefaultConfig() Config {
	return Config{
		StaleAfter:      30 * time.Second,
		BroadcastRateHz: 10,
		PublicRateHz:    5,
		ClientBuffer:    64,
	}
}

// highFrequency lists the event types subject to per role down-sampling.
var highFrequency = map[string]bool{
	TypeStrategyUpdate: true,
}

type Client struct {
	ID   string
	Role Role
	out  chan Envelope
}

// Out is the stream of events for the client connection writer.
func (c *Client) Out() <-chan Envelope {
	return c.out
}

type room struct {
	info         model.SessionInfo
	announced    bool // set by UpsertSession, rooms created by events alone stay hidden
	updatedAt    time.Time
	lastStrategy *model.StrategyBroadcast
	delayMs      int64
}

// RoomInfo describes a room for listings.
type RoomInfo struct {
	model.SessionInfo
	UpdatedAt   time.Time `json:"updatedAt"`
	Stale       bool      `json:"stale"`
	DelayMs     int64     `json:"delayMs"`
	Subscribers int       `json:"subscribers"`
}

type Hub struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	rooms   map[string]*room
	clients map[string]*Client
	bus     *pubsub.PubSub[Envelope]
}

func NewHub(cfg Config) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Hub{
		cfg:     cfg,
		now:     time.Now,
		rooms:   make(map[string]*room),
		clients: make(map[string]*Client),
		bus:     pubsub.NewPubSub[Envelope](),
	}
}

// WithClock replaces the wall clock. Used by tests.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
	return h
}

// Connect registers a client and queues session:active for every session
// updated within the staleness window.
func (h *Hub) Connect(role Role) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{
		ID:   uuid.NewString(),
		Role: role,
		out:  make(chan Envelope, h.cfg.ClientBuffer),
	}
	h.clients[c.ID] = c
	for _, r := range h.activeRooms() {
		h.push(c, Envelope{
			Type:      TypeSessionActive,
			SessionID: r.info.SessionID,
			Body:      SessionActive{SessionID: r.info.SessionID, TrackName: r.info.TrackName, SessionType: r.info.SessionType},
		})
	}
	return c
}

// Disconnect removes the client from every room.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bus.UnsubscribeAll(c.ID)
	delete(h.clients, c.ID)
}

// Join subscribes the client to the session room. Unknown sessions still
// answer room:joined, without state, and the client receives the state once
// the session appears. Joining twice only repeats room:joined.
func (h *Hub) Join(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined := Envelope{Type: TypeRoomJoined, SessionID: sessionID, Body: RoomJoined{SessionID: sessionID}}
	if h.bus.Subscribed(sessionID, c.ID) {
		h.bus.Do(func() { h.push(c, joined) })
		return
	}

	var preamble []Envelope
	if r, found := h.rooms[sessionID]; found {
		if r.announced {
			preamble = append(preamble, Envelope{Type: TypeSessionState, SessionID: sessionID, Body: r.info})
		}
		if r.lastStrategy != nil {
			preamble = append(preamble, Envelope{Type: TypeStrategyUpdate, SessionID: sessionID, Body: *r.lastStrategy})
		}
		preamble = append(preamble, Envelope{Type: TypeBroadcastDelay, SessionID: sessionID, Body: BroadcastDelay{SessionID: sessionID, DelayMs: r.delayMs}})
	}
	preamble = append(preamble, joined)

	if err := h.bus.Subscribe(sessionID, c.ID, c.out, h.gate(c.Role), preamble...); err != nil {
		log.Printf("hub: join %s for client %s: %s\n", sessionID, c.ID, err)
	}
}

// Send queues an event for a single client, such as a protocol error.
func (h *Hub) Send(c *Client, typ string, body any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bus.Do(func() { h.push(c, Envelope{Type: typ, Body: body}) })
}

// Leave stops delivery of the room to the client.
func (h *Hub) Leave(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.bus.Unsubscribe(sessionID, c.ID)
}

// UpsertSession creates or updates the session room and publishes its state.
func (h *Hub) UpsertSession(info model.SessionInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if info.Status == "" {
		info.Status = model.SessionActive
	}
	r, found := h.rooms[info.SessionID]
	if !found {
		r = &room{delayMs: h.cfg.DefaultDelayMs}
		h.rooms[info.SessionID] = r
	}
	r.info = info
	r.announced = true
	r.updatedAt = h.now()
	h.bus.Publish(info.SessionID, Envelope{Type: TypeSessionState, SessionID: info.SessionID, Body: info})
}

// EndSession marks the session ended. The room stays joinable until pruned.
func (h *Hub) EndSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, found := h.rooms[sessionID]
	if !found {
		return
	}
	r.info.Status = model.SessionEnded
	r.updatedAt = h.now()
	h.bus.Publish(sessionID, Envelope{Type: TypeSessionState, SessionID: sessionID, Body: r.info})
}

// Touch marks the session as updated without publishing anything.
func (h *Hub) Touch(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, found := h.rooms[sessionID]; found {
		r.updatedAt = h.now()
	}
}

func (h *Hub) SetBroadcastDelay(sessionID string, delayMs int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, found := h.rooms[sessionID]
	if !found {
		return false
	}
	r.delayMs = delayMs
	h.bus.Publish(sessionID, Envelope{Type: TypeBroadcastDelay, SessionID: sessionID, Body: BroadcastDelay{SessionID: sessionID, DelayMs: delayMs}})
	return true
}

// PublishStrategy stores the broadcast as the room snapshot and fans it out.
func (h *Hub) PublishStrategy(b model.StrategyBroadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomFor(b.SessionID)
	r.lastStrategy = &b
	r.updatedAt = h.now()
	h.bus.Publish(b.SessionID, Envelope{Type: TypeStrategyUpdate, SessionID: b.SessionID, Body: b})
}

// Publish fans an incremental event out to the session room.
func (h *Hub) Publish(sessionID, typ string, body any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomFor(sessionID)
	r.updatedAt = h.now()
	return h.bus.Publish(sessionID, Envelope{Type: typ, SessionID: sessionID, Body: body})
}

// ActiveSessions lists sessions updated within the staleness window.
func (h *Hub) ActiveSessions() []model.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs := h.activeRooms()
	out := make([]model.SessionInfo, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.info)
	}
	return out
}

func (h *Hub) Rooms() []RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	out := make([]RoomInfo, 0, len(h.rooms))
	for _, id := range h.roomIDs() {
		r := h.rooms[id]
		out = append(out, RoomInfo{
			SessionInfo: r.info,
			UpdatedAt:   r.updatedAt,
			Stale:       h.stale(r, now),
			DelayMs:     r.delayMs,
			Subscribers: h.bus.Subscribers(id),
		})
	}
	return out
}

// Prune drops ended or stale rooms nobody is watching.
func (h *Hub) Prune() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	var pruned []string
	for _, id := range h.roomIDs() {
		r := h.rooms[id]
		if h.bus.Subscribers(id) > 0 {
			continue
		}
		if r.info.Status == model.SessionEnded || h.stale(r, now) {
			delete(h.rooms, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// RecordDrop counts a message rejected before it reached a room.
func (h *Hub) RecordDrop(reason pubsub.DropReason) {
	h.bus.Record(reason)
}

type Stats struct {
	pubsub.Stats
	Clients int `json:"clients"`
	Rooms   int `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Stats:   h.bus.Stats(),
		Clients: len(h.clients),
		Rooms:   len(h.rooms),
	}
}

func (h *Hub) roomFor(sessionID string) *room {
	r, found := h.rooms[sessionID]
	if !found {
		r = &room{
			info:    model.SessionInfo{SessionID: sessionID, Status: model.SessionActive},
			delayMs: h.cfg.DefaultDelayMs,
		}
		h.rooms[sessionID] = r
	}
	return r
}

func (h *Hub) activeRooms() []*room {
	now := h.now()
	var out []*room
	for _, id := range h.roomIDs() {
		r := h.rooms[id]
		if r.announced && r.info.Status == model.SessionActive && !h.stale(r, now) {
			out = append(out, r)
		}
	}
	return out
}

func (h *Hub) stale(r *room, now time.Time) bool {
	return h.cfg.StaleAfter > 0 && now.Sub(r.updatedAt) > h.cfg.StaleAfter
}

func (h *Hub) roomIDs() []string {
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// push queues an event outside of any room subscription.
func (h *Hub) push(c *Client, env Envelope) {
	select {
	case c.out <- env:
	default:
		h.bus.Record(pubsub.DropBackpressure)
	}
}
