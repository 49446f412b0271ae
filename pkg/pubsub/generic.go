// Package pubsub fans messages out to subscriber channels grouped by topic.
//
// Publish never blocks: a message that does not fit in a subscriber's channel
// is dropped for that subscriber and counted. Subscriber channels belong to the
// caller and are never closed by the PubSub.
package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"
)

type DropReason string

const (
	DropAuth         DropReason = "auth"
	DropParse        DropReason = "parse"
	DropRateLimit    DropReason = "rate_limit"
	DropBackpressure DropReason = "backpressure"
)

var dropReasons = []DropReason{DropAuth, DropParse, DropRateLimit, DropBackpressure}

var (
	ErrSubscriberExists   = errors.New("subscriber already registered on topic")
	ErrSubscriberNotFound = errors.New("subscriber not found on topic")
	ErrNilChannel         = errors.New("subscriber channel cannot be nil")
)

// Gate filters messages per subscriber. It returns false with a reason to drop.
type Gate[T any] func(msg T) (bool, DropReason)

type subscriber[T any] struct {
	ch      chan<- T
	gate    Gate[T]
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type PubSub[T any] struct {
	mu   sync.Mutex
	subs map[string]map[string]*subscriber[T]

	published atomic.Uint64
	sent      atomic.Uint64
	drops     map[DropReason]*atomic.Uint64
}

func NewPubSub[T any]() *PubSub[T] {
	drops := make(map[DropReason]*atomic.Uint64, len(dropReasons))
	for _, r := range dropReasons {
		drops[r] = &atomic.Uint64{}
	}
	return &PubSub[T]{
		subs:  make(map[string]map[string]*subscriber[T]),
		drops: drops,
	}
}

// Subscribe registers ch on topic. The preamble messages are queued on ch before
// the subscription becomes visible to Publish, so no published message can
// overtake them.
func (ps *PubSub[T]) Subscribe(topic, id string, ch chan<- T, gate Gate[T], preamble ...T) error {
	if ch == nil {
		return ErrNilChannel
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs, found := ps.subs[topic]
	if !found {
		subs = make(map[string]*subscriber[T])
		ps.subs[topic] = subs
	}
	if _, exists := subs[id]; exists {
		return ErrSubscriberExists
	}
	s := &subscriber[T]{ch: ch, gate: gate}
	for _, msg := range preamble {
		ps.deliver(s, msg)
	}
	subs[id] = s
	return nil
}

// Do runs f while holding the publish lock, so f can enqueue messages on a
// subscriber channel without interleaving with Publish.
func (ps *PubSub[T]) Do(f func()) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	f()
}

func (ps *PubSub[T]) Unsubscribe(topic, id string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	subs, found := ps.subs[topic]
	if !found {
		return ErrSubscriberNotFound
	}
	if _, exists := subs[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(ps.subs, topic)
	}
	return nil
}

// UnsubscribeAll removes id from every topic and returns the topics it left.
func (ps *PubSub[T]) UnsubscribeAll(id string) []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	var left []string
	for topic, subs := range ps.subs {
		if _, exists := subs[id]; exists {
			delete(subs, id)
			left = append(left, topic)
			if len(subs) == 0 {
				delete(ps.subs, topic)
			}
		}
	}
	return left
}

func (ps *PubSub[T]) Subscribed(topic, id string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, found := ps.subs[topic][id]
	return found
}

func (ps *PubSub[T]) Subscribers(topic string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.subs[topic])
}

// Publish delivers msg to every subscriber of topic and returns how many received it.
// Messages of one topic reach each subscriber in publish order.
func (ps *PubSub[T]) Publish(topic string, msg T) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.published.Add(1)
	delivered := 0
	for _, s := range ps.subs[topic] {
		if s.gate != nil {
			if ok, reason := s.gate(msg); !ok {
				ps.drop(s, reason)
				continue
			}
		}
		if ps.deliver(s, msg) {
			delivered++
		}
	}
	return delivered
}

// Record counts a message dropped before it reached the bus.
func (ps *PubSub[T]) Record(reason DropReason) {
	if c, found := ps.drops[reason]; found {
		c.Add(1)
	}
}

func (ps *PubSub[T]) deliver(s *subscriber[T], msg T) bool {
	select {
	case s.ch <- msg:
		s.sent.Add(1)
		ps.sent.Add(1)
		return true
	default:
		ps.drop(s, DropBackpressure)
		return false
	}
}

func (ps *PubSub[T]) drop(s *subscriber[T], reason DropReason) {
	s.dropped.Add(1)
	ps.Record(reason)
}

type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type Stats struct {
	Published   uint64                     `json:"published"`
	Sent        uint64                     `json:"sent"`
	Dropped     map[DropReason]uint64      `json:"dropped"`
	Topics      int                        `json:"topics"`
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

func (s Stats) TotalDropped() uint64 {
	var total uint64
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

func (ps *PubSub[T]) Stats() Stats {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	st := Stats{
		Published:   ps.published.Load(),
		Sent:        ps.sent.Load(),
		Dropped:     make(map[DropReason]uint64, len(ps.drops)),
		Topics:      len(ps.subs),
		Subscribers: make(map[string]SubscriberStats),
	}
	for r, c := range ps.drops {
		st.Dropped[r] = c.Load()
	}
	for _, subs := range ps.subs {
		for id, s := range subs {
			cur := st.Subscribers[id]
			cur.Sent += s.sent.Load()
			cur.Dropped += s.dropped.Load()
			st.Subscribers[id] = cur
		}
	}
	return st
}
