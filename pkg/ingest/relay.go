package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pitwall/pkg/pubsub"
)

// Relay pulls capture agent messages from an upstream websocket instead of
// waiting for the agent to connect. It reconnects on every sync tick while
// disconnected.
type Relay struct {
	ctx        context.Context
	url        string
	dispatcher *Dispatcher
	idle       time.Duration

	mu      sync.Mutex
	running bool
}

func NewRelay(ctx context.Context, url string, dispatcher *Dispatcher, idle time.Duration) *Relay {
	return &Relay{
		ctx:        ctx,
		url:        url,
		dispatcher: dispatcher,
		idle:       idle,
	}
}

func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Relay) Sync(ticker *time.Ticker, exitChan <-chan bool) {
	go r.connect()
	go func() {
		for {
			select {
			case <-exitChan:
				return
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				go r.connect()
			}
		}
	}()
}

func (r *Relay) connect() {
	if err := r.WebSocketReader(); err != nil {
		log.Printf("relay %s: %s\n", r.url, err)
	}
}

// WebSocketReader reads the upstream until the connection fails. It returns
// immediately when a reader is already running.
func (r *Relay) WebSocketReader() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	dialer := &websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	c, _, err := dialer.DialContext(r.ctx, r.url, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	log.Printf("relay: connected to %s\n", r.url)

	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	doneErr := make(chan error, 1)
	messageChan := make(chan Message)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		r.dispatcher.Run(ctx, messageChan, doneErr, r.idle)
	}()
	defer func() { <-finished }()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			doneErr <- err
			return err
		}
		m, err := DecodeMessage(data)
		if err != nil {
			r.dispatcher.hub.RecordDrop(pubsub.DropParse)
			continue
		}
		select {
		case messageChan <- m:
		case <-finished:
			return ctx.Err()
		}
	}
}
