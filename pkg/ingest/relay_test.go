package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"pitwall/pkg/pubsub"
)

func TestRelayReadsUpstream(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":`))
		_ = c.WriteJSON(Message{MessageType: mtSessionStart, SessionID: "s1", Body: []byte(`{"trackName": "Spa"}`)})
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := NewRelay(ctx, "ws"+strings.TrimPrefix(upstream.URL, "http"), f.dispatcher, time.Second)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	exit := make(chan bool)
	defer close(exit)
	relay.Sync(ticker, exit)

	assert.Eventually(t, func() bool {
		_, found := f.manager.Engine("s1")
		return found
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, relay.Running())
	assert.Equal(t, uint64(1), f.hub.Stats().Dropped[pubsub.DropParse], "truncated frame is dropped, not fatal")

	// a second reader is not started while connected
	assert.NoError(t, relay.WebSocketReader())

	cancel()
	assert.Eventually(t, func() bool { return !relay.Running() }, 2*time.Second, 10*time.Millisecond)
}

func TestRelayDialFailure(t *testing.T) {
	f := newFixture()
	relay := NewRelay(context.Background(), "ws://127.0.0.1:1/agent", f.dispatcher, time.Second)
	assert.Error(t, relay.WebSocketReader())
	assert.False(t, relay.Running())
}
