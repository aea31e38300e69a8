package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/domain"
	"github.com/alanyoungcy/tradegate/internal/engine"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubStreamsDecisions(t *testing.T) {
	hub := NewHub(nil, func() domain.EngineStatus {
		return domain.EngineStatus{Mode: "full", Tick: 3}
	}, nil, quiet())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status.Type)
	var st domain.EngineStatus
	require.NoError(t, json.Unmarshal(status.Payload, &st))
	assert.Equal(t, uint64(3), st.Tick)
	assert.Equal(t, 1, hub.Clients())

	hub.OnDecision(context.Background(), engine.Event{Decision: domain.Decision{ID: "d-1", Asset: "BTC", Outcome: domain.OutcomeNone}})

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelDecisions, env.Type)
	var d domain.Decision
	require.NoError(t, json.Unmarshal(env.Payload, &d))
	assert.Equal(t, "d-1", d.ID)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelDecisions: true}}
	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelLimits}})
	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelDecisions}})
	c.apply(subscribeMsg{Action: "bogus", Channels: []string{"x"}})

	assert.True(t, c.subscribed(domain.ChannelLimits))
	assert.False(t, c.subscribed(domain.ChannelDecisions))
	assert.False(t, c.subscribed("x"))
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, originChecker(nil)(req("https://evil.example")))
	assert.True(t, originChecker([]string{"*"})(req("https://any.example")))

	check := originChecker([]string{"https://dash.example"})
	assert.True(t, check(req("https://dash.example")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example")))
}
