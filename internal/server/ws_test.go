package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidechat/tide/internal/auth"
	"github.com/tidechat/tide/internal/protocol"
)

func startWSServer(t *testing.T, server *Server) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(server.httpHandler(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readPump answers pings implicitly (gorilla handles control frames
// inside ReadJSON) and hands envelopes to the test.
func readPump(conn *websocket.Conn) <-chan protocol.Envelope {
	envs := make(chan protocol.Envelope, 32)
	go func() {
		defer close(envs)
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			envs <- env
		}
	}()
	return envs
}

func waitForEvent(t *testing.T, envs <-chan protocol.Envelope, eventType protocol.EventType) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-envs:
			if !ok {
				t.Fatalf("connection closed waiting for %s", eventType)
			}
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s within deadline", eventType)
		}
	}
}

func TestWSIdleConnectionOutlivesReadWindow(t *testing.T) {
	server := newTestServer(t)
	server.cfg.ReadTimeout = 200 * time.Millisecond
	server.cfg.MaxFrameBytes = 1 << 20

	ts := startWSServer(t, server)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(protocol.Envelope{
		ID:      "e1",
		Type:    protocol.EventAuth,
		Payload: protocol.AuthRequest{Guest: true},
	}))
	envs := readPump(conn)
	waitForEvent(t, envs, protocol.EventAuthOK)

	// Idle well past the read window; keepalive pings hold it open.
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, conn.WriteJSON(protocol.Envelope{
		ID:      "e2",
		Type:    protocol.EventJoinRoom,
		Payload: protocol.JoinRoom{Room: "general"},
	}))
	env := waitForEvent(t, envs, protocol.EventAck)
	var ack protocol.Ack
	require.NoError(t, protocol.DecodePayload(env.Payload, &ack))
	assert.True(t, ack.Success, "connection survived the idle window")
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	ts := startWSServer(t, server)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestUsersAndStatsEndpoints(t *testing.T) {
	server := newTestServer(t)
	ts := startWSServer(t, server)

	_, err := server.core.Connect("conn-1", auth.Identity{Username: "alice"}, newOutbox())
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	var users struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	assert.Equal(t, []string{"alice"}, users.Users)
	assert.Equal(t, 1, users.Count)

	resp, err = http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats struct {
		Users int            `json:"users"`
		Rooms map[string]int `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Users)
	assert.Contains(t, stats.Rooms, "general")
}
