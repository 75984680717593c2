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

	"github.com/kr1s57/tkguard/internal/entity"
)

func startHub(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), origins...)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_PublishVerdict(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	hub.PublishVerdict(entity.Verdict{
		Action:   entity.VerdictWarn,
		Reason:   entity.ReasonWithinTolerance,
		PlayerID: "p1",
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "verdict", msg["type"])
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, "p1", payload["player_id"])
	assert.Equal(t, "warn", payload["action"])
}

func TestHub_TopicSubscription(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "topic": TopicVerdicts}))
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "topic": TopicBans}))

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.isSubscribed(TopicBans) && !c.isSubscribed(TopicVerdicts)
		}
		return false
	}, time.Second, 10*time.Millisecond)

	hub.PublishVerdict(entity.Verdict{Action: entity.VerdictWarn, PlayerID: "p1"})
	hub.PublishVerdict(entity.Verdict{Action: entity.VerdictBan, PlayerID: "p2"})

	msg := readMessage(t, conn)
	assert.Equal(t, "ban", msg["type"])
	assert.Equal(t, "p2", msg["payload"].(map[string]interface{})["player_id"])
}

func TestHub_Disconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, "https://admin.example.org")

	header := http.Header{"Origin": []string{"https://elsewhere.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://admin.example.org")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
