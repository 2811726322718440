package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *realtime.Hub, worldID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(worldID) == n },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsToWorldSubscribersOnly(t *testing.T) {
	hub := realtime.NewHub(nil, zap.NewNop())
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	river := dial(t, srv, "world_id=river&user_id=alice")
	other := dial(t, srv, "world_id=desert&user_id=bob")
	waitForSubscribers(t, hub, "river", 1)
	waitForSubscribers(t, hub, "desert", 1)

	require.NoError(t, hub.NotifyTurnCommitted(context.Background(), models.TurnCommitted{
		WorldID: "river", TurnID: "t1", Version: 3, Narration: "Rain.",
	}))

	_ = river.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := river.ReadMessage()
	require.NoError(t, err)
	var msg realtime.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, realtime.MessageTypeTurnCommitted, msg.Type)
	assert.Equal(t, "t1", msg.Payload.TurnID)
	assert.Equal(t, int64(3), msg.Payload.Version)

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "subscriber of another world must not receive the frame")
}

func TestHub_UnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub(nil, zap.NewNop())
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, srv, "world_id=river")
	waitForSubscribers(t, hub, "river", 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	waitForSubscribers(t, hub, "river", 0)

	assert.NoError(t, hub.NotifyTurnCommitted(context.Background(), models.TurnCommitted{WorldID: "river"}))
}

func TestHub_RejectsInvalidWorldID(t *testing.T) {
	hub := realtime.NewHub(nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?world_id=" + "..%2Fetc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_ChecksOrigin(t *testing.T) {
	hub := realtime.NewHub([]string{"https://play.example.com"}, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?world_id=river"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://play.example.com"}})
	require.NoError(t, err)
	_ = conn.Close()
}
