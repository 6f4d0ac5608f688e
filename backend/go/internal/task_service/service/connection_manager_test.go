package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Thalos_Prime/backend/go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriptionServer(t *testing.T, m *ConnectionManager) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Add(conn, r.URL.Query().Get("task_id"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.TaskEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event models.TaskEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestConnectionManager_BroadcastsAndFilters(t *testing.T) {
	m := NewConnectionManager()
	srv := newSubscriptionServer(t, m)

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "task_id=b")
	require.Eventually(t, func() bool { return m.Count() == 2 }, time.Second, 5*time.Millisecond)

	a := models.Task{ID: "a", Intent: "hello", Status: models.TaskStatusPending}
	b := models.Task{ID: "b", Intent: "analyze", Status: models.TaskStatusRunning}
	require.NoError(t, m.Notify(context.Background(), models.NewTaskEvent(a, "task submitted")))
	require.NoError(t, m.Notify(context.Background(), models.NewTaskEvent(b, "task started")))

	first := readEvent(t, all)
	second := readEvent(t, all)
	assert.Equal(t, "a", first.TaskID)
	assert.Equal(t, models.TaskStatusPending, first.Status)
	assert.Equal(t, "b", second.TaskID)

	got := readEvent(t, onlyB)
	assert.Equal(t, "b", got.TaskID)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
	assert.Equal(t, "task started", got.Message)
}

func TestConnectionManager_DropsBrokenSubscribers(t *testing.T) {
	m := NewConnectionManager()
	srv := newSubscriptionServer(t, m)

	dial(t, srv, "")
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)

	m.mu.RLock()
	for _, sub := range m.connections {
		sub.conn.Close()
	}
	m.mu.RUnlock()

	event := models.NewTaskEvent(models.Task{ID: "x", Status: models.TaskStatusPending}, "task submitted")
	require.NoError(t, m.Notify(context.Background(), event))
	assert.Equal(t, 0, m.Count())
}

func TestConnectionManager_CloseAll(t *testing.T) {
	m := NewConnectionManager()
	srv := newSubscriptionServer(t, m)

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)

	m.CloseAll()
	assert.Equal(t, 0, m.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
