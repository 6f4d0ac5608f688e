package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"Thalos_Prime/backend/go/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

type subscriber struct {
	conn   *websocket.Conn
	taskID string // empty means every task
	mu     sync.Mutex
}

// ConnectionManager manages WebSocket subscribers and broadcasts task events to them.
type ConnectionManager struct {
	connections map[string]*subscriber
	mu          sync.RWMutex
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*subscriber),
	}
}

// Add registers a connection, optionally limited to one task, and returns its subscription id.
func (m *ConnectionManager) Add(conn *websocket.Conn, taskID string) string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[id] = &subscriber{conn: conn, taskID: taskID}
	return id
}

// Remove closes and forgets a subscription.
func (m *ConnectionManager) Remove(id string) {
	m.mu.Lock()
	sub, ok := m.connections[id]
	delete(m.connections, id)
	m.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

// Count returns the number of live subscriptions.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Notify sends event to every matching subscriber. Subscribers whose write
// fails are dropped; that is not reported as an error.
func (m *ConnectionManager) Notify(ctx context.Context, event models.TaskEvent) error {
	message, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}

	m.mu.RLock()
	targets := make(map[string]*subscriber, len(m.connections))
	for id, sub := range m.connections {
		if sub.taskID == "" || sub.taskID == event.TaskID {
			targets[id] = sub
		}
	}
	m.mu.RUnlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for id, sub := range targets {
		if !sub.send(message, deadline) {
			m.Remove(id)
		}
	}
	return nil
}

// CloseAll closes every subscription.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	subs := m.connections
	m.connections = make(map[string]*subscriber)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.mu.Lock()
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		sub.mu.Unlock()
		sub.conn.Close()
	}
}

func (s *subscriber) send(message []byte, deadline time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return false
	}
	return s.conn.WriteMessage(websocket.TextMessage, message) == nil
}
