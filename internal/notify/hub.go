package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Hub is a WebSocket-backed conduit. A user may have several browser tabs
// connected at once; events fan out to all of them. Users with no open
// socket simply miss the push (the REST response still carries the
// rejection), so delivery is best-effort by design of the boundary.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection for a user tab. A stale connection under the
// same tab id is closed and replaced.
func (h *Hub) Register(userID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[userID]; !exists {
		h.conns[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := h.conns[userID][tabID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.conns[userID][tabID] = conn
	slog.Info("Notification socket registered", "user_id", userID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the active one for the
// tab, so a stale unregister cannot drop a newer socket.
func (h *Hub) Unregister(userID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.conns[userID]
	if !ok {
		return
	}
	if current, exists := tabs[tabID]; exists && current == conn {
		delete(tabs, tabID)
		if len(tabs) == 0 {
			delete(h.conns, userID)
		}
		slog.Info("Notification socket unregistered", "user_id", userID, "tab_id", tabID)
	}
}

// Active returns the current connection for a user tab, or nil.
func (h *Hub) Active(userID, tabID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[userID][tabID]
}

// CloseUser terminates every connection for a user, for logout teardown.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.conns[userID]
	if !ok {
		return
	}
	for tabID, conn := range tabs {
		_ = conn.Close(websocket.StatusNormalClosure, "logged out")
		slog.Info("Notification socket closed", "user_id", userID, "tab_id", tabID)
	}
	delete(h.conns, userID)
}

// Publish delivers the event to every connected tab for the user.
func (h *Hub) Publish(userID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode notification event", "user_id", userID, "reason", event.Reason, "error", err)
		return
	}

	h.mu.RLock()
	tabs := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for _, conn := range h.conns[userID] {
		tabs = append(tabs, conn)
	}
	h.mu.RUnlock()

	for _, conn := range tabs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			slog.Debug("Notification write failed", "user_id", userID, "error", err)
		}
		cancel()
	}
}
