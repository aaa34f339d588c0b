package notify

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/foremanlabs/crewdesk/internal/identity"
)

// WebSocketHandler upgrades notification connections and keeps them
// registered with the hub until the client goes away.
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a notification socket handler.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP handles GET /ws/notifications.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tabID := identity.TabIDFromContext(r.Context())

	opts := &websocket.AcceptOptions{}
	if h.isDev {
		opts.InsecureSkipVerify = true
	} else if h.allowedOrigin != "" {
		opts.OriginPatterns = []string{originHost(h.allowedOrigin)}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Debug("Notification socket accept failed", "user_id", userID, "error", err)
		return
	}

	h.hub.Register(userID, tabID, conn)
	defer h.hub.Unregister(userID, tabID, conn)

	// The socket is push-only; the read loop exists to notice the close.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func originHost(origin string) string {
	origin = strings.TrimPrefix(origin, "https://")
	origin = strings.TrimPrefix(origin, "http://")
	return strings.TrimSuffix(origin, "/")
}
