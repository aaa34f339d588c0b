package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foremanlabs/crewdesk/internal/identity"
)

// ChatHandler handles the message-send endpoint.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.Send)
}

type chatRequest struct {
	Text string `json:"text"`
}

// Send routes the message to an agent and returns the reply, or the
// structured rejection event with an appropriate status.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	result, rejection := h.orch.SendMessage(r.Context(), userID, req.Text)
	if rejection != nil {
		JSON(w, rejectionStatus(string(rejection.Reason)), rejection)
		return
	}
	JSON(w, http.StatusOK, result)
}
