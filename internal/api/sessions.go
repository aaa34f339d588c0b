package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/identity"
)

// SessionHandler handles chat session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Open)
		r.Delete("/{agent}", h.Close)
		r.Patch("/{agent}", h.Minimize)
	})
}

type openSessionRequest struct {
	Agent string `json:"agent"`
}

// Open opens (or returns) the user's session with an agent.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agentID, err := domain.ParseAgentID(req.Agent)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	session, rejection := h.orch.OpenSession(r.Context(), userID, agentID)
	if rejection != nil {
		JSON(w, rejectionStatus(string(rejection.Reason)), rejection)
		return
	}
	JSON(w, http.StatusOK, session)
}

// List returns the user's open sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.orch.Sessions(userID),
	})
}

// Close closes the user's session with an agent. Always succeeds.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	agentID, err := domain.ParseAgentID(chi.URLParam(r, "agent"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.orch.CloseSession(r.Context(), userID, agentID)
	JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type minimizeRequest struct {
	Minimized bool `json:"minimized"`
}

// Minimize toggles the minimize flag on an open session.
func (h *SessionHandler) Minimize(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	agentID, err := domain.ParseAgentID(chi.URLParam(r, "agent"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req minimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.orch.SetMinimized(userID, agentID, req.Minimized); err != nil {
		Error(w, http.StatusNotFound, "session not open")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"minimized": req.Minimized})
}
