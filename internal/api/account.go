package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foremanlabs/crewdesk/internal/identity"
	"github.com/foremanlabs/crewdesk/internal/notify"
)

// AccountHandler handles quota and logout endpoints.
type AccountHandler struct {
	*Handler
	hub *notify.Hub
}

// NewAccountHandler creates an account handler. hub may be nil when no
// push channel is configured.
func NewAccountHandler(base *Handler, hub *notify.Hub) *AccountHandler {
	return &AccountHandler{Handler: base, hub: hub}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/quota", h.Quota)
	r.Post("/api/logout", h.Logout)
}

// Quota returns the user's current usage against their tier limits.
func (h *AccountHandler) Quota(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, h.orch.QuotaView(r.Context(), userID))
}

// Logout tears down the user's process-wide state: sessions, executions,
// and notification sockets.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.orch.Logout(r.Context(), userID)
	if h.hub != nil {
		h.hub.CloseUser(userID)
	}
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			status["checks"].(map[string]string)["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			status["checks"].(map[string]string)["database"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}
