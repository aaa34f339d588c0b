//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/foremanlabs/crewdesk/internal/orchestrator"
	"github.com/foremanlabs/crewdesk/internal/store"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	orch *orchestrator.Orchestrator
	repo store.Repository
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(orch *orchestrator.Orchestrator, repo store.Repository) *Handler {
	return &Handler{orch: orch, repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// rejectionStatus maps a refusal to an HTTP status. Quota and gating
// refusals are expected outcomes, not server errors.
func rejectionStatus(reason string) int {
	switch reason {
	case "backend_unavailable":
		return http.StatusBadGateway
	case "agent_gated":
		return http.StatusForbidden
	case "session_not_open":
		return http.StatusConflict
	default:
		return http.StatusTooManyRequests
	}
}
