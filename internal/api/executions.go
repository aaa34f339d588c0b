package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/identity"
)

// ExecutionHandler handles long-execution endpoints.
type ExecutionHandler struct {
	*Handler
}

// NewExecutionHandler creates an execution handler.
func NewExecutionHandler(base *Handler) *ExecutionHandler {
	return &ExecutionHandler{Handler: base}
}

// RegisterRoutes registers execution routes.
func (h *ExecutionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/executions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Delete("/{id}", h.Cancel)
	})
}

type startExecutionRequest struct {
	Agent               string `json:"agent"`
	Query               string `json:"query"`
	EstimatedDurationMs int64  `json:"estimated_duration_ms"`
}

const defaultExecutionEstimate = 2 * time.Minute

// Start admits and starts a long-running execution.
func (h *ExecutionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agentID, err := domain.ParseAgentID(req.Agent)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}
	estimate := time.Duration(req.EstimatedDurationMs) * time.Millisecond
	if estimate <= 0 {
		estimate = defaultExecutionEstimate
	}

	session, rejection := h.orch.StartExecution(r.Context(), userID, agentID, req.Query, estimate)
	if rejection != nil {
		JSON(w, rejectionStatus(string(rejection.Reason)), rejection)
		return
	}
	JSON(w, http.StatusAccepted, session)
}

// Cancel releases an execution as cancelled. Unknown ids are a no-op
// success for idempotency.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.orch.CancelExecution(userID, chi.URLParam(r, "id"))
	JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
