//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/foremanlabs/crewdesk/internal/admission"
	"github.com/foremanlabs/crewdesk/internal/backend"
	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/identity"
	"github.com/foremanlabs/crewdesk/internal/notify"
	"github.com/foremanlabs/crewdesk/internal/orchestrator"
	"github.com/foremanlabs/crewdesk/internal/registry"
	"github.com/foremanlabs/crewdesk/internal/router"
	"github.com/foremanlabs/crewdesk/internal/tier"
)

// newTestServer wires a full router around a real orchestrator with the
// stub backend, the way cmd/server does in production.
func newTestServer(t *testing.T, userTier string) *httptest.Server {
	return newTestServerWithTiers(t, tier.Load(), userTier)
}

func newTestServerWithTiers(t *testing.T, tiers *tier.Table, userTier string) *httptest.Server {
	t.Helper()

	orch := orchestrator.New(orchestrator.Config{
		Tiers:    tiers,
		TierOf:   identity.StaticTierProvider{Tier: userTier},
		Sessions: registry.New(nil),
		Execs:    admission.NewController(tiers.GlobalExecutionCeiling),
		Routes:   router.New(nil),
		Agents:   backend.NewStub(),
		Conduit:  &notify.LogConduit{},
	})

	base := NewHandler(orch, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewSessionHandler(base).RegisterRoutes(r)
	NewChatHandler(base).RegisterRoutes(r)
	NewExecutionHandler(base).RegisterRoutes(r)
	NewAccountHandler(base, nil).RegisterRoutes(r)
	NewHealthHandler(base).RegisterHealth(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func doRequest(t *testing.T, server *httptest.Server, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set(identity.UserHeaderName, "test-user")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestOpenSessionEndpoint(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	resp := doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"sam"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var session domain.ChatSession
	decodeBody(t, resp, &session)
	if session.AgentID != domain.AgentSam {
		t.Errorf("Expected sam session, got %s", session.AgentID)
	}
	if session.ID == "" {
		t.Error("Expected a session id")
	}
}

func TestOpenSessionGatedReturns403(t *testing.T) {
	server := newTestServer(t, tier.Starter)

	resp := doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"rex"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", resp.StatusCode)
	}

	var event notify.Event
	decodeBody(t, resp, &event)
	if event.Reason != notify.ReasonAgentGated {
		t.Errorf("Expected agent_gated, got %s", event.Reason)
	}
	if event.SuggestedUpgradeTier == "" {
		t.Error("Expected a suggested upgrade tier in the body")
	}
}

func TestOpenSessionUnknownAgent(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	resp := doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"nobody"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown agent, got %d", resp.StatusCode)
	}
}

func TestSessionLimitReturns429(t *testing.T) {
	// The built-in tiers gate agents before the session limit can bind,
	// so use a policy file with one ungated session slot.
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	policy := `policies:
  - tier: solo
    max_open_sessions: 1
    max_messages_per_session: 10
    max_concurrent_executions: 0
`
	if err := os.WriteFile(path, []byte(policy), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	tiers, err := tier.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	server := newTestServerWithTiers(t, tiers, "solo")

	resp := doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"sam"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	// A second session with a different agent exceeds the limit; the same
	// agent would be an idempotent reopen.
	resp = doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"alex"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", resp.StatusCode)
	}

	var event notify.Event
	decodeBody(t, resp, &event)
	if event.Reason != notify.ReasonSessionLimit {
		t.Errorf("Expected session_limit_exceeded, got %s", event.Reason)
	}
	if event.CurrentUsage != 1 || event.Limit != 1 {
		t.Errorf("Expected usage 1/1 in the body, got %d/%d", event.CurrentUsage, event.Limit)
	}
}

func TestChatEndpoint(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	resp := doRequest(t, server, http.MethodPost, "/api/chat", `{"text":"@sam hello there"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result orchestrator.ChatResult
	decodeBody(t, resp, &result)
	if result.AgentID != domain.AgentSam {
		t.Errorf("Expected sam, got %s", result.AgentID)
	}
	if result.Rule != router.RuleMention {
		t.Errorf("Expected mention routing, got %s", result.Rule)
	}
	if result.Reply.Content == "" {
		t.Error("Expected a reply")
	}
}

func TestChatEmptyTextRejected(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	resp := doRequest(t, server, http.MethodPost, "/api/chat", `{"text":"   "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestExecutionLifecycleEndpoints(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	resp := doRequest(t, server, http.MethodPost, "/api/executions",
		`{"agent":"rex","query":"research leads","estimated_duration_ms":60000}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var session domain.ExecutionSession
	decodeBody(t, resp, &session)
	if session.ID == "" {
		t.Fatal("Expected execution id")
	}

	resp = doRequest(t, server, http.MethodDelete, "/api/executions/"+session.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on cancel, got %d", resp.StatusCode)
	}

	// Cancelling again is a no-op success.
	resp = doRequest(t, server, http.MethodDelete, "/api/executions/"+session.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected idempotent cancel, got %d", resp.StatusCode)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	server := newTestServer(t, tier.Pro)

	doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"sam"}`)

	resp := doRequest(t, server, http.MethodGet, "/api/quota", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var view domain.UserQuotaView
	decodeBody(t, resp, &view)
	if view.Tier != tier.Pro {
		t.Errorf("Expected pro, got %q", view.Tier)
	}
	if view.OpenSessions != 1 {
		t.Errorf("Expected 1 open session, got %d", view.OpenSessions)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"sam"}`)
	resp := doRequest(t, server, http.MethodPost, "/api/logout", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	resp = doRequest(t, server, http.MethodGet, "/api/sessions", "")
	var body struct {
		Sessions []domain.ChatSession `json:"sessions"`
	}
	decodeBody(t, resp, &body)
	if len(body.Sessions) != 0 {
		t.Errorf("Expected no sessions after logout, got %d", len(body.Sessions))
	}
}

func TestMinimizeEndpoint(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	doRequest(t, server, http.MethodPost, "/api/sessions", `{"agent":"sam"}`)

	resp := doRequest(t, server, http.MethodPatch, "/api/sessions/sam", `{"minimized":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	// Minimizing a session that is not open returns 404.
	resp = doRequest(t, server, http.MethodPatch, "/api/sessions/alex", `{"minimized":true}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, tier.Growth)

	resp := doRequest(t, server, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var status map[string]interface{}
	decodeBody(t, resp, &status)
	if status["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", status["status"])
	}
}
