package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// HTTPClientConfig holds configuration for the HTTP backend client.
type HTTPClientConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// ExecutionTimeout bounds the asynchronous long-execution call. The
	// admission sweeper is the real safety net; this just keeps the
	// goroutine from leaking when the backend never answers.
	ExecutionTimeout time.Duration
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig(baseURL string) HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:          baseURL,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		ExecutionTimeout: 15 * time.Minute,
	}
}

// HTTPClient talks to the hosted agent service over JSON/HTTP.
type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates a client and verifies the backend is reachable so
// bad endpoints fail at startup instead of on the first user message.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := c.healthCheck(ctx); err != nil {
		return nil, fmt.Errorf("agent backend at %s not ready: %w", cfg.BaseURL, err)
	}
	return c, nil
}

func (c *HTTPClient) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type chatRequest struct {
	AgentID string           `json:"agent_id"`
	History []domain.Message `json:"history"`
}

type chatResponse struct {
	Content string `json:"content"`
}

// SendMessage produces the agent's reply to the conversation so far.
func (c *HTTPClient) SendMessage(ctx context.Context, agentID domain.AgentID, history []domain.Message) (domain.Message, error) {
	body, err := json.Marshal(chatRequest{AgentID: string(agentID), History: history})
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return domain.Message{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.Message{}, fmt.Errorf("%w: chat returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Message{}, fmt.Errorf("chat request rejected with %d: %s", resp.StatusCode, data)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Message{}, fmt.Errorf("decode chat response: %w", err)
	}
	return domain.NewMessage(domain.RoleAssistant, out.Content), nil
}

type executionRequest struct {
	AgentID string          `json:"agent_id"`
	Params  ExecutionParams `json:"params"`
}

type executionResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

// StartExecution begins a long-running operation. The backend's HTTP call
// is made on a background goroutine so admission returns immediately; the
// completion callback fires when the call resolves.
func (c *HTTPClient) StartExecution(ctx context.Context, agentID domain.AgentID, params ExecutionParams, onComplete CompletionFunc) error {
	body, err := json.Marshal(executionRequest{AgentID: string(agentID), Params: params})
	if err != nil {
		return fmt.Errorf("encode execution request: %w", err)
	}

	go func() {
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ExecutionTimeout)
		defer cancel()

		status, result := c.runExecution(execCtx, params.ExecutionID, body)
		if onComplete != nil {
			onComplete(params.ExecutionID, status, result)
		}
	}()
	return nil
}

func (c *HTTPClient) runExecution(ctx context.Context, executionID string, body []byte) (domain.ExecutionStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/executions", bytes.NewReader(body))
	if err != nil {
		return domain.ExecutionFailed, ""
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: c.cfg.ExecutionTimeout}
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Warn("Execution call failed", "execution_id", executionID, "error", err)
		return domain.ExecutionFailed, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Execution call rejected", "execution_id", executionID, "status_code", resp.StatusCode)
		return domain.ExecutionFailed, ""
	}

	var out executionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("Execution response decode failed", "execution_id", executionID, "error", err)
		return domain.ExecutionFailed, ""
	}
	if out.Status == "failed" {
		return domain.ExecutionFailed, out.Result
	}
	return domain.ExecutionCompleted, out.Result
}

// Close releases resources.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

// Ensure HTTPClient implements Backend.
var _ Backend = (*HTTPClient)(nil)
