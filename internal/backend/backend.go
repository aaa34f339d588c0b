// Package backend is the boundary to the external agent services. The
// orchestrator treats a backend as opaque: it generates a response from a
// conversation history, or runs a long execution and calls back on
// completion.
package backend

import (
	"context"
	"errors"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// ErrUnavailable means the backend could not be reached or answered with a
// server failure. The orchestrator retries once, then surfaces the outage
// to the user; it never counts against quotas.
var ErrUnavailable = errors.New("agent backend unavailable")

// ExecutionParams carries the caller's request for a long execution.
type ExecutionParams struct {
	ExecutionID string            `json:"execution_id"`
	Query       string            `json:"query"`
	Options     map[string]string `json:"options,omitempty"`
}

// CompletionFunc is invoked when a long execution finishes. status is one
// of the terminal execution statuses.
type CompletionFunc func(executionID string, status domain.ExecutionStatus, result string)

// Backend generates agent responses.
type Backend interface {
	// SendMessage produces the agent's reply to the conversation so far.
	SendMessage(ctx context.Context, agentID domain.AgentID, history []domain.Message) (domain.Message, error)

	// StartExecution begins a long-running operation for an
	// execution-capable agent. It returns as soon as the backend accepts
	// the work; onComplete fires asynchronously exactly once unless the
	// process dies first (the admission sweeper covers that case).
	StartExecution(ctx context.Context, agentID domain.AgentID, params ExecutionParams, onComplete CompletionFunc) error

	// Close releases resources.
	Close()
}
