package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// Stub is an in-process backend for development and tests. Replies echo
// the last user message; executions complete after a short delay.
type Stub struct {
	// ExecutionDelay is how long a stub execution runs before completing.
	ExecutionDelay time.Duration
	// Fail forces every call to return ErrUnavailable.
	Fail bool
}

// NewStub creates a stub backend with a 100ms execution delay.
func NewStub() *Stub {
	return &Stub{ExecutionDelay: 100 * time.Millisecond}
}

// SendMessage echoes the last user message.
func (s *Stub) SendMessage(_ context.Context, agentID domain.AgentID, history []domain.Message) (domain.Message, error) {
	if s.Fail {
		return domain.Message{}, ErrUnavailable
	}
	last := "hello"
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			last = history[i].Content
			break
		}
	}
	return domain.NewMessage(domain.RoleAssistant, fmt.Sprintf("[%s] re: %s", agentID, last)), nil
}

// StartExecution completes the execution after ExecutionDelay.
func (s *Stub) StartExecution(_ context.Context, agentID domain.AgentID, params ExecutionParams, onComplete CompletionFunc) error {
	if s.Fail {
		return ErrUnavailable
	}
	go func() {
		time.Sleep(s.ExecutionDelay)
		if onComplete != nil {
			onComplete(params.ExecutionID, domain.ExecutionCompleted, fmt.Sprintf("[%s] finished: %s", agentID, params.Query))
		}
	}()
	return nil
}

// Close is a no-op.
func (s *Stub) Close() {}

// Ensure Stub implements Backend.
var _ Backend = (*Stub)(nil)
