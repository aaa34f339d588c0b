package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus tracks the lifecycle of a long-running agent execution.
// Transitions: Pending -> Running -> one terminal state. The terminal
// states all release the held concurrency slot exactly once.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	}
	return false
}

// ExecutionSession is one in-flight long-running agent operation. Owned
// exclusively by the admission controller; nothing else mutates it.
type ExecutionSession struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	AgentID           AgentID         `json:"agent_id"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	EstimatedDuration time.Duration   `json:"estimated_duration_ms"`
}

// NewExecutionSession creates a Running execution with a fresh ID.
func NewExecutionSession(userID string, agentID AgentID, estimate time.Duration) *ExecutionSession {
	return &ExecutionSession{
		ID:                uuid.NewString(),
		UserID:            userID,
		AgentID:           agentID,
		Status:            ExecutionRunning,
		StartedAt:         time.Now(),
		EstimatedDuration: estimate,
	}
}
