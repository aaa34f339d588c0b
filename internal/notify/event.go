// Package notify defines the event payload handed to the notification
// conduit and the conduit implementations that deliver it.
package notify

import (
	"time"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// Operation names the orchestrator operation an event refers to.
type Operation string

const (
	OpOpenSession    Operation = "open_session"
	OpCloseSession   Operation = "close_session"
	OpSendMessage    Operation = "send_message"
	OpStartExecution Operation = "start_execution"
	OpCancelExec     Operation = "cancel_execution"
)

// Reason is a stable, machine-readable rejection or notice code.
type Reason string

const (
	ReasonUnknownTier        Reason = "unknown_tier"
	ReasonSessionLimit       Reason = "session_limit_exceeded"
	ReasonAgentGated         Reason = "agent_gated"
	ReasonMessageLimit       Reason = "message_limit_exceeded"
	ReasonSessionNotOpen     Reason = "session_not_open"
	ReasonAdmissionRejected  Reason = "execution_admission_rejected"
	ReasonBackendUnavailable Reason = "backend_unavailable"

	// Informational notices, not rejections.
	ReasonAssistantReply     Reason = "assistant_reply"
	ReasonExecutionFinished  Reason = "execution_finished"
	ReasonExecutionTimedOut  Reason = "execution_timed_out"
	ReasonExecutionCancelled Reason = "execution_cancelled"
)

// Event is the structured payload surfaced to the user. Rejections carry
// enough data for the UI to render a specific, actionable message rather
// than a generic failure.
type Event struct {
	Operation            Operation      `json:"operation"`
	Reason               Reason         `json:"reason"`
	AgentID              domain.AgentID `json:"agent_id,omitempty"`
	CurrentUsage         int            `json:"current_usage"`
	Limit                int            `json:"limit"`
	Tier                 string         `json:"tier,omitempty"`
	SuggestedUpgradeTier string         `json:"suggested_upgrade_tier,omitempty"`
	Detail               string         `json:"detail,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
}

// Rejection reports whether the event is a refusal rather than a notice.
func (e Event) Rejection() bool {
	switch e.Reason {
	case ReasonAssistantReply, ReasonExecutionFinished, ReasonExecutionTimedOut, ReasonExecutionCancelled:
		return false
	}
	return true
}

// Conduit delivers events to the user. Rendering is the conduit's concern;
// the orchestrator only shapes payloads.
type Conduit interface {
	Publish(userID string, event Event)
}
