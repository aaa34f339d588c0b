// Package orchestrator is the quota-enforcing façade over the session
// registry, the admission controller, and the agent backend. It is the
// single entry point for session and execution mutations: every path is
// quota-checked here, and every refusal becomes a structured notification
// event instead of an error.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foremanlabs/crewdesk/internal/admission"
	"github.com/foremanlabs/crewdesk/internal/backend"
	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/identity"
	"github.com/foremanlabs/crewdesk/internal/notify"
	"github.com/foremanlabs/crewdesk/internal/registry"
	"github.com/foremanlabs/crewdesk/internal/router"
	"github.com/foremanlabs/crewdesk/internal/tier"
)

// Orchestrator composes the core components behind one façade.
type Orchestrator struct {
	tiers     *tier.Table
	tierOf    identity.TierProvider
	sessions  *registry.Registry
	execs     *admission.Controller
	routes    *router.Router
	agents    backend.Backend
	conduit   notify.Conduit
	histLimit int
}

// Config wires an Orchestrator.
type Config struct {
	Tiers    *tier.Table
	TierOf   identity.TierProvider
	Sessions *registry.Registry
	Execs    *admission.Controller
	Routes   *router.Router
	Agents   backend.Backend
	Conduit  notify.Conduit
	// HistoryLimit caps how many trailing messages are sent to the
	// backend per chat call. Zero means the whole session.
	HistoryLimit int
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		tiers:     cfg.Tiers,
		tierOf:    cfg.TierOf,
		sessions:  cfg.Sessions,
		execs:     cfg.Execs,
		routes:    cfg.Routes,
		agents:    cfg.Agents,
		conduit:   cfg.Conduit,
		histLimit: cfg.HistoryLimit,
	}
}

// resolvePolicy maps the user's tier to its policy. An unrecognized tier
// degrades to the most restrictive policy and publishes an anomaly event;
// it never silently grants elevated access.
func (o *Orchestrator) resolvePolicy(ctx context.Context, userID string, op notify.Operation) (tier.Policy, string) {
	tierName, err := o.tierOf.GetUserTier(ctx, userID)
	if err == nil {
		if policy, perr := o.tiers.PolicyFor(tierName); perr == nil {
			return policy, tierName
		}
	}

	fallback := o.tiers.MostRestrictive()
	slog.Warn("Unknown tier, degrading to most restrictive policy",
		"user_id", userID, "tier", tierName, "fallback", fallback.Tier, "error", err)
	o.publish(userID, notify.Event{
		Operation: op,
		Reason:    notify.ReasonUnknownTier,
		Tier:      tierName,
		Detail:    "subscription tier not recognized; most restrictive limits applied",
	})
	return fallback, fallback.Tier
}

func (o *Orchestrator) publish(userID string, event notify.Event) *notify.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if o.conduit != nil {
		o.conduit.Publish(userID, event)
	}
	return &event
}

// OpenSession opens (or idempotently returns) the user's session with the
// agent. A non-nil event means the operation was refused and nothing was
// mutated.
func (o *Orchestrator) OpenSession(ctx context.Context, userID string, agentID domain.AgentID) (*domain.ChatSession, *notify.Event) {
	policy, tierName := o.resolvePolicy(ctx, userID, notify.OpOpenSession)

	session, err := o.sessions.Open(ctx, userID, agentID, policy)
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, registry.ErrAgentGated):
		return nil, o.publish(userID, notify.Event{
			Operation:            notify.OpOpenSession,
			Reason:               notify.ReasonAgentGated,
			AgentID:              agentID,
			Tier:                 tierName,
			SuggestedUpgradeTier: o.tiers.UpgradeFor(agentID),
		})
	case errors.Is(err, registry.ErrSessionLimit):
		return nil, o.publish(userID, notify.Event{
			Operation:            notify.OpOpenSession,
			Reason:               notify.ReasonSessionLimit,
			AgentID:              agentID,
			CurrentUsage:         o.sessions.OpenCount(userID),
			Limit:                policy.MaxOpenSessions,
			Tier:                 tierName,
			SuggestedUpgradeTier: o.tiers.NextTier(tierName),
		})
	default:
		return nil, o.publish(userID, notify.Event{
			Operation: notify.OpOpenSession,
			Reason:    notify.ReasonSessionLimit,
			AgentID:   agentID,
			Tier:      tierName,
			Detail:    err.Error(),
		})
	}
}

// CloseSession closes the user's session with the agent. Idempotent.
func (o *Orchestrator) CloseSession(ctx context.Context, userID string, agentID domain.AgentID) {
	o.sessions.Close(ctx, userID, agentID)
}

// SetMinimized toggles a session's minimize flag.
func (o *Orchestrator) SetMinimized(userID string, agentID domain.AgentID, minimized bool) error {
	return o.sessions.SetMinimized(userID, agentID, minimized)
}

// Sessions returns the user's open sessions.
func (o *Orchestrator) Sessions(userID string) []*domain.ChatSession {
	return o.sessions.Sessions(userID)
}

// ChatResult is the success payload of SendMessage.
type ChatResult struct {
	AgentID     domain.AgentID `json:"agent_id"`
	Rule        router.Rule    `json:"routed_by"`
	SessionID   string         `json:"session_id"`
	UserMessage domain.Message `json:"user_message"`
	Reply       domain.Message `json:"reply"`
}

// SendMessage routes raw input to an agent, opens the session if needed,
// appends the user message, and obtains the agent's reply. The backend
// call happens strictly after all quota checks and outside every lock.
// On any refusal the returned event is non-nil and no quota was consumed.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, text string) (*ChatResult, *notify.Event) {
	policy, tierName := o.resolvePolicy(ctx, userID, notify.OpSendMessage)

	decision := o.routes.Route(text, o.sessions.Snapshot(userID))

	// Routing may target a gated or not-yet-open agent; opening enforces
	// gating and the session ceiling and explains refusals, rather than
	// the router silently rerouting.
	session, err := o.sessions.Open(ctx, userID, decision.AgentID, policy)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrAgentGated):
		return nil, o.publish(userID, notify.Event{
			Operation:            notify.OpSendMessage,
			Reason:               notify.ReasonAgentGated,
			AgentID:              decision.AgentID,
			Tier:                 tierName,
			SuggestedUpgradeTier: o.tiers.UpgradeFor(decision.AgentID),
		})
	case errors.Is(err, registry.ErrSessionLimit):
		return nil, o.publish(userID, notify.Event{
			Operation:            notify.OpSendMessage,
			Reason:               notify.ReasonSessionLimit,
			AgentID:              decision.AgentID,
			CurrentUsage:         o.sessions.OpenCount(userID),
			Limit:                policy.MaxOpenSessions,
			Tier:                 tierName,
			SuggestedUpgradeTier: o.tiers.NextTier(tierName),
		})
	default:
		return nil, o.publish(userID, notify.Event{
			Operation: notify.OpSendMessage,
			Reason:    notify.ReasonSessionLimit,
			AgentID:   decision.AgentID,
			Tier:      tierName,
			Detail:    err.Error(),
		})
	}

	// Check the message quota before calling the backend so a refused send
	// mutates nothing. Append re-checks under the lock, so a concurrent
	// send cannot push the session past the limit.
	if session.UserMessageCount() >= policy.MaxMessagesPerSession {
		return nil, o.rejectMessageLimit(ctx, userID, decision.AgentID, session, policy, tierName)
	}

	userMsg := domain.NewMessage(domain.RoleUser, decision.Text)
	history := append(session.RecentMessages(o.histLimit), userMsg)

	reply, err := o.callWithRetry(ctx, decision.AgentID, history)
	if err != nil {
		return nil, o.publish(userID, notify.Event{
			Operation: notify.OpSendMessage,
			Reason:    notify.ReasonBackendUnavailable,
			AgentID:   decision.AgentID,
			Tier:      tierName,
			Detail:    "the agent service is temporarily unavailable; your message was not sent",
		})
	}

	if err := o.sessions.Append(ctx, userID, decision.AgentID, userMsg, policy); err != nil {
		if errors.Is(err, registry.ErrMessageLimit) {
			return nil, o.rejectMessageLimit(ctx, userID, decision.AgentID, session, policy, tierName)
		}
		// The session was closed between the quota check and the append
		// (a racing close or logout); no quota was consumed.
		return nil, o.publish(userID, notify.Event{
			Operation: notify.OpSendMessage,
			Reason:    notify.ReasonSessionNotOpen,
			AgentID:   decision.AgentID,
			Tier:      tierName,
			Detail:    "the conversation was closed before the message could be recorded",
		})
	}
	// Assistant messages never consume quota and cannot be refused here.
	if err := o.sessions.Append(ctx, userID, decision.AgentID, reply, policy); err != nil {
		slog.Error("Failed to append assistant reply", "user_id", userID, "agent_id", decision.AgentID, "error", err)
	}

	o.publish(userID, notify.Event{
		Operation: notify.OpSendMessage,
		Reason:    notify.ReasonAssistantReply,
		AgentID:   decision.AgentID,
		Detail:    reply.Content,
	})

	return &ChatResult{
		AgentID:     decision.AgentID,
		Rule:        decision.Rule,
		SessionID:   session.ID,
		UserMessage: userMsg,
		Reply:       reply,
	}, nil
}

const messageLimitNotice = "This conversation has reached its message limit. Close it and start a new one, or upgrade your plan."

// rejectMessageLimit publishes the quota refusal and drops a quota-free
// system note into the session so the refusal is visible in-thread. The
// note is written at most once; repeated sends against a capped session
// must not grow it further.
func (o *Orchestrator) rejectMessageLimit(ctx context.Context, userID string, agentID domain.AgentID, session *domain.ChatSession, policy tier.Policy, tierName string) *notify.Event {
	if !o.hasLimitNotice(userID, agentID) {
		note := domain.NewMessage(domain.RoleSystem, messageLimitNotice)
		if err := o.sessions.Append(ctx, userID, agentID, note, policy); err != nil && !errors.Is(err, registry.ErrSessionNotOpen) {
			slog.Warn("Failed to append limit notice", "user_id", userID, "agent_id", agentID, "error", err)
		}
	}

	return o.publish(userID, notify.Event{
		Operation:            notify.OpSendMessage,
		Reason:               notify.ReasonMessageLimit,
		AgentID:              agentID,
		CurrentUsage:         session.UserMessageCount(),
		Limit:                policy.MaxMessagesPerSession,
		Tier:                 tierName,
		SuggestedUpgradeTier: o.tiers.NextTier(tierName),
	})
}

// hasLimitNotice reports whether the session already ends with the quota
// notice, reading a fresh copy so concurrent appends are observed.
func (o *Orchestrator) hasLimitNotice(userID string, agentID domain.AgentID) bool {
	fresh, ok := o.sessions.Get(userID, agentID)
	if !ok || len(fresh.Messages) == 0 {
		return false
	}
	last := fresh.Messages[len(fresh.Messages)-1]
	return last.Role == domain.RoleSystem && last.Content == messageLimitNotice
}

// callWithRetry invokes the backend, retrying exactly once when it is
// unavailable. Neither attempt mutates orchestrator state.
func (o *Orchestrator) callWithRetry(ctx context.Context, agentID domain.AgentID, history []domain.Message) (domain.Message, error) {
	reply, err := o.agents.SendMessage(ctx, agentID, history)
	if err == nil {
		return reply, nil
	}
	if !errors.Is(err, backend.ErrUnavailable) {
		return domain.Message{}, err
	}
	slog.Warn("Agent backend unavailable, retrying once", "agent_id", agentID, "error", err)
	return o.agents.SendMessage(ctx, agentID, history)
}

// StartExecution admits and starts a long-running execution. Admission is
// checked against the tier gate, the per-tier execution allowance, and
// the process-wide ceiling, in that order; the backend call happens only
// after admission succeeds and never under a lock.
func (o *Orchestrator) StartExecution(ctx context.Context, userID string, agentID domain.AgentID, query string, estimate time.Duration) (*domain.ExecutionSession, *notify.Event) {
	policy, tierName := o.resolvePolicy(ctx, userID, notify.OpStartExecution)

	if policy.Gated(agentID) {
		return nil, o.publish(userID, notify.Event{
			Operation:            notify.OpStartExecution,
			Reason:               notify.ReasonAgentGated,
			AgentID:              agentID,
			Tier:                 tierName,
			SuggestedUpgradeTier: o.tiers.UpgradeFor(agentID),
		})
	}

	session, err := o.execs.TryAdmit(userID, agentID, estimate, policy.MaxConcurrentExecutions)
	if err != nil {
		event := notify.Event{
			Operation: notify.OpStartExecution,
			Reason:    notify.ReasonAdmissionRejected,
			AgentID:   agentID,
			Tier:      tierName,
		}
		if errors.Is(err, admission.ErrUserLimit) {
			event.CurrentUsage = o.execs.RunningFor(userID)
			event.Limit = policy.MaxConcurrentExecutions
			event.SuggestedUpgradeTier = o.tiers.NextTier(tierName)
		} else {
			event.CurrentUsage = o.execs.Running()
			event.Limit = o.execs.Ceiling()
			event.Detail = "all execution slots are in use; try again shortly"
		}
		return nil, o.publish(userID, event)
	}

	params := backend.ExecutionParams{ExecutionID: session.ID, Query: query}
	err = o.agents.StartExecution(ctx, agentID, params, o.onExecutionComplete(userID, agentID))
	if err != nil && errors.Is(err, backend.ErrUnavailable) {
		slog.Warn("Agent backend unavailable starting execution, retrying once", "agent_id", agentID, "error", err)
		err = o.agents.StartExecution(ctx, agentID, params, o.onExecutionComplete(userID, agentID))
	}
	if err != nil {
		// Give the slot back; a start that never reached the backend must
		// not consume capacity.
		o.execs.Release(session.ID, domain.ExecutionFailed)
		return nil, o.publish(userID, notify.Event{
			Operation: notify.OpStartExecution,
			Reason:    notify.ReasonBackendUnavailable,
			AgentID:   agentID,
			Tier:      tierName,
			Detail:    "the agent service is temporarily unavailable; the execution was not started",
		})
	}

	return session, nil
}

func (o *Orchestrator) onExecutionComplete(userID string, agentID domain.AgentID) backend.CompletionFunc {
	return func(executionID string, status domain.ExecutionStatus, result string) {
		o.execs.Release(executionID, status)
		reason := notify.ReasonExecutionFinished
		if status == domain.ExecutionFailed {
			reason = notify.ReasonBackendUnavailable
		}
		o.publish(userID, notify.Event{
			Operation: notify.OpStartExecution,
			Reason:    reason,
			AgentID:   agentID,
			Detail:    result,
		})
	}
}

// CancelExecution releases the caller's execution as Cancelled. Cancelling
// an unknown, already finished, or another user's execution is a no-op
// success, so a user cancel can race a completion or timeout harmlessly
// and a leaked id gives no control over someone else's work.
func (o *Orchestrator) CancelExecution(userID, executionID string) {
	o.execs.ReleaseOwned(userID, executionID, domain.ExecutionCancelled)
	o.publish(userID, notify.Event{
		Operation: notify.OpCancelExec,
		Reason:    notify.ReasonExecutionCancelled,
	})
}

// QuotaView computes the user's current usage against their tier limits.
func (o *Orchestrator) QuotaView(ctx context.Context, userID string) domain.UserQuotaView {
	policy, tierName := o.resolvePolicy(ctx, userID, notify.OpOpenSession)

	sessions := o.sessions.Sessions(userID)
	usage := make([]domain.SessionUsage, 0, len(sessions))
	for _, s := range sessions {
		usage = append(usage, domain.SessionUsage{
			AgentID:      s.AgentID,
			UserMessages: s.UserMessageCount(),
			MessageLimit: policy.MaxMessagesPerSession,
			IsMinimized:  s.IsMinimized,
		})
	}

	return domain.UserQuotaView{
		UserID:                  userID,
		Tier:                    tierName,
		OpenSessions:            len(sessions),
		MaxOpenSessions:         policy.MaxOpenSessions,
		RunningExecutions:       o.execs.RunningFor(userID),
		MaxConcurrentExecutions: policy.MaxConcurrentExecutions,
		GatedAgents:             policy.GatedAgents,
		Sessions:                usage,
	}
}

// Logout tears down the user's process state: open sessions are evicted
// and running executions are cancelled.
func (o *Orchestrator) Logout(ctx context.Context, userID string) {
	o.execs.ReleaseUser(userID)
	o.sessions.EvictUser(ctx, userID)
	slog.Info("User state torn down", "user_id", userID)
}
