package notify

import "log/slog"

// LogConduit writes events to the structured log. Used as a fallback when
// no push channel is configured, and as a decorator so every event leaves
// an audit trail regardless of socket state.
type LogConduit struct {
	// Next, if set, receives the event after logging.
	Next Conduit
}

// Publish logs the event and forwards it to the wrapped conduit.
func (l *LogConduit) Publish(userID string, event Event) {
	if event.Rejection() {
		slog.Warn("Operation rejected",
			"user_id", userID,
			"operation", event.Operation,
			"reason", event.Reason,
			"agent_id", event.AgentID,
			"current_usage", event.CurrentUsage,
			"limit", event.Limit,
			"tier", event.Tier)
	} else {
		slog.Info("User notice",
			"user_id", userID,
			"operation", event.Operation,
			"reason", event.Reason,
			"agent_id", event.AgentID)
	}
	if l.Next != nil {
		l.Next.Publish(userID, event)
	}
}
