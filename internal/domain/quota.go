package domain

// SessionUsage summarizes one open session for the quota view.
type SessionUsage struct {
	AgentID      AgentID `json:"agent_id"`
	UserMessages int     `json:"user_messages"`
	MessageLimit int     `json:"message_limit"`
	IsMinimized  bool    `json:"is_minimized"`
}

// UserQuotaView is a point-in-time snapshot of one user's usage against
// their tier limits. Derived on demand, never stored.
type UserQuotaView struct {
	UserID                  string         `json:"user_id"`
	Tier                    string         `json:"tier"`
	OpenSessions            int            `json:"open_sessions"`
	MaxOpenSessions         int            `json:"max_open_sessions"`
	RunningExecutions       int            `json:"running_executions"`
	MaxConcurrentExecutions int            `json:"max_concurrent_executions"`
	GatedAgents             []AgentID      `json:"gated_agents"`
	Sessions                []SessionUsage `json:"sessions"`
}
