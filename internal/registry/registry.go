// Package registry owns the set of open chat sessions per user.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/tier"
)

var (
	// ErrSessionLimit means the user already has the maximum number of
	// open sessions and the requested agent is not among them.
	ErrSessionLimit = errors.New("session limit exceeded")
	// ErrAgentGated means the agent requires a higher subscription tier.
	ErrAgentGated = errors.New("agent gated by tier")
	// ErrMessageLimit means the session holds the maximum number of
	// user-authored messages.
	ErrMessageLimit = errors.New("message limit exceeded")
	// ErrSessionNotOpen means the (user, agent) pair has no open session.
	ErrSessionNotOpen = errors.New("session not open")
)

// History receives write-through copies of registry mutations so that
// conversation history survives restarts. The registry stays authoritative
// in memory; history write failures are logged, not propagated.
type History interface {
	SaveSession(ctx context.Context, session *domain.ChatSession) error
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error
	CloseSession(ctx context.Context, sessionID string) error
}

// userSessions holds one user's open sessions under their own lock, so
// unrelated users' session operations never serialize against each other.
type userSessions struct {
	mu       sync.Mutex
	byAgent  map[domain.AgentID]*domain.ChatSession
	lastOpen []domain.AgentID // opening order, oldest first
}

// Registry tracks open chat sessions for all users. The outer lock guards
// only the user map; per-user state has its own lock.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*userSessions
	history History
}

// New creates an empty registry. history may be nil (no write-through).
func New(history History) *Registry {
	return &Registry{
		users:   make(map[string]*userSessions),
		history: history,
	}
}

func (r *Registry) userState(userID string) *userSessions {
	r.mu.RLock()
	us, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return us
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if us, ok = r.users[userID]; ok {
		return us
	}
	us = &userSessions{byAgent: make(map[domain.AgentID]*domain.ChatSession)}
	r.users[userID] = us
	return us
}

// Open creates a session for (userID, agentID), or returns the existing
// one: opening an already-open session is idempotent, not an error. The
// session limit only applies to agents not already open; gated agents are
// rejected regardless.
func (r *Registry) Open(ctx context.Context, userID string, agentID domain.AgentID, policy tier.Policy) (*domain.ChatSession, error) {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	if existing, ok := us.byAgent[agentID]; ok {
		return copySession(existing), nil
	}

	if policy.Gated(agentID) {
		return nil, ErrAgentGated
	}
	if len(us.byAgent) >= policy.MaxOpenSessions {
		return nil, ErrSessionLimit
	}

	session := domain.NewChatSession(userID, agentID)
	us.byAgent[agentID] = session
	us.lastOpen = append(us.lastOpen, agentID)

	if r.history != nil {
		if err := r.history.SaveSession(ctx, session); err != nil {
			slog.Warn("Session write-through failed", "user_id", userID, "agent_id", agentID, "error", err)
		}
	}

	slog.Info("Chat session opened", "user_id", userID, "agent_id", agentID, "session_id", session.ID)
	return copySession(session), nil
}

// Close removes the session for (userID, agentID). Closing a session that
// is not open is a no-op.
func (r *Registry) Close(ctx context.Context, userID string, agentID domain.AgentID) {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	session, ok := us.byAgent[agentID]
	if !ok {
		return
	}
	delete(us.byAgent, agentID)
	us.lastOpen = removeAgent(us.lastOpen, agentID)

	if r.history != nil {
		if err := r.history.CloseSession(ctx, session.ID); err != nil {
			slog.Warn("Session close write-through failed", "session_id", session.ID, "error", err)
		}
	}

	slog.Info("Chat session closed", "user_id", userID, "agent_id", agentID, "session_id", session.ID)
}

// Append adds a message to the open session for (userID, agentID).
// User-authored messages are checked against the per-session quota;
// assistant and system messages always append. Whichever caller acquires
// the user lock first is ordered first; messages are immutable afterwards.
func (r *Registry) Append(ctx context.Context, userID string, agentID domain.AgentID, msg domain.Message, policy tier.Policy) error {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	session, ok := us.byAgent[agentID]
	if !ok {
		return ErrSessionNotOpen
	}
	if msg.Role == domain.RoleUser && session.UserMessageCount() >= policy.MaxMessagesPerSession {
		return ErrMessageLimit
	}

	session.Append(msg)

	if r.history != nil {
		if err := r.history.AppendMessage(ctx, session.ID, msg); err != nil {
			slog.Warn("Message write-through failed", "session_id", session.ID, "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

// Get returns a copy of the open session for (userID, agentID).
func (r *Registry) Get(userID string, agentID domain.AgentID) (*domain.ChatSession, bool) {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	session, ok := us.byAgent[agentID]
	if !ok {
		return nil, false
	}
	return copySession(session), true
}

// SetMinimized toggles the minimize flag on an open session.
func (r *Registry) SetMinimized(userID string, agentID domain.AgentID, minimized bool) error {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	session, ok := us.byAgent[agentID]
	if !ok {
		return ErrSessionNotOpen
	}
	session.IsMinimized = minimized
	return nil
}

// Snapshot returns a point-in-time view of the user's open sessions in
// opening order, oldest first. The router depends on this order being
// stable.
func (r *Registry) Snapshot(userID string) []domain.OpenSession {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	out := make([]domain.OpenSession, 0, len(us.byAgent))
	for _, agentID := range us.lastOpen {
		session, ok := us.byAgent[agentID]
		if !ok {
			continue
		}
		last := session.CreatedAt
		if n := len(session.Messages); n > 0 {
			last = session.Messages[n-1].Timestamp
		}
		out = append(out, domain.OpenSession{
			AgentID:      agentID,
			OpenedAt:     session.CreatedAt,
			LastActiveAt: last,
		})
	}
	return out
}

// OpenCount returns how many sessions the user has open.
func (r *Registry) OpenCount(userID string) int {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	return len(us.byAgent)
}

// Sessions returns copies of every open session for the user, in opening
// order.
func (r *Registry) Sessions(userID string) []*domain.ChatSession {
	us := r.userState(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	out := make([]*domain.ChatSession, 0, len(us.byAgent))
	for _, agentID := range us.lastOpen {
		if session, ok := us.byAgent[agentID]; ok {
			out = append(out, copySession(session))
		}
	}
	return out
}

// EvictUser tears down all of a user's open sessions, for logout or
// session expiry. Idempotent.
func (r *Registry) EvictUser(ctx context.Context, userID string) {
	r.mu.Lock()
	us, ok := r.users[userID]
	if ok {
		delete(r.users, userID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	us.mu.Lock()
	defer us.mu.Unlock()
	for agentID, session := range us.byAgent {
		if r.history != nil {
			if err := r.history.CloseSession(ctx, session.ID); err != nil {
				slog.Warn("Session close write-through failed during eviction", "session_id", session.ID, "error", err)
			}
		}
		slog.Info("Chat session evicted", "user_id", userID, "agent_id", agentID, "session_id", session.ID)
	}
	us.byAgent = make(map[domain.AgentID]*domain.ChatSession)
	us.lastOpen = nil
}

func copySession(s *domain.ChatSession) *domain.ChatSession {
	cp := *s
	cp.Messages = make([]domain.Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}

func removeAgent(agents []domain.AgentID, agentID domain.AgentID) []domain.AgentID {
	out := agents[:0]
	for _, a := range agents {
		if a != agentID {
			out = append(out, a)
		}
	}
	return out
}
