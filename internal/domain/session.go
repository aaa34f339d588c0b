package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks messages synthesized by the orchestrator itself,
	// such as quota warnings. They never count against message limits.
	RoleSystem MessageRole = "system"
)

// Message is one entry in a chat session. Immutable once appended.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(role MessageRole, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ChatSession is one open conversation between a user and an agent.
// At most one open session exists per (user, agent) pair.
type ChatSession struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AgentID     AgentID   `json:"agent_id"`
	Messages    []Message `json:"messages"`
	IsMinimized bool      `json:"is_minimized"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewChatSession creates an empty open session for a (user, agent) pair.
func NewChatSession(userID string, agentID AgentID) *ChatSession {
	return &ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentID:   agentID,
		Messages:  make([]Message, 0, 8),
		CreatedAt: time.Now(),
	}
}

// Append adds a message to the session. Insertion order is significant and
// messages are never reordered or removed afterwards.
func (s *ChatSession) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// UserMessageCount returns how many user-authored messages the session
// holds. Only these count against the per-session message quota.
func (s *ChatSession) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// RecentMessages returns the last n messages in order.
func (s *ChatSession) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
