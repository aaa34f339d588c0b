// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/foremanlabs/crewdesk/internal/domain"
)

// Repository defines the interface for the durable conversation log. The
// in-memory registry is authoritative for open-session state; the
// repository is the write-through history behind it.
type Repository interface {
	// SaveSession creates or updates a chat session record.
	SaveSession(ctx context.Context, session *domain.ChatSession) error

	// AppendMessage appends one message to a session's history.
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// CloseSession marks a session closed. Idempotent.
	CloseSession(ctx context.Context, sessionID string) error

	// SessionMessages returns a session's messages in append order.
	SessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// UserSessions returns ids of the user's stored sessions, newest first.
	UserSessions(ctx context.Context, userID string) ([]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
