package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/foremanlabs/crewdesk/internal/domain"
	"github.com/foremanlabs/crewdesk/internal/shared"
)

const (
	appendRetryAttempts = 3
	appendRetryBase     = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		is_open INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		closed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES chat_sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession creates or updates a chat session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (id, user_id, agent_id, is_open, created_at, closed_at)
		VALUES (?, ?, ?, 1, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET is_open = 1, closed_at = NULL`

	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, string(session.AgentID), session.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// AppendMessage appends one message to a session's history. Retries with
// backoff on SQLite concurrency errors, which can occur when an append
// races the session sweep.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	query := `
		INSERT INTO messages (id, session_id, seq, role, content, timestamp)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?)`

	var err error
	for i := 0; i < appendRetryAttempts; i++ {
		_, err = s.db.ExecContext(ctx, query,
			msg.ID, sessionID, sessionID, string(msg.Role), msg.Content, msg.Timestamp.UnixMilli())
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == appendRetryAttempts-1 {
			break
		}
		delay := appendRetryBase * time.Duration(1<<i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("append message %s to session %s: %w", msg.ID, sessionID, err)
}

// CloseSession marks a session closed. Closing an unknown or already
// closed session is a no-op.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string) error {
	query := `UPDATE chat_sessions SET is_open = 0, closed_at = ? WHERE id = ? AND is_open = 1`
	if _, err := s.db.ExecContext(ctx, query, time.Now().Unix(), sessionID); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

// SessionMessages returns a session's messages in append order.
func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT id, role, content, timestamp FROM messages
		WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var ts int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.MessageRole(role)
		msg.Timestamp = time.UnixMilli(ts)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

// UserSessions returns ids of the user's stored sessions, newest first.
func (s *SQLiteStore) UserSessions(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT id FROM chat_sessions WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return ids, nil
}
