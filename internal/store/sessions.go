package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// Session is the persisted record of a conversation-scoped agent session.
// Process handles are runtime state and never persisted; after a daemon
// restart sessions reload with no live runtime attached.
type Session struct {
	ConversationKey  string
	ID               string
	Status           SessionStatus
	Model            string
	RuntimeSessionID string
	WorkspaceDir     string
	DataDir          string
	LogDir           string
	Decisions        map[string]string // tool -> allow|deny
	LastActive       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SaveSession inserts or replaces the session record for its conversation key.
func (s *Store) SaveSession(sess *Session) error {
	query := `
		INSERT INTO sessions (
			conversation_key, id, status, model, runtime_session_id,
			workspace_dir, data_dir, log_dir, decisions, last_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			model = excluded.model,
			runtime_session_id = excluded.runtime_session_id,
			workspace_dir = excluded.workspace_dir,
			data_dir = excluded.data_dir,
			log_dir = excluded.log_dir,
			decisions = excluded.decisions,
			last_active = excluded.last_active,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	decisionsJSON, _ := json.Marshal(sess.Decisions)

	_, err := s.db.Exec(query,
		sess.ConversationKey,
		sess.ID,
		sess.Status,
		sess.Model,
		sess.RuntimeSessionID,
		sess.WorkspaceDir,
		sess.DataDir,
		sess.LogDir,
		string(decisionsJSON),
		sess.LastActive,
		createdAt,
		now,
	)
	return err
}

// GetSession retrieves a session by conversation key. Returns nil if absent.
func (s *Store) GetSession(conversationKey string) (*Session, error) {
	query := `
		SELECT conversation_key, id, status, model, runtime_session_id,
		       workspace_dir, data_dir, log_dir, decisions, last_active, created_at, updated_at
		FROM sessions WHERE conversation_key = ?
	`
	row := s.db.QueryRow(query, conversationKey)

	var sess Session
	var decisionsJSON string
	err := row.Scan(
		&sess.ConversationKey, &sess.ID, &sess.Status, &sess.Model, &sess.RuntimeSessionID,
		&sess.WorkspaceDir, &sess.DataDir, &sess.LogDir, &decisionsJSON,
		&sess.LastActive, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(decisionsJSON), &sess.Decisions)
	return &sess, nil
}

// ListSessions retrieves all sessions, optionally filtered by status.
func (s *Store) ListSessions(statusFilter ...SessionStatus) ([]*Session, error) {
	query := `
		SELECT conversation_key, id, status, model, runtime_session_id,
		       workspace_dir, data_dir, log_dir, decisions, last_active, created_at, updated_at
		FROM sessions
	`
	var args []any
	if len(statusFilter) > 0 {
		query += ` WHERE status IN (?` + repeatSQL(len(statusFilter)-1) + `)`
		for _, st := range statusFilter {
			args = append(args, st)
		}
	}
	query += ` ORDER BY last_active DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var decisionsJSON string
		err := rows.Scan(
			&sess.ConversationKey, &sess.ID, &sess.Status, &sess.Model, &sess.RuntimeSessionID,
			&sess.WorkspaceDir, &sess.DataDir, &sess.LogDir, &decisionsJSON,
			&sess.LastActive, &sess.CreatedAt, &sess.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(decisionsJSON), &sess.Decisions)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(conversationKey string) error {
	query := `DELETE FROM sessions WHERE conversation_key = ?`
	_, err := s.db.Exec(query, conversationKey)
	return err
}

func repeatSQL(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
