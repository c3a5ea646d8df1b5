package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// A single writer keeps ordinal assignment simple and is plenty for a
	// local conversation log.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, ordinal),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ordinal)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateSession creates a new session with a fresh identifier.
func (s *SQLiteStore) CreateSession(ctx context.Context, title, model string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Model, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, model, created_at, updated_at, message_count FROM sessions WHERE session_id = ?`,
		id).Scan(&sess.ID, &sess.Title, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := `SELECT session_id, title, model, created_at, updated_at, message_count FROM sessions ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// RenameSession updates a session title.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session and all its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SearchSessions matches the query against titles and message content.
func (s *SQLiteStore) SearchSessions(ctx context.Context, query string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT s.session_id, s.title, s.model, s.created_at, s.updated_at, s.message_count
		 FROM sessions s
		 LEFT JOIN messages m ON s.session_id = m.session_id
		 WHERE s.title LIKE ? OR m.content LIKE ?
		 ORDER BY s.updated_at DESC
		 LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// Append inserts a message at the next ordinal. It fails with
// ErrPendingExists if the session already has a pending message and the new
// one would be pending too.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string, status Status) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	if status == StatusPending {
		var pending int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE session_id = ? AND status = ?`,
			sessionID, StatusPending).Scan(&pending); err != nil {
			return nil, err
		}
		if pending > 0 {
			return nil, ErrPendingExists
		}
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ordinal), 0) + 1 FROM messages WHERE session_id = ?`,
		sessionID).Scan(&next); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &Message{
		SessionID: sessionID,
		Ordinal:   next,
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, ordinal, role, content, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Ordinal, msg.Role, msg.Content, msg.Status, msg.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE session_id = ?`,
		now, sessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// UpdateContent overwrites the content of a pending message. A reader
// observing mid-stream sees the latest full snapshot, never a fragment.
func (s *SQLiteStore) UpdateContent(ctx context.Context, sessionID string, ordinal int64, content string) error {
	var status Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM messages WHERE session_id = ? AND ordinal = ?`,
		sessionID, ordinal).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return ErrFinalized
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE session_id = ? AND ordinal = ?`,
		content, sessionID, ordinal)
	return err
}

// Finalize moves a pending message to a terminal status.
func (s *SQLiteStore) Finalize(ctx context.Context, sessionID string, ordinal int64, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("store: %q is not a terminal status", status)
	}
	var current Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM messages WHERE session_id = ? AND ordinal = ?`,
		sessionID, ordinal).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if current.Terminal() {
		return ErrFinalized
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE session_id = ? AND ordinal = ?`,
		status, sessionID, ordinal)
	return err
}

// History returns all messages of a session in ordinal order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ordinal, role, content, status, created_at
		 FROM messages WHERE session_id = ? ORDER BY ordinal ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SessionID, &m.Ordinal, &m.Role, &m.Content, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ExportSession bundles a session and its messages into a portable envelope.
func (s *SQLiteStore) ExportSession(ctx context.Context, sessionID string) (*Export, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Session:    *sess,
		Messages:   msgs,
	}, nil
}

// ImportSession creates a new session from an export envelope. A fresh id
// is always assigned to avoid collisions.
func (s *SQLiteStore) ImportSession(ctx context.Context, data *Export) (*Session, error) {
	title := strings.TrimSpace(data.Session.Title)
	if title == "" {
		title = "Imported conversation"
	}
	sess, err := s.CreateSession(ctx, "[imported] "+title, data.Session.Model)
	if err != nil {
		return nil, err
	}
	for _, m := range data.Messages {
		status := m.Status
		if !status.Terminal() {
			status = StatusComplete
		}
		if _, err := s.Append(ctx, sess.ID, m.Role, m.Content, status); err != nil {
			return nil, err
		}
	}
	return s.GetSession(ctx, sess.ID)
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
