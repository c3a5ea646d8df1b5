package store

import (
	"context"
	"errors"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a message. pending is the only
// non-terminal status; a finalized message is immutable.
type Status string

const (
	StatusPending     Status = "pending"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether s is a finalized status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusInterrupted
}

// Session is one conversation.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one entry in a session transcript. Ordinals are assigned at
// append time and are gap-free and strictly increasing within a session.
type Message struct {
	SessionID string    `json:"session_id"`
	Ordinal   int64     `json:"ordinal"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("store: session not found")
	// ErrMessageNotFound is returned when an ordinal does not exist.
	ErrMessageNotFound = errors.New("store: message not found")
	// ErrPendingExists is returned when an append would create a second
	// pending message in the same session.
	ErrPendingExists = errors.New("store: session already has a pending message")
	// ErrFinalized is returned when updating or re-finalizing a message
	// whose status is already terminal.
	ErrFinalized = errors.New("store: message already finalized")
)

// Export is the JSON envelope written by ExportSession.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Session    Session   `json:"session"`
	Messages   []Message `json:"messages"`
}

// Store is the conversation persistence contract used by the orchestrator
// and the API layer. Appends for a given session are single-writer; reads
// may happen concurrently with a turn in flight.
type Store interface {
	CreateSession(ctx context.Context, title, model string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error
	SearchSessions(ctx context.Context, query string, limit int) ([]Session, error)

	// Append inserts a new message at the next ordinal and returns it.
	Append(ctx context.Context, sessionID string, role Role, content string, status Status) (*Message, error)
	// UpdateContent overwrites the content of a pending message in place.
	// Repeated calls with the accumulated content are idempotent.
	UpdateContent(ctx context.Context, sessionID string, ordinal int64, content string) error
	// Finalize moves a pending message to a terminal status. Content is
	// immutable afterwards.
	Finalize(ctx context.Context, sessionID string, ordinal int64, status Status) error
	// History returns all messages of a session in ordinal order.
	History(ctx context.Context, sessionID string) ([]Message, error)

	ExportSession(ctx context.Context, sessionID string) (*Export, error)
	ImportSession(ctx context.Context, data *Export) (*Session, error)

	Close() error
}
