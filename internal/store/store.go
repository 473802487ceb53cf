package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable wraps failures of the underlying database.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes an input rejected before it reaches the database.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Is lets errors.Is(err, ErrValidation) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID          int64
	AuthorID    int64
	AuthorName  string
	Room        string
	Body        string
	ClientMsgID string
	CreatedAt   time.Time
}

// NewMessage is the input of MessageStore.InsertMessage.
type NewMessage struct {
	AuthorID int64
	Room     string
	Body     string
	// ClientMsgID is an optional author-scoped idempotency key.
	ClientMsgID string
}

// Validate checks the invariants every persisted message must satisfy.
func (m NewMessage) Validate() error {
	if m.AuthorID <= 0 {
		return &ValidationError{Field: "author", Reason: "is required"}
	}
	if strings.TrimSpace(m.Body) == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if strings.TrimSpace(m.Room) == "" {
		return &ValidationError{Field: "room", Reason: "must not be empty"}
	}
	return nil
}

// HistoryQuery selects messages for backfill.
type HistoryQuery struct {
	// Room restricts the result to one room; empty means every room.
	Room string
	// AfterID returns the oldest Limit messages with a greater id when set,
	// otherwise the most recent Limit messages are returned.
	AfterID int64
	Limit   int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// CountUsers returns the number of registered users, guests included.
	CountUsers(ctx context.Context) (int64, error)
}

// MessageStore is append-only message persistence.
type MessageStore interface {
	// InsertMessage assigns id and timestamp and persists the message.
	// The returned bool is false when an earlier message with the same
	// author and ClientMsgID was returned instead of inserting a new one.
	InsertMessage(ctx context.Context, msg NewMessage) (*Message, bool, error)

	// ListMessages returns messages in ascending creation order.
	ListMessages(ctx context.Context, q HistoryQuery) ([]*Message, error)

	// CountMessages returns the total number of persisted messages.
	CountMessages(ctx context.Context) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
