package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

//go:embed schema.sql
var schema string

const defaultHistoryLimit = 50

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB

	// insertMu serializes message inserts so created_at never decreases in id order.
	insertMu sync.Mutex
	lastTS   int64
	now      func() time.Time
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	s, err := NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.seedClock(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// seedClock resumes timestamps after the newest stored message, even if the wall clock went back.
func (s *SQLiteStore) seedClock(ctx context.Context) error {
	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM messages`).Scan(&last); err != nil {
		return fmt.Errorf("seed clock: %w", err)
	}
	s.lastTS = last
	return nil
}

// Schema returns the DDL applied by New.
func Schema() string {
	return schema
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, is_guest)
		VALUES (?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	if len(sessionID) < 8 {
		return nil, &store.ValidationError{Field: "session_id", Reason: "must be at least 8 characters"}
	}
	query := `
		INSERT INTO users (username, password_hash, is_guest, session_id)
		VALUES (?, '', 1, ?)
	`
	guestUsername := "guest_" + sessionID[:8]

	result, err := s.db.ExecContext(ctx, query, guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a registered (non-guest) user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE username = ? AND is_guest = 0
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// CountUsers returns the number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, unavailable("count users", err)
	}
	return n, nil
}

// ==== MessageStore implementation ====

const messageColumns = `
	m.id, m.user_id, COALESCE(u.username, ''), m.room, m.body, COALESCE(m.client_msg_id, ''), m.created_at
`

// InsertMessage persists a message and returns it with the author name populated.
func (s *SQLiteStore) InsertMessage(ctx context.Context, in store.NewMessage) (*store.Message, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	if in.ClientMsgID != "" {
		existing, err := s.getMessage(ctx, `m.user_id = ? AND m.client_msg_id = ?`, in.AuthorID, in.ClientMsgID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	ts := s.now().UnixNano()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}

	var clientMsgID any
	if in.ClientMsgID != "" {
		clientMsgID = in.ClientMsgID
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, room, body, client_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, in.AuthorID, in.Room, in.Body, clientMsgID, ts)
	if err != nil {
		return nil, false, unavailable("insert message", err)
	}
	s.lastTS = ts

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, unavailable("get last insert id", err)
	}

	msg, err := s.getMessage(ctx, `m.id = ?`, id)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

func (s *SQLiteStore) getMessage(ctx context.Context, where string, args ...any) (*store.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE ` + where
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, unavailable("query message", err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg store.Message
		ts  int64
	)
	if err := row.Scan(&msg.ID, &msg.AuthorID, &msg.AuthorName, &msg.Room, &msg.Body, &msg.ClientMsgID, &ts); err != nil {
		return nil, err
	}
	msg.CreatedAt = time.Unix(0, ts).UTC()
	return &msg, nil
}

// ListMessages retrieves messages in ascending order.
// Without AfterID the newest Limit messages are selected and then re-ordered oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, q store.HistoryQuery) ([]*store.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var (
		conds []string
		args  []any
	)
	if q.Room != "" {
		conds = append(conds, "m.room = ?")
		args = append(args, q.Room)
	}
	if q.AfterID > 0 {
		conds = append(conds, "m.id > ?")
		args = append(args, q.AfterID)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	order := "DESC"
	if q.AfterID > 0 {
		order = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		%s
		ORDER BY m.created_at %s, m.id %s
		LIMIT ?
	`, messageColumns, where, order, order)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}

	if order == "DESC" {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return messages, nil
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, unavailable("count messages", err)
	}
	return n, nil
}

var _ store.Store = (*SQLiteStore)(nil)
