// Package memory keeps per-session chat history in SQLite and condenses old
// turns into a rolling summary.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/ffi-copilot/internal/memory/migrations"
)

// Roles accepted by AppendMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrInvalidRole = errors.New("invalid message role")

// Session is the stored state of one conversation.
type Session struct {
	SessionID string
	Summary   string
	CreatedAt int64 // unix seconds
	UpdatedAt int64
}

// Message is one persisted chat message.
type Message struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt int64
}

// Store is the SQLite-backed session store. All methods are safe for
// concurrent use; SQLite serializes writers.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (or creates) the database file at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)",
			version, s.now().Unix()); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Touch creates the session if needed and bumps updated_at.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(session_id, created_at, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetSession returns the session or nil if it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, summary, created_at, updated_at FROM sessions WHERE session_id = ?",
		sessionID).Scan(&sess.SessionID, &sess.Summary, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// Summary returns the session summary, or "" for unknown sessions.
func (s *Store) Summary(ctx context.Context, sessionID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM sessions WHERE session_id = ?", sessionID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

// SetSummary replaces the summary, creating the session if needed.
func (s *Store) SetSummary(ctx context.Context, sessionID, summary string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(session_id, summary, created_at, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		sessionID, summary, now, now)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

// AppendMessage stores a message and bumps the session's updated_at. The
// session must exist.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	return s.AppendMessages(ctx, sessionID, Message{Role: role, Content: content})
}

// AppendMessages stores several messages of one session in a single
// transaction, preserving their order.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs ...Message) error {
	for _, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages(session_id, role, content, created_at) VALUES(?, ?, ?, ?)",
			sessionID, m.Role, m.Content, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE session_id = ?", now, sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return tx.Commit()
}

// LastMessages returns up to limit most recent messages, oldest first.
func (s *Store) LastMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountMessages returns the number of stored messages of the session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

const deleteOldestSQL = `
	DELETE FROM messages
	WHERE session_id = ?
	  AND id NOT IN (
	    SELECT id FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
	  )`

// DeleteOldestMessages removes all but the keepLast most recent messages.
func (s *Store) DeleteOldestMessages(ctx context.Context, sessionID string, keepLast int) error {
	if _, err := s.db.ExecContext(ctx, deleteOldestSQL, sessionID, sessionID, keepLast); err != nil {
		return fmt.Errorf("delete oldest messages: %w", err)
	}
	return nil
}

// ApplyCompaction replaces the summary and trims the session to its keepLast
// most recent messages in one transaction. Either both changes land or
// neither does.
func (s *Store) ApplyCompaction(ctx context.Context, sessionID, summary string, keepLast int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions(session_id, summary, created_at, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		sessionID, summary, now, now); err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteOldestSQL, sessionID, sessionID, keepLast); err != nil {
		return fmt.Errorf("delete oldest messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit compaction: %w", err)
	}
	return nil
}

// DeleteSession removes the session and, by cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
