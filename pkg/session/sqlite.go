package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"runsheet/pkg/logx"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// SQLiteStore is a Store backed by a local SQLite database. Expiry is
// enforced on read: rows past expires_at are treated as absent and swept
// opportunistically on writes.
type SQLiteStore struct {
	path   string
	db     *sql.DB
	logger *logx.Logger
}

// NewSQLiteStore creates a store persisting to the given database path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{
		path:   path,
		logger: logx.NewLogger("session"),
	}
}

// Connect opens the database, applies the schema, and configures the
// connection pool for SQLite's single-writer model. Connecting an
// already-open store is a no-op.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000",
		s.path,
	))
	if err != nil {
		return fmt.Errorf("failed to open session database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping session database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sessionSchema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize session schema: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s.db = db
	s.logger.Info("session store opened: %s", s.path)
	return nil
}

// Disconnect closes the database connection.
func (s *SQLiteStore) Disconnect() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close session database: %w", err)
	}
	return nil
}

// Get retrieves a session blob. Expired sessions are treated as absent.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, ErrUnavailable
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM sessions
		WHERE session_id = ? AND expires_at > ?
	`, sessionID, time.Now().Unix()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return data, true, nil
}

// Set stores a session blob, replacing any previous value.
func (s *SQLiteStore) Set(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error {
	if s.db == nil {
		return ErrUnavailable
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, data, updated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, sessionID, data, now.UTC().Format(time.RFC3339Nano), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to write session %s: %w", sessionID, err)
	}

	s.sweepExpired(ctx, now)
	return nil
}

// Delete removes a session. Deleting an absent id succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return ErrUnavailable
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// RefreshTTL extends a live session's lifetime without touching its data.
func (s *SQLiteStore) RefreshTTL(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if s.db == nil {
		return false, ErrUnavailable
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET expires_at = ?
		WHERE session_id = ? AND expires_at > ?
	`, now.Add(ttl).Unix(), sessionID, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to refresh session %s: %w", sessionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// HealthCheck reports connectivity. Never errors.
func (s *SQLiteStore) HealthCheck(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	return s.db.PingContext(ctx) == nil
}

// sweepExpired drops expired rows. Failures only get logged; expiry is also
// enforced on every read.
func (s *SQLiteStore) sweepExpired(ctx context.Context, now time.Time) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix()); err != nil {
		s.logger.Warn("failed to sweep expired sessions: %v", err)
	}
}

var _ Store = (*SQLiteStore)(nil)
