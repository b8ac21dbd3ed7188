package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pascalcad/pascal-agent/internal/domain"
	"github.com/pascalcad/pascal-agent/internal/schema"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, &StorageError{Op: "init", Err: fmt.Errorf("create database directory: %w", err)}
	}

	// WAL mode for better concurrency between independent sessions.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, &StorageError{Op: "ping", Err: err}
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		turns_json TEXT NOT NULL,
		context_json TEXT NOT NULL,
		plan_json TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return &StorageError{Op: "init schema", Err: err}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Load retrieves a session, or a fresh first-turn default when absent.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, status, turns_json, context_json, plan_json, actions_json,
		       created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var status, turnsJSON, contextJSON, planJSON, actionsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&sess.SessionID, &status, &turnsJSON, &contextJSON, &planJSON, &actionsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewSession(sessionID), nil
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}

	sess.Status = schema.Status(status)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	for _, field := range []struct {
		raw  string
		dest any
	}{
		{turnsJSON, &sess.Turns},
		{contextJSON, &sess.Context},
		{planJSON, &sess.Plan},
		{actionsJSON, &sess.Actions},
	} {
		if field.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, &StorageError{Op: "decode session", Err: err}
		}
	}

	return &sess, nil
}

// Save atomically overwrites the session record.
func (s *SQLiteStore) Save(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turnsJSON, err := marshalField(session.Turns)
	if err != nil {
		return &StorageError{Op: "encode turns", Err: err}
	}
	contextJSON, err := marshalField(session.Context)
	if err != nil {
		return &StorageError{Op: "encode context", Err: err}
	}
	planJSON, err := marshalField(session.Plan)
	if err != nil {
		return &StorageError{Op: "encode plan", Err: err}
	}
	actionsJSON, err := marshalField(session.Actions)
	if err != nil {
		return &StorageError{Op: "encode actions", Err: err}
	}

	query := `
		INSERT INTO sessions (
			session_id, status, turns_json, context_json, plan_json, actions_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			turns_json = excluded.turns_json,
			context_json = excluded.context_json,
			plan_json = excluded.plan_json,
			actions_json = excluded.actions_json,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		session.SessionID, string(session.Status),
		turnsJSON, contextJSON, planJSON, actionsJSON,
		session.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	return nil
}

// Delete removes a session record.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// DeleteIdle removes sessions not updated within ttl.
func (s *SQLiteStore) DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, &StorageError{Op: "delete idle", Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "delete idle", Err: err}
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

func marshalField(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
