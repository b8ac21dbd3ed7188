// Package store provides durable, session-keyed conversation persistence.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pascalcad/pascal-agent/internal/domain"
)

// Repository persists conversation sessions keyed by session id.
type Repository interface {
	// Load retrieves the session for the given id. If none exists it
	// returns a fresh, unpersisted session in the need_clarification
	// state (the first-turn default).
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Save atomically overwrites the record for session.SessionID.
	Save(ctx context.Context, session *domain.Session) error

	// Delete removes a session record. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, sessionID string) error

	// DeleteIdle removes sessions not updated within ttl and reports how
	// many were removed.
	DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying storage handle.
	Close() error
}

// StorageError wraps a storage-layer failure. Losing conversation
// continuity is user-visible, so these are surfaced explicitly rather
// than swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
