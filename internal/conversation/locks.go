package conversation

import (
	"errors"
	"sync"
)

// ErrSessionBusy is returned when a turn arrives while another turn for
// the same session is still in flight. Interleaving turns would lose
// updates to the session context, so the second turn is rejected.
var ErrSessionBusy = errors.New("a turn for this session is already in progress")

// sessionLocks enforces the single-owner-per-session rule. Independent
// sessions proceed fully in parallel; only same-session turns contend.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[string]struct{})}
}

// acquire claims the session, returning false if it is already owned.
func (l *sessionLocks) acquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[sessionID]; busy {
		return false
	}
	l.held[sessionID] = struct{}{}
	return true
}

func (l *sessionLocks) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}
