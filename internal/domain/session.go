// Package domain holds the conversation entities persisted per session.
package domain

import (
	"time"

	"github.com/pascalcad/pascal-agent/internal/schema"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the append-only conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EntityRef is a weak reference to geometry living in the host document:
// an opaque identifier plus the lookup kind. Never an owning handle.
type EntityRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ModelContext remembers the most recently created references. Fields are
// nullable and overwritten monotonically: newest wins per creation event.
type ModelContext struct {
	LastSketch  *EntityRef `json:"last_sketch,omitempty"`
	LastProfile *EntityRef `json:"last_profile,omitempty"`
	LastBody    *EntityRef `json:"last_body,omitempty"`
}

// Session is one conversation instance. Status only moves along the
// orchestrator's state machine; Turns is append-only.
type Session struct {
	SessionID string            `json:"session_id"`
	Status    schema.Status     `json:"status"`
	Turns     []Turn            `json:"turns"`
	Context   ModelContext      `json:"context"`
	Plan      []schema.PlanStep `json:"plan,omitempty"`
	Actions   []schema.Action   `json:"actions,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewSession returns the first-turn default: an empty session awaiting
// clarification.
func NewSession(sessionID string) *Session {
	now := time.Now()
	return &Session{
		SessionID: sessionID,
		Status:    schema.StatusNeedClarification,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn records a conversation turn.
func (s *Session) AppendTurn(role Role, text string) {
	s.Turns = append(s.Turns, Turn{Role: role, Text: text, Timestamp: time.Now()})
}

// RecentTurns returns the last n turns for prompt building.
func (s *Session) RecentTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
