package domain

import (
	"testing"

	"github.com/pascalcad/pascal-agent/internal/schema"
)

func TestNewSessionDefaults(t *testing.T) {
	t.Parallel()

	sess := NewSession("s1")
	if sess.Status != schema.StatusNeedClarification {
		t.Errorf("status = %q, want need_clarification", sess.Status)
	}
	if len(sess.Turns) != 0 || sess.Plan != nil || sess.Actions != nil {
		t.Error("fresh session should carry no history, plan or actions")
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestRecentTurnsWindow(t *testing.T) {
	t.Parallel()

	sess := NewSession("s1")
	for i := 0; i < 10; i++ {
		sess.AppendTurn(RoleUser, "message")
	}

	if got := len(sess.RecentTurns(8)); got != 8 {
		t.Errorf("window = %d turns, want 8", got)
	}
	if got := len(sess.RecentTurns(20)); got != 10 {
		t.Errorf("oversized window = %d turns, want all 10", got)
	}
}
