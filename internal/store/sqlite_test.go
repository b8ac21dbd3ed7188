package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pascalcad/pascal-agent/internal/domain"
	"github.com/pascalcad/pascal-agent/internal/schema"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadMissingSessionReturnsFirstTurnDefault(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	sess, err := s.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sess.Status != schema.StatusNeedClarification {
		t.Errorf("expected status %s, got %s", schema.StatusNeedClarification, sess.Status)
	}
	if len(sess.Turns) != 0 {
		t.Errorf("expected empty turn history, got %d turns", len(sess.Turns))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	sess := domain.NewSession("sess-rt")
	sess.Status = schema.StatusPlanned
	sess.AppendTurn(domain.RoleUser, "make a 2cm square on XY")
	sess.AppendTurn(domain.RoleAssistant, "plan: sketch then rectangle")
	sess.Context.LastSketch = &domain.EntityRef{ID: "sk_0", Kind: "sketch"}
	sess.Plan = []schema.PlanStep{{StepNumber: 1, Description: "Create sketch on XY plane", Rationale: "base for the square"}}

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx, "sess-rt")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != schema.StatusPlanned {
		t.Errorf("status mismatch: got %s", got.Status)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got.Turns))
	}
	if got.Turns[0].Role != domain.RoleUser || got.Turns[0].Text != "make a 2cm square on XY" {
		t.Errorf("turn 0 mismatch: %+v", got.Turns[0])
	}
	if got.Context.LastSketch == nil || got.Context.LastSketch.ID != "sk_0" {
		t.Errorf("context not round-tripped: %+v", got.Context)
	}
	if len(got.Plan) != 1 || got.Plan[0].Description != "Create sketch on XY plane" {
		t.Errorf("plan not round-tripped: %+v", got.Plan)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	sess := domain.NewSession("sess-ow")
	sess.AppendTurn(domain.RoleUser, "first")
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("initial Save failed: %v", err)
	}

	sess.Status = schema.StatusReadyToExecute
	sess.AppendTurn(domain.RoleAssistant, "second")
	sess.Actions = []schema.Action{{Name: schema.ActionCreateSketch, Params: map[string]any{"plane": "XY"}}}
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("overwrite Save failed: %v", err)
	}

	got, err := s.Load(ctx, "sess-ow")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != schema.StatusReadyToExecute || len(got.Turns) != 2 || len(got.Actions) != 1 {
		t.Errorf("overwrite not observed: status=%s turns=%d actions=%d", got.Status, len(got.Turns), len(got.Actions))
	}
}

func TestDeleteAndDeleteIdle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, domain.NewSession("sess-del")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Delete(ctx, "sess-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := s.Load(ctx, "sess-del")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Turns) != 0 || got.Status != schema.StatusNeedClarification {
		t.Errorf("expected fresh session after delete, got %+v", got)
	}

	// Deleting a missing session is not an error.
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete of missing session failed: %v", err)
	}

	if err := s.Save(ctx, domain.NewSession("sess-idle")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	n, err := s.DeleteIdle(ctx, -time.Second) // everything is older than "now + 1s"
	if err != nil {
		t.Fatalf("DeleteIdle failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 idle session deleted, got %d", n)
	}
}
