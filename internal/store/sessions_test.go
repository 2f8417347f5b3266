// internal/store/sessions_test.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/user/sessionhub/internal/types"
)

func TestCreateSession(t *testing.T) {
	db := openTestDB(t)
	reg := NewSessionRegistry(db)
	ctx := context.Background()

	meta := json.RawMessage(`{"shell":"/bin/zsh","cwd":"/home/me"}`)
	sess, err := reg.Create(ctx, types.KindPTY, "owner-1", meta)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != types.StatusStarting {
		t.Errorf("new session status = %s, want starting", sess.Status)
	}

	got, err := reg.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerID != "owner-1" {
		t.Errorf("owner = %q", got.OwnerID)
	}
	if got.Kind != types.KindPTY {
		t.Errorf("kind = %s", got.Kind)
	}
	if string(got.Metadata) != string(meta) {
		t.Errorf("metadata = %s", got.Metadata)
	}
}

func TestGetUnknownSession(t *testing.T) {
	db := openTestDB(t)
	reg := NewSessionRegistry(db)

	_, err := reg.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetStatusLegalPath(t *testing.T) {
	db := openTestDB(t)
	reg := NewSessionRegistry(db)
	ctx := context.Background()

	sess := createTestSession(t, db, types.KindPTY)
	if err := reg.SetStatus(ctx, sess.ID, types.StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetStatus(ctx, sess.ID, types.StatusStopped); err != nil {
		t.Fatal(err)
	}

	got, err := reg.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	db := openTestDB(t)
	reg := NewSessionRegistry(db)
	ctx := context.Background()

	sess := createTestSession(t, db, types.KindPTY)
	if err := reg.SetStatus(ctx, sess.ID, types.StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetStatus(ctx, sess.ID, types.StatusStopped); err != nil {
		t.Fatal(err)
	}

	err := reg.SetStatus(ctx, sess.ID, types.StatusRunning)
	var invalid *types.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != types.StatusStopped || invalid.To != types.StatusRunning {
		t.Errorf("error carries %s -> %s", invalid.From, invalid.To)
	}

	// Status must be unchanged after the rejected move.
	got, err := reg.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusStopped {
		t.Errorf("rejected transition mutated status to %s", got.Status)
	}
}

func TestMarkAllRunningStopped(t *testing.T) {
	db := openTestDB(t)
	reg := NewSessionRegistry(db)
	ctx := context.Background()

	a := createTestSession(t, db, types.KindPTY)
	b := createTestSession(t, db, types.KindPTY)
	c := createTestSession(t, db, types.KindPTY)
	for _, id := range []types.SessionID{a.ID, b.ID} {
		if err := reg.SetStatus(ctx, id, types.StatusRunning); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.SetStatus(ctx, c.ID, types.StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetStatus(ctx, c.ID, types.StatusStopped); err != nil {
		t.Fatal(err)
	}

	before, err := reg.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)

	changed, err := reg.MarkAllRunningStopped(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if changed != 2 {
		t.Errorf("expected 2 sessions swept, got %d", changed)
	}

	for _, id := range []types.SessionID{a.ID, b.ID, c.ID} {
		got, err := reg.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != types.StatusStopped {
			t.Errorf("session %s status = %s after sweep", id, got.Status)
		}
	}

	after, err := reg.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("sweep did not advance updated_at")
	}
}

func TestListOrderedAndFiltered(t *testing.T) {
	db := openTestDB(t)
	reg := NewSessionRegistry(db)
	ctx := context.Background()

	first := createTestSession(t, db, types.KindPTY)
	time.Sleep(2 * time.Millisecond)
	createTestSession(t, db, types.KindAssistant)
	time.Sleep(2 * time.Millisecond)

	// Touching first makes it the most recently updated.
	if err := reg.SetStatus(ctx, first.ID, types.StatusRunning); err != nil {
		t.Fatal(err)
	}

	all, err := reg.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
	if all[0].ID != first.ID {
		t.Errorf("expected most recently updated session first, got %s", all[0].ID)
	}

	ptys, err := reg.List(ctx, types.KindPTY)
	if err != nil {
		t.Fatal(err)
	}
	if len(ptys) != 1 || ptys[0].Kind != types.KindPTY {
		t.Errorf("kind filter returned %d sessions", len(ptys))
	}
}
