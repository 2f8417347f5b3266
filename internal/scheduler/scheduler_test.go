// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

func TestSchedulerFiresTask(t *testing.T) {
	var fires atomic.Int32
	sched := New()
	err := sched.Add(Task{
		Name:     "every-second",
		Schedule: "* * * * * *",
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	sched.Start()
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("task did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestInvalidScheduleRejected(t *testing.T) {
	sched := New()
	err := sched.Add(Task{
		Name:     "broken",
		Schedule: "not a schedule",
		Run:      func(ctx context.Context) error { return errors.New("unreachable") },
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRetentionSweepPurgesFinishedSessions(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "sessionhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	registry := store.NewSessionRegistry(db)
	uow := store.NewUnitOfWork(db)
	events := store.NewEventStore(db)
	ctx := context.Background()

	stopped, err := registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.SetStatus(ctx, stopped.ID, types.StatusStopped); err != nil {
		t.Fatal(err)
	}
	if _, err := events.Append(ctx, stopped.ID, "stdout", types.EventChunk, types.BytesPayload([]byte("x"))); err != nil {
		t.Fatal(err)
	}

	active, err := registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.SetStatus(ctx, active.ID, types.StatusRunning); err != nil {
		t.Fatal(err)
	}

	// maxAge zero makes every finished session eligible immediately.
	task := RetentionSweep("@daily", 0, registry, uow)
	if err := task.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := registry.Get(ctx, stopped.ID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("stopped session survived the sweep: %v", err)
	}
	if _, err := registry.Get(ctx, active.ID); err != nil {
		t.Errorf("running session was purged: %v", err)
	}
	if evs, err := events.Since(ctx, stopped.ID, 0); err != nil || len(evs) != 0 {
		t.Errorf("events survived the sweep: %d, %v", len(evs), err)
	}
}

func TestRetentionSweepHonorsMaxAge(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "sessionhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	registry := store.NewSessionRegistry(db)
	uow := store.NewUnitOfWork(db)
	ctx := context.Background()

	sess, err := registry.Create(ctx, types.KindPTY, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.SetStatus(ctx, sess.ID, types.StatusStopped); err != nil {
		t.Fatal(err)
	}

	// Recently stopped sessions stay within the retention window.
	task := RetentionSweep("@daily", time.Hour, registry, uow)
	if err := task.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Get(ctx, sess.ID); err != nil {
		t.Errorf("fresh stopped session was purged: %v", err)
	}
}
