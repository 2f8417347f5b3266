// internal/scheduler/retention.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// RetentionSweep builds a task that purges sessions no longer running
// whose last update is older than maxAge. Each purge removes the session
// row and its events together, so a partially deleted history is never
// observable.
func RetentionSweep(schedule string, maxAge time.Duration, registry types.SessionRegistry, uow *store.UnitOfWork) Task {
	return Task{
		Name:     "retention-sweep",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			sessions, err := registry.List(ctx, "")
			if err != nil {
				return err
			}

			cutoff := time.Now().Add(-maxAge)
			purged := 0
			for _, sess := range sessions {
				if sess.Status != types.StatusStopped && sess.Status != types.StatusError {
					continue
				}
				if sess.UpdatedAt.After(cutoff) {
					continue
				}
				if err := uow.PurgeSession(ctx, sess.ID); err != nil {
					slog.Warn("retention purge failed", "session_id", sess.ID, "error", err)
					continue
				}
				purged++
			}
			if purged > 0 {
				slog.Info("retention sweep purged sessions", "count", purged)
			}
			return nil
		},
	}
}
