// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task is one recurring maintenance job.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs maintenance tasks on cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// Add registers a task. An invalid schedule is rejected up front rather
// than silently never firing.
func (s *Scheduler) Add(task Task) error {
	_, err := s.cron.AddFunc(task.Schedule, func() {
		slog.Info("maintenance task firing", "name", task.Name)
		if err := task.Run(context.Background()); err != nil {
			slog.Error("maintenance task failed", "name", task.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q for task %s: %w", task.Schedule, task.Name, err)
	}
	slog.Info("scheduled maintenance task", "name", task.Name, "schedule", task.Schedule)
	return nil
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
