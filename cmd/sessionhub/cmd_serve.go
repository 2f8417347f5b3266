package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/sessionhub/internal/adapter"
	"github.com/user/sessionhub/internal/config"
	"github.com/user/sessionhub/internal/replay"
	"github.com/user/sessionhub/internal/scheduler"
	"github.com/user/sessionhub/internal/server"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sessionhub daemon",
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDPath()
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func retryFromConfig(cfg *config.Config) *store.RetryPolicy {
	return &store.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Store
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	db.SetRetryPolicy(retryFromConfig(cfg))

	registry := store.NewSessionRegistry(db)
	events := store.NewEventStore(db)
	uow := store.NewUnitOfWork(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sessions left running by a previous daemon have no backing process
	// anymore; sweep them to stopped before accepting traffic.
	swept, err := registry.MarkAllRunningStopped(ctx)
	if err != nil {
		return fmt.Errorf("sweep stale sessions: %w", err)
	}
	if swept > 0 {
		slog.Info("swept stale running sessions", "count", swept)
	}

	// Replay hub and drivers
	hub := replay.NewCoordinator(events)
	adapters := adapter.NewRegistry()
	adapters.Register(types.KindPTY, adapter.NewPTYDriver(cfg.Shell, hub, registry))

	// Retention
	if cfg.Retention.MaxAgeDays > 0 {
		sched := scheduler.New()
		maxAge := time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour
		if err := sched.Add(scheduler.RetentionSweep(cfg.Retention.Schedule, maxAge, registry, uow)); err != nil {
			return fmt.Errorf("schedule retention sweep: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(registry, events, hub, uow, adapters)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	slog.Info("sessionhub started",
		"listen", cfg.Listen,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-gctx.Done():
			return g.Wait()
		}
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		cancel()
		return g.Wait()
	}
}
