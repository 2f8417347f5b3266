package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "sessionhub",
	Short: "Session event store and live-replay daemon",
	Long: `sessionhub persists the event streams of long-lived interactive
sessions (shell PTYs and friends) and replays them to attaching clients
with no gap between backlog and live delivery.`,
	SilenceUsage: true,
}

func init() {
	defaultCfg := filepath.Join(os.Getenv("HOME"), ".sessionhub", "config.json")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "config file path")
}

// loadConfig loads the config or exits; subcommands cannot run without one.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
