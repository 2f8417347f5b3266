package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir          string `json:"data_dir"`
	Listen           string `json:"listen"`
	LogLevel         string `json:"log_level"`
	Shell            string `json:"shell"`
	CatchupTimeoutMs int    `json:"catchup_timeout_ms"`
	Retry            struct {
		MaxAttempts    int     `json:"max_attempts"`
		InitialDelayMs int     `json:"initial_delay_ms"`
		Multiplier     float64 `json:"multiplier"`
		MaxDelayMs     int     `json:"max_delay_ms"`
	} `json:"retry"`
	Retention struct {
		Schedule   string `json:"schedule"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"retention"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".sessionhub"),
		Listen:   "127.0.0.1:8700",
		LogLevel: "info",
	}
	cfg.CatchupTimeoutMs = 2000
	cfg.Retry.MaxAttempts = 4
	cfg.Retry.InitialDelayMs = 100
	cfg.Retry.Multiplier = 2.0
	cfg.Retry.MaxDelayMs = 1000
	// max_age_days 0 disables the retention sweep.
	cfg.Retention.Schedule = "0 3 * * *"
	cfg.Retention.MaxAgeDays = 30

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dataDir := os.Getenv("SESSIONHUB_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen := os.Getenv("SESSIONHUB_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if level := os.Getenv("SESSIONHUB_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if shell := os.Getenv("SESSIONHUB_SHELL"); shell != "" {
		cfg.Shell = shell
	}
	if v := os.Getenv("SESSIONHUB_CATCHUP_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse SESSIONHUB_CATCHUP_TIMEOUT_MS: %w", err)
		}
		cfg.CatchupTimeoutMs = ms
	}

	return cfg, nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "sessionhub.db")
}

func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "sessionhub.pid")
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
