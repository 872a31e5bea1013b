// Package config holds configuration types and loading logic for lattice.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/horizonanalytic/lattice-sub007/internal/threadpool"
)

// Config is the root configuration for a lattice process.
type Config struct {
	Dispatch  DispatchConfig    `yaml:"dispatch"`
	Pool      threadpool.Config `yaml:"pool"`
	Reaper    ReaperConfig      `yaml:"reaper"`
	Inspector InspectorConfig   `yaml:"inspector"`
	Log       LogConfig         `yaml:"log"`
}

// DispatchConfig sizes one loop iteration.
type DispatchConfig struct {
	MaxEventsPerIteration int `yaml:"max_events_per_iteration"`
	TaskBatchSize         int `yaml:"task_batch_size"`
}

// ReaperConfig controls reclamation of orphaned invocations.
type ReaperConfig struct {
	// Interval between sweeps, as a Go duration string. "0" disables the reaper.
	Interval string `yaml:"interval"`

	// JournalPath is a SQLite file reaped invocations are recorded in.
	// Empty disables the journal.
	JournalPath string `yaml:"journal_path"`
}

// InspectorConfig controls the diagnostics HTTP server.
type InspectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// RatePerSec caps events streamed to one websocket client per second.
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// LogConfig sets the slog level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Dispatch: DispatchConfig{
			MaxEventsPerIteration: 64,
			TaskBatchSize:         10,
		},
		Pool: threadpool.DefaultConfig(),
		Reaper: ReaperConfig{
			Interval:    "30s",
			JournalPath: "",
		},
		Inspector: InspectorConfig{
			Enabled:    false,
			Addr:       "127.0.0.1:7070",
			RatePerSec: 50,
			Burst:      100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// A missing file yields the defaults without error. An empty path skips the
// file entirely.
//
// Environment overrides are applied last:
//
//	LATTICE_LOG_LEVEL        sets log.level
//	LATTICE_POOL_WORKERS     sets pool.workers
//	LATTICE_INSPECTOR_ADDR   sets inspector.addr and enables the inspector
//	LATTICE_JOURNAL_PATH     sets reaper.journal_path
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LATTICE_POOL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Pool.Workers = n
		}
	}
	if v := os.Getenv("LATTICE_INSPECTOR_ADDR"); v != "" {
		cfg.Inspector.Addr = v
		cfg.Inspector.Enabled = true
	}
	if v := os.Getenv("LATTICE_JOURNAL_PATH"); v != "" {
		cfg.Reaper.JournalPath = v
	}
}

// Validate checks that values are consistent. It returns the first error found.
func (c *Config) Validate() error {
	if c.Dispatch.MaxEventsPerIteration < 1 {
		return fmt.Errorf("dispatch.max_events_per_iteration must be >= 1, got %d", c.Dispatch.MaxEventsPerIteration)
	}
	if c.Dispatch.TaskBatchSize < 1 {
		return fmt.Errorf("dispatch.task_batch_size must be >= 1, got %d", c.Dispatch.TaskBatchSize)
	}
	if c.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be >= 0, got %d", c.Pool.Workers)
	}
	if c.Pool.QueueSize < 0 {
		return fmt.Errorf("pool.queue_size must be >= 0, got %d", c.Pool.QueueSize)
	}
	if _, err := c.ReapInterval(); err != nil {
		return err
	}
	if c.Inspector.Enabled {
		if c.Inspector.Addr == "" {
			return errors.New("inspector.addr is required when the inspector is enabled")
		}
		if c.Inspector.RatePerSec <= 0 {
			return fmt.Errorf("inspector.rate_per_sec must be > 0, got %v", c.Inspector.RatePerSec)
		}
		if c.Inspector.Burst < 1 {
			return fmt.Errorf("inspector.burst must be >= 1, got %d", c.Inspector.Burst)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// ReapInterval parses reaper.interval. Zero disables the reaper.
func (c *Config) ReapInterval() (time.Duration, error) {
	if c.Reaper.Interval == "" || c.Reaper.Interval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Reaper.Interval)
	if err != nil {
		return 0, fmt.Errorf("reaper.interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("reaper.interval must not be negative, got %s", d)
	}
	return d, nil
}

// Level names accepted by log.level.
var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogLevel returns log.level as an slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	lvl, ok := levels[strings.ToLower(c.Log.Level)]
	if !ok {
		return 0, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return lvl, nil
}

// YAML renders the config as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
