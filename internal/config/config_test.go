package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonanalytic/lattice-sub007/internal/config"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Dispatch.MaxEventsPerIteration)
	assert.Equal(t, 10, cfg.Dispatch.TaskBatchSize)
	assert.False(t, cfg.Inspector.Enabled)

	d, err := cfg.ReapInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Dispatch, cfg.Dispatch)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
dispatch:
  max_events_per_iteration: 8
pool:
  workers: 3
  name: io
reaper:
  interval: 5s
  journal_path: /tmp/orphans.db
inspector:
  enabled: true
  addr: ":9000"
log:
  level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Dispatch.MaxEventsPerIteration)
	assert.Equal(t, 10, cfg.Dispatch.TaskBatchSize, "unset fields keep defaults")
	assert.Equal(t, 3, cfg.Pool.Workers)
	assert.Equal(t, "io", cfg.Pool.Name)
	assert.Equal(t, "/tmp/orphans.db", cfg.Reaper.JournalPath)
	assert.True(t, cfg.Inspector.Enabled)
	assert.Equal(t, ":9000", cfg.Inspector.Addr)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempYAML(t, "dispatch: [unclosed")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LATTICE_LOG_LEVEL", "warn")
	t.Setenv("LATTICE_POOL_WORKERS", "2")
	t.Setenv("LATTICE_INSPECTOR_ADDR", "127.0.0.1:7171")
	t.Setenv("LATTICE_JOURNAL_PATH", "/var/lib/lattice/journal.db")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Pool.Workers)
	assert.True(t, cfg.Inspector.Enabled)
	assert.Equal(t, "127.0.0.1:7171", cfg.Inspector.Addr)
	assert.Equal(t, "/var/lib/lattice/journal.db", cfg.Reaper.JournalPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero events per iteration", func(c *config.Config) { c.Dispatch.MaxEventsPerIteration = 0 }},
		{"zero task batch", func(c *config.Config) { c.Dispatch.TaskBatchSize = 0 }},
		{"negative workers", func(c *config.Config) { c.Pool.Workers = -1 }},
		{"negative pool queue", func(c *config.Config) { c.Pool.QueueSize = -1 }},
		{"bad reap interval", func(c *config.Config) { c.Reaper.Interval = "soon" }},
		{"negative reap interval", func(c *config.Config) { c.Reaper.Interval = "-1s" }},
		{"inspector without addr", func(c *config.Config) { c.Inspector.Enabled = true; c.Inspector.Addr = "" }},
		{"inspector zero rate", func(c *config.Config) { c.Inspector.Enabled = true; c.Inspector.RatePerSec = 0 }},
		{"inspector zero burst", func(c *config.Config) { c.Inspector.Enabled = true; c.Inspector.Burst = 0 }},
		{"unknown log level", func(c *config.Config) { c.Log.Level = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestReapInterval_ZeroDisables(t *testing.T) {
	cfg := config.Default()
	cfg.Reaper.Interval = "0"

	d, err := cfg.ReapInterval()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestYAML_RoundTripsThroughLoad(t *testing.T) {
	cfg := config.Default()
	cfg.Dispatch.TaskBatchSize = 4

	out, err := cfg.YAML()
	require.NoError(t, err)

	loaded, err := config.Load(writeTempYAML(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Dispatch.TaskBatchSize)
}
