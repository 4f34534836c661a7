// SPDX-License-Identifier: MIT OR Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordokr/OrdoPlayEditor/pkg/logging"
	"github.com/ordokr/OrdoPlayEditor/services/editor/history"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, history.DefaultBudgetBytes, cfg.History.MemoryBudgetBytes)
	assert.Equal(t, history.DefaultMaxDepth, cfg.History.MaxDepth)
	assert.Equal(t, 500, cfg.History.CoalesceWindowMS)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
history:
  memory_budget_bytes: 1048576
  max_depth: 25
  coalesce_window_ms: 250
log:
  level: debug
  json: true
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, int64(1048576), cfg.History.MemoryBudgetBytes)
		assert.Equal(t, 25, cfg.History.MaxDepth)
		assert.Equal(t, 250, cfg.History.CoalesceWindowMS)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.JSON)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeConfig(t, "history:\n  max_depth: 10\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.History.MaxDepth)
		assert.Equal(t, history.DefaultBudgetBytes, cfg.History.MemoryBudgetBytes)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "history: [not a mapping")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid level rejected", func(t *testing.T) {
		path := writeConfig(t, "log:\n  level: loud\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("negative budget rejected", func(t *testing.T) {
		path := writeConfig(t, "history:\n  memory_budget_bytes: -1\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConfig_HistoryOptions(t *testing.T) {
	cfg := Default()
	cfg.History.MemoryBudgetBytes = 2048
	cfg.History.MaxDepth = 7
	cfg.History.CoalesceWindowMS = 125

	opts := cfg.HistoryOptions()
	assert.Equal(t, int64(2048), opts.BudgetBytes)
	assert.Equal(t, 7, opts.MaxDepth)
	assert.Equal(t, 125*time.Millisecond, opts.CoalesceWindow)

	t.Run("zeros fall back to defaults", func(t *testing.T) {
		opts := Config{}.HistoryOptions()
		assert.Equal(t, history.DefaultBudgetBytes, opts.BudgetBytes)
		assert.Equal(t, history.DefaultMaxDepth, opts.MaxDepth)
		assert.Equal(t, history.DefaultCoalesceWindow, opts.CoalesceWindow)
	})
}

func TestConfig_LoggingConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Dir = "/tmp/logs"
	cfg.Log.JSON = true

	lc := cfg.LoggingConfig("editor")
	assert.Equal(t, logging.LevelWarn, lc.Level)
	assert.Equal(t, "/tmp/logs", lc.LogDir)
	assert.Equal(t, "editor", lc.Service)
	assert.True(t, lc.JSON)
}
