// SPDX-License-Identifier: MIT OR Apache-2.0

// Package config loads and validates editor history configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ordokr/OrdoPlayEditor/pkg/logging"
	"github.com/ordokr/OrdoPlayEditor/services/editor/history"
)

// Config is the root editor configuration.
type Config struct {
	// History configures the undo/redo engine.
	History HistoryConfig `yaml:"history"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// HistoryConfig tunes the history engine.
type HistoryConfig struct {
	// MemoryBudgetBytes caps retained history memory. 0 uses the default.
	MemoryBudgetBytes int64 `yaml:"memory_budget_bytes" validate:"gte=0"`

	// MaxDepth caps the number of undoable groups. 0 uses the default.
	MaxDepth int `yaml:"max_depth" validate:"gte=0,lte=100000"`

	// CoalesceWindowMS is the gesture merge window in milliseconds.
	// 0 uses the default (500 ms).
	CoalesceWindowMS int `yaml:"coalesce_window_ms" validate:"gte=0,lte=60000"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Default returns production defaults.
func Default() Config {
	return Config{
		History: HistoryConfig{
			MemoryBudgetBytes: history.DefaultBudgetBytes,
			MaxDepth:          history.DefaultMaxDepth,
			CoalesceWindowMS:  int(history.DefaultCoalesceWindow / time.Millisecond),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults and validates it.
//
// Outputs:
//   - Config: The merged configuration.
//   - error: Non-nil on read, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HistoryOptions converts the config into history engine options.
func (c Config) HistoryOptions() history.Options {
	opts := history.DefaultOptions()
	if c.History.MemoryBudgetBytes > 0 {
		opts.BudgetBytes = c.History.MemoryBudgetBytes
	}
	if c.History.MaxDepth > 0 {
		opts.MaxDepth = c.History.MaxDepth
	}
	if c.History.CoalesceWindowMS > 0 {
		opts.CoalesceWindow = time.Duration(c.History.CoalesceWindowMS) * time.Millisecond
	}
	return opts
}

// LoggingConfig converts the config into logging configuration.
func (c Config) LoggingConfig(service string) logging.Config {
	level := logging.LevelInfo
	switch c.Log.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		JSON:    c.Log.JSON,
	}
}
