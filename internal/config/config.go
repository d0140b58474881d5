// Package config loads the observatory configuration from file and
// environment via viper, applies defaults, and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full observatory configuration.
type Config struct {
	Mode    string        `mapstructure:"mode"`
	Server  ServerConfig  `mapstructure:"server"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Core    CoreConfig    `mapstructure:"core"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PathsConfig contains the shared runtime data locations.
type PathsConfig struct {
	BusFile     string `mapstructure:"bus_file"`
	HistoryDir  string `mapstructure:"history_dir"`
	InvalidDir  string `mapstructure:"invalid_dir"`
	AgentsRoot  string `mapstructure:"agents_root"`
	CronRunsDir string `mapstructure:"cron_runs_dir"`
	DocsDir     string `mapstructure:"docs_dir"`
	Home        string `mapstructure:"home"`
}

// CoreConfig contains control-plane polling settings.
type CoreConfig struct {
	Binary         string        `mapstructure:"binary"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxActivations int           `mapstructure:"max_activations"`
}

// BridgeConfig contains session transcript mirroring settings. The bridge
// runs whenever the mode includes bus ingestion; only its cadence is tunable.
type BridgeConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Run modes accepted by Validate. In legacy mode only the bus tailer and
// bridge run; in core-only-passive mode the control-plane poller is
// authoritative; auto runs both.
const (
	ModeLegacy   = "legacy"
	ModeCoreOnly = "core-only-passive"
	ModeAuto     = "auto"
)

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5050"
	}

	if cfg.Paths.Home == "" {
		cfg.Paths.Home, _ = os.UserHomeDir()
	}
	base := filepath.Join(cfg.Paths.Home, ".openclaw")
	if cfg.Paths.BusFile == "" {
		cfg.Paths.BusFile = filepath.Join(base, "shared", "events", "bus.jsonl")
	}
	if cfg.Paths.HistoryDir == "" {
		cfg.Paths.HistoryDir = filepath.Join(base, "shared", "events", "history")
	}
	if cfg.Paths.InvalidDir == "" {
		cfg.Paths.InvalidDir = filepath.Join(base, "shared", "events", "invalid")
	}
	if cfg.Paths.AgentsRoot == "" {
		cfg.Paths.AgentsRoot = filepath.Join(base, "agents")
	}
	if cfg.Paths.CronRunsDir == "" {
		cfg.Paths.CronRunsDir = filepath.Join(base, "cron", "runs")
	}
	if cfg.Paths.DocsDir == "" {
		cfg.Paths.DocsDir = "docs"
	}

	if cfg.Core.Binary == "" {
		cfg.Core.Binary = "openclaw"
	}
	if cfg.Core.PollInterval == 0 {
		cfg.Core.PollInterval = 5 * time.Second
	}
	if cfg.Core.MaxActivations == 0 {
		cfg.Core.MaxActivations = 5
	}
	if cfg.Core.MaxActivations < 1 {
		cfg.Core.MaxActivations = 1
	}
	if cfg.Core.MaxActivations > 24 {
		cfg.Core.MaxActivations = 24
	}

	if cfg.Bridge.Interval == 0 {
		cfg.Bridge.Interval = time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validModes := map[string]bool{ModeLegacy: true, ModeCoreOnly: true, ModeAuto: true}
	if !validModes[c.Mode] {
		return fmt.Errorf("invalid mode: %s (must be %s, %s, or %s)",
			c.Mode, ModeLegacy, ModeCoreOnly, ModeAuto)
	}

	if c.Core.PollInterval < time.Second {
		return fmt.Errorf("core poll_interval must be at least 1s, got %s", c.Core.PollInterval)
	}

	if c.Bridge.Interval < 100*time.Millisecond {
		return fmt.Errorf("bridge interval must be at least 100ms, got %s", c.Bridge.Interval)
	}

	if c.Paths.BusFile == "" {
		return fmt.Errorf("bus file path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
