// Package config resolves file locations and tunables for claudepings.
//
// Everything lives under ~/.claude next to Claude Code's own files. An
// optional TOML file overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/claudepings/claudepings/internal/stats"
	"github.com/claudepings/claudepings/internal/trigger"
)

const (
	TriggerFileName = "claude-indicator-trigger"
	StatsFileName   = "claude-pings-stats.json"
	ConfigFileName  = "claude-pings.toml"
)

// Config holds resolved settings.
type Config struct {
	TriggerFile    string
	StatsFile      string
	RestartDelay   time.Duration
	MaxTriggerSize int64
	RetentionDays  int
	NotifyCommand  string
	NotifyTimeout  time.Duration
	LogLevel       string
	LogFormat      string
	TelemetryKey   string
	TelemetryHost  string
}

// file mirrors the TOML layout. Durations are strings such as "500ms".
type file struct {
	TriggerFile    string `toml:"trigger_file"`
	StatsFile      string `toml:"stats_file"`
	RestartDelay   string `toml:"restart_delay"`
	MaxTriggerSize int64  `toml:"max_trigger_size"`
	RetentionDays  int    `toml:"retention_days"`
	NotifyCommand  string `toml:"notify_command"`
	NotifyTimeout  string `toml:"notify_timeout"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	TelemetryKey   string `toml:"telemetry_key"`
	TelemetryHost  string `toml:"telemetry_host"`
}

// ClaudeDir returns ~/.claude.
func ClaudeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".claude"), nil
}

// DefaultPath returns the location of the optional config file.
func DefaultPath() (string, error) {
	dir, err := ClaudeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// Default returns the built-in settings rooted at ~/.claude.
func Default() (Config, error) {
	dir, err := ClaudeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		TriggerFile:    filepath.Join(dir, TriggerFileName),
		StatsFile:      filepath.Join(dir, StatsFileName),
		RestartDelay:   trigger.DefaultRestartDelay,
		MaxTriggerSize: trigger.DefaultMaxSize,
		RetentionDays:  stats.DefaultRetentionDays,
		LogLevel:       "info",
		LogFormat:      "text",
		TelemetryHost:  "https://us.i.posthog.com",
	}, nil
}

// Load returns the defaults overlaid with the TOML file at path. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.apply(f); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(f file) error {
	if f.TriggerFile != "" {
		c.TriggerFile = expandHome(f.TriggerFile)
	}
	if f.StatsFile != "" {
		c.StatsFile = expandHome(f.StatsFile)
	}
	if f.RestartDelay != "" {
		d, err := time.ParseDuration(f.RestartDelay)
		if err != nil {
			return fmt.Errorf("restart_delay: %w", err)
		}
		c.RestartDelay = d
	}
	if f.NotifyTimeout != "" {
		d, err := time.ParseDuration(f.NotifyTimeout)
		if err != nil {
			return fmt.Errorf("notify_timeout: %w", err)
		}
		c.NotifyTimeout = d
	}
	if f.MaxTriggerSize != 0 {
		c.MaxTriggerSize = f.MaxTriggerSize
	}
	if f.RetentionDays != 0 {
		c.RetentionDays = f.RetentionDays
	}
	if f.NotifyCommand != "" {
		c.NotifyCommand = f.NotifyCommand
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" {
		c.LogFormat = f.LogFormat
	}
	if f.TelemetryKey != "" {
		c.TelemetryKey = f.TelemetryKey
	}
	if f.TelemetryHost != "" {
		c.TelemetryHost = f.TelemetryHost
	}
	return nil
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	if c.RestartDelay <= 0 {
		return errors.New("restart_delay must be positive")
	}
	if c.MaxTriggerSize <= 0 {
		return errors.New("max_trigger_size must be positive")
	}
	if c.RetentionDays <= 0 {
		return errors.New("retention_days must be positive")
	}
	if c.NotifyTimeout < 0 {
		return errors.New("notify_timeout must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || len(p) > 1 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
