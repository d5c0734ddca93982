package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/claudepings/claudepings/internal/config"
	"github.com/claudepings/claudepings/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "claudepings",
	Short: "Alerts and response stats for Claude Code sessions waiting on you",
	Long: `claudepings watches the trigger file Claude Code hooks write to and raises
an alert whenever a session needs attention. It keeps per-day statistics of
how many alerts you got and how quickly you responded.

Files live in ~/.claude:
- claude-indicator-trigger   process ids appended by hooks
- claude-pings-stats.json    engagement statistics
- claude-pings.toml          optional settings`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		telemetry.SetVersion(Version)
		telemetry.Init(cfg.TelemetryKey, cfg.TelemetryHost)
		// Track command usage (skip root command itself)
		if cmd.Name() != "claudepings" {
			telemetry.TrackCommand(cmd.Name())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Close()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.claude/claude-pings.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(setupCmd)
}

func loadConfig() error {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	cfg = loaded
	logger = newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the stderr logger for the given level and format.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
