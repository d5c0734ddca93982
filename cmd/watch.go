package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/claudepings/claudepings/internal/alert"
	"github.com/claudepings/claudepings/internal/stats"
	"github.com/claudepings/claudepings/internal/telemetry"
	"github.com/claudepings/claudepings/internal/trigger"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the trigger file and raise alerts",
	Long: `Watches ~/.claude/claude-indicator-trigger for process ids written by Claude
Code hooks. Each id raises an alert through notify_command (if configured) and
is counted in the statistics file. Runs until interrupted.

notify_command is run with sh -c. CLAUDE_PINGS_PID and CLAUDE_PINGS_ALERT_ID
are set in its environment. Exit status 0 counts as a click, anything else
as a dismissal.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	store := stats.NewStore(cfg.StatsFile, stats.Options{
		RetentionDays: cfg.RetentionDays,
		Logger:        logger,
	})
	defer func() { _ = store.Close() }()

	var presenter alert.Presenter = alert.LogPresenter{Logger: logger}
	if cfg.NotifyCommand != "" {
		presenter = alert.CommandPresenter{Command: cfg.NotifyCommand}
	}
	alerts := alert.NewService(store, presenter, alert.Options{
		Timeout: cfg.NotifyTimeout,
		Logger:  logger,
		OnOutcome: func(o alert.Outcome) {
			telemetry.TrackAlert(o.String())
		},
	})
	defer alerts.Close()

	queue := trigger.NewSerialQueue(64)
	defer queue.Close()

	watcher := trigger.New(cfg.TriggerFile, trigger.Options{
		Subscriber:   trigger.NewNotifySubscriber(logger),
		Dispatcher:   queue,
		RestartDelay: cfg.RestartDelay,
		MaxSize:      cfg.MaxTriggerSize,
		Logger:       logger,
	})
	watcher.OnTrigger(func(pid int) {
		alerts.Handle(pid)
	})
	if err := watcher.Start(); err != nil {
		telemetry.TrackError("watch")
		return fmt.Errorf("failed to watch %s: %w", cfg.TriggerFile, err)
	}
	defer watcher.Stop()

	logger.Info("watching", "trigger_file", cfg.TriggerFile, "stats_file", cfg.StatsFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-store.Changes():
			today := store.Today()
			logger.Info("stats updated",
				"today_alerts", today.AlertCount,
				"today_clicked", today.ClickedCount,
				"today_dismissed", today.DismissedCount,
				"week_alerts", store.ThisWeekAlerts(),
				"streak_days", store.StreakDays(),
				"pending", store.PendingCount(),
			)
		}
	}
}
