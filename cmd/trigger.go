package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var triggerPID int

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Append a process id to the trigger file",
	Long: `Appends one process id line to the trigger file. This is what Claude Code
hooks run; a running "claudepings watch" picks the line up and raises an alert.

Defaults to the parent process id.`,
	Args: cobra.NoArgs,
	RunE: runTrigger,
}

func init() {
	triggerCmd.Flags().IntVar(&triggerPID, "pid", 0, "Process id to signal (default: parent process)")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	pid := triggerPID
	if pid == 0 {
		pid = os.Getppid()
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return appendTrigger(cfg.TriggerFile, pid)
}

// appendTrigger writes pid as a single line in one append.
func appendTrigger(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open trigger file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write trigger file: %w", err)
	}
	return f.Close()
}
