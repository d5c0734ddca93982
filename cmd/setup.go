package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	setupProject bool
	setupRemove  bool
	setupEvents  []string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Add claudepings hooks to Claude Code settings",
	Long: `Adds hooks to Claude Code settings that append the Claude process id to the
trigger file whenever Claude needs your attention.

By default, adds to the global settings (~/.claude/settings.json).
Use --project to add to .claude/settings.json in the current directory instead.
Use --remove to take the hooks out again.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVarP(&setupProject, "project", "p", false, "Add to project settings (.claude/settings.json)")
	setupCmd.Flags().BoolVar(&setupRemove, "remove", false, "Remove claudepings hooks")
	setupCmd.Flags().StringSliceVarP(&setupEvents, "event", "e", []string{"Notification", "Stop"}, "Claude Code hook events to attach to")
}

func runSetup(cmd *cobra.Command, args []string) error {
	binaryPath, err := getBinaryPath()
	if err != nil {
		return fmt.Errorf("failed to find claudepings binary: %w", err)
	}

	settingsPath, err := getSettingsPath(setupProject)
	if err != nil {
		return err
	}

	command := hookCommand(binaryPath)
	if setupRemove {
		removed, err := removeHooks(settingsPath, command)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d claudepings hook(s) from %s\n", removed, settingsPath)
		return nil
	}

	added, err := installHooks(settingsPath, command, setupEvents)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		fmt.Printf("%s already contains claudepings hooks.\n", settingsPath)
		return nil
	}

	fmt.Printf("Added claudepings hooks to %s\n", settingsPath)
	fmt.Printf("Events: %v\n", added)
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Println("\nRun 'claudepings watch' to start receiving alerts.")
	return nil
}

func getBinaryPath() (string, error) {
	// First try to find in PATH
	path, err := exec.LookPath("claudepings")
	if err == nil {
		return filepath.Abs(path)
	}

	// Fall back to current executable
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(exe)
}

func getSettingsPath(project bool) (string, error) {
	if project {
		return filepath.Join(".claude", "settings.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// hookCommand is the shell command Claude Code runs. $PPID is the Claude
// process that spawned the hook shell.
func hookCommand(binaryPath string) string {
	return fmt.Sprintf("%q trigger --pid $PPID", binaryPath)
}

func readSettings(path string) (map[string]interface{}, error) {
	settings := make(map[string]interface{})

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse existing settings: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return settings, nil
}

func writeSettings(path string, settings map[string]interface{}) error {
	output, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, output, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// installHooks attaches command to each event, skipping events that
// already run it. It returns the events that were added.
func installHooks(path, command string, events []string) ([]string, error) {
	settings, err := readSettings(path)
	if err != nil {
		return nil, err
	}

	// Get or create hooks
	hooks, ok := settings["hooks"].(map[string]interface{})
	if !ok {
		hooks = make(map[string]interface{})
	}

	var added []string
	for _, event := range events {
		matchers, _ := hooks[event].([]interface{})
		if hasCommand(matchers, command) {
			continue
		}
		matchers = append(matchers, map[string]interface{}{
			"matcher": "",
			"hooks": []interface{}{
				map[string]interface{}{
					"type":    "command",
					"command": command,
				},
			},
		})
		hooks[event] = matchers
		added = append(added, event)
	}
	if len(added) == 0 {
		return nil, nil
	}

	settings["hooks"] = hooks
	if err := writeSettings(path, settings); err != nil {
		return nil, err
	}
	return added, nil
}

// removeHooks drops every hook running command and returns how many were
// removed. Matchers left without hooks are dropped as well.
func removeHooks(path, command string) (int, error) {
	settings, err := readSettings(path)
	if err != nil {
		return 0, err
	}
	hooks, ok := settings["hooks"].(map[string]interface{})
	if !ok {
		return 0, nil
	}

	removed := 0
	for event, raw := range hooks {
		matchers, ok := raw.([]interface{})
		if !ok {
			continue
		}
		var kept []interface{}
		for _, m := range matchers {
			matcher, ok := m.(map[string]interface{})
			if !ok {
				kept = append(kept, m)
				continue
			}
			entries, _ := matcher["hooks"].([]interface{})
			var keptEntries []interface{}
			for _, e := range entries {
				if entryCommand(e) == command {
					removed++
					continue
				}
				keptEntries = append(keptEntries, e)
			}
			if len(keptEntries) == len(entries) {
				kept = append(kept, matcher)
				continue
			}
			if len(keptEntries) == 0 {
				continue
			}
			matcher["hooks"] = keptEntries
			kept = append(kept, matcher)
		}
		if len(kept) == 0 {
			delete(hooks, event)
		} else {
			hooks[event] = kept
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if len(hooks) == 0 {
		delete(settings, "hooks")
	}
	return removed, writeSettings(path, settings)
}

func hasCommand(matchers []interface{}, command string) bool {
	for _, m := range matchers {
		matcher, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		entries, _ := matcher["hooks"].([]interface{})
		for _, e := range entries {
			if entryCommand(e) == command {
				return true
			}
		}
	}
	return false
}

func entryCommand(e interface{}) string {
	entry, ok := e.(map[string]interface{})
	if !ok {
		return ""
	}
	cmd, _ := entry["command"].(string)
	return cmd
}
