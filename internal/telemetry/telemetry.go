package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
)

var (
	client   posthog.Client
	once     sync.Once
	disabled bool
	anonID   string
)

// Init initializes the telemetry client. Telemetry is opt-in: without an API
// key nothing is sent.
func Init(apiKey, host string) {
	once.Do(func() {
		if Disabled(apiKey) {
			disabled = true
			return
		}

		anonID = generateAnonID()

		var err error
		client, err = posthog.NewWithConfig(apiKey, posthog.Config{
			Endpoint: host,
			Interval: 5 * time.Second, // Flush every 5 seconds
		})
		if err != nil {
			disabled = true
			return
		}
	})
}

// Disabled reports whether telemetry is off for the given key and the
// current environment.
func Disabled(apiKey string) bool {
	if apiKey == "" {
		return true
	}
	return os.Getenv("CLAUDE_PINGS_NO_TELEMETRY") != "" || os.Getenv("DO_NOT_TRACK") == "1"
}

// Close flushes and closes the telemetry client
func Close() {
	if client != nil {
		_ = client.Close()
	}
}

// Track sends an event to PostHog
func Track(event string, properties map[string]interface{}) {
	if disabled || client == nil {
		return
	}

	props := posthog.NewProperties()
	props.Set("os", runtime.GOOS)
	props.Set("arch", runtime.GOARCH)
	props.Set("version", Version)

	for k, v := range properties {
		props.Set(k, v)
	}

	_ = client.Enqueue(posthog.Capture{
		DistinctId: anonID,
		Event:      event,
		Properties: props,
	})
}

// TrackCommand tracks a CLI command usage
func TrackCommand(command string) {
	Track("command", map[string]interface{}{
		"command": command,
	})
}

// TrackAlert tracks how an alert was resolved. No identifiers are sent.
func TrackAlert(outcome string) {
	Track("alert", map[string]interface{}{
		"outcome": outcome,
	})
}

// TrackError tracks an error event (anonymized)
func TrackError(context string) {
	Track("error", map[string]interface{}{
		"context": context,
	})
}

// generateAnonID creates a stable anonymous ID for this machine
func generateAnonID() string {
	home, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()

	data := home + hostname + "claudepings-salt-v1"
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// Version is set by the calling package
var Version = "dev"

// SetVersion sets the version for telemetry events
func SetVersion(v string) {
	Version = v
}
