// Package config loads settings from environment variables. Flags in
// cmd/luksward override what is loaded here.
package config

import (
	"os"
	"strings"
	"time"
)

// Config holds the environment-driven settings.
type Config struct {
	// DBPath is where the run journal lives.
	DBPath string

	// NotifyURLs are Shoutrrr destinations for failure notifications.
	NotifyURLs []string
	// NotifyMinSeverity is the lowest severity that triggers a
	// notification: info, warning or critical.
	NotifyMinSeverity string
	// NotifyCooldown suppresses repeats of the same event type within
	// the window. Zero disables throttling.
	NotifyCooldown time.Duration

	// SSHKeyPath and SSHKnownHosts configure the native ssh:// transport.
	SSHKeyPath    string
	SSHKnownHosts string
}

// Load returns the configuration from environment variables.
func Load() Config {
	return Config{
		DBPath:            getEnv("LUKSWARD_DB_PATH", "/var/lib/luksward/history.db"),
		NotifyURLs:        splitList(getEnv("LUKSWARD_NOTIFY_URLS", "")),
		NotifyMinSeverity: getEnv("LUKSWARD_NOTIFY_SEVERITY", "warning"),
		NotifyCooldown:    getDuration("LUKSWARD_NOTIFY_COOLDOWN", 0),
		SSHKeyPath:        getEnv("LUKSWARD_SSH_KEY", "/root/.ssh/id_ed25519"),
		SSHKnownHosts:     getEnv("LUKSWARD_KNOWN_HOSTS", "/root/.ssh/known_hosts"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
