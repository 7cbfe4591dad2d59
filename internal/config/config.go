// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Notification backends.
const (
	BackendOpenclaw = "openclaw"
	BackendTelegram = "telegram"
)

// Config holds the application configuration.
type Config struct {
	CanvasAPIToken string
	CanvasBaseURL  string
	DatabasePath   string
	LogLevel       string

	NotifyBackend  string
	OpenclawBinary string
	OpenclawTarget string
	TelegramToken  string
	TelegramChatID int64

	PollInterval       time.Duration
	TickInterval       time.Duration
	DiscoverySchedule  string
	DeliveryAttempts   int
	DeliveryBackoff    time.Duration
	RenotifyOnResubmit bool
	ShutdownTimeout    time.Duration
	CourseIDs          []int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("CANVAS_API_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("CANVAS_API_TOKEN is required")
	}

	cfg := &Config{
		CanvasAPIToken: token,
		CanvasBaseURL:  envOrDefault("CANVAS_BASE_URL", "https://frostburg.instructure.com/"),
		DatabasePath:   envOrDefault("DATABASE_PATH", "./data/notifier.db"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),

		NotifyBackend:  strings.ToLower(envOrDefault("NOTIFY_BACKEND", BackendOpenclaw)),
		OpenclawBinary: envOrDefault("OPENCLAW_BINARY", "openclaw"),
		OpenclawTarget: envOrDefault("OPENCLAW_TARGET", "channel:1476308111034810482"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),

		DiscoverySchedule: envOrDefault("DISCOVERY_SCHEDULE", "@every 10m"),
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryBackoff, err = durationEnv("DELIVERY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryAttempts, err = intEnv("DELIVERY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RenotifyOnResubmit, err = boolEnv("RENOTIFY_ON_RESUBMIT", false); err != nil {
		return nil, err
	}
	if cfg.CourseIDs, err = int64ListEnv("COURSE_IDS"); err != nil {
		return nil, err
	}
	if cfg.DeliveryAttempts < 1 {
		return nil, fmt.Errorf("DELIVERY_ATTEMPTS must be at least 1")
	}

	switch cfg.NotifyBackend {
	case BackendOpenclaw:
	case BackendTelegram:
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required for the telegram backend")
		}
		raw := os.Getenv("TELEGRAM_CHAT_ID")
		if raw == "" {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required for the telegram backend")
		}
		cfg.TelegramChatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
	default:
		return nil, fmt.Errorf("unknown NOTIFY_BACKEND %q", cfg.NotifyBackend)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}

func int64ListEnv(key string) ([]int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid course ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
