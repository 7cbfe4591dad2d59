package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"canvas_notifier/internal/canvas"
	"canvas_notifier/internal/config"
	"canvas_notifier/internal/detector"
	"canvas_notifier/internal/notify"
	"canvas_notifier/internal/scheduler"
	"canvas_notifier/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	client := canvas.New(cfg.CanvasBaseURL, cfg.CanvasAPIToken, http.DefaultClient)

	user, err := client.VerifySelf(context.Background())
	if err != nil {
		log.Error("verify canvas connection", "base_url", cfg.CanvasBaseURL, "error", err)
		os.Exit(1)
	}
	log.Info("connected to canvas", "user", user.Name, "user_id", user.ID)

	notifier, err := newNotifier(cfg)
	if err != nil {
		log.Error("create notifier", "backend", cfg.NotifyBackend, "error", err)
		os.Exit(1)
	}

	det := detector.New(client, store, notifier, detector.Options{
		MaxAttempts:        cfg.DeliveryAttempts,
		RetryBackoff:       cfg.DeliveryBackoff,
		RenotifyOnResubmit: cfg.RenotifyOnResubmit,
	}, log)

	runner := scheduler.New(store, det, client, scheduler.Options{
		PollInterval:      cfg.PollInterval,
		TickInterval:      cfg.TickInterval,
		DiscoverySchedule: cfg.DiscoverySchedule,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		CourseIDs:         cfg.CourseIDs,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting submission notifier",
		"poll_interval", cfg.PollInterval, "backend", cfg.NotifyBackend)

	runner.Run(ctx)

	log.Info("notifier stopped")
}

func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.NotifyBackend == config.BackendTelegram {
		return notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	}
	return notify.NewCLI(cfg.OpenclawBinary, "discord", cfg.OpenclawTarget), nil
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
