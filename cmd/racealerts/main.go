// Command racealerts schedules and sends push notifications shortly before
// each Formula 1 race-weekend session.
//
// Usage:
//
//	racealerts schedule
//	racealerts dispatch < payload.json
//	racealerts preview --all
//	racealerts serve --run-now
//	racealerts migrate

// @title Race Alerts API
// @version 1.0.0
// @description Schedules push notifications a few minutes before each Formula 1 session and exposes scheduling previews, pending executions and a dispatch trigger.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @license.name MIT
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // DISPLAY_TIMEZONE on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/race-alerts/internal/config"
)

// Logs go to stderr so stdout carries only command results.
var (
	logLevel = new(slog.LevelVar)
	logger   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
)

func main() {
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "racealerts",
		Short:         "F1 session push notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(scheduleCmd())
	root.AddCommand(dispatchCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies LOG_LEVEL to the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
		logLevel.Set(lvl)
	} else {
		logger.Warn("Unknown LOG_LEVEL, using INFO", "log_level", cfg.LogLevel)
	}
	if cfg.Debug {
		logLevel.Set(slog.LevelDebug)
	}
	return cfg, nil
}
