package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/albapepper/race-alerts/internal/api"
	"github.com/albapepper/race-alerts/internal/api/handler"
	"github.com/albapepper/race-alerts/internal/cache"
	"github.com/albapepper/race-alerts/internal/config"
	"github.com/albapepper/race-alerts/internal/delay"
	"github.com/albapepper/race-alerts/internal/listener"
	"github.com/albapepper/race-alerts/internal/maintenance"
	"github.com/albapepper/race-alerts/internal/metrics"
	"github.com/albapepper/race-alerts/internal/notifications"
)

// cronParser accepts standard five-field expressions (no seconds field).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func serveCmd() *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler on SCHEDULE_CRON, the dispatch worker and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequirePushover(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run one scheduling pass at startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, runNow bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched, err := cronParser.Parse(cfg.ScheduleCron)
	if err != nil {
		return fmt.Errorf("parse SCHEDULE_CRON %q: %w", cfg.ScheduleCron, err)
	}
	warnIfCadenceExceedsHorizon(sched, cfg.Horizon, time.Now())

	// Metrics
	sink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)

	b, err := connectBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	source, _ := newSource(cfg)
	scheduler := notifications.NewScheduler(source, b.starter, policyFrom(cfg), sink, logger)
	dispatcher := newDispatcher(cfg, sink)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Dispatch side of the delay backend
	deps := handler.Deps{
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
		Cache:      appCache,
		Config:     cfg,
		Logger:     logger,
	}
	if b.store != nil {
		deps.Executions = b.store
		deps.DB = b.pool

		worker := delay.NewWorker(b.store, dispatcher, cfg.DispatchInterval, logger)
		go worker.Run(ctx)

		// Wake the worker at each execution's fire_at
		go listener.Start(ctx, cfg.DatabaseURL, worker, logger)

		go maintenance.Start(ctx, b.store, maintenance.DefaultConfig(), logger)
	} else {
		ch, err := b.amqpConn.Channel()
		if err != nil {
			return fmt.Errorf("open consumer channel: %w", err)
		}
		defer ch.Close()
		consumer := delay.NewConsumer(ch, dispatcher, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Delayed execution consumer stopped", "error", err)
				cancel()
			}
		}()
	}

	// Scheduling runs
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)
	runOnce := func() {
		result := scheduler.Run(ctx)
		appCache.InvalidatePrefix("preview:")
		for _, e := range result.Errors {
			logger.Error("schedule error", "error", e)
		}
	}
	if _, err := c.AddFunc(cfg.ScheduleCron, runOnce); err != nil {
		return fmt.Errorf("register schedule: %w", err)
	}
	c.Start()
	logger.Info("Scheduler started", "cron", cfg.ScheduleCron, "next", sched.Next(time.Now()).UTC().Format(time.RFC3339))
	if runNow {
		go runOnce()
	}

	if cfg.APIKey == "" {
		logger.Warn("API_KEY is not set; POST /api/v1/schedule/run and /api/v1/dispatch are unauthenticated")
	}

	// Create router
	router := api.NewRouter(handler.New(deps), promhttp.Handler(), cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting Race Alerts API",
			"addr", addr,
			"environment", cfg.Environment,
			"source", cfg.ScheduleSource,
			"delay_backend", cfg.DelayBackend,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			cancel()
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Scheduling run still in progress at shutdown")
	}
	logger.Info("Server stopped")

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}

// warnIfCadenceExceedsHorizon logs when two consecutive scheduling runs are
// further apart than the horizon. Events whose notification point falls in the
// gap would never be scheduled.
func warnIfCadenceExceedsHorizon(s cron.Schedule, horizon time.Duration, now time.Time) bool {
	first := s.Next(now)
	gap := s.Next(first).Sub(first)
	if gap > horizon {
		logger.Warn("SCHEDULE_CRON runs less often than the scheduling horizon; some notifications will be missed",
			"interval", gap, "horizon", horizon)
		return true
	}
	return false
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
