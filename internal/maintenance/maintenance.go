// Package maintenance runs periodic housekeeping for the Postgres delay
// backend as Go tickers, alongside the dispatch worker in the serve process.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// Store is the subset of *delay.Store the maintenance tasks use.
type Store interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config controls maintenance task intervals. Zero interval disables a task.
type Config struct {
	CleanupInterval time.Duration // Purge finished executions
	Retention       time.Duration // Age after which sent/failed rows are purged
	RequeueInterval time.Duration // Recover executions stuck in 'sending'
	StaleAfter      time.Duration // How long 'sending' may last before requeue
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: 30 * time.Minute,
		Retention:       30 * 24 * time.Hour,
		RequeueInterval: 5 * time.Minute,
		StaleAfter:      10 * time.Minute,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, store Store, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"retention", cfg.Retention,
		"requeue", cfg.RequeueInterval,
		"stale_after", cfg.StaleAfter)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { Cleanup(ctx, store, cfg.Retention, logger) })
	}

	if cfg.RequeueInterval > 0 {
		t := time.NewTicker(cfg.RequeueInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { RequeueStale(ctx, store, cfg.StaleAfter, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// Cleanup removes sent and failed executions older than retention.
func Cleanup(ctx context.Context, store Store, retention time.Duration, logger *slog.Logger) int64 {
	n, err := store.Cleanup(ctx, retention)
	if err != nil {
		logger.Warn("Cleanup: failed to purge old executions", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("Cleanup: purged old executions", "count", n)
	}
	return n
}

// RequeueStale hands executions whose worker died mid-send back to the
// dispatch queue. The notification may be sent twice in that case.
func RequeueStale(ctx context.Context, store Store, staleAfter time.Duration, logger *slog.Logger) int64 {
	n, err := store.RequeueStale(ctx, staleAfter)
	if err != nil {
		logger.Warn("Requeue: failed to recover stale executions", "error", err)
		return 0
	}
	if n > 0 {
		logger.Warn("Requeue: recovered executions stuck in sending", "count", n)
	}
	return n
}
