package delay

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultDispatchInterval = 30 * time.Second
	defaultBatchSize        = 50
)

// Queue is the claim/mark side of the Store.
type Queue interface {
	ClaimDue(ctx context.Context, limit int) ([]Execution, error)
	MarkSent(ctx context.Context, name string) error
	MarkFailed(ctx context.Context, name, reason string) error
}

// Worker polls a Queue for due executions and hands each payload to the
// Dispatcher. A failed dispatch is recorded and not retried.
type Worker struct {
	queue      Queue
	dispatcher Dispatcher
	interval   time.Duration
	batchSize  int
	wake       chan struct{}
	logger     *slog.Logger
}

// NewWorker creates a Worker. A non-positive interval defaults to 30s.
func NewWorker(queue Queue, dispatcher Dispatcher, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:      queue,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  defaultBatchSize,
		wake:       make(chan struct{}, 1),
		logger:     logger,
	}
}

// Wake makes Run dispatch due executions now instead of at the next tick.
// It never blocks; wakes that arrive while one is pending are merged.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run dispatches due executions on every tick and on every Wake.
// Blocks until ctx is cancelled. Intended to be called with `go`.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Delayed execution worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runBatch(ctx)
		case <-w.wake:
			w.runBatch(ctx)
		case <-ctx.Done():
			w.logger.Info("Delayed execution worker stopped")
			return
		}
	}
}

func (w *Worker) runBatch(ctx context.Context) {
	sent, failed, err := w.DispatchDue(ctx)
	if err != nil {
		w.logger.Error("dispatch error", "error", err)
	} else if sent+failed > 0 {
		w.logger.Info("dispatch batch", "sent", sent, "failed", failed)
	}
}

// DispatchDue claims one batch of due executions and dispatches them.
func (w *Worker) DispatchDue(ctx context.Context) (sent, failed int, err error) {
	claimed, err := w.queue.ClaimDue(ctx, w.batchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, exec := range claimed {
		result := w.dispatcher.Dispatch(ctx, exec.Payload)
		if !result.OK() {
			w.logger.Warn("execution failed",
				"name", exec.Name, "status", result.StatusCode, "body", result.Body)
			if err := w.queue.MarkFailed(ctx, exec.Name, result.Body); err != nil {
				w.logger.Warn("mark failed", "name", exec.Name, "error", err)
			}
			failed++
			continue
		}
		if err := w.queue.MarkSent(ctx, exec.Name); err != nil {
			w.logger.Warn("mark sent", "name", exec.Name, "error", err)
		}
		sent++
	}
	return sent, failed, nil
}
