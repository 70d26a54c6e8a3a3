package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/race-alerts/internal/metrics"
	"github.com/albapepper/race-alerts/internal/race"
)

// Starter is the delayed-execution service. Start must accept the same name
// more than once; calls after the first have no effect beyond returning nil
// or ErrAlreadyScheduled.
type Starter interface {
	Start(ctx context.Context, name string, waitSeconds int64, payload json.RawMessage) error
}

// Scheduler runs the fetch → normalize → evaluate → start pipeline.
type Scheduler struct {
	source  race.Source
	starter Starter
	policy  Policy
	metrics metrics.Sink
	logger  *slog.Logger
	clock   func() time.Time
}

// NewScheduler creates a Scheduler. A nil sink or logger falls back to a no-op
// sink and slog.Default().
func NewScheduler(source race.Source, starter Starter, policy Policy, sink metrics.Sink, logger *slog.Logger) *Scheduler {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:  source,
		starter: starter,
		policy:  policy.withDefaults(),
		metrics: sink,
		logger:  logger,
		clock:   time.Now,
	}
}

// Plan fetches and evaluates the current schedule without starting anything.
func (s *Scheduler) Plan(ctx context.Context) ([]Evaluation, int, error) {
	return s.plan(ctx, s.clock().UTC(), s.logger)
}

func (s *Scheduler) plan(ctx context.Context, now time.Time, logger *slog.Logger) ([]Evaluation, int, error) {
	races, err := s.source.Races(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch races: %w", err)
	}

	events := race.Normalize(races, logger)
	evals := make([]Evaluation, 0, len(events))
	for _, e := range events {
		d, reason := s.policy.Evaluate(e, now)
		evals = append(evals, Evaluation{Event: e, Decision: d, Skip: reason})
	}
	return evals, len(races), nil
}

// Run performs one scheduling run. It never returns an error: a failed fetch
// produces a zero count with the error recorded, and per-event start failures
// are counted and logged while the rest of the batch continues.
func (s *Scheduler) Run(ctx context.Context) RunResult {
	started := s.clock()
	now := started.UTC()
	result := RunResult{
		RunID:   uuid.NewString(),
		Skipped: make(map[SkipReason]int),
	}
	logger := s.logger.With("run_id", result.RunID)
	logger.Info("Scheduling run started", "now", now.Format(time.RFC3339))

	evals, racesFound, err := s.plan(ctx, now, logger)
	if err != nil {
		result.addErrorf("%v", err)
		result.Duration = s.clock().Sub(started)
		logger.Error("Scheduling run failed", "error", err)
		s.metrics.RunCompleted(result.Duration, 0, 0, err)
		return result
	}
	result.RacesFound = racesFound
	result.EventsSeen = len(evals)

	for _, ev := range evals {
		if ev.Skip != Eligible {
			result.Skipped[ev.Skip]++
			s.metrics.EventSkipped(string(ev.Skip))
			logger.Info("Skipping event",
				"event", ev.Event.Name, "race", ev.Event.RaceID,
				"start", ev.Event.StartTime.Format(time.RFC3339), "reason", ev.Skip)
			continue
		}

		duplicate, err := s.start(ctx, ev.Decision)
		if err != nil {
			result.Failed++
			result.addErrorf("%s: %v", ev.Decision.Key, err)
			s.metrics.ScheduleFailed()
			logger.Warn("Failed to schedule notification",
				"event", ev.Event.Name, "key", ev.Decision.Key, "error", err)
			continue
		}

		result.Scheduled++
		if duplicate {
			result.Duplicates++
		}
		s.metrics.EventScheduled(duplicate)
		logger.Info("Scheduled notification",
			"event", ev.Event.Name, "race", ev.Event.RaceID,
			"notify_at", ev.Decision.NotifyAt.Format(time.RFC3339),
			"wait_seconds", ev.Decision.WaitSeconds,
			"key", ev.Decision.Key, "duplicate", duplicate)
	}

	result.Duration = s.clock().Sub(started)
	s.metrics.RunCompleted(result.Duration, result.Scheduled, result.Failed, nil)
	logger.Info(result.Message(), "summary", result.Summary())
	return result
}

// start hands one decision to the Starter. duplicate reports that the backend
// had already accepted the key in an earlier run.
func (s *Scheduler) start(ctx context.Context, d Decision) (duplicate bool, err error) {
	body, err := json.Marshal(NewPayload(d))
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	err = s.starter.Start(ctx, d.Key, d.WaitSeconds, body)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrAlreadyScheduled):
		return true, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}
}
