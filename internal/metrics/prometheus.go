package metrics

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	eventsSkipped   *prometheus.CounterVec
	eventsScheduled *prometheus.CounterVec
	scheduleErrors  prometheus.Counter

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

// NewPrometheusSink creates the collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	if logger == nil {
		logger = slog.Default()
	}

	s := &PrometheusSink{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racealerts_schedule_runs_total",
			Help: "Scheduling runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "racealerts_schedule_run_duration_seconds",
			Help:    "Duration of scheduling runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racealerts_events_skipped_total",
			Help: "Events not scheduled, by reason.",
		}, []string{"reason"}),
		eventsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racealerts_events_scheduled_total",
			Help: "Events handed to the delayed-execution backend.",
		}, []string{"duplicate"}),
		scheduleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "racealerts_schedule_errors_total",
			Help: "Events whose delayed execution could not be started.",
		}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "racealerts_dispatch_total",
			Help: "Push notification dispatches by status class.",
		}, []string{"status_class"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "racealerts_dispatch_duration_seconds",
			Help:    "Duration of push notification dispatches.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		s.runsTotal, s.runDuration, s.eventsSkipped, s.eventsScheduled,
		s.scheduleErrors, s.dispatchTotal, s.dispatchDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			logger.Warn("metrics: register collector failed", "error", err)
		}
	}
	return s
}

func (s *PrometheusSink) RunCompleted(duration time.Duration, scheduled, failed int, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case failed > 0:
		outcome = "partial"
	}
	s.runsTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EventSkipped(reason string) {
	s.eventsSkipped.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) EventScheduled(duplicate bool) {
	label := "false"
	if duplicate {
		label = "true"
	}
	s.eventsScheduled.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) ScheduleFailed() {
	s.scheduleErrors.Inc()
}

func (s *PrometheusSink) DispatchCompleted(statusClass string, duration time.Duration) {
	s.dispatchTotal.WithLabelValues(statusClass).Inc()
	s.dispatchDuration.Observe(duration.Seconds())
}
