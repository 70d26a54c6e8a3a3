package metrics

import "time"

// NoopSink discards all metrics.
type NoopSink struct{}

func (NoopSink) RunCompleted(time.Duration, int, int, error) {}
func (NoopSink) EventSkipped(string)                         {}
func (NoopSink) EventScheduled(bool)                         {}
func (NoopSink) ScheduleFailed()                             {}
func (NoopSink) DispatchCompleted(string, time.Duration)     {}
