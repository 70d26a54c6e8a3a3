package notifications

import (
	"time"

	"github.com/albapepper/race-alerts/internal/race"
)

// Policy holds the timing rules for a scheduling run.
type Policy struct {
	LeadTime     time.Duration // how long before start the notification fires
	Horizon      time.Duration // longest wait scheduled in a single run
	MaxKeyLength int           // execution key limit of the delayed-execution backend
}

// DefaultPolicy returns the 5 minute lead, 24 hour horizon, 80 character key policy.
func DefaultPolicy() Policy {
	return Policy{
		LeadTime:     defaultLeadTime,
		Horizon:      defaultHorizon,
		MaxKeyLength: defaultMaxKeyLength,
	}
}

func (p Policy) withDefaults() Policy {
	if p.LeadTime <= 0 {
		p.LeadTime = defaultLeadTime
	}
	if p.Horizon <= 0 {
		p.Horizon = defaultHorizon
	}
	if p.MaxKeyLength <= 0 {
		p.MaxKeyLength = defaultMaxKeyLength
	}
	return p
}

// Evaluate decides whether an event is scheduled in this run.
//
// Checks, in order: the event has not started, the notification point has
// not passed, and the wait until the notification point is within the
// horizon. Events beyond the horizon are picked up by a later run, so the
// caller must run more often than once per horizon.
func (p Policy) Evaluate(e race.Event, now time.Time) (Decision, SkipReason) {
	p = p.withDefaults()
	now = now.UTC()
	start := e.StartTime.UTC()

	if !start.After(now) {
		return Decision{}, SkipStarted
	}

	notifyAt := start.Add(-p.LeadTime)
	if !notifyAt.After(now) {
		return Decision{}, SkipLeadPassed
	}

	wait := notifyAt.Sub(now)
	if wait > p.Horizon {
		return Decision{}, SkipBeyondHorizon
	}

	return Decision{
		Event:       e,
		NotifyAt:    notifyAt,
		WaitSeconds: int64(wait / time.Second),
		Key:         ExecutionKey(e.Name, start, p.MaxKeyLength),
	}, Eligible
}
