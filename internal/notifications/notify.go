// Package notifications decides which race-weekend events get a push
// notification, schedules them on a delayed-execution backend, and sends the
// notification once the wait has elapsed.
//
// Pipeline: fetch races → normalize → evaluate eligibility → start a delayed
// execution keyed by a deterministic execution key. Later, the backend hands
// the stored payload to the Dispatcher, which formats and pushes the message.
//
// The scheduler keeps no state between runs. Repeated runs are safe because
// the execution key is a pure function of (event name, start time) and the
// backend accepts a given key at most once.
package notifications

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/albapepper/race-alerts/internal/race"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultLeadTime     = 5 * time.Minute
	defaultHorizon      = 24 * time.Hour
	defaultMaxKeyLength = 80

	keyPrefix    = "f1-notification-"
	keyTimestamp = "200601021504"

	unknownCircuit = "Unknown Circuit"
	unknownLaps    = "N/A"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrValidation marks a payload missing a required field.
	ErrValidation = errors.New("invalid payload")
	// ErrParse marks a malformed timestamp.
	ErrParse = errors.New("malformed timestamp")
	// ErrTransport marks a push or delayed-execution call that failed or was rejected.
	ErrTransport = errors.New("transport failure")
	// ErrConfiguration marks missing credentials or settings.
	ErrConfiguration = errors.New("missing configuration")
	// ErrAlreadyScheduled is returned by a Starter that has already accepted
	// the execution key. The scheduler counts it as scheduled.
	ErrAlreadyScheduled = errors.New("execution already scheduled")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// SkipReason explains why an event was not scheduled. Empty means eligible.
type SkipReason string

const (
	Eligible          SkipReason = ""
	SkipStarted       SkipReason = "started"
	SkipLeadPassed    SkipReason = "lead_passed"
	SkipBeyondHorizon SkipReason = "beyond_horizon"
)

// Decision is the outcome of evaluating an eligible event against "now".
type Decision struct {
	Event       race.Event
	NotifyAt    time.Time
	WaitSeconds int64
	Key         string
}

// Evaluation pairs an event with its decision or skip reason.
type Evaluation struct {
	Event    race.Event
	Decision Decision
	Skip     SkipReason
}

// Payload is the JSON document stored with a delayed execution and handed
// back to the Dispatcher. Laps mirrors LapCount, and EventTime and
// NotificationTime mirror StartTime and NotifyAt, for consumers of the older
// field names.
type Payload struct {
	EventName        string `json:"event_name"`
	StartTime        string `json:"start_time"`
	NotifyAt         string `json:"notify_at"`
	RaceIdentifier   string `json:"race_identifier"`
	LapCount         *int   `json:"lap_count"`
	Circuit          string `json:"circuit"`
	Laps             *int   `json:"laps"`
	EventTime        string `json:"event_time"`
	NotificationTime string `json:"notification_time"`
}

// NewPayload builds the stored payload for a decision.
func NewPayload(d Decision) Payload {
	start := d.Event.StartTime.UTC().Format(time.RFC3339)
	notifyAt := d.NotifyAt.UTC().Format(time.RFC3339)
	return Payload{
		EventName:        d.Event.Name,
		StartTime:        start,
		NotifyAt:         notifyAt,
		RaceIdentifier:   d.Event.RaceID,
		LapCount:         d.Event.Laps,
		Circuit:          d.Event.Circuit,
		Laps:             d.Event.Laps,
		EventTime:        start,
		NotificationTime: notifyAt,
	}
}

// RunResult tracks the outcome of one scheduling run.
type RunResult struct {
	RunID      string
	RacesFound int
	EventsSeen int
	Scheduled  int
	Duplicates int // included in Scheduled
	Failed     int
	Skipped    map[SkipReason]int
	Duration   time.Duration
	Errors     []string
}

// Message is the user-facing run summary.
func (r *RunResult) Message() string {
	return fmt.Sprintf("Scheduled %d event notifications", r.Scheduled)
}

// Summary returns a human-readable summary.
func (r *RunResult) Summary() string {
	reasons := make([]string, 0, len(r.Skipped))
	for reason, n := range r.Skipped {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(reasons)
	return fmt.Sprintf("races=%d events=%d scheduled=%d duplicates=%d failed=%d skipped=[%s] errors=%d dur=%s",
		r.RacesFound, r.EventsSeen, r.Scheduled, r.Duplicates, r.Failed,
		strings.Join(reasons, " "), len(r.Errors), r.Duration.Round(time.Millisecond))
}

func (r *RunResult) addErrorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
