package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/albapepper/race-alerts/internal/metrics"
	"github.com/albapepper/race-alerts/internal/race"
)

// DispatchResult is the structured outcome of one dispatch.
type DispatchResult struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// OK reports whether the push transport accepted the notification.
func (r DispatchResult) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Dispatcher formats and sends the notification for a stored payload.
type Dispatcher struct {
	sender  Sender
	lead    time.Duration
	local   *time.Location
	metrics metrics.Sink
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. lead is only used for the message text;
// local, when non-nil, adds a local-time line.
func NewDispatcher(sender Sender, lead time.Duration, local *time.Location, sink metrics.Sink, logger *slog.Logger) *Dispatcher {
	if lead <= 0 {
		lead = defaultLeadTime
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, lead: lead, local: local, metrics: sink, logger: logger}
}

// Dispatch validates the payload, formats the message and sends it. It never
// panics or returns an error; failures are reported in the result. A missing
// required field or a malformed start time fails before any send attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, raw json.RawMessage) DispatchResult {
	d.logger.Info("Received event", "payload", string(raw))

	n, err := parseNotice(raw)
	if err != nil {
		return d.fail(err)
	}
	if !senderConfigured(d.sender) {
		return d.fail(fmt.Errorf("push sender: %w", ErrConfiguration))
	}

	message := buildMessage(n.name, n.start, n.circuit, n.laps, d.lead, d.local)
	title := buildTitle(n.name)

	start := time.Now()
	status, err := d.sender.Send(ctx, message, title)
	d.metrics.DispatchCompleted(metrics.ClassifyStatus(status, err), time.Since(start))
	if err != nil {
		if !errors.Is(err, ErrConfiguration) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return d.fail(err)
	}

	if status != http.StatusOK {
		d.logger.Error("Push transport rejected notification", "event", n.name, "status", status)
		return DispatchResult{StatusCode: status, Body: fmt.Sprintf("Notification delivery failed with status %d", status)}
	}
	return DispatchResult{StatusCode: status, Body: "Notification sent successfully"}
}

// senderConfigured catches both a nil Sender and a typed nil such as an
// unconfigured *PushoverSender.
func senderConfigured(s Sender) bool {
	if s == nil {
		return false
	}
	if c, ok := s.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

func (d *Dispatcher) fail(err error) DispatchResult {
	d.logger.Error("Error sending notification", "error", err)
	return DispatchResult{StatusCode: http.StatusInternalServerError, Body: "Error: " + err.Error()}
}

// --------------------------------------------------------------------------
// Payload decoding
// --------------------------------------------------------------------------

type notice struct {
	name    string
	start   time.Time
	circuit string
	laps    string
}

// parseNotice reads a stored payload. It also accepts the payload wrapped as
// {"event": {...}, "wait_seconds": n}.
func parseNotice(raw json.RawMessage) (notice, error) {
	fields := map[string]interface{}{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return notice{}, fmt.Errorf("decode payload: %w: %v", ErrValidation, err)
	}
	if inner, ok := fields["event"].(map[string]interface{}); ok {
		if _, has := fields["event_name"]; !has {
			fields = inner
		}
	}

	name, _ := fields["event_name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return notice{}, fmt.Errorf("event_name: %w", ErrValidation)
	}

	startRaw, _ := fields["start_time"].(string)
	if startRaw == "" {
		startRaw, _ = fields["event_time"].(string)
	}
	if startRaw == "" {
		return notice{}, fmt.Errorf("start_time: %w", ErrValidation)
	}
	start, err := race.ParseTime(startRaw)
	if err != nil {
		return notice{}, fmt.Errorf("start_time: %w: %v", ErrParse, err)
	}

	laps := fields["laps"]
	if laps == nil {
		laps = fields["lap_count"]
	}

	return notice{
		name:    name,
		start:   start,
		circuit: textOr(fields["circuit"], unknownCircuit),
		laps:    textOr(laps, unknownLaps),
	}, nil
}

// textOr renders an optional payload field, substituting fallback for a
// missing, null or empty value.
func textOr(v interface{}, fallback string) string {
	switch x := v.(type) {
	case nil:
		return fallback
	case string:
		if strings.TrimSpace(x) == "" {
			return fallback
		}
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
