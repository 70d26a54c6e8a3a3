// Package listener provides a Postgres LISTEN/NOTIFY consumer that makes the
// dispatch worker fire on time. It holds a dedicated pgx connection (not from
// the pool) listening on the `delayed_execution_scheduled` channel.
//
// The schema trigger notifies whenever a delayed execution is inserted or put
// back to 'scheduled'. The listener arms a timer for the execution's fire_at
// and wakes the worker when it expires, so sends are not held back until the
// worker's next poll.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	channel          = "delayed_execution_scheduled"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Waker is woken when an execution falls due. *delay.Worker implements it.
type Waker interface {
	Wake()
}

// ScheduledEvent is the JSON payload from pg_notify('delayed_execution_scheduled', ...).
type ScheduledEvent struct {
	Name   string    `json:"name"`
	FireAt time.Time `json:"fire_at"`
}

// Start opens a dedicated connection and listens on the channel. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, waker Waker, logger *slog.Logger) {
	alarms := newAlarms(waker, time.Now)
	defer alarms.stop()

	backoff := reconnectBackoff
	for {
		err := listenLoop(ctx, dbURL, alarms, logger)
		if ctx.Err() != nil {
			logger.Info("Execution listener stopped (context cancelled)")
			return
		}

		logger.Error("Execution listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, alarms *alarms, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Execution listener connected", "channel", channel)

	// Anything scheduled while disconnected is caught by the worker's poll.
	alarms.waker.Wake()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		handle(notification.Payload, alarms, logger)
	}
}

func handle(payload string, alarms *alarms, logger *slog.Logger) {
	var event ScheduledEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		logger.Warn("Failed to parse execution event", "payload", payload, "error", err)
		return
	}
	if event.Name == "" || event.FireAt.IsZero() {
		logger.Warn("Incomplete execution event", "payload", payload)
		return
	}

	in := alarms.set(event)
	logger.Debug("Execution alarm set",
		"name", event.Name,
		"fire_at", event.FireAt.UTC().Format(time.RFC3339),
		"in", in.Round(time.Second))
}

// --------------------------------------------------------------------------
// Alarms
// --------------------------------------------------------------------------

// alarms keeps one timer per execution name. Re-arming a name replaces its
// timer.
type alarms struct {
	mu     sync.Mutex
	waker  Waker
	now    func() time.Time
	timers map[string]*time.Timer
}

func newAlarms(waker Waker, now func() time.Time) *alarms {
	return &alarms{waker: waker, now: now, timers: make(map[string]*time.Timer)}
}

// set arms the timer for event and returns how long until it fires. An
// execution already due wakes the worker immediately.
func (a *alarms) set(event ScheduledEvent) time.Duration {
	in := event.FireAt.Sub(a.now())
	if in <= 0 {
		a.waker.Wake()
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[event.Name]; ok {
		t.Stop()
	}
	name := event.Name
	a.timers[name] = time.AfterFunc(in, func() {
		a.mu.Lock()
		delete(a.timers, name)
		a.mu.Unlock()
		a.waker.Wake()
	})
	return in
}

func (a *alarms) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.timers)
}

func (a *alarms) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, t := range a.timers {
		t.Stop()
		delete(a.timers, name)
	}
}
