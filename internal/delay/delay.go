// Package delay implements the delayed-execution service the scheduler hands
// notifications to. Each execution is a named payload that fires once after a
// wait. Three pieces combine:
//
//   - Store: Postgres-backed executions, unique by name, claimed by Worker.
//   - AMQPStarter / Consumer: RabbitMQ per-wait TTL queues dead-lettering into
//     a due queue.
//   - Deduplicated: a Redis SETNX guard that gives any Starter name uniqueness.
package delay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/albapepper/race-alerts/internal/notifications"
)

// Execution statuses.
const (
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

// Execution is one stored delayed execution.
type Execution struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	FireAt    time.Time       `json:"fire_at"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Dispatcher receives a payload once its wait has elapsed.
// *notifications.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw json.RawMessage) notifications.DispatchResult
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, raw json.RawMessage) notifications.DispatchResult

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, raw json.RawMessage) notifications.DispatchResult {
	return f(ctx, raw)
}
