package delay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/albapepper/race-alerts/internal/notifications"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store keeps delayed executions in the delayed_executions table.
// Names are the primary key, so Start is idempotent per name.
type Store struct {
	db DB
}

// NewStore creates a Store. The schema must already exist (db.Migrate).
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Start records an execution that fires waitSeconds from now. A second Start
// with the same name leaves the first row untouched and returns
// notifications.ErrAlreadyScheduled.
func (s *Store) Start(ctx context.Context, name string, waitSeconds int64, payload json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO delayed_executions (name, payload, fire_at, status)
		VALUES ($1, $2, NOW() + make_interval(secs => $3), 'scheduled')
		ON CONFLICT (name) DO NOTHING`,
		name, []byte(payload), float64(waitSeconds),
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrAlreadyScheduled
	}
	return nil
}

// ClaimDue atomically claims up to limit due executions.
// Uses FOR UPDATE SKIP LOCKED so several workers can share the table.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]Execution, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE delayed_executions
		SET status = 'sending', attempts = attempts + 1, updated_at = NOW()
		WHERE name IN (
			SELECT name FROM delayed_executions
			WHERE status = 'scheduled' AND fire_at <= NOW()
			ORDER BY fire_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING name, payload, fire_at, status, attempts, last_error, created_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due executions: %w", err)
	}
	return collectExecutions(rows)
}

// MarkSent marks an execution as delivered.
func (s *Store) MarkSent(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE delayed_executions SET status = 'sent', last_error = NULL, updated_at = NOW()
		WHERE name = $1`, name)
	return err
}

// MarkFailed marks an execution as failed with a reason.
func (s *Store) MarkFailed(ctx context.Context, name, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE delayed_executions SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE name = $1`, name, reason)
	return err
}

// Pending lists executions still waiting to fire, soonest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]Execution, error) {
	rows, err := s.db.Query(ctx, "delay_pending", limit)
	if err != nil {
		return nil, fmt.Errorf("list pending executions: %w", err)
	}
	return collectExecutions(rows)
}

// StatusCounts returns the number of executions per status.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx, "delay_status_counts")
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Cleanup deletes sent and failed executions last touched before olderThan ago.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM delayed_executions
		WHERE status IN ('sent', 'failed')
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueStale returns executions stuck in 'sending' (a worker died mid-send)
// to 'scheduled' so the next claim picks them up.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE delayed_executions SET status = 'scheduled', updated_at = NOW()
		WHERE status = 'sending'
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectExecutions(rows pgx.Rows) ([]Execution, error) {
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var payload []byte
		if err := rows.Scan(&e.Name, &payload, &e.FireAt, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
