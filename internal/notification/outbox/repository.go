// Package outbox persists notification requests until the scheduler relay
// hands them to the worker.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the lifecycle state of an outbox row:
// pending -> enqueued -> processing -> succeeded | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// ErrNotTransitioned is returned when a row is not in a state the requested
// transition may start from, e.g. a redelivered task for a succeeded row.
var ErrNotTransitioned = errors.New("outbox row not in expected state")

// transitions lists the states each target may be entered from. A failed
// row may be picked up again by an asynq retry.
var transitions = map[Status][]Status{
	StatusPending:    {StatusEnqueued},
	StatusProcessing: {StatusPending, StatusEnqueued, StatusProcessing, StatusFailed},
	StatusSucceeded:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// Record is one outbox row.
type Record struct {
	ID         uuid.UUID       `db:"id"`
	Kind       string          `db:"kind"`
	Recipients int             `db:"recipients"`
	Payload    json.RawMessage `db:"payload"`
	RunAt      time.Time       `db:"run_at"`
	Status     Status          `db:"status"`
	Attempts   int             `db:"attempts"`
}

// InsertParams describes a new row. RunAt defaults to now.
type InsertParams struct {
	Kind       string
	Recipients int
	Payload    any
	RunAt      time.Time
}

// Repository is the Postgres outbox.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, kind, recipients, payload, run_at, status, attempts`

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if p.Kind == "" {
		return uuid.Nil, errors.New("kind is required")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO notification_outbox (kind, recipients, payload, run_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		p.Kind, p.Recipients, payload, p.RunAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert outbox row: %w", err)
	}
	return id, nil
}

// ClaimPending moves up to limit due rows from pending to enqueued. Concurrent
// relays skip rows another relay has locked.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `WITH due AS (
		SELECT id
		FROM notification_outbox
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE notification_outbox o
	SET status = 'enqueued', updated_at = now()
	FROM due
	WHERE o.id = due.id
	RETURNING o.`+recordColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Record])
}

// MarkPending hands an enqueued row back to the relay.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error {
	return r.transition(ctx, id, StatusPending, false, lastError)
}

// MarkProcessing records a delivery attempt.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, StatusProcessing, true, nil)
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, StatusSucceeded, false, nil)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.transition(ctx, id, StatusFailed, false, &lastError)
}

func (r *Repository) transition(ctx context.Context, id uuid.UUID, to Status, attempt bool, lastError *string) error {
	from := transitions[to]
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE notification_outbox
		 SET status = $2,
		     attempts = attempts + CASE WHEN $3 THEN 1 ELSE 0 END,
		     last_error = $4,
		     updated_at = now()
		 WHERE id = $1 AND status = ANY($5)`,
		id, string(to), attempt, lastError, names,
	)
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotTransitioned
	}
	return nil
}

// RequeueStale returns rows stuck in enqueued or processing for longer than
// olderThan to pending. Rows that already used maxAttempts are failed
// instead. It reports how many rows went back to pending.
func (r *Repository) RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := r.pool.Query(ctx,
		`UPDATE notification_outbox
		 SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
		     last_error = CASE WHEN attempts >= $2 THEN 'max attempts exceeded' ELSE last_error END,
		     updated_at = now()
		 WHERE status IN ('enqueued', 'processing') AND updated_at < $1
		 RETURNING status`,
		cutoff, maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox rows: %w", err)
	}
	statuses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox rows: %w", err)
	}

	var requeued int64
	for _, s := range statuses {
		if Status(s) == StatusPending {
			requeued++
		}
	}
	return requeued, nil
}

// PurgeSucceeded deletes delivered rows older than before.
func (r *Repository) PurgeSucceeded(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notification_outbox WHERE status = 'succeeded' AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
