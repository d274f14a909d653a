package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo implements Repository on Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Repo)(nil)

// New creates a new engagement repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) InactiveUsers(ctx context.Context, cutoff time.Time) ([]InactiveUser, error) {
	query := `
		SELECT p.user_id, last.at
		FROM user_progress p
		JOIN LATERAL (
			SELECT max(a.created_at) AS at FROM activity_logs a WHERE a.user_id = p.user_id
		) last ON last.at IS NOT NULL
		LEFT JOIN inactivity_reminders ir ON ir.user_id = p.user_id
		WHERE last.at < $1
		  AND (ir.user_id IS NULL OR ir.last_activity_at < last.at)
		ORDER BY last.at`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list inactive users: %w", err)
	}
	defer rows.Close()

	users := make([]InactiveUser, 0)
	for rows.Next() {
		var u InactiveUser
		if err := rows.Scan(&u.UserID, &u.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan inactive user: %w", err)
		}
		users = append(users, u)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate inactive users: %w", rows.Err())
	}
	return users, nil
}

func (r *Repo) MarkReminded(ctx context.Context, userID uuid.UUID, lastActivityAt time.Time) error {
	query := `
		INSERT INTO inactivity_reminders (user_id, last_activity_at, reminded_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET last_activity_at = EXCLUDED.last_activity_at, reminded_at = now()`
	if _, err := r.pool.Exec(ctx, query, userID, lastActivityAt); err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

func (r *Repo) ProgressUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_progress ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list progress users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect progress users: %w", err)
	}
	return ids, nil
}

func (r *Repo) Snapshots(ctx context.Context) (map[uuid.UUID]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, cadre_id, rank, task_completed, taken_at FROM leaderboard_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Snapshot)
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.UserID, &s.CadreID, &s.Rank, &s.TaskCompleted, &s.TakenAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[s.UserID] = s
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", rows.Err())
	}
	return out, nil
}

// ReplaceSnapshots truncates and bulk-loads the snapshot in one transaction.
func (r *Repo) ReplaceSnapshots(ctx context.Context, snapshots []Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"leaderboard_snapshots"},
		[]string{"user_id", "cadre_id", "rank", "task_completed", "taken_at"},
		pgx.CopyFromSlice(len(snapshots), func(i int) ([]any, error) {
			s := snapshots[i]
			return []any{s.UserID, s.CadreID, s.Rank, s.TaskCompleted, s.TakenAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy snapshots: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}
