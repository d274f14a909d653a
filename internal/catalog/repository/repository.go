package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo reads the catalog from Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new catalog repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Reader.
var _ Reader = (*Repo)(nil)

// ListLevels returns all levels ordered by index.
func (r *Repo) ListLevels(ctx context.Context) ([]Level, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, level_index, label FROM levels ORDER BY level_index`)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	defer rows.Close()

	levels := make([]Level, 0)
	for rows.Next() {
		var level Level
		if err := rows.Scan(&level.ID, &level.Index, &level.Label); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, level)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate levels: %w", rows.Err())
	}
	return levels, nil
}

// ListBadges returns all badges ordered by global index.
func (r *Repo) ListBadges(ctx context.Context) ([]Badge, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, badge_index, level_id, label FROM badges ORDER BY badge_index`)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	defer rows.Close()

	badges := make([]Badge, 0)
	for rows.Next() {
		var badge Badge
		if err := rows.Scan(&badge.ID, &badge.Index, &badge.LevelID, &badge.Label); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		badges = append(badges, badge)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate badges: %w", rows.Err())
	}
	return badges, nil
}

// ListTasks returns every task threshold row.
func (r *Repo) ListTasks(ctx context.Context) ([]Task, error) {
	query := `
		SELECT id, level_id, badge_id,
			app_opened_count, min_spent, sub_module_usage_count, chatbot_usage_count,
			kbase_completion, correctness_of_answers, total_assessments, total_task
		FROM tasks`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var task Task
		t := &task.Thresholds
		if err := rows.Scan(
			&task.ID, &task.LevelID, &task.BadgeID,
			&t.AppOpenedCount, &t.MinSpent, &t.SubModuleUsageCount, &t.ChatbotUsageCount,
			&t.KbaseCompletion, &t.CorrectnessOfAnswers, &t.TotalAssessments, &task.TotalTask,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate tasks: %w", rows.Err())
	}
	return tasks, nil
}
