package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/apperr"
)

const (
	userNotFoundMessage = "user not found"
	noCadreMessage      = "user has no peer group"
)

const entrySelect = `
	SELECT p.user_id, u.full_name, u.email, u.cadre_id, COALESCE(c.name, ''),
		p.level_id, l.level_index, l.label,
		p.badge_id, COALESCE(b.badge_index, 0), COALESCE(b.label, ''),
		p.app_opened_count, p.min_spent, p.sub_module_usage_count, p.chatbot_usage_count,
		p.kbase_completion, p.correctness_of_answers, p.total_assessments,
		p.task_completed, p.created_at, p.updated_at
	FROM user_progress p
	JOIN users u ON u.id = p.user_id
	LEFT JOIN cadres c ON c.id = u.cadre_id
	JOIN levels l ON l.id = p.level_id
	LEFT JOIN badges b ON b.id = p.badge_id`

var sortColumns = map[SortField]string{
	SortTaskCompleted: "p.task_completed",
	SortUpdatedAt:     "p.updated_at",
	SortCreatedAt:     "p.created_at",
	SortFullName:      "u.full_name",
	SortLevel:         "l.level_index",
	SortBadge:         "COALESCE(b.badge_index, 0)",
}

// Repo implements Repository on Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new ranking repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// PeerGroup returns the user's cadre.
func (r *Repo) PeerGroup(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var cadreID *uuid.UUID
	if err := r.pool.QueryRow(ctx, `SELECT cadre_id FROM users WHERE id = $1`, userID).Scan(&cadreID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, apperr.NotFound(userNotFoundMessage)
		}
		return uuid.Nil, fmt.Errorf("get peer group: %w", err)
	}
	if cadreID == nil {
		return uuid.Nil, apperr.NotFound(noCadreMessage)
	}
	return *cadreID, nil
}

// TopPeers returns up to limit entries of the cadre by taskCompleted.
func (r *Repo) TopPeers(ctx context.Context, cadreID uuid.UUID, limit int) ([]Entry, error) {
	query := entrySelect + `
	WHERE u.cadre_id = $1
	ORDER BY p.task_completed DESC, p.updated_at ASC, p.user_id ASC
	LIMIT $2`
	return r.queryEntries(ctx, "top peers", query, cadreID, limit)
}

// List returns a filtered, sorted page plus the total match count.
func (r *Repo) List(ctx context.Context, params ListParams) ([]Entry, int, error) {
	whereClauses := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1

	if params.LevelID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("p.level_id = $%d", argIdx))
		args = append(args, *params.LevelID)
		argIdx++
	}
	if params.BadgeID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("p.badge_id = $%d", argIdx))
		args = append(args, *params.BadgeID)
		argIdx++
	}
	if params.UserID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("p.user_id = $%d", argIdx))
		args = append(args, *params.UserID)
		argIdx++
	}

	dateColumn := "p.updated_at"
	if params.DateField == DateCreatedAt {
		dateColumn = "p.created_at"
	}
	if params.FromDate != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("%s >= $%d", dateColumn, argIdx))
		args = append(args, *params.FromDate)
		argIdx++
	}
	if params.ToDate != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("%s < $%d", dateColumn, argIdx))
		args = append(args, *params.ToDate)
		argIdx++
	}

	whereClause := strings.Join(whereClauses, " AND ")

	countQuery := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM user_progress p
		JOIN users u ON u.id = p.user_id
		WHERE %s`, whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count progress: %w", err)
	}

	sortColumn, ok := sortColumns[params.SortBy]
	if !ok {
		sortColumn = "p.task_completed"
		if m := domain.Metric(params.SortBy); m.Valid() {
			sortColumn = "p." + m.Column()
		}
	}
	sortOrder := "ASC"
	if params.Desc {
		sortOrder = "DESC"
	}

	query := fmt.Sprintf("%s\n\tWHERE %s\n\tORDER BY %s %s, p.user_id ASC", entrySelect, whereClause, sortColumn, sortOrder)
	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, params.Limit, params.Offset)
	}

	items, err := r.queryEntries(ctx, "list progress", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Progress returns the enriched entry for one user.
func (r *Repo) Progress(ctx context.Context, userID uuid.UUID) (Entry, error) {
	items, err := r.queryEntries(ctx, "get progress entry", entrySelect+"\n\tWHERE p.user_id = $1", userID)
	if err != nil {
		return Entry{}, err
	}
	if len(items) == 0 {
		return Entry{}, apperr.NotFound("progress record not found")
	}
	return items[0], nil
}

// PeerRanks ranks every user inside their cadre. Ties share a rank and users
// without a cadre are left out.
func (r *Repo) PeerRanks(ctx context.Context) ([]PeerRank, error) {
	query := `
		SELECT p.user_id, u.cadre_id,
			RANK() OVER (PARTITION BY u.cadre_id ORDER BY p.task_completed DESC),
			p.task_completed
		FROM user_progress p
		JOIN users u ON u.id = p.user_id
		WHERE u.cadre_id IS NOT NULL`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rank peers: %w", err)
	}
	defer rows.Close()

	ranks := make([]PeerRank, 0)
	for rows.Next() {
		var pr PeerRank
		if err := rows.Scan(&pr.UserID, &pr.CadreID, &pr.Rank, &pr.TaskCompleted); err != nil {
			return nil, fmt.Errorf("scan peer rank: %w", err)
		}
		ranks = append(ranks, pr)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate peer ranks: %w", rows.Err())
	}
	return ranks, nil
}

func (r *Repo) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		m := &e.Metrics
		if err := rows.Scan(
			&e.UserID, &e.FullName, &e.Email, &e.CadreID, &e.CadreName,
			&e.LevelID, &e.LevelIndex, &e.LevelLabel,
			&e.BadgeID, &e.BadgeIndex, &e.BadgeLabel,
			&m.AppOpenedCount, &m.MinSpent, &m.SubModuleUsageCount, &m.ChatbotUsageCount,
			&m.KbaseCompletion, &m.CorrectnessOfAnswers, &m.TotalAssessments,
			&e.TaskCompleted, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		items = append(items, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, rows.Err())
	}
	return items, nil
}
