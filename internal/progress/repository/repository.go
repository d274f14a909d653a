package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/apperr"
)

const (
	progressNotFoundMessage = "progress record not found"
	noLevelsMessage         = "no levels configured"
)

const recordColumns = `id, user_id, level_id, badge_id,
	app_opened_count, min_spent, sub_module_usage_count, chatbot_usage_count,
	kbase_completion, correctness_of_answers, total_assessments,
	task_completed, history, update_source, promoted_at, created_at, updated_at`

// Repo implements the progress store and the raw-data readers on Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new progress repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var (
	_ Store            = (*Repo)(nil)
	_ ActivityReader   = (*Repo)(nil)
	_ AssessmentReader = (*Repo)(nil)
)

// Get returns the progress record for a user.
func (r *Repo) Get(ctx context.Context, userID uuid.UUID) (domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM user_progress WHERE user_id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, apperr.NotFound(progressNotFoundMessage)
		}
		return domain.Record{}, fmt.Errorf("get progress: %w", err)
	}
	return rec, nil
}

// IncrementMetric is a single upsert so concurrent first events for a new
// user converge on one row.
func (r *Repo) IncrementMetric(ctx context.Context, userID uuid.UUID, metric domain.Metric) (domain.Record, error) {
	if !metric.Valid() {
		return domain.Record{}, apperr.Validation(fmt.Sprintf("unknown metric %q", metric))
	}
	col := metric.Column()
	query := fmt.Sprintf(`
		INSERT INTO user_progress (user_id, level_id, %[1]s, update_source)
		SELECT $1, l.id, 1, $2
		FROM levels l
		ORDER BY l.level_index
		LIMIT 1
		ON CONFLICT (user_id) DO UPDATE
		SET %[1]s = user_progress.%[1]s + 1,
			update_source = EXCLUDED.update_source,
			updated_at = now()
		RETURNING %[2]s`, col, recordColumns)

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID, domain.UpdateSourceUpdater))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, apperr.NotFound(noLevelsMessage)
		}
		return domain.Record{}, fmt.Errorf("increment %s: %w", metric, err)
	}
	return rec, nil
}

// SetMetrics overwrites metrics absolutely. Rows whose values already match are
// left untouched so a replay does not produce a change event.
func (r *Repo) SetMetrics(ctx context.Context, userID uuid.UUID, values map[domain.Metric]int) (domain.Record, error) {
	if len(values) == 0 {
		return r.Get(ctx, userID)
	}

	metrics := make([]domain.Metric, 0, len(values))
	for m := range values {
		if !m.Valid() {
			return domain.Record{}, apperr.Validation(fmt.Sprintf("unknown metric %q", m))
		}
		metrics = append(metrics, m)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })

	args := []interface{}{userID, domain.UpdateSourceUpdater}
	cols := make([]string, 0, len(metrics))
	params := make([]string, 0, len(metrics))
	sets := make([]string, 0, len(metrics))
	guards := make([]string, 0, len(metrics))
	for _, m := range metrics {
		col := m.Column()
		args = append(args, values[m])
		cols = append(cols, col)
		params = append(params, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%[1]s = EXCLUDED.%[1]s", col))
		guards = append(guards, fmt.Sprintf("user_progress.%[1]s IS DISTINCT FROM EXCLUDED.%[1]s", col))
	}

	query := fmt.Sprintf(`
		INSERT INTO user_progress (user_id, level_id, update_source, %s)
		SELECT $1, l.id, $2, %s
		FROM levels l
		ORDER BY l.level_index
		LIMIT 1
		ON CONFLICT (user_id) DO UPDATE
		SET %s,
			update_source = EXCLUDED.update_source,
			updated_at = now()
		WHERE %s
		RETURNING %s`,
		strings.Join(cols, ", "),
		strings.Join(params, ", "),
		strings.Join(sets, ", "),
		strings.Join(guards, " OR "),
		recordColumns,
	)

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// unchanged, or no levels to seed from
			existing, getErr := r.Get(ctx, userID)
			if apperr.Is(getErr, apperr.KindNotFound) {
				return domain.Record{}, apperr.NotFound(noLevelsMessage)
			}
			return existing, getErr
		}
		return domain.Record{}, fmt.Errorf("set metrics: %w", err)
	}
	return rec, nil
}

// Promote applies a guarded single-step promotion.
func (r *Repo) Promote(ctx context.Context, params PromoteParams) (domain.Record, bool, error) {
	entry, err := json.Marshal([]domain.HistoryEntry{params.Entry})
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("encode history entry: %w", err)
	}

	query := `
		UPDATE user_progress
		SET level_id = $2,
			badge_id = $3,
			task_completed = task_completed + $4,
			history = history || $5::jsonb,
			update_source = $6,
			promoted_at = now(),
			updated_at = now()
		WHERE user_id = $1
			AND badge_id IS NOT DISTINCT FROM $7
			AND task_completed + $4 <= $8
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query,
		params.UserID, params.NewLevelID, params.NewBadgeID, params.Weight,
		string(entry), domain.UpdateSourceEvaluator, params.ExpectedBadgeID, params.MaxTotal,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, fmt.Errorf("promote: %w", err)
	}
	return rec, true, nil
}

// ListUpdatedSince returns users whose progress changed at or after since.
func (r *Repo) ListUpdatedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_progress WHERE updated_at >= $1 ORDER BY updated_at`, since)
	if err != nil {
		return nil, fmt.Errorf("list updated progress: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate updated progress: %w", rows.Err())
	}
	return ids, nil
}

// SubModuleUsage groups a user's activity by sub module and declared total time.
func (r *Repo) SubModuleUsage(ctx context.Context, userID uuid.UUID, actions []string) ([]UsageGroup, error) {
	query := `
		SELECT sub_module, total_time, COALESCE(SUM(time_spent), 0)
		FROM activity_logs
		WHERE user_id = $1
			AND action = ANY($2)
			AND sub_module IS NOT NULL
			AND total_time IS NOT NULL
		GROUP BY sub_module, total_time`

	rows, err := r.pool.Query(ctx, query, userID, actions)
	if err != nil {
		return nil, fmt.Errorf("aggregate sub module usage: %w", err)
	}
	defer rows.Close()

	groups := make([]UsageGroup, 0)
	for rows.Next() {
		var g UsageGroup
		if err := rows.Scan(&g.SubModule, &g.TotalTime, &g.Spent); err != nil {
			return nil, fmt.Errorf("scan usage group: %w", err)
		}
		groups = append(groups, g)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate usage groups: %w", rows.Err())
	}
	return groups, nil
}

// AppUsageSeconds sums time spent across the given actions.
func (r *Repo) AppUsageSeconds(ctx context.Context, userID uuid.UUID, actions []string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(time_spent), 0) FROM activity_logs WHERE user_id = $1 AND action = ANY($2)`
	if err := r.pool.QueryRow(ctx, query, userID, actions).Scan(&total); err != nil {
		return 0, fmt.Errorf("aggregate app usage: %w", err)
	}
	return total, nil
}

// CalculatedResponses returns count and score sum over calculated responses.
func (r *Repo) CalculatedResponses(ctx context.Context, userID uuid.UUID) (int, float64, error) {
	var (
		count int
		sum   float64
	)
	query := `
		SELECT COUNT(*), COALESCE(SUM(score_percent), 0)::float8
		FROM assessment_responses
		WHERE user_id = $1 AND is_calculated`
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count, &sum); err != nil {
		return 0, 0, fmt.Errorf("aggregate assessment responses: %w", err)
	}
	return count, sum, nil
}

// LegacyAttempts reads the attempts listed in the user's legacy document.
func (r *Repo) LegacyAttempts(ctx context.Context, userID uuid.UUID) ([]LegacyAttempt, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM legacy_assessments WHERE user_id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get legacy assessments: %w", err)
	}

	var doc LegacyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode legacy assessments: %w", err)
	}
	return doc.Attempts, nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec     domain.Record
		history []byte
	)
	m := &rec.Metrics
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.LevelID, &rec.BadgeID,
		&m.AppOpenedCount, &m.MinSpent, &m.SubModuleUsageCount, &m.ChatbotUsageCount,
		&m.KbaseCompletion, &m.CorrectnessOfAnswers, &m.TotalAssessments,
		&rec.TaskCompleted, &history, &rec.UpdateSource, &rec.PromotedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return domain.Record{}, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rec.History); err != nil {
			return domain.Record{}, fmt.Errorf("decode history: %w", err)
		}
	}
	if rec.History == nil {
		rec.History = []domain.HistoryEntry{}
	}
	return rec, nil
}
