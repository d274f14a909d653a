package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// PromoteParams describes a single-step promotion. The write only lands when
// the record still holds ExpectedBadgeID and the new total stays within MaxTotal.
type PromoteParams struct {
	UserID          uuid.UUID
	ExpectedBadgeID *uuid.UUID
	NewLevelID      uuid.UUID
	NewBadgeID      uuid.UUID
	Weight          int
	MaxTotal        int
	Entry           domain.HistoryEntry
}

// Store persists one progress record per user.
type Store interface {
	// Get returns the user's record or an apperr NotFound.
	Get(ctx context.Context, userID uuid.UUID) (domain.Record, error)
	// IncrementMetric creates the record on first use and adds one to metric atomically.
	IncrementMetric(ctx context.Context, userID uuid.UUID, metric domain.Metric) (domain.Record, error)
	// SetMetrics overwrites the given metrics, creating the record when missing.
	SetMetrics(ctx context.Context, userID uuid.UUID, values map[domain.Metric]int) (domain.Record, error)
	// Promote applies a guarded promotion tagged with the evaluator source.
	// It reports false when the guard did not match.
	Promote(ctx context.Context, params PromoteParams) (domain.Record, bool, error)
	// ListUpdatedSince returns users whose record changed at or after since.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

// UsageGroup is the activity time for one (sub module, declared total time) pair.
type UsageGroup struct {
	SubModule string
	TotalTime int
	Spent     int
}

// Satisfied reports whether the summed time covers the declared total.
func (g UsageGroup) Satisfied() bool {
	return g.Spent >= g.TotalTime
}

// ActivityReader aggregates raw activity rows.
type ActivityReader interface {
	SubModuleUsage(ctx context.Context, userID uuid.UUID, actions []string) ([]UsageGroup, error)
	AppUsageSeconds(ctx context.Context, userID uuid.UUID, actions []string) (int, error)
}

// LegacyAttempt is one attempt listed in the legacy assessment document.
type LegacyAttempt struct {
	Status      string  `json:"status"`
	Correctness float64 `json:"correctness"`
}

// Pending reports whether the attempt is still awaiting a result.
func (a LegacyAttempt) Pending() bool {
	return a.Status == "" || a.Status == "pending"
}

// LegacyDocument is the schema-less per-user assessment document.
type LegacyDocument struct {
	Attempts []LegacyAttempt `json:"attempts"`
}

// AssessmentReader reads both assessment sources.
type AssessmentReader interface {
	// CalculatedResponses returns the count and score sum of calculated responses.
	CalculatedResponses(ctx context.Context, userID uuid.UUID) (int, float64, error)
	LegacyAttempts(ctx context.Context, userID uuid.UUID) ([]LegacyAttempt, error)
}
