// Package service holds the progress updater and the action classifier.
package service

import (
	"context"
	"math"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/progress/repository"
	"achievement_engine/platform/logger"
)

// Updater mutates progress records. Increments are order independent and
// recomputes overwrite from raw rows, so every call is safe to replay.
type Updater struct {
	store       repository.Store
	activity    repository.ActivityReader
	assessments repository.AssessmentReader
	log         *logger.Logger
}

// NewUpdater creates a progress updater.
func NewUpdater(store repository.Store, activity repository.ActivityReader, assessments repository.AssessmentReader, log *logger.Logger) *Updater {
	return &Updater{store: store, activity: activity, assessments: assessments, log: log}
}

// IncrementCounter adds one to an engagement counter, creating the record on first use.
func (u *Updater) IncrementCounter(ctx context.Context, userID uuid.UUID, metric domain.Metric) (domain.Record, error) {
	return u.store.IncrementMetric(ctx, userID, metric)
}

// RecomputeSubModuleUsage counts the (sub module, total time) groups whose summed
// time covers the declared total and stores that count.
func (u *Updater) RecomputeSubModuleUsage(ctx context.Context, userID uuid.UUID, actions []string) (domain.Record, error) {
	groups, err := u.activity.SubModuleUsage(ctx, userID, actions)
	if err != nil {
		return domain.Record{}, err
	}
	satisfied := 0
	for _, g := range groups {
		if g.Satisfied() {
			satisfied++
		}
	}
	return u.store.SetMetrics(ctx, userID, map[domain.Metric]int{
		domain.MetricSubModuleUsageCount: satisfied,
	})
}

// RecomputeAppUsageMinutes stores the whole minutes spent across app usage rows.
func (u *Updater) RecomputeAppUsageMinutes(ctx context.Context, userID uuid.UUID, actions []string) (domain.Record, error) {
	seconds, err := u.activity.AppUsageSeconds(ctx, userID, actions)
	if err != nil {
		return domain.Record{}, err
	}
	return u.store.SetMetrics(ctx, userID, map[domain.Metric]int{
		domain.MetricMinSpent: seconds / 60,
	})
}

// AssessmentStats is the merged result of both assessment sources.
type AssessmentStats struct {
	Total       int
	Correctness int
}

// RecomputeAssessmentStats merges calculated responses with non-pending legacy
// attempts and overwrites totalAssessments and correctnessOfAnswers.
func (u *Updater) RecomputeAssessmentStats(ctx context.Context, userID uuid.UUID) (domain.Record, error) {
	stats, err := u.AssessmentStats(ctx, userID)
	if err != nil {
		return domain.Record{}, err
	}
	return u.store.SetMetrics(ctx, userID, map[domain.Metric]int{
		domain.MetricTotalAssessments:     stats.Total,
		domain.MetricCorrectnessOfAnswers: stats.Correctness,
	})
}

// AssessmentStats computes the merged assessment figures without writing them.
func (u *Updater) AssessmentStats(ctx context.Context, userID uuid.UUID) (AssessmentStats, error) {
	count, sum, err := u.assessments.CalculatedResponses(ctx, userID)
	if err != nil {
		return AssessmentStats{}, err
	}
	attempts, err := u.assessments.LegacyAttempts(ctx, userID)
	if err != nil {
		return AssessmentStats{}, err
	}
	for _, a := range attempts {
		if a.Pending() {
			continue
		}
		count++
		sum += a.Correctness
	}
	if count == 0 {
		return AssessmentStats{}, nil
	}
	return AssessmentStats{Total: count, Correctness: int(math.Round(sum / float64(count)))}, nil
}
