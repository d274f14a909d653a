package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/progress/repository"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

var lowestLevel = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func newUpdater() (*Updater, *repository.Memory) {
	mem := repository.NewMemory(lowestLevel)
	return NewUpdater(mem, mem, mem, logger.Nop()), mem
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestIncrementCounterSeedsNewRecord(t *testing.T) {
	u, _ := newUpdater()
	userID := uuid.New()

	rec, err := u.IncrementCounter(context.Background(), userID, domain.MetricAppOpenedCount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Metrics.AppOpenedCount != 1 {
		t.Fatalf("expected appOpenedCount 1, got %d", rec.Metrics.AppOpenedCount)
	}
	if rec.LevelID != lowestLevel {
		t.Fatalf("expected lowest level, got %s", rec.LevelID)
	}
	if rec.BadgeID != nil {
		t.Fatal("expected no badge on a new record")
	}
	if rec.UpdateSource != domain.UpdateSourceUpdater {
		t.Fatalf("expected updater source tag, got %q", rec.UpdateSource)
	}
}

func TestConcurrentFirstVisitsCreateOneRecord(t *testing.T) {
	u, mem := newUpdater()
	userID := uuid.New()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := u.IncrementCounter(context.Background(), userID, domain.MetricAppOpenedCount); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(mem.Records()); got != 1 {
		t.Fatalf("expected exactly one record, got %d", got)
	}
	rec, err := mem.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Metrics.AppOpenedCount != n {
		t.Fatalf("expected appOpenedCount %d, got %d", n, rec.Metrics.AppOpenedCount)
	}
}

func TestIncrementWithoutLevelsIsNotFound(t *testing.T) {
	mem := repository.NewMemory(uuid.Nil)
	u := NewUpdater(mem, mem, mem, logger.Nop())
	_, err := u.IncrementCounter(context.Background(), uuid.New(), domain.MetricAppOpenedCount)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecomputeAppUsageMinutesIsIdempotent(t *testing.T) {
	u, mem := newUpdater()
	userID := uuid.New()
	actions := []string{"app_usage"}
	mem.AddActivity(domain.Activity{UserID: userID, Action: "app_usage", TimeSpent: intPtr(90)})
	mem.AddActivity(domain.Activity{UserID: userID, Action: "app_usage", TimeSpent: intPtr(100)})
	mem.AddActivity(domain.Activity{UserID: userID, Action: "home_visit", TimeSpent: intPtr(600)})

	first, err := u.RecomputeAppUsageMinutes(context.Background(), userID, actions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := u.RecomputeAppUsageMinutes(context.Background(), userID, actions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Metrics.MinSpent != 3 {
		t.Fatalf("expected 3 minutes from 190 seconds, got %d", first.Metrics.MinSpent)
	}
	if second.Metrics.MinSpent != first.Metrics.MinSpent {
		t.Fatalf("replay changed minSpent: %d -> %d", first.Metrics.MinSpent, second.Metrics.MinSpent)
	}
}

func TestRecomputeSubModuleUsageCountsSatisfiedGroups(t *testing.T) {
	u, mem := newUpdater()
	userID := uuid.New()
	rows := []struct {
		sub   string
		spent int
		total int
	}{
		{"intro", 30, 60},
		{"intro", 30, 60},
		{"dosage", 10, 120},
		{"triage", 200, 100},
		{"triage", 5, 300},
	}
	for _, r := range rows {
		mem.AddActivity(domain.Activity{
			UserID:    userID,
			Action:    "submodule_usage",
			SubModule: strPtr(r.sub),
			TimeSpent: intPtr(r.spent),
			TotalTime: intPtr(r.total),
		})
	}

	rec, err := u.RecomputeSubModuleUsage(context.Background(), userID, []string{"submodule_usage"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// intro(60) and triage(100) are covered; dosage(120) and triage(300) are not
	if rec.Metrics.SubModuleUsageCount != 2 {
		t.Fatalf("expected 2 satisfied groups, got %d", rec.Metrics.SubModuleUsageCount)
	}
}

func TestRecomputeAssessmentStatsMergesSources(t *testing.T) {
	u, mem := newUpdater()
	userID := uuid.New()
	mem.AddCalculatedResponse(userID, 80)
	mem.AddCalculatedResponse(userID, 90)
	mem.SetLegacyAttempts(userID, []repository.LegacyAttempt{
		{Status: "completed", Correctness: 55},
		{Status: "pending", Correctness: 100},
		{Status: "completed", Correctness: 60},
	})

	rec, err := u.RecomputeAssessmentStats(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Metrics.TotalAssessments != 4 {
		t.Fatalf("expected 4 assessments, got %d", rec.Metrics.TotalAssessments)
	}
	// (80 + 90 + 55 + 60) / 4 = 71.25
	if rec.Metrics.CorrectnessOfAnswers != 71 {
		t.Fatalf("expected correctness 71, got %d", rec.Metrics.CorrectnessOfAnswers)
	}
}

func TestRecomputeAssessmentStatsWithoutData(t *testing.T) {
	u, _ := newUpdater()
	rec, err := u.RecomputeAssessmentStats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Metrics.TotalAssessments != 0 || rec.Metrics.CorrectnessOfAnswers != 0 {
		t.Fatalf("expected zero stats, got %+v", rec.Metrics)
	}
}
