package achievement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	catalogrepo "achievement_engine/internal/catalog/repository"
	catalogservice "achievement_engine/internal/catalog/service"
	"achievement_engine/internal/notification"
	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/progress/repository"
	"achievement_engine/platform/logger"
)

var thresholds = domain.Metrics{
	AppOpenedCount:       5,
	MinSpent:             30,
	SubModuleUsageCount:  2,
	ChatbotUsageCount:    3,
	KbaseCompletion:      1,
	CorrectnessOfAnswers: 60,
	TotalAssessments:     4,
}

type staticLadder struct {
	ladder *catalogservice.Ladder
	err    error
}

func (s staticLadder) Ladder(context.Context) (*catalogservice.Ladder, error) {
	return s.ladder, s.err
}

type fixture struct {
	catalog    *catalogrepo.Static
	ladder     *catalogservice.Ladder
	store      *repository.Memory
	dispatcher *notification.MemoryDispatcher
	evaluator  *Evaluator
}

// two levels of three badges, weight 10 each
func newFixture() *fixture {
	cat := catalogrepo.Sequential(2, 3, 10, thresholds)
	ladder := catalogservice.NewLadder(cat.Levels, cat.Badges, cat.Tasks)
	store := repository.NewMemory(cat.Levels[0].ID)
	dispatcher := notification.NewMemoryDispatcher()
	return &fixture{
		catalog:    cat,
		ladder:     ladder,
		store:      store,
		dispatcher: dispatcher,
		evaluator:  NewEvaluator(store, staticLadder{ladder: ladder}, dispatcher, nil, "app://progress", logger.Nop()),
	}
}

func (f *fixture) holding(userID uuid.UUID, badgeIndex int, metrics domain.Metrics) domain.Record {
	rec := domain.Record{
		UserID:  userID,
		LevelID: f.catalog.Levels[0].ID,
		Metrics: metrics,
	}
	if badgeIndex > 0 {
		badge := f.catalog.Badges[badgeIndex-1]
		rec.BadgeID = &badge.ID
		rec.LevelID = badge.LevelID
		rec.TaskCompleted = badgeIndex * 10
	}
	f.store.Put(rec)
	return rec
}

func TestPromotesFromBadge3ToBadge4(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.holding(userID, 3, thresholds)

	out, err := f.evaluator.Evaluate(context.Background(), userID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusPromoted {
		t.Fatalf("expected promotion, got %s", out.Status)
	}

	rec, _ := f.store.Get(context.Background(), userID)
	badge4 := f.catalog.Badges[3]
	if rec.BadgeID == nil || *rec.BadgeID != badge4.ID {
		t.Fatal("expected badge 4 to be held")
	}
	if rec.LevelID != badge4.LevelID {
		t.Fatal("expected level to follow badge 4 into the second level")
	}
	if rec.TaskCompleted != 40 {
		t.Fatalf("expected taskCompleted 40, got %d", rec.TaskCompleted)
	}
	if len(rec.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(rec.History))
	}
	entry := rec.History[0]
	if entry.BadgeName != "Badge3" || entry.Level != "Level1" || len(entry.MetricSnapshot) != len(domain.AllMetrics) {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if rec.UpdateSource != domain.UpdateSourceEvaluator || rec.PromotedAt == nil {
		t.Fatal("expected promotion write to carry the evaluator tag and marker")
	}

	reqs := f.dispatcher.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one notification, got %d", len(reqs))
	}
	if reqs[0].OldBadge != "Badge3" || reqs[0].NewBadge != "Badge4" {
		t.Fatalf("unexpected notification %+v", reqs[0])
	}
	if reqs[0].OldLevel != "Level1" || reqs[0].NewLevel != "Level2" {
		t.Fatalf("unexpected levels in notification %+v", reqs[0])
	}
}

func TestSixOfSevenMetricsDoNotPromote(t *testing.T) {
	for _, metric := range domain.AllMetrics {
		t.Run(string(metric), func(t *testing.T) {
			f := newFixture()
			userID := uuid.New()
			metrics := thresholds
			metrics.Set(metric, thresholds.Get(metric)-1)
			before := f.holding(userID, 1, metrics)

			out, err := f.evaluator.Evaluate(context.Background(), userID)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if out.Status != StatusBlocked || len(out.Unmet) != 1 || out.Unmet[0] != metric {
				t.Fatalf("expected blocked on %s, got %s %v", metric, out.Status, out.Unmet)
			}

			after, _ := f.store.Get(context.Background(), userID)
			if *after.BadgeID != *before.BadgeID || after.LevelID != before.LevelID ||
				after.TaskCompleted != before.TaskCompleted || len(after.History) != 0 {
				t.Fatalf("record changed on blocked evaluation: %+v", after)
			}
			if len(f.dispatcher.Requests()) != 0 {
				t.Fatal("expected no notification")
			}
		})
	}
}

func TestFirstBadgeFromNoBadge(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.holding(userID, 0, thresholds)

	out, err := f.evaluator.Evaluate(context.Background(), userID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusPromoted || out.Candidate.Badge.Index != 1 {
		t.Fatalf("expected promotion to badge 1, got %s", out.Status)
	}
	if reqs := f.dispatcher.Requests(); reqs[0].OldBadge != "" {
		t.Fatalf("expected empty old badge, got %q", reqs[0].OldBadge)
	}
}

func TestMaxedAndTerminalStop(t *testing.T) {
	f := newFixture()
	maxed := uuid.New()
	f.holding(maxed, 6, thresholds)

	out, err := f.evaluator.Evaluate(context.Background(), maxed)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusMaxed {
		t.Fatalf("expected maxed, got %s", out.Status)
	}

	// holds the last badge but taskCompleted is below the total
	terminal := uuid.New()
	rec := f.holding(terminal, 6, thresholds)
	rec.TaskCompleted = 50
	f.store.Put(rec)
	out, err = f.evaluator.Evaluate(context.Background(), terminal)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusTerminal {
		t.Fatalf("expected terminal, got %s", out.Status)
	}
}

func TestMissingProgressIsNoData(t *testing.T) {
	f := newFixture()
	out, err := f.evaluator.Evaluate(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Status != StatusNoData {
		t.Fatalf("expected no data, got %s", out.Status)
	}
}

func TestMissingTaskRowIsNoTask(t *testing.T) {
	f := newFixture()
	tasks := f.catalog.Tasks[1:]
	ladder := catalogservice.NewLadder(f.catalog.Levels, f.catalog.Badges, tasks)
	ev := NewEvaluator(f.store, staticLadder{ladder: ladder}, f.dispatcher, nil, "", logger.Nop())
	userID := uuid.New()
	f.holding(userID, 0, thresholds)

	out, err := ev.Evaluate(context.Background(), userID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusNoTask {
		t.Fatalf("expected no task, got %s", out.Status)
	}
}

func TestEvaluateAdvancesOneBadgePerRun(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.holding(userID, 0, thresholds)

	// thresholds of every badge are met, yet each run moves a single step
	for step := 1; step <= 6; step++ {
		out, err := f.evaluator.Evaluate(context.Background(), userID)
		if err != nil {
			t.Fatalf("evaluate %d: %v", step, err)
		}
		if out.Status != StatusPromoted || out.Candidate.Badge.Index != step {
			t.Fatalf("run %d: expected promotion to badge %d, got %s", step, step, out.Status)
		}
		rec, _ := f.store.Get(context.Background(), userID)
		if len(rec.History) != step || len(f.dispatcher.Requests()) != step {
			t.Fatalf("run %d: expected %d history entries and notifications, got %d and %d", step, step, len(rec.History), len(f.dispatcher.Requests()))
		}
	}

	out, err := f.evaluator.Evaluate(context.Background(), userID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusMaxed {
		t.Fatalf("expected maxed after the last badge, got %s", out.Status)
	}
	rec, _ := f.store.Get(context.Background(), userID)
	if rec.TaskCompleted != f.ladder.GlobalTotalTaskWeight() {
		t.Fatalf("expected taskCompleted %d, got %d", f.ladder.GlobalTotalTaskWeight(), rec.TaskCompleted)
	}
	for i, entry := range rec.History[1:] {
		if entry.BadgeName != f.catalog.Badges[i].Label {
			t.Fatalf("history out of order at %d: %s", i+1, entry.BadgeName)
		}
	}
}

func TestPromoteGuardKeepsTotalWithinBound(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	rec := f.holding(userID, 5, thresholds)
	// inconsistent record: promoting would exceed the global total
	rec.TaskCompleted = 55
	f.store.Put(rec)

	out, err := f.evaluator.Evaluate(context.Background(), userID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusStale {
		t.Fatalf("expected guarded write to be rejected, got %s", out.Status)
	}
	after, _ := f.store.Get(context.Background(), userID)
	if after.TaskCompleted > f.ladder.GlobalTotalTaskWeight() {
		t.Fatalf("taskCompleted %d exceeds total", after.TaskCompleted)
	}
}

func TestNotificationFailureKeepsPromotion(t *testing.T) {
	f := newFixture()
	f.dispatcher.FailWith(errors.New("outbox down"))
	userID := uuid.New()
	f.holding(userID, 0, thresholds)

	out, err := f.evaluator.Evaluate(context.Background(), userID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Status != StatusPromoted {
		t.Fatalf("expected promotion, got %s", out.Status)
	}
}

type failingStore struct {
	*repository.Memory
	failFor uuid.UUID
}

func (s failingStore) Get(ctx context.Context, userID uuid.UUID) (domain.Record, error) {
	if userID == s.failFor {
		return domain.Record{}, errors.New("connection reset")
	}
	return s.Memory.Get(ctx, userID)
}

func TestSweepIsolatesPerUserFailures(t *testing.T) {
	f := newFixture()
	broken := uuid.New()
	healthy := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	f.holding(broken, 0, thresholds)
	for _, id := range healthy {
		f.holding(id, 0, thresholds)
	}

	ev := NewEvaluator(failingStore{Memory: f.store, failFor: broken}, staticLadder{ladder: f.ladder}, f.dispatcher, nil, "", logger.Nop())
	summary, err := ev.Sweep(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Scanned != 4 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Promoted != 3 {
		t.Fatalf("expected one promotion per healthy user, got %d", summary.Promoted)
	}
	for _, id := range healthy {
		rec, _ := f.store.Get(context.Background(), id)
		if len(rec.History) != 1 {
			t.Fatalf("expected a single step for %s, got %d", id, len(rec.History))
		}
	}
}

func TestCatalogFailureIsAnError(t *testing.T) {
	f := newFixture()
	ev := NewEvaluator(f.store, staticLadder{err: errors.New("db down")}, f.dispatcher, nil, "", logger.Nop())
	if _, err := ev.Evaluate(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected catalog failure to surface")
	}
}
