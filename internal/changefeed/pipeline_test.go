package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/achievement"
	"achievement_engine/internal/catalog"
	catalogrepo "achievement_engine/internal/catalog/repository"
	"achievement_engine/internal/notification"
	"achievement_engine/internal/progress"
	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/progress/repository"
	"achievement_engine/platform/logger"
)

type progressConfig struct{}

func (progressConfig) GetActionTablePath() string { return "" }

var pipelineThresholds = domain.Metrics{
	AppOpenedCount:       5,
	MinSpent:             30,
	SubModuleUsageCount:  2,
	ChatbotUsageCount:    3,
	KbaseCompletion:      1,
	CorrectnessOfAnswers: 60,
	TotalAssessments:     4,
}

func TestProgressEventPromotesOneBadge(t *testing.T) {
	log := logger.Nop()
	cat := catalogrepo.Sequential(2, 3, 10, pipelineThresholds)
	mem := repository.NewMemory(cat.Levels[0].ID)
	progressModule, err := progress.NewMemoryModule(mem, progressConfig{}, log)
	if err != nil {
		t.Fatalf("progress module: %v", err)
	}
	catalogModule := catalog.NewModule(cat, log)
	dispatcher := notification.NewMemoryDispatcher()
	evaluator := achievement.NewEvaluator(progressModule.Store(), catalogModule.Service(), dispatcher, nil, "", log)

	// holds Badge3 and already meets the thresholds of badges 4, 5 and 6
	userID := uuid.New()
	badge3 := cat.Badges[2]
	mem.Put(domain.Record{
		UserID:        userID,
		LevelID:       badge3.LevelID,
		BadgeID:       &badge3.ID,
		TaskCompleted: 30,
		Metrics:       pipelineThresholds,
	})

	w := NewWatcher(Options{Buffer: 4, Workers: 2}, progressModule.Classifier(), evaluator, progressModule.Updater(), NewMemoryQuarantine(time.Second, time.Minute), log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := w.Submit(ctx, progressEvent("p1", userID, domain.UpdateSourceUpdater, "app_opened_count")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "progress event", func() bool { return w.Stats().Processed == 1 })

	// the promotion write comes back tagged and must not advance the user again
	if err := w.Submit(ctx, progressEvent("p1", userID, domain.UpdateSourceEvaluator, "badge_id", "update_source")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "self update", func() bool { return w.Stats().Ignored == 1 })

	rec, err := mem.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.BadgeID == nil || *rec.BadgeID != cat.Badges[3].ID {
		t.Fatal("expected Badge4 to be held")
	}
	if rec.TaskCompleted != 40 {
		t.Fatalf("expected taskCompleted 40, got %d", rec.TaskCompleted)
	}
	if len(rec.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(rec.History))
	}
	if reqs := dispatcher.Requests(); len(reqs) != 1 || reqs[0].NewBadge != "Badge4" {
		t.Fatalf("expected one Badge4 notification, got %+v", reqs)
	}
}
