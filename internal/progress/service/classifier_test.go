package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

func TestClassifierDispatchesDefaultTable(t *testing.T) {
	u, mem := newUpdater()
	c, err := NewClassifier(u, DefaultRules, logger.Nop())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	userID := uuid.New()
	ctx := context.Background()

	for _, action := range []string{"home_visit", "home_visit", "chatbot_usage", "kbase_completed"} {
		if err := c.Classify(ctx, domain.Activity{UserID: userID, Action: action}); err != nil {
			t.Fatalf("classify %s: %v", action, err)
		}
	}

	rec, err := mem.Get(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Metrics.AppOpenedCount != 2 || rec.Metrics.ChatbotUsageCount != 1 || rec.Metrics.KbaseCompletion != 1 {
		t.Fatalf("unexpected metrics %+v", rec.Metrics)
	}
}

func TestClassifierDropsUnmappedActions(t *testing.T) {
	u, mem := newUpdater()
	c, err := NewClassifier(u, DefaultRules, logger.Nop())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	userID := uuid.New()
	if err := c.Classify(context.Background(), domain.Activity{UserID: userID, Action: "profile_photo_changed"}); err != nil {
		t.Fatalf("expected unmapped action to be dropped, got %v", err)
	}
	if _, err := mem.Get(context.Background(), userID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected no record for unmapped action, got %v", err)
	}
}

func TestClassifierSkipsRecomputeWithoutTimeFields(t *testing.T) {
	u, mem := newUpdater()
	c, err := NewClassifier(u, DefaultRules, logger.Nop())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	userID := uuid.New()
	ctx := context.Background()

	if err := c.Classify(ctx, domain.Activity{UserID: userID, Action: "submodule_usage", SubModule: strPtr("intro")}); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if err := c.Classify(ctx, domain.Activity{UserID: userID, Action: "app_usage", TimeSpent: intPtr(0)}); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if _, err := mem.Get(ctx, userID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected no-op without usable time fields, got %v", err)
	}
}

func TestLoadRulesExtendsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	body := []byte(`actions:
  - action: quiz_opened
    kind: increment
    metric: kbaseCompletion
  - action: video_watch
    kind: recompute_app_usage
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	extra, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	u, mem := newUpdater()
	c, err := NewClassifier(u, append(append([]Rule{}, DefaultRules...), extra...), logger.Nop())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	rule, ok := c.Lookup("quiz_opened")
	if !ok || rule.Metric != domain.MetricKbaseCompletion {
		t.Fatalf("expected quiz_opened rule, got %+v ok=%v", rule, ok)
	}

	userID := uuid.New()
	mem.AddActivity(domain.Activity{UserID: userID, Action: "app_usage", TimeSpent: intPtr(60)})
	mem.AddActivity(domain.Activity{UserID: userID, Action: "video_watch", TimeSpent: intPtr(60)})
	if err := c.Classify(context.Background(), domain.Activity{UserID: userID, Action: "video_watch", TimeSpent: intPtr(60)}); err != nil {
		t.Fatalf("classify: %v", err)
	}
	rec, err := mem.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Metrics.MinSpent != 2 {
		t.Fatalf("expected both app usage actions to count, got %d minutes", rec.Metrics.MinSpent)
	}
}

func TestLoadRulesRejectsBadMetric(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	body := []byte("actions:\n  - action: x\n    kind: increment\n    metric: nope\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected invalid metric to be rejected")
	}
}
