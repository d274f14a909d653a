// Package achievement implements the level and badge state machine.
//
// A user's state is the (level, badge) pair stored on the progress record.
// Badges are sequenced by their global index; the next candidate is always
// the badge at index current+1, with "no badge" counting as index 0. A
// promotion requires every one of the seven metrics to reach the candidate's
// threshold.
//
// Every promotion write is tagged with domain.UpdateSourceEvaluator and sets
// domain.PromotionMarkerField. The change feed relies on that tag to drop the
// change event the promotion itself produces.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	catalogservice "achievement_engine/internal/catalog/service"
	"achievement_engine/internal/events"
	"achievement_engine/internal/notification"
	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/progress/repository"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

// Status is the result of one evaluation step.
type Status string

const (
	StatusNoData   Status = "no_data"
	StatusMaxed    Status = "maxed"
	StatusTerminal Status = "terminal"
	StatusNoTask   Status = "no_task"
	StatusBlocked  Status = "blocked"
	StatusPromoted Status = "promoted"
	// StatusStale means the record changed between read and write.
	StatusStale Status = "stale"
)

// Outcome describes what an evaluation decided.
type Outcome struct {
	UserID    uuid.UUID
	Status    Status
	Candidate *catalogservice.Candidate
	Unmet     []domain.Metric
	Record    domain.Record
}

// LadderSource provides the current catalog snapshot.
type LadderSource interface {
	Ladder(ctx context.Context) (*catalogservice.Ladder, error)
}

// Evaluator decides and applies promotions.
type Evaluator struct {
	store      repository.Store
	catalog    LadderSource
	dispatcher notification.Dispatcher
	bus        events.Bus
	deepLink   string
	now        func() time.Time
	log        *logger.Logger
}

// NewEvaluator creates an evaluator. bus may be nil.
func NewEvaluator(store repository.Store, catalog LadderSource, dispatcher notification.Dispatcher, bus events.Bus, deepLink string, log *logger.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		catalog:    catalog,
		dispatcher: dispatcher,
		bus:        bus,
		deepLink:   deepLink,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Inspect decides the next step for a record without writing anything.
func Inspect(ladder *catalogservice.Ladder, rec domain.Record) Outcome {
	out := Outcome{UserID: rec.UserID, Record: rec}

	total := ladder.GlobalTotalTaskWeight()
	if rec.TaskCompleted >= total {
		out.Status = StatusMaxed
		return out
	}

	candidate, ok := ladder.Candidate(rec.BadgeID)
	if !ok {
		out.Status = StatusTerminal
		return out
	}
	out.Candidate = &candidate
	if candidate.Task == nil {
		out.Status = StatusNoTask
		return out
	}

	if unmet := rec.Metrics.Unmet(candidate.Task.Thresholds); len(unmet) > 0 {
		out.Status = StatusBlocked
		out.Unmet = unmet
		return out
	}
	out.Status = StatusPromoted
	return out
}

// Evaluate runs one transition for the user. Missing progress or task data is
// reported through the outcome status, not as an error.
func (e *Evaluator) Evaluate(ctx context.Context, userID uuid.UUID) (Outcome, error) {
	ladder, err := e.catalog.Ladder(ctx)
	if err != nil {
		return Outcome{UserID: userID}, err
	}

	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return Outcome{UserID: userID, Status: StatusNoData}, nil
		}
		return Outcome{UserID: userID}, apperr.Infrastructure("load progress", err)
	}

	out := Inspect(ladder, rec)
	if out.Status != StatusPromoted {
		return out, nil
	}
	return e.promote(ctx, ladder, out)
}

func (e *Evaluator) promote(ctx context.Context, ladder *catalogservice.Ladder, out Outcome) (Outcome, error) {
	rec := out.Record
	candidate := *out.Candidate

	oldLevel, oldBadge := ladder.Labels(rec.LevelID, rec.BadgeID)
	entry := domain.HistoryEntry{
		Level:          oldLevel,
		BadgeName:      oldBadge,
		MetricSnapshot: rec.Metrics.Snapshot(),
		Timestamp:      e.now(),
	}

	updated, ok, err := e.store.Promote(ctx, repository.PromoteParams{
		UserID:          rec.UserID,
		ExpectedBadgeID: rec.BadgeID,
		NewLevelID:      candidate.Level.ID,
		NewBadgeID:      candidate.Badge.ID,
		Weight:          candidate.Task.TotalTask,
		MaxTotal:        ladder.GlobalTotalTaskWeight(),
		Entry:           entry,
	})
	if err != nil {
		return out, apperr.Infrastructure("promote", err)
	}
	if !ok {
		out.Status = StatusStale
		return out, nil
	}
	out.Record = updated

	e.log.Info("badge unlocked",
		"userId", rec.UserID,
		"oldBadge", oldBadge,
		"newBadge", candidate.Badge.Label,
		"taskCompleted", updated.TaskCompleted,
	)

	req := notification.Request{
		Kind:             notification.KindAchievementUnlocked,
		Title:            "New badge unlocked",
		Description:      fmt.Sprintf("You earned %s in %s.", candidate.Badge.Label, candidate.Level.Label),
		RecipientUserIDs: []uuid.UUID{rec.UserID},
		DeepLink:         e.deepLink,
		OldLevel:         oldLevel,
		NewLevel:         candidate.Level.Label,
		OldBadge:         oldBadge,
		NewBadge:         candidate.Badge.Label,
	}
	if err := e.dispatcher.Dispatch(ctx, req); err != nil {
		// the promotion is already persisted; only the message is lost
		e.log.Warn("achievement notification failed", "userId", rec.UserID, "error", err)
	}

	if e.bus != nil {
		e.bus.Publish(ctx, events.AchievementUnlocked{
			BaseEvent:     events.NewBaseEvent(),
			UserID:        rec.UserID,
			OldLevel:      oldLevel,
			OldBadge:      oldBadge,
			NewLevel:      candidate.Level.Label,
			NewBadge:      candidate.Badge.Label,
			TaskCompleted: updated.TaskCompleted,
		})
	}
	return out, nil
}
