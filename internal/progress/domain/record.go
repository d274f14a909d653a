// Package domain holds the progress record model shared by the updater,
// the achievement evaluator and the rank aggregator.
package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// UpdateSourceField is the column every progress write stamps with its origin.
	UpdateSourceField = "update_source"
	// PromotionMarkerField is only ever written by a promotion.
	PromotionMarkerField = "promoted_at"

	// UpdateSourceUpdater tags writes made by the progress updater.
	UpdateSourceUpdater = "progress_updater"
	// UpdateSourceEvaluator tags writes made by the achievement evaluator.
	// The change feed watcher drops progress updates carrying this tag.
	UpdateSourceEvaluator = "achievement_evaluator"
)

// HistoryEntry records the state a user left when they were promoted.
type HistoryEntry struct {
	Level          string        `json:"level"`
	BadgeName      string        `json:"badgeName"`
	MetricSnapshot []MetricValue `json:"metricSnapshot"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Record is the per-user progress aggregate.
type Record struct {
	ID            uuid.UUID      `json:"id"`
	UserID        uuid.UUID      `json:"userId"`
	LevelID       uuid.UUID      `json:"levelId"`
	BadgeID       *uuid.UUID     `json:"badgeId"`
	Metrics       Metrics        `json:"metrics"`
	TaskCompleted int            `json:"taskCompleted"`
	History       []HistoryEntry `json:"history"`
	UpdateSource  string         `json:"updateSource"`
	PromotedAt    *time.Time     `json:"promotedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Activity is one raw row of the activity log.
type Activity struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Action    string    `json:"action"`
	SubModule *string   `json:"sub_module"`
	TimeSpent *int      `json:"time_spent"`
	TotalTime *int      `json:"total_time"`
	CreatedAt time.Time `json:"created_at"`
}

// HasTimeFields reports whether the activity carries both time fields.
func (a Activity) HasTimeFields() bool {
	return a.TimeSpent != nil && a.TotalTime != nil
}

// SecondsSpent returns TimeSpent or zero.
func (a Activity) SecondsSpent() int {
	if a.TimeSpent == nil {
		return 0
	}
	return *a.TimeSpent
}
