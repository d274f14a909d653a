package repository

import (
	"context"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// Level is a coarse progression tier.
type Level struct {
	ID    uuid.UUID `db:"id"`
	Index int       `db:"level_index"`
	Label string    `db:"label"`
}

// Badge belongs to one level but is sequenced by a global index across all levels.
type Badge struct {
	ID      uuid.UUID `db:"id"`
	Index   int       `db:"badge_index"`
	LevelID uuid.UUID `db:"level_id"`
	Label   string    `db:"label"`
}

// Task is the threshold row that gates a badge.
type Task struct {
	ID         uuid.UUID      `db:"id"`
	LevelID    uuid.UUID      `db:"level_id"`
	BadgeID    uuid.UUID      `db:"badge_id"`
	Thresholds domain.Metrics `db:"-"`
	TotalTask  int            `db:"total_task"`
}

// Reader loads the admin-managed catalog. The engine never writes it.
type Reader interface {
	ListLevels(ctx context.Context) ([]Level, error)
	ListBadges(ctx context.Context) ([]Badge, error)
	ListTasks(ctx context.Context) ([]Task, error)
}
