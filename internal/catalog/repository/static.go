package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// Static serves a fixed catalog from memory. Used by tests and local fixtures.
type Static struct {
	Levels []Level
	Badges []Badge
	Tasks  []Task
}

var _ Reader = (*Static)(nil)

func (s *Static) ListLevels(context.Context) ([]Level, error) {
	return append([]Level(nil), s.Levels...), nil
}

func (s *Static) ListBadges(context.Context) ([]Badge, error) {
	return append([]Badge(nil), s.Badges...), nil
}

func (s *Static) ListTasks(context.Context) ([]Task, error) {
	return append([]Task(nil), s.Tasks...), nil
}

var fixtureNamespace = uuid.MustParse("6f1c6f55-8d1e-4a4c-9a7b-1f0d3c0b8e21")

// Sequential builds a catalog of levelCount levels with badgesPerLevel badges
// each. Labels are "Level<n>" and "Badge<n>", badge indexes start at 1 and every
// task carries the given thresholds and weight. Ids are stable across calls.
func Sequential(levelCount, badgesPerLevel, weight int, thresholds domain.Metrics) *Static {
	s := &Static{}
	badgeIndex := 0
	for li := 1; li <= levelCount; li++ {
		level := Level{
			ID:    uuid.NewSHA1(fixtureNamespace, []byte(fmt.Sprintf("level-%d", li))),
			Index: li,
			Label: fmt.Sprintf("Level%d", li),
		}
		s.Levels = append(s.Levels, level)
		for b := 0; b < badgesPerLevel; b++ {
			badgeIndex++
			badge := Badge{
				ID:      uuid.NewSHA1(fixtureNamespace, []byte(fmt.Sprintf("badge-%d", badgeIndex))),
				Index:   badgeIndex,
				LevelID: level.ID,
				Label:   fmt.Sprintf("Badge%d", badgeIndex),
			}
			s.Badges = append(s.Badges, badge)
			s.Tasks = append(s.Tasks, Task{
				ID:         uuid.NewSHA1(fixtureNamespace, []byte(fmt.Sprintf("task-%d", badgeIndex))),
				LevelID:    level.ID,
				BadgeID:    badge.ID,
				Thresholds: thresholds,
				TotalTask:  weight,
			})
		}
	}
	return s
}
