package service

import (
	"sort"

	"github.com/google/uuid"

	"achievement_engine/internal/catalog/repository"
)

// Ladder is an immutable snapshot of the catalog indexed for evaluation.
type Ladder struct {
	levels       []repository.Level
	badges       []repository.Badge
	levelByID    map[uuid.UUID]repository.Level
	badgeByID    map[uuid.UUID]repository.Badge
	badgeByIndex map[int]repository.Badge
	taskByBadge  map[uuid.UUID]repository.Task
	totalWeight  int
}

// LevelStep is one level with its badges, in index order.
type LevelStep struct {
	Level  repository.Level
	Badges []BadgeStep
}

// BadgeStep is one badge and its threshold row, if configured.
type BadgeStep struct {
	Badge repository.Badge
	Task  *repository.Task
}

// NewLadder indexes the catalog rows. Inputs are not retained.
func NewLadder(levels []repository.Level, badges []repository.Badge, tasks []repository.Task) *Ladder {
	l := &Ladder{
		levels:       append([]repository.Level(nil), levels...),
		badges:       append([]repository.Badge(nil), badges...),
		levelByID:    make(map[uuid.UUID]repository.Level, len(levels)),
		badgeByID:    make(map[uuid.UUID]repository.Badge, len(badges)),
		badgeByIndex: make(map[int]repository.Badge, len(badges)),
		taskByBadge:  make(map[uuid.UUID]repository.Task, len(tasks)),
	}

	sort.Slice(l.levels, func(i, j int) bool { return l.levels[i].Index < l.levels[j].Index })
	sort.Slice(l.badges, func(i, j int) bool { return l.badges[i].Index < l.badges[j].Index })

	for _, level := range l.levels {
		l.levelByID[level.ID] = level
	}
	for _, badge := range l.badges {
		l.badgeByID[badge.ID] = badge
		l.badgeByIndex[badge.Index] = badge
	}
	for _, task := range tasks {
		l.taskByBadge[task.BadgeID] = task
		l.totalWeight += task.TotalTask
	}
	return l
}

// LowestLevel returns the level with the smallest index.
func (l *Ladder) LowestLevel() (repository.Level, bool) {
	if len(l.levels) == 0 {
		return repository.Level{}, false
	}
	return l.levels[0], true
}

// Level looks up a level by id.
func (l *Ladder) Level(id uuid.UUID) (repository.Level, bool) {
	level, ok := l.levelByID[id]
	return level, ok
}

// Badge looks up a badge by id.
func (l *Ladder) Badge(id uuid.UUID) (repository.Badge, bool) {
	badge, ok := l.badgeByID[id]
	return badge, ok
}

// BadgeByIndex looks up a badge by its global index.
func (l *Ladder) BadgeByIndex(index int) (repository.Badge, bool) {
	badge, ok := l.badgeByIndex[index]
	return badge, ok
}

// CurrentIndex returns the global index of the held badge, or 0 when none is held.
// An id that is no longer in the catalog also counts as 0.
func (l *Ladder) CurrentIndex(badgeID *uuid.UUID) int {
	if badgeID == nil {
		return 0
	}
	if badge, ok := l.badgeByID[*badgeID]; ok {
		return badge.Index
	}
	return 0
}

// NextBadge returns the badge at global index current+1. Level grouping is
// ignored, so the last badge of one level is followed by the first badge of
// the next.
func (l *Ladder) NextBadge(badgeID *uuid.UUID) (repository.Badge, bool) {
	return l.BadgeByIndex(l.CurrentIndex(badgeID) + 1)
}

// TaskFor returns the threshold row gating a badge.
func (l *Ladder) TaskFor(badgeID uuid.UUID) (repository.Task, bool) {
	task, ok := l.taskByBadge[badgeID]
	return task, ok
}

// GlobalTotalTaskWeight is the sum of totalTask across every task row.
func (l *Ladder) GlobalTotalTaskWeight() int {
	return l.totalWeight
}

// Levels returns the catalog grouped by level, each level's badges in global index order.
func (l *Ladder) Levels() []LevelStep {
	steps := make([]LevelStep, 0, len(l.levels))
	pos := make(map[uuid.UUID]int, len(l.levels))
	for _, level := range l.levels {
		pos[level.ID] = len(steps)
		steps = append(steps, LevelStep{Level: level})
	}
	for _, badge := range l.badges {
		i, ok := pos[badge.LevelID]
		if !ok {
			continue
		}
		step := BadgeStep{Badge: badge}
		if task, ok := l.taskByBadge[badge.ID]; ok {
			t := task
			step.Task = &t
		}
		steps[i].Badges = append(steps[i].Badges, step)
	}
	return steps
}

// Candidate is the next badge a user can earn, with its level and threshold row.
type Candidate struct {
	Badge repository.Badge
	Level repository.Level
	Task  *repository.Task
}

// Candidate resolves the successor of the held badge. Task is nil when the
// badge has no threshold row.
func (l *Ladder) Candidate(badgeID *uuid.UUID) (Candidate, bool) {
	badge, ok := l.NextBadge(badgeID)
	if !ok {
		return Candidate{}, false
	}
	c := Candidate{Badge: badge, Level: repository.Level{ID: badge.LevelID}}
	if level, ok := l.levelByID[badge.LevelID]; ok {
		c.Level = level
	}
	if task, ok := l.taskByBadge[badge.ID]; ok {
		t := task
		c.Task = &t
	}
	return c, true
}

// Labels returns display labels for a level and an optional badge. Unknown
// ids yield empty labels.
func (l *Ladder) Labels(levelID uuid.UUID, badgeID *uuid.UUID) (string, string) {
	level := l.levelByID[levelID].Label
	if badgeID == nil {
		return level, ""
	}
	return level, l.badgeByID[*badgeID].Label
}
