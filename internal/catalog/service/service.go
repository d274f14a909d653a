package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"achievement_engine/internal/catalog/repository"
	"achievement_engine/internal/catalog/transport"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

const defaultCacheTTL = 30 * time.Second

// Service provides the catalog read model. Snapshots are cached for a short
// TTL and concurrent reloads are collapsed.
type Service struct {
	repo  repository.Reader
	log   *logger.Logger
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu       sync.RWMutex
	ladder   *Ladder
	loadedAt time.Time
}

// New creates a new catalog service. A ttl <= 0 uses the default.
func New(repo repository.Reader, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{repo: repo, log: log, ttl: ttl, now: time.Now}
}

// Ladder returns the current catalog snapshot.
func (s *Service) Ladder(ctx context.Context) (*Ladder, error) {
	s.mu.RLock()
	cached, loadedAt := s.ladder, s.loadedAt
	s.mu.RUnlock()
	if cached != nil && s.now().Sub(loadedAt) < s.ttl {
		return cached, nil
	}

	v, err, _ := s.group.Do("ladder", func() (interface{}, error) {
		return s.load(ctx)
	})
	if err != nil {
		if cached != nil {
			s.log.Warn("catalog reload failed, serving stale snapshot", "error", err)
			return cached, nil
		}
		return nil, err
	}
	return v.(*Ladder), nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.ladder = nil
	s.mu.Unlock()
}

func (s *Service) load(ctx context.Context) (*Ladder, error) {
	levels, err := s.repo.ListLevels(ctx)
	if err != nil {
		return nil, apperr.Infrastructure("load catalog levels", err)
	}
	badges, err := s.repo.ListBadges(ctx)
	if err != nil {
		return nil, apperr.Infrastructure("load catalog badges", err)
	}
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, apperr.Infrastructure("load catalog tasks", err)
	}

	ladder := NewLadder(levels, badges, tasks)
	s.mu.Lock()
	s.ladder = ladder
	s.loadedAt = s.now()
	s.mu.Unlock()
	return ladder, nil
}

// GetLadder returns the catalog as a response DTO.
func (s *Service) GetLadder(ctx context.Context) (transport.LadderResponse, error) {
	ladder, err := s.Ladder(ctx)
	if err != nil {
		return transport.LadderResponse{}, err
	}

	resp := transport.LadderResponse{
		GlobalTotalTaskWeight: ladder.GlobalTotalTaskWeight(),
		Levels:                make([]transport.LevelResponse, 0),
	}
	for _, step := range ladder.Levels() {
		level := transport.LevelResponse{
			ID:     step.Level.ID,
			Index:  step.Level.Index,
			Label:  step.Level.Label,
			Badges: make([]transport.BadgeResponse, 0, len(step.Badges)),
		}
		for _, b := range step.Badges {
			badge := transport.BadgeResponse{ID: b.Badge.ID, Index: b.Badge.Index, Label: b.Badge.Label}
			if b.Task != nil {
				thresholds := b.Task.Thresholds
				badge.Thresholds = &thresholds
				badge.TotalTask = b.Task.TotalTask
			}
			level.Badges = append(level.Badges, badge)
		}
		resp.Levels = append(resp.Levels, level)
	}
	return resp, nil
}
