package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	catalogservice "achievement_engine/internal/catalog/service"
	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/apperr"
)

// User is the display and peer-group data a ranking entry needs.
type User struct {
	ID        uuid.UUID
	FullName  string
	Email     string
	CadreID   *uuid.UUID
	CadreName string
}

// RecordSource lists every progress record.
type RecordSource interface {
	Records() []domain.Record
}

// Memory ranks records from an in-memory progress store.
type Memory struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]User
	records RecordSource
	ladder  *catalogservice.Ladder
}

var _ Repository = (*Memory)(nil)

// NewMemory creates a ranking repository over records and ladder.
func NewMemory(records RecordSource, ladder *catalogservice.Ladder) *Memory {
	return &Memory{users: make(map[uuid.UUID]User), records: records, ladder: ladder}
}

// AddUser registers a user.
func (m *Memory) AddUser(u User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *Memory) PeerGroup(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return uuid.Nil, apperr.NotFound(userNotFoundMessage)
	}
	if u.CadreID == nil {
		return uuid.Nil, apperr.NotFound(noCadreMessage)
	}
	return *u.CadreID, nil
}

func (m *Memory) TopPeers(_ context.Context, cadreID uuid.UUID, limit int) ([]Entry, error) {
	peers := make([]Entry, 0)
	for _, e := range m.entries() {
		if e.CadreID != nil && *e.CadreID == cadreID {
			peers = append(peers, e)
		}
	}
	sort.SliceStable(peers, func(i, j int) bool {
		if peers[i].TaskCompleted != peers[j].TaskCompleted {
			return peers[i].TaskCompleted > peers[j].TaskCompleted
		}
		if !peers[i].UpdatedAt.Equal(peers[j].UpdatedAt) {
			return peers[i].UpdatedAt.Before(peers[j].UpdatedAt)
		}
		return peers[i].UserID.String() < peers[j].UserID.String()
	})
	if len(peers) > limit {
		peers = peers[:limit]
	}
	return peers, nil
}

func (m *Memory) List(_ context.Context, params ListParams) ([]Entry, int, error) {
	matches := make([]Entry, 0)
	for _, e := range m.entries() {
		if params.LevelID != nil && e.LevelID != *params.LevelID {
			continue
		}
		if params.BadgeID != nil && !sameID(e.BadgeID, params.BadgeID) {
			continue
		}
		if params.UserID != nil && e.UserID != *params.UserID {
			continue
		}
		at := e.UpdatedAt
		if params.DateField == DateCreatedAt {
			at = e.CreatedAt
		}
		if params.FromDate != nil && at.Before(*params.FromDate) {
			continue
		}
		if params.ToDate != nil && !at.Before(*params.ToDate) {
			continue
		}
		matches = append(matches, e)
	}

	less := entryLess(params.SortBy)
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if params.Desc {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return matches[i].UserID.String() < matches[j].UserID.String()
	})

	total := len(matches)
	if params.Limit > 0 {
		start := params.Offset
		if start > total {
			start = total
		}
		end := start + params.Limit
		if end > total {
			end = total
		}
		matches = matches[start:end]
	}
	return matches, total, nil
}

func (m *Memory) Progress(_ context.Context, userID uuid.UUID) (Entry, error) {
	for _, e := range m.entries() {
		if e.UserID == userID {
			return e, nil
		}
	}
	return Entry{}, apperr.NotFound("progress record not found")
}

func (m *Memory) PeerRanks(_ context.Context) ([]PeerRank, error) {
	entries := m.entries()
	ranks := make([]PeerRank, 0, len(entries))
	for _, e := range entries {
		if e.CadreID == nil {
			continue
		}
		rank := 1
		for _, other := range entries {
			if sameID(other.CadreID, e.CadreID) && other.TaskCompleted > e.TaskCompleted {
				rank++
			}
		}
		ranks = append(ranks, PeerRank{UserID: e.UserID, CadreID: e.CadreID, Rank: rank, TaskCompleted: e.TaskCompleted})
	}
	return ranks, nil
}

// entries joins records with users and catalog labels. Records without a
// registered user are skipped.
func (m *Memory) entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.records.Records()
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		u, ok := m.users[rec.UserID]
		if !ok {
			continue
		}
		e := Entry{
			UserID:        rec.UserID,
			FullName:      u.FullName,
			Email:         u.Email,
			CadreID:       u.CadreID,
			CadreName:     u.CadreName,
			LevelID:       rec.LevelID,
			BadgeID:       rec.BadgeID,
			Metrics:       rec.Metrics,
			TaskCompleted: rec.TaskCompleted,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		}
		if level, ok := m.ladder.Level(rec.LevelID); ok {
			e.LevelIndex = level.Index
			e.LevelLabel = level.Label
		}
		if rec.BadgeID != nil {
			if badge, ok := m.ladder.Badge(*rec.BadgeID); ok {
				e.BadgeIndex = badge.Index
				e.BadgeLabel = badge.Label
			}
		}
		out = append(out, e)
	}
	return out
}

func entryLess(field SortField) func(a, b Entry) bool {
	switch field {
	case SortUpdatedAt:
		return func(a, b Entry) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case SortCreatedAt:
		return func(a, b Entry) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case SortFullName:
		return func(a, b Entry) bool { return strings.Compare(a.FullName, b.FullName) < 0 }
	case SortLevel:
		return func(a, b Entry) bool { return a.LevelIndex < b.LevelIndex }
	case SortBadge:
		return func(a, b Entry) bool { return a.BadgeIndex < b.BadgeIndex }
	}
	if metric := domain.Metric(field); metric.Valid() {
		return func(a, b Entry) bool { return a.Metrics.Get(metric) < b.Metrics.Get(metric) }
	}
	return func(a, b Entry) bool { return a.TaskCompleted < b.TaskCompleted }
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
