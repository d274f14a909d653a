package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/apperr"
)

// Memory is an in-process store holding progress records, activity rows and
// assessment sources. It serves tests and single-node development runs.
type Memory struct {
	mu          sync.Mutex
	lowestLevel uuid.UUID
	now         func() time.Time
	records     map[uuid.UUID]*domain.Record
	activities  []domain.Activity
	responses   map[uuid.UUID][]float64
	legacy      map[uuid.UUID][]LegacyAttempt
}

var (
	_ Store            = (*Memory)(nil)
	_ ActivityReader   = (*Memory)(nil)
	_ AssessmentReader = (*Memory)(nil)
)

// NewMemory creates an empty store seeding new records with lowestLevel.
// A nil lowestLevel behaves like an empty level catalog.
func NewMemory(lowestLevel uuid.UUID) *Memory {
	return &Memory{
		lowestLevel: lowestLevel,
		now:         time.Now,
		records:     make(map[uuid.UUID]*domain.Record),
		responses:   make(map[uuid.UUID][]float64),
		legacy:      make(map[uuid.UUID][]LegacyAttempt),
	}
}

// SetClock overrides the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Put stores a record as-is, replacing any existing one for the user.
func (m *Memory) Put(rec domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.History == nil {
		rec.History = []domain.HistoryEntry{}
	}
	cp := cloneRecord(rec)
	m.records[rec.UserID] = &cp
}

// Records returns a copy of every stored record.
func (m *Memory) Records() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, cloneRecord(*rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AddActivity appends a raw activity row.
func (m *Memory) AddActivity(a domain.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.activities = append(m.activities, a)
}

// Activities returns a copy of the activity rows for a user.
func (m *Memory) Activities(userID uuid.UUID) []domain.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Activity, 0)
	for _, a := range m.activities {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// AddCalculatedResponse records one calculated assessment score.
func (m *Memory) AddCalculatedResponse(userID uuid.UUID, scorePercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[userID] = append(m.responses[userID], scorePercent)
}

// SetLegacyAttempts replaces the user's legacy document.
func (m *Memory) SetLegacyAttempts(userID uuid.UUID, attempts []LegacyAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[userID] = append([]LegacyAttempt(nil), attempts...)
}

func (m *Memory) Get(_ context.Context, userID uuid.UUID) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return domain.Record{}, apperr.NotFound(progressNotFoundMessage)
	}
	return cloneRecord(*rec), nil
}

func (m *Memory) IncrementMetric(_ context.Context, userID uuid.UUID, metric domain.Metric) (domain.Record, error) {
	if !metric.Valid() {
		return domain.Record{}, apperr.Validation(fmt.Sprintf("unknown metric %q", metric))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.getOrSeedLocked(userID)
	if err != nil {
		return domain.Record{}, err
	}
	rec.Metrics.Set(metric, rec.Metrics.Get(metric)+1)
	rec.UpdateSource = domain.UpdateSourceUpdater
	rec.UpdatedAt = m.now()
	return cloneRecord(*rec), nil
}

func (m *Memory) SetMetrics(_ context.Context, userID uuid.UUID, values map[domain.Metric]int) (domain.Record, error) {
	for metric := range values {
		if !metric.Valid() {
			return domain.Record{}, apperr.Validation(fmt.Sprintf("unknown metric %q", metric))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.getOrSeedLocked(userID)
	if err != nil {
		return domain.Record{}, err
	}
	changed := false
	for metric, v := range values {
		if rec.Metrics.Get(metric) != v {
			rec.Metrics.Set(metric, v)
			changed = true
		}
	}
	if changed {
		rec.UpdateSource = domain.UpdateSourceUpdater
		rec.UpdatedAt = m.now()
	}
	return cloneRecord(*rec), nil
}

func (m *Memory) Promote(_ context.Context, params PromoteParams) (domain.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[params.UserID]
	if !ok {
		return domain.Record{}, false, nil
	}
	if !sameBadge(rec.BadgeID, params.ExpectedBadgeID) || rec.TaskCompleted+params.Weight > params.MaxTotal {
		return domain.Record{}, false, nil
	}

	now := m.now()
	badgeID := params.NewBadgeID
	rec.LevelID = params.NewLevelID
	rec.BadgeID = &badgeID
	rec.TaskCompleted += params.Weight
	rec.History = append(rec.History, params.Entry)
	rec.UpdateSource = domain.UpdateSourceEvaluator
	rec.PromotedAt = &now
	rec.UpdatedAt = now
	return cloneRecord(*rec), true, nil
}

func (m *Memory) ListUpdatedSince(_ context.Context, since time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := make([]*domain.Record, 0)
	for _, rec := range m.records {
		if !rec.UpdatedAt.Before(since) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].UpdatedAt.Before(recs[j].UpdatedAt) })
	ids := make([]uuid.UUID, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.UserID)
	}
	return ids, nil
}

func (m *Memory) SubModuleUsage(_ context.Context, userID uuid.UUID, actions []string) ([]UsageGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct {
		subModule string
		total     int
	}
	sums := make(map[key]int)
	order := make([]key, 0)
	for _, a := range m.activities {
		if a.UserID != userID || !contains(actions, a.Action) || a.SubModule == nil || a.TotalTime == nil {
			continue
		}
		k := key{subModule: *a.SubModule, total: *a.TotalTime}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] += a.SecondsSpent()
	}

	groups := make([]UsageGroup, 0, len(order))
	for _, k := range order {
		groups = append(groups, UsageGroup{SubModule: k.subModule, TotalTime: k.total, Spent: sums[k]})
	}
	return groups, nil
}

func (m *Memory) AppUsageSeconds(_ context.Context, userID uuid.UUID, actions []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, a := range m.activities {
		if a.UserID == userID && contains(actions, a.Action) {
			total += a.SecondsSpent()
		}
	}
	return total, nil
}

func (m *Memory) CalculatedResponses(_ context.Context, userID uuid.UUID) (int, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, score := range m.responses[userID] {
		sum += score
	}
	return len(m.responses[userID]), sum, nil
}

func (m *Memory) LegacyAttempts(_ context.Context, userID uuid.UUID) ([]LegacyAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LegacyAttempt(nil), m.legacy[userID]...), nil
}

func (m *Memory) getOrSeedLocked(userID uuid.UUID) (*domain.Record, error) {
	if rec, ok := m.records[userID]; ok {
		return rec, nil
	}
	if m.lowestLevel == uuid.Nil {
		return nil, apperr.NotFound(noLevelsMessage)
	}
	now := m.now()
	rec := &domain.Record{
		ID:           uuid.New(),
		UserID:       userID,
		LevelID:      m.lowestLevel,
		History:      []domain.HistoryEntry{},
		UpdateSource: domain.UpdateSourceUpdater,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.records[userID] = rec
	return rec, nil
}

func cloneRecord(rec domain.Record) domain.Record {
	cp := rec
	if rec.BadgeID != nil {
		id := *rec.BadgeID
		cp.BadgeID = &id
	}
	if rec.PromotedAt != nil {
		at := *rec.PromotedAt
		cp.PromotedAt = &at
	}
	cp.History = append([]domain.HistoryEntry{}, rec.History...)
	return cp
}

func sameBadge(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}
