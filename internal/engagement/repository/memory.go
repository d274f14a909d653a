package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// ProgressSource exposes the records and activity rows of an in-memory store.
type ProgressSource interface {
	Records() []domain.Record
	Activities(userID uuid.UUID) []domain.Activity
}

// Memory implements Repository over an in-memory progress store.
type Memory struct {
	mu        sync.Mutex
	source    ProgressSource
	reminded  map[uuid.UUID]time.Time
	snapshots map[uuid.UUID]Snapshot
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an engagement repository reading from source.
func NewMemory(source ProgressSource) *Memory {
	return &Memory{
		source:    source,
		reminded:  make(map[uuid.UUID]time.Time),
		snapshots: make(map[uuid.UUID]Snapshot),
	}
}

func (m *Memory) InactiveUsers(_ context.Context, cutoff time.Time) ([]InactiveUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]InactiveUser, 0)
	for _, rec := range m.source.Records() {
		var last time.Time
		for _, a := range m.source.Activities(rec.UserID) {
			if a.CreatedAt.After(last) {
				last = a.CreatedAt
			}
		}
		if last.IsZero() || !last.Before(cutoff) {
			continue
		}
		if at, ok := m.reminded[rec.UserID]; ok && !at.Before(last) {
			continue
		}
		users = append(users, InactiveUser{UserID: rec.UserID, LastActivityAt: last})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].LastActivityAt.Before(users[j].LastActivityAt) })
	return users, nil
}

func (m *Memory) MarkReminded(_ context.Context, userID uuid.UUID, lastActivityAt time.Time) error {
	m.mu.Lock()
	m.reminded[userID] = lastActivityAt
	m.mu.Unlock()
	return nil
}

func (m *Memory) ProgressUserIDs(_ context.Context) ([]uuid.UUID, error) {
	records := m.source.Records()
	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.UserID)
	}
	return ids, nil
}

func (m *Memory) Snapshots(_ context.Context) (map[uuid.UUID]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]Snapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) ReplaceSnapshots(_ context.Context, snapshots []Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[uuid.UUID]Snapshot, len(snapshots))
	for _, s := range snapshots {
		m.snapshots[s.UserID] = s
	}
	return nil
}
