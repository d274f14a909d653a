package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InactiveUser is a user whose latest activity is older than the cutoff.
type InactiveUser struct {
	UserID         uuid.UUID
	LastActivityAt time.Time
}

// Snapshot is a stored peer-group rank.
type Snapshot struct {
	UserID        uuid.UUID
	CadreID       *uuid.UUID
	Rank          int
	TaskCompleted int
	TakenAt       time.Time
}

// Repository persists the state the scheduled jobs compare against.
type Repository interface {
	// InactiveUsers lists users with progress whose last activity is before
	// cutoff and who were not yet reminded about that activity.
	InactiveUsers(ctx context.Context, cutoff time.Time) ([]InactiveUser, error)
	// MarkReminded records that the user was reminded about lastActivityAt.
	MarkReminded(ctx context.Context, userID uuid.UUID, lastActivityAt time.Time) error
	// ProgressUserIDs lists every user with a progress record.
	ProgressUserIDs(ctx context.Context) ([]uuid.UUID, error)
	// Snapshots returns the latest rank snapshot keyed by user.
	Snapshots(ctx context.Context) (map[uuid.UUID]Snapshot, error)
	// ReplaceSnapshots swaps the stored snapshot for a new one.
	ReplaceSnapshots(ctx context.Context, snapshots []Snapshot) error
}
