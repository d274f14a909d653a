package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// Entry is a progress record joined with user, cadre, level and badge display fields.
type Entry struct {
	UserID        uuid.UUID
	FullName      string
	Email         string
	CadreID       *uuid.UUID
	CadreName     string
	LevelID       uuid.UUID
	LevelIndex    int
	LevelLabel    string
	BadgeID       *uuid.UUID
	BadgeIndex    int
	BadgeLabel    string
	Metrics       domain.Metrics
	TaskCompleted int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SortField is a whitelisted listing sort key.
type SortField string

const (
	SortTaskCompleted SortField = "taskCompleted"
	SortUpdatedAt     SortField = "updatedAt"
	SortCreatedAt     SortField = "createdAt"
	SortFullName      SortField = "fullName"
	SortLevel         SortField = "level"
	SortBadge         SortField = "badge"
)

// DateField selects the timestamp the date range applies to.
type DateField string

const (
	DateUpdatedAt DateField = "updatedAt"
	DateCreatedAt DateField = "createdAt"
)

// ListParams filters and pages a listing. Limit 0 returns every match.
// ToDate is exclusive.
type ListParams struct {
	LevelID   *uuid.UUID
	BadgeID   *uuid.UUID
	UserID    *uuid.UUID
	SortBy    SortField
	Desc      bool
	DateField DateField
	FromDate  *time.Time
	ToDate    *time.Time
	Offset    int
	Limit     int
}

// PeerRank is a user's competition rank inside their cadre.
type PeerRank struct {
	UserID        uuid.UUID
	CadreID       *uuid.UUID
	Rank          int
	TaskCompleted int
}

// Repository aggregates progress for rankings.
type Repository interface {
	// PeerGroup returns the user's cadre. Unknown users and users without a
	// cadre are reported as not found.
	PeerGroup(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	// TopPeers returns the best entries of a cadre by taskCompleted.
	TopPeers(ctx context.Context, cadreID uuid.UUID, limit int) ([]Entry, error)
	List(ctx context.Context, params ListParams) ([]Entry, int, error)
	// Progress returns the enriched entry for one user.
	Progress(ctx context.Context, userID uuid.UUID) (Entry, error)
	PeerRanks(ctx context.Context) ([]PeerRank, error)
}

// ValidSortField reports whether s names a listing sort key, including metric names.
func ValidSortField(s string) bool {
	switch SortField(s) {
	case SortTaskCompleted, SortUpdatedAt, SortCreatedAt, SortFullName, SortLevel, SortBadge:
		return true
	}
	return domain.Metric(s).Valid()
}
