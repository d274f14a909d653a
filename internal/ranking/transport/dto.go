package transport

import (
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

// ListRequest carries rank listing filters. Ids and dates are parsed by the
// service so malformed values surface as validation errors.
type ListRequest struct {
	LevelID   string `form:"levelId"`
	BadgeID   string `form:"badgeId"`
	UserID    string `form:"userId"`
	SortBy    string `form:"sortBy" validate:"omitempty,max=40"`
	SortOrder string `form:"sortOrder" validate:"omitempty,oneof=asc desc"`
	DateField string `form:"dateField" validate:"omitempty,oneof=updatedAt createdAt"`
	FromDate  string `form:"fromDate" validate:"omitempty,datetime=2006-01-02"`
	ToDate    string `form:"toDate" validate:"omitempty,datetime=2006-01-02"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	Limit     int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

// ExportRequest carries the listing filters without pagination.
type ExportRequest struct {
	LevelID   string `form:"levelId" json:"levelId"`
	BadgeID   string `form:"badgeId" json:"badgeId"`
	UserID    string `form:"userId" json:"userId"`
	SortBy    string `form:"sortBy" json:"sortBy" validate:"omitempty,max=40"`
	SortOrder string `form:"sortOrder" json:"sortOrder" validate:"omitempty,oneof=asc desc"`
	DateField string `form:"dateField" json:"dateField" validate:"omitempty,oneof=updatedAt createdAt"`
	FromDate  string `form:"fromDate" json:"fromDate" validate:"omitempty,datetime=2006-01-02"`
	ToDate    string `form:"toDate" json:"toDate" validate:"omitempty,datetime=2006-01-02"`
	Format    string `form:"format" json:"format" validate:"omitempty,oneof=csv xlsx"`
}

// List returns the same filters as a ListRequest.
func (r ExportRequest) List() ListRequest {
	return ListRequest{
		LevelID:   r.LevelID,
		BadgeID:   r.BadgeID,
		UserID:    r.UserID,
		SortBy:    r.SortBy,
		SortOrder: r.SortOrder,
		DateField: r.DateField,
		FromDate:  r.FromDate,
		ToDate:    r.ToDate,
	}
}

type RankEntry struct {
	Rank          int            `json:"rank,omitempty"`
	UserID        uuid.UUID      `json:"userId"`
	FullName      string         `json:"fullName"`
	Email         string         `json:"email,omitempty"`
	Cadre         string         `json:"cadre"`
	LevelID       uuid.UUID      `json:"levelId"`
	Level         string         `json:"level"`
	BadgeID       *uuid.UUID     `json:"badgeId"`
	Badge         string         `json:"badge"`
	TaskCompleted int            `json:"taskCompleted"`
	Metrics       domain.Metrics `json:"metrics"`
	Synthetic     bool           `json:"synthetic,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type ListResponse struct {
	Items      []RankEntry `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

type Top3Response struct {
	NoData  bool        `json:"noData"`
	Entries []RankEntry `json:"entries"`
}

type PercentCompleteResponse struct {
	NoData                bool `json:"noData"`
	Percent               int  `json:"percent"`
	TaskCompleted         int  `json:"taskCompleted"`
	GlobalTotalTaskWeight int  `json:"globalTotalTaskWeight"`
}

type MyProgressResponse struct {
	NoData   bool                    `json:"noData"`
	Entry    *RankEntry              `json:"entry,omitempty"`
	History  []domain.HistoryEntry   `json:"history,omitempty"`
	Complete PercentCompleteResponse `json:"complete"`
}

type StoredExportResponse struct {
	FileKey   string    `json:"fileKey"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Rows      int       `json:"rows"`
}
