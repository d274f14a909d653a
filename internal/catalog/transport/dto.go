package transport

import (
	"github.com/google/uuid"

	"achievement_engine/internal/progress/domain"
)

type BadgeResponse struct {
	ID         uuid.UUID       `json:"id"`
	Index      int             `json:"index"`
	Label      string          `json:"label"`
	Thresholds *domain.Metrics `json:"thresholds,omitempty"`
	TotalTask  int             `json:"totalTask"`
}

type LevelResponse struct {
	ID     uuid.UUID       `json:"id"`
	Index  int             `json:"index"`
	Label  string          `json:"label"`
	Badges []BadgeResponse `json:"badges"`
}

type LadderResponse struct {
	Levels                []LevelResponse `json:"levels"`
	GlobalTotalTaskWeight int             `json:"globalTotalTaskWeight"`
}
