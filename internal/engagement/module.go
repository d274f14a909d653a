package engagement

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/achievement"
	"achievement_engine/internal/engagement/repository"
	apphttp "achievement_engine/internal/http"
	"achievement_engine/internal/notification"
	"achievement_engine/platform/config"
	"achievement_engine/platform/logger"
)

// Module is the engagement module implementing http.Module.
type Module struct {
	service *Service
	handler *Handler
}

// NewModule creates the engagement module backed by Postgres.
func NewModule(pool *pgxpool.Pool, sweeper Sweeper, ranks RankSource, progress ProgressReader, catalog achievement.LadderSource, dispatcher notification.Dispatcher, cfg config.EngagementConfig, log *logger.Logger) *Module {
	svc := New(repository.New(pool), sweeper, ranks, progress, catalog, dispatcher, Settings{
		SweepLookback:  cfg.GetSweepLookback(),
		InactivityDays: cfg.GetInactivityDays(),
		DeepLink:       cfg.GetNotificationDeepLinkBase(),
	}, log)
	return &Module{service: svc, handler: NewHandler(svc)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "engagement"
}

// Service returns the service layer for the scheduler.
func (m *Module) Service() *Service {
	return m.service
}

// RegisterRoutes mounts the on-demand job trigger.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Admin.POST("/jobs/:job", m.handler.RunJob)
}
