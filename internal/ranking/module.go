// Package ranking provides peer rankings, admin listings and exports.
package ranking

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/adapters/storage"
	apphttp "achievement_engine/internal/http"
	"achievement_engine/internal/ranking/handler"
	"achievement_engine/internal/ranking/repository"
	"achievement_engine/internal/ranking/service"
	"achievement_engine/platform/httpkit"
	"achievement_engine/platform/logger"
	"achievement_engine/platform/validator"
)

// Module is the ranking module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	exports *httpkit.IPRateLimiter
}

// NewModule creates the ranking module backed by Postgres.
func NewModule(pool *pgxpool.Pool, progress service.ProgressReader, catalog service.LadderSource, objects storage.ObjectStore, bucket string, val *validator.Validator, log *logger.Logger) *Module {
	return NewModuleWithRepository(repository.New(pool), progress, catalog, objects, bucket, val, log)
}

// NewModuleWithRepository creates the ranking module on any repository.
func NewModuleWithRepository(repo repository.Repository, progress service.ProgressReader, catalog service.LadderSource, objects storage.ObjectStore, bucket string, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repo, progress, catalog, objects, bucket, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		exports: httpkit.NewExportRateLimiter(log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "ranking"
}

// Service returns the service layer for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts ranking routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	me := ctx.Protected.Group("/progress/me")
	me.GET("", m.handler.GetMyProgress)
	me.GET("/top3", m.handler.GetTop3)
	me.GET("/complete", m.handler.GetPercentComplete)

	admin := ctx.Admin.Group("/progress")
	admin.GET("", m.handler.ListProgress)
	admin.GET("/export", m.exports.RateLimit(), m.handler.DownloadExport)
	admin.POST("/export", m.exports.RateLimit(), m.handler.StoreExport)
}
