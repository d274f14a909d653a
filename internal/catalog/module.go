// Package catalog provides the task catalog read model module.
package catalog

import (
	"achievement_engine/internal/catalog/handler"
	"achievement_engine/internal/catalog/repository"
	"achievement_engine/internal/catalog/service"
	apphttp "achievement_engine/internal/http"
	"achievement_engine/platform/logger"
)

// Module is the catalog module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the catalog module.
func NewModule(reader repository.Reader, log *logger.Logger) *Module {
	svc := service.New(reader, 0, log)
	return &Module{
		handler: handler.New(svc),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "catalog"
}

// Service returns the service layer for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts catalog routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/catalog/ladder", m.handler.GetLadder)
}
