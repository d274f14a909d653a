package handler

import (
	"github.com/gin-gonic/gin"

	"achievement_engine/internal/catalog/service"
	"achievement_engine/platform/httpkit"
)

// Handler handles HTTP requests for the catalog read model.
type Handler struct {
	svc *service.Service
}

// New creates a new catalog handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// GetLadder returns levels, badges and thresholds.
// GET /api/v1/catalog/ladder
func (h *Handler) GetLadder(c *gin.Context) {
	result, err := h.svc.GetLadder(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
