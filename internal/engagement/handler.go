package engagement

import (
	"github.com/gin-gonic/gin"

	"achievement_engine/platform/httpkit"
)

// Handler exposes the scheduled entry points for on-demand runs.
type Handler struct {
	svc *Service
}

// NewHandler creates a new engagement handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RunJob runs one scheduled entry point synchronously.
// POST /api/v1/admin/jobs/:job
func (h *Handler) RunJob(c *gin.Context) {
	result, err := h.svc.Run(c.Request.Context(), c.Param("job"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
