package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"achievement_engine/internal/ranking/service"
	"achievement_engine/internal/ranking/transport"
	"achievement_engine/platform/httpkit"
	"achievement_engine/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for rankings and progress reads.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new ranking handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// GetMyProgress returns the caller's progress, history and completion.
// GET /api/v1/progress/me
func (h *Handler) GetMyProgress(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.MyProgress(c.Request.Context(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetTop3 returns the caller's cadre podium.
// GET /api/v1/progress/me/top3
func (h *Handler) GetTop3(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.Top3(c.Request.Context(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetPercentComplete returns the caller's completion percentage.
// GET /api/v1/progress/me/complete
func (h *Handler) GetPercentComplete(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	result, err := h.svc.PercentComplete(c.Request.Context(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListProgress returns a filtered, sorted page of progress records.
// GET /api/v1/admin/progress
func (h *Handler) ListProgress(c *gin.Context) {
	var req transport.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.RankedList(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// DownloadExport streams the filtered records as CSV or XLSX.
// GET /api/v1/admin/progress/export
func (h *Handler) DownloadExport(c *gin.Context) {
	var req transport.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rows, err := h.svc.ExportRows(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	contentType, ext := service.ContentType(req.Format)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"progress.%s\"", ext))
	c.Status(http.StatusOK)
	if err := service.WriteExport(c.Writer, req.Format, rows); err != nil {
		_ = c.Error(err)
	}
}

// StoreExport renders the export into object storage and returns a link.
// POST /api/v1/admin/progress/export
func (h *Handler) StoreExport(c *gin.Context) {
	var req transport.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.StoreExport(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}
