package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/p4-jakarta/portal-api/internal/models"
	"github.com/p4-jakarta/portal-api/internal/service"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
	"github.com/p4-jakarta/portal-api/pkg/response"
)

// QuotaHandler exposes quota management and public availability endpoints.
type QuotaHandler struct {
	service *service.QuotaService
	exports *service.ExportService
}

// NewQuotaHandler creates a new quota handler.
func NewQuotaHandler(svc *service.QuotaService, exports *service.ExportService) *QuotaHandler {
	return &QuotaHandler{service: svc, exports: exports}
}

// ActiveInfo godoc
// @Summary Current quota availability
// @Description Public seat availability for the active training offering
// @Tags Quotas
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quotas/active [get]
func (h *QuotaHandler) ActiveInfo(c *gin.Context) {
	info, err := h.service.ActiveInfo(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// Info godoc
// @Summary Quota availability
// @Description Public seat availability for one quota
// @Tags Quotas
// @Produce json
// @Param id path string true "Quota ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quotas/{id}/info [get]
func (h *QuotaHandler) Info(c *gin.Context) {
	info, err := h.service.Info(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil)
}

// Open godoc
// @Summary Open quotas
// @Description Open quotas the caller can register for; anonymous callers see all audiences
// @Tags Quotas
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /quotas/open [get]
func (h *QuotaHandler) Open(c *gin.Context) {
	var role models.UserRole
	if claims := claimsFromContext(c); claims != nil {
		role = claims.Role
	}

	infos, err := h.service.ListOpenForRole(c.Request.Context(), role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, infos, nil)
}

// List godoc
// @Summary List quotas
// @Description List quotas with pagination and filtering
// @Tags Quotas
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param audience query string false "Audience filter"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /quotas [get]
func (h *QuotaHandler) List(c *gin.Context) {
	var filter models.QuotaFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.Status = models.QuotaStatus(c.Query("status"))
	filter.Audience = models.AudienceTarget(c.Query("audience"))
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	quotas, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotas, pagination)
}

// Get godoc
// @Summary Get quota
// @Description Full quota record including seat counters
// @Tags Quotas
// @Produce json
// @Param id path string true "Quota ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quotas/{id} [get]
func (h *QuotaHandler) Get(c *gin.Context) {
	quota, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

// Create godoc
// @Summary Create quota
// @Description Open a new training quota
// @Tags Quotas
// @Accept json
// @Produce json
// @Param payload body service.CreateQuotaRequest true "Quota payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotas [post]
func (h *QuotaHandler) Create(c *gin.Context) {
	var req service.CreateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid quota payload"))
		return
	}

	quota, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, quota)
}

// Update godoc
// @Summary Update quota
// @Description Partially update a quota; capacity cannot drop below seats taken
// @Tags Quotas
// @Accept json
// @Produce json
// @Param id path string true "Quota ID"
// @Param payload body service.UpdateQuotaRequest true "Quota payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotas/{id} [patch]
func (h *QuotaHandler) Update(c *gin.Context) {
	var req service.UpdateQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid quota payload"))
		return
	}

	quota, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

// ToggleStatus godoc
// @Summary Toggle quota status
// @Description Cycle the quota between open and closed states
// @Tags Quotas
// @Produce json
// @Param id path string true "Quota ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quotas/{id}/toggle [post]
func (h *QuotaHandler) ToggleStatus(c *gin.Context) {
	quota, err := h.service.ToggleStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quota, nil)
}

// Delete godoc
// @Summary Delete quota
// @Description Remove a quota that has no active registrations
// @Tags Quotas
// @Produce json
// @Param id path string true "Quota ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /quotas/{id} [delete]
func (h *QuotaHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Occupancy godoc
// @Summary Quota occupancy
// @Description Seat usage for all quotas
// @Tags Quotas
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /quotas/occupancy [get]
func (h *QuotaHandler) Occupancy(c *gin.Context) {
	rows, err := h.service.Occupancy(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Roster godoc
// @Summary Export roster
// @Description Download the registration roster for a quota as CSV or PDF
// @Tags Quotas
// @Produce application/octet-stream
// @Param id path string true "Quota ID"
// @Param format query string false "Export format (csv or pdf)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quotas/{id}/roster [get]
func (h *QuotaHandler) Roster(c *gin.Context) {
	format := service.RosterFormat(c.DefaultQuery("format", string(service.RosterFormatCSV)))

	result, err := h.exports.Roster(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.FileName))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
