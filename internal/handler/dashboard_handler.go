package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/p4-jakarta/portal-api/internal/service"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
	"github.com/p4-jakarta/portal-api/pkg/response"
)

// DashboardHandler exposes the admin dashboard summary.
type DashboardHandler struct {
	service *service.DashboardService
	metrics *service.MetricsService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(svc *service.DashboardService, metrics *service.MetricsService) *DashboardHandler {
	return &DashboardHandler{service: svc, metrics: metrics}
}

// Summary godoc
// @Summary Admin dashboard summary
// @Description Participant counts, pending approvals, and quota occupancy
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	summary, err := h.service.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Metrics godoc
// @Summary Runtime metrics snapshot
// @Description Process-level metrics for the admin dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/metrics [get]
func (h *DashboardHandler) Metrics(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
