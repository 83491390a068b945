package api

import (
	"net/http"

	"whatsapp-provider/internal/metrics"
	"whatsapp-provider/internal/oauth"

	"github.com/gin-gonic/gin"
)

type MetricsHandler struct {
	Metrics *metrics.Service
}

func NewMetricsHandler(svc *metrics.Service) *MetricsHandler {
	return &MetricsHandler{Metrics: svc}
}

func (h *MetricsHandler) ReportUsage(c *gin.Context) {
	var in metrics.ReportInput
	if !bindJSON(c, &in) {
		return
	}
	info, err := h.Metrics.ReportUsage(c.Request.Context(), oauth.CustomerFrom(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"balance":      info.Balance,
		"quota_status": info.QuotaStatus,
		"alerts":       info.Alerts,
	})
}

func (h *MetricsHandler) Summary(c *gin.Context) {
	var q metrics.SummaryQuery
	_ = c.ShouldBindQuery(&q)

	summary, err := h.Metrics.UsageSummary(c.Request.Context(), oauth.CustomerFrom(c).ID, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *MetricsHandler) Billing(c *gin.Context) {
	info, err := h.Metrics.Billing(c.Request.Context(), oauth.CustomerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
