package handler

import (
	"net/http"

	"github.com/SergeiKhy/click-analytics/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "analytics-service"

type AnalyticsHandler struct {
	service service.AnalyticsService
	logger  *zap.Logger
}

func NewAnalyticsHandler(service service.AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsHandler{
		service: service,
		logger:  logger,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// GetURLAnalytics godoc
// @Summary Click analytics for a short code
// @Description Total clicks, clicks by country and by day, and the 10 most recent clicks
// @Tags analytics
// @Produce json
// @Param shortCode path string true "Short code"
// @Success 200 {object} models.URLAnalytics
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/urls/{shortCode}/analytics [get]
func (h *AnalyticsHandler) GetURLAnalytics(c *gin.Context) {
	shortCode := c.Param("shortCode")

	analytics, err := h.service.GetURLAnalytics(c.Request.Context(), shortCode)
	if err != nil {
		h.logger.Error("Failed to get URL analytics", zap.String("short_code", shortCode), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get analytics",
		})
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// GetTrending godoc
// @Summary Trending short codes
// @Description Short codes ranked by total clicks, paginated and enriched with the long URL
// @Tags analytics
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size, clamped to 1..100" default(20)
// @Success 200 {object} models.TrendingPage
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/trending [get]
func (h *AnalyticsHandler) GetTrending(c *gin.Context) {
	page, pageSize, err := service.ParsePagination(c.Query("page"), c.Query("pageSize"))
	if err != nil {
		h.logger.Warn("Invalid pagination parameters", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	trending, err := h.service.GetTrending(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("Failed to get trending", zap.Int("page", page), zap.Int("page_size", pageSize), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to get trending",
		})
		return
	}

	c.JSON(http.StatusOK, trending)
}

// HealthCheck godoc
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: serviceName})
}
