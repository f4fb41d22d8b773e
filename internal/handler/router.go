package handler

import (
	"github.com/SergeiKhy/click-analytics/internal/middleware"
	"github.com/SergeiKhy/click-analytics/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func NewRouter(
	analyticsService service.AnalyticsService,
	rateLimiter *middleware.RateLimiter,
	logger *zap.Logger,
) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics())

	// Служебные эндпоинты без лимита
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	analyticsHandler := NewAnalyticsHandler(analyticsService, logger)

	// API v.1
	v1 := router.Group("/api/v1")
	if rateLimiter != nil {
		v1.Use(rateLimiter.Middleware())
	}
	{
		v1.GET("/urls/:shortCode/analytics", analyticsHandler.GetURLAnalytics)
		v1.GET("/trending", analyticsHandler.GetTrending)
	}

	return router
}
