package middleware

import (
	"strconv"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics считает запросы и их длительность по шаблону маршрута, а не по сырому пути
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
