package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/internal/metrics"
)

// Logger middleware logs request details and records request metrics.
func Logger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.LogHTTPRequest(c.Request.Method, path, c.ClientIP(), status, latency)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())
	}
}
