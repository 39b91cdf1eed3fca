package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vehicle-valuation/valuation-backend/internal/telemetry"
)

// noRouteLabel replaces the path label for 404/405 responses.
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for every
// request. The path label is the matched route template, so report IDs and VINs in URLs never
// become label values. Requests for skipPaths (probe endpoints) are not recorded.
//
// Register after gin.Recovery() and RequestIDMiddleware so the final status is observed.
func MetricsMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		if _, ok := skip[path]; ok {
			return
		}

		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
