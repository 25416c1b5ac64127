package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// RouteLabelFunc names the route of a request for metric labels. It must
// return a bounded set of values.
type RouteLabelFunc func(c *gin.Context) string

// FullPathLabel labels by the matched gin route, or UnmatchedRoute.
func FullPathLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return observability.UnmatchedRoute
}

// Metrics returns a middleware that records request count, latency and
// in-flight requests.
func Metrics(m *observability.Metrics, label RouteLabelFunc) gin.HandlerFunc {
	if label == nil {
		label = FullPathLabel
	}

	return func(c *gin.Context) {
		start := time.Now()
		m.IncActive()
		defer m.DecActive()

		c.Next()

		m.RecordRequest(c.Request.Method, label(c), c.Writer.Status(), time.Since(start))
	}
}
