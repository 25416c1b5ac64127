package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// AccessLog writes one "request completed" entry per request. Paths listed
// in skip are served without an entry. Server errors log at error level,
// client errors at warn.
func AccessLog(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skipped[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}
		if ce := logger.Check(level, "request completed"); ce != nil {
			ce.Write(accessFields(c, path, status, time.Since(start))...)
		}
	}
}

func accessFields(c *gin.Context, path string, status int, latency time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("requestID", GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", path),
		zap.String("query", c.Request.URL.RawQuery),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("clientIP", c.ClientIP()),
		zap.Int("bytes", c.Writer.Size()),
	}

	ctx := c.Request.Context()
	if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("traceID", traceID))
	}
	if id, ok := identity.FromContext(ctx); ok {
		fields = append(fields, zap.String("subject", id.Subject))
	}
	if len(c.Errors) > 0 {
		fields = append(fields, zap.String("errors", c.Errors.String()))
	}
	return fields
}
