package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/aggregw/internal/proxy"
)

// Recovery converts a handler panic into an INTERNAL_ERROR envelope
// attributed to gateway. http.ErrAbortHandler is re-raised so net/http
// aborts the response as intended.
func Recovery(logger *zap.Logger, gateway string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(p)
			}

			logger.Error("panic recovered",
				zap.Any("panic", p),
				zap.String("requestID", GetRequestID(c)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.ByteString("stack", debug.Stack()),
			)

			c.Abort()
			if !c.Writer.Written() {
				proxy.WriteError(c.Writer, proxy.NewInternalError(fmt.Errorf("panic: %v", p)), gateway)
			}
		}()

		c.Next()
	}
}
