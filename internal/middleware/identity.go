package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/aggregw/internal/identity"
)

// IdentityErrorKey holds the identity resolution error, if any.
const IdentityErrorKey = "identityError"

// Identity resolves the bearer identity, when present, into the request
// context. Requests without a usable token continue anonymously; handlers
// that require an identity reject them.
func Identity(resolver *identity.Resolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		id, err := resolver.FromRequest(c.Request)
		switch {
		case err == nil:
			c.Request = c.Request.WithContext(identity.WithIdentity(c.Request.Context(), id))
		case !errors.Is(err, identity.ErrNoCredentials):
			c.Set(IdentityErrorKey, err)
			logger.Debug("bearer token rejected",
				zap.String("requestID", GetRequestID(c)),
				zap.Error(err),
			)
		}
		c.Next()
	}
}

// GetIdentityError returns the identity resolution error, if any.
func GetIdentityError(c *gin.Context) error {
	if v, ok := c.Get(IdentityErrorKey); ok {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}
