package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/middleware"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
	"github.com/vyrodovalexey/aggregw/internal/registry"
)

// registrySource names the registry in error envelopes.
const registrySource = "service-registry"

// RegistryResponse is the /registry body.
type RegistryResponse struct {
	Success  bool                              `json:"success"`
	Services map[string]registry.ServiceRecord `json:"services"`
	Count    int                               `json:"count"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Health.Report(c.Request.Context()))
}

func (s *Server) handleRegistry(c *gin.Context) {
	services, err := s.deps.Registry.List(c.Request.Context())
	if err != nil {
		s.logger.Warn("registry list failed",
			zap.String("requestID", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		s.abort(c, proxy.NewServiceUnavailableError(registrySource, "registry", err))
		return
	}
	c.JSON(http.StatusOK, RegistryResponse{
		Success:  true,
		Services: services,
		Count:    len(services),
	})
}

func (s *Server) handleDashboard(c *gin.Context) {
	id, gerr := s.caller(c)
	if gerr != nil {
		s.abort(c, gerr)
		return
	}

	resp, err := s.deps.Aggregator.Dashboard(c.Request.Context(), id)
	if err != nil {
		s.abort(c, proxy.AsGatewayError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c *gin.Context) {
	id, _ := identity.FromContext(c.Request.Context())

	resp, err := s.deps.Aggregator.Search(c.Request.Context(), c.Query("q"), id)
	if err != nil {
		s.abort(c, proxy.AsGatewayError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProxy(c *gin.Context) {
	s.deps.Forwarder.ServeHTTP(c.Writer, c.Request)
}

// caller returns the request identity. A presented but unusable token is
// reported distinctly from a missing one.
func (s *Server) caller(c *gin.Context) (*identity.Identity, *proxy.GatewayError) {
	if id, ok := identity.FromContext(c.Request.Context()); ok {
		return id, nil
	}
	if err := middleware.GetIdentityError(c); err != nil {
		ge := proxy.NewUnauthorizedError("invalid bearer token")
		ge.Cause = err
		return nil, ge
	}
	return nil, nil
}

func (s *Server) abort(c *gin.Context, e *proxy.GatewayError) {
	if e.Cause != nil {
		_ = c.Error(e.Cause)
	}
	proxy.WriteError(c.Writer, e, s.deps.Name)
	c.Abort()
}
