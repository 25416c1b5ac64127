// Package gateway assembles the inbound HTTP surface: the middleware
// chain, the gateway's own endpoints and the catch-all proxy.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/aggregw/internal/aggregator"
	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/health"
	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/middleware"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
	"github.com/vyrodovalexey/aggregw/internal/registry"
	"github.com/vyrodovalexey/aggregw/internal/router"
)

// MaxRequestBodySize limits inbound request bodies.
const MaxRequestBodySize = 10 << 20

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Deps are the components the server routes requests to.
type Deps struct {
	Name    string
	Version string

	Routes     *router.Table
	Forwarder  *proxy.Forwarder
	Aggregator *aggregator.Aggregator
	Health     *health.Checker
	Registry   registry.Registry
	Resolver   *identity.Resolver

	// Optional.
	RateLimiter *middleware.RateLimiter
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Logger      *zap.Logger
}

func (d *Deps) validate() error {
	var missing []string
	if d.Routes == nil {
		missing = append(missing, "routes")
	}
	if d.Forwarder == nil {
		missing = append(missing, "forwarder")
	}
	if d.Aggregator == nil {
		missing = append(missing, "aggregator")
	}
	if d.Health == nil {
		missing = append(missing, "health checker")
	}
	if d.Registry == nil {
		missing = append(missing, "registry")
	}
	if d.Resolver == nil {
		missing = append(missing, "identity resolver")
	}
	if len(missing) > 0 {
		return fmt.Errorf("gateway server: missing %v", missing)
	}
	return nil
}

// Server represents the HTTP server for the gateway.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	deps       Deps
	logger     *zap.Logger
	config     config.ServerConfig
	mu         sync.RWMutex
	running    bool
	served     chan struct{}
}

// NewServer creates the server and installs its middleware and routes.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Name == "" {
		deps.Name = deps.Forwarder.Name()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine: gin.New(),
		deps:   deps,
		logger: deps.Logger,
		config: cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	d := s.deps

	s.engine.Use(
		middleware.Recovery(s.logger, d.Name),
		s.maxRequestBodySize(),
		middleware.RequestID(),
	)
	if d.Tracer != nil {
		s.engine.Use(middleware.Tracing(d.Tracer, "/health"))
	}
	if d.Metrics != nil {
		s.engine.Use(middleware.Metrics(d.Metrics, s.routeLabel))
	}
	s.engine.Use(
		middleware.AccessLog(s.logger, "/health"),
		middleware.RateLimit(d.RateLimiter, d.Name, d.Metrics, s.logger, "/health"),
		middleware.Identity(d.Resolver, s.logger),
	)
}

func (s *Server) maxRequestBodySize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		}
		c.Next()
	}
}

// routeLabel names proxied traffic by its route prefix so the label set
// stays bounded.
func (s *Server) routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	if rule, err := s.deps.Routes.Match(c.Request.URL.Path); err == nil {
		return rule.PathPrefix
	}
	return observability.UnmatchedRoute
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/registry", s.handleRegistry)
	s.engine.GET("/api/dashboard", s.handleDashboard)
	s.engine.GET("/api/search", s.handleSearch)
	s.engine.NoRoute(s.handleProxy)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout.Duration(),
		IdleTimeout:       s.config.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}
	s.served = make(chan struct{})
	s.running = true

	s.logger.Info("starting HTTP server",
		zap.String("address", ln.Addr().String()),
		zap.Duration("readTimeout", s.config.ReadTimeout.Duration()),
		zap.Duration("writeTimeout", s.config.WriteTimeout.Duration()),
	)

	go func(srv *http.Server, done chan<- struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}(s.httpServer, s.served)

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer == nil {
		s.mu.Unlock()
		return nil
	}
	srv, served := s.httpServer, s.served
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	<-served

	s.mu.Lock()
	s.running = false
	s.httpServer = nil
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
