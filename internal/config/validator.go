package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns every problem found
// as ValidationErrors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateSpec(&config.Spec)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateRoot(config *GatewayConfig) {
	if config.APIVersion == "" {
		v.addError("apiVersion", "apiVersion is required")
	} else if !strings.HasPrefix(config.APIVersion, APIVersionPrefix) {
		v.addError("apiVersion", "apiVersion must start with '"+APIVersionPrefix+"'")
	}

	if config.Kind != KindGateway {
		v.addError("kind", "kind must be 'Gateway'")
	}

	if config.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

func (v *Validator) validateSpec(spec *GatewaySpec) {
	v.validateServer(&spec.Server, "spec.server")
	v.validateRoutes(spec.Routes, "spec.routes")
	v.validateRegistry(&spec.Registry, "spec.registry")
	v.validateCircuitBreaker(&spec.CircuitBreaker, "spec.circuitBreaker")

	if spec.Proxy.Timeout.Duration() <= 0 {
		v.addError("spec.proxy.timeout", "timeout must be positive")
	}

	v.validateHealthCheck(&spec.HealthCheck, "spec.healthCheck")
	v.validateAggregator(&spec.Aggregator, "spec.aggregator")
	v.validateRateLimit(&spec.RateLimit, "spec.rateLimit")
	v.validateObservability(&spec.Observability, "spec.observability")
}

func (v *Validator) validateServer(s *ServerConfig, path string) {
	if s.Port < 1 || s.Port > 65535 {
		v.addError(path+".port", "port must be between 1 and 65535")
	}
}

func (v *Validator) validateRoutes(routes []RouteConfig, path string) {
	if len(routes) == 0 {
		v.addError(path, "at least one route is required")
		return
	}

	prefixes := make(map[string]bool, len(routes))
	for i := range routes {
		route := &routes[i]
		routePath := fmt.Sprintf("%s[%d]", path, i)

		if !strings.HasPrefix(route.PathPrefix, "/") {
			v.addError(routePath+".pathPrefix", "pathPrefix must start with '/'")
		} else if prefixes[route.PathPrefix] {
			v.addError(routePath+".pathPrefix", fmt.Sprintf("duplicate pathPrefix %q", route.PathPrefix))
		}
		prefixes[route.PathPrefix] = true

		if route.Service == "" {
			v.addError(routePath+".service", "service is required")
		}

		if route.StripPrefix != "" && !strings.HasPrefix(route.PathPrefix, route.StripPrefix) {
			v.addError(routePath+".stripPrefix", "stripPrefix must be a prefix of pathPrefix")
		}

		if route.ForwardBase != "" && !strings.HasPrefix(route.ForwardBase, "/") {
			v.addError(routePath+".forwardBase", "forwardBase must start with '/'")
		}
	}
}

func (v *Validator) validateRegistry(r *RegistryConfig, path string) {
	switch r.Type {
	case RegistryTypeMemory:
	case RegistryTypeFile:
		if r.File.Path == "" {
			v.addError(path+".file.path", "path is required for the file registry")
		}
	case RegistryTypeRedis:
		if r.Redis.Addr == "" {
			v.addError(path+".redis.addr", "addr is required for the redis registry")
		}
	case RegistryTypePostgres:
		if r.Postgres.DSN == "" {
			v.addError(path+".postgres.dsn", "dsn is required for the postgres registry")
		}
		if r.Postgres.MaxConns < 1 {
			v.addError(path+".postgres.maxConns", "maxConns must be positive")
		}
	default:
		v.addError(path+".type", fmt.Sprintf("unknown registry type %q", r.Type))
	}

	names := make(map[string]bool, len(r.Services))
	for i := range r.Services {
		svc := &r.Services[i]
		svcPath := fmt.Sprintf("%s.services[%d]", path, i)

		if svc.Name == "" {
			v.addError(svcPath+".name", "name is required")
		} else if names[svc.Name] {
			v.addError(svcPath+".name", fmt.Sprintf("duplicate service %q", svc.Name))
		}
		names[svc.Name] = true

		if u, err := url.Parse(svc.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError(svcPath+".baseUrl", "baseUrl must be an absolute URL")
		}
	}
}

func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig, path string) {
	if cb.FailureThreshold <= 0 {
		v.addError(path+".failureThreshold", "failureThreshold must be positive")
	}
	if cb.Cooldown.Duration() <= 0 {
		v.addError(path+".cooldown", "cooldown must be positive")
	}
}

func (v *Validator) validateHealthCheck(hc *HealthCheckConfig, path string) {
	if !hc.IsEnabled() {
		return
	}
	if hc.Interval.Duration() <= 0 {
		v.addError(path+".interval", "interval must be positive")
	}
	if hc.Timeout.Duration() <= 0 {
		v.addError(path+".timeout", "timeout must be positive")
	}
	if hc.InitialDelay.Duration() < 0 {
		v.addError(path+".initialDelay", "initialDelay must not be negative")
	}
	if !strings.HasPrefix(hc.Path, "/") {
		v.addError(path+".path", "path must start with '/'")
	}
}

func (v *Validator) validateAggregator(a *AggregatorConfig, path string) {
	checks := []struct {
		field string
		value int
	}{
		{"dashboardPageSize", a.DashboardPageSize},
		{"sampleSize", a.SampleSize},
		{"searchListPageSize", a.SearchListPageSize},
		{"recentLists", a.RecentLists},
		{"catalogLimit", a.CatalogLimit},
		{"listLimit", a.ListLimit},
	}
	for _, c := range checks {
		if c.value <= 0 {
			v.addError(path+"."+c.field, c.field+" must be positive")
		}
	}
}

func (v *Validator) validateRateLimit(rl *RateLimitConfig, path string) {
	if !rl.Enabled {
		return
	}
	if rl.RequestsPerSecond <= 0 {
		v.addError(path+".requestsPerSecond", "requestsPerSecond must be positive")
	}
	if rl.Burst <= 0 {
		v.addError(path+".burst", "burst must be positive")
	}
}

func (v *Validator) validateObservability(obs *ObservabilityConfig, path string) {
	switch obs.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError(path+".logging.level", fmt.Sprintf("invalid log level %q", obs.Logging.Level))
	}

	switch obs.Logging.Format {
	case "json", "console":
	default:
		v.addError(path+".logging.format", fmt.Sprintf("invalid log format %q", obs.Logging.Format))
	}

	if obs.Metrics.Enabled && (obs.Metrics.Port < 1 || obs.Metrics.Port > 65535) {
		v.addError(path+".metrics.port", "port must be between 1 and 65535")
	}

	if obs.Tracing.SamplingRate < 0 || obs.Tracing.SamplingRate > 1 {
		v.addError(path+".tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
