package config

import "time"

// API version and kind accepted by the loader.
const (
	APIVersionPrefix  = "gateway.aggregw.io/"
	DefaultAPIVersion = APIVersionPrefix + "v1"
	KindGateway       = "Gateway"
)

// Registry store types.
const (
	RegistryTypeMemory   = "memory"
	RegistryTypeFile     = "file"
	RegistryTypeRedis    = "redis"
	RegistryTypePostgres = "postgres"
)

// Default values applied by ApplyDefaults.
const (
	DefaultPort            = 3000
	DefaultMetricsPort     = 9090
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
	DefaultProxyTimeout     = 10 * time.Second

	DefaultHealthInitialDelay = 5 * time.Second
	DefaultHealthInterval     = 30 * time.Second
	DefaultHealthTimeout      = 5 * time.Second
	DefaultHealthPath         = "/health"

	DefaultDashboardPageSize  = 50
	DefaultSampleSize         = 10
	DefaultSearchListPageSize = 100
	DefaultRecentLists        = 5
	DefaultCatalogLimit       = 20
	DefaultListLimit          = 10

	DefaultIdentityClaim = "sub"

	DefaultRedisKeyPrefix  = "aggregw:"
	DefaultPostgresTable   = "service_registry"
	DefaultPostgresMaxConn = 4
	DefaultGuardFailures   = 5
	DefaultGuardTimeout    = 10 * time.Second
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds every tunable section of the gateway.
type GatewaySpec struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	Routes         []RouteConfig        `yaml:"routes" json:"routes"`
	Registry       RegistryConfig       `yaml:"registry" json:"registry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Proxy          ProxyConfig          `yaml:"proxy" json:"proxy"`
	HealthCheck    HealthCheckConfig    `yaml:"healthCheck" json:"healthCheck"`
	Aggregator     AggregatorConfig     `yaml:"aggregator" json:"aggregator"`
	Auth           AuthConfig           `yaml:"auth" json:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit" json:"rateLimit"`
	Observability  ObservabilityConfig  `yaml:"observability" json:"observability"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host,omitempty" json:"host,omitempty"`
	Port            int      `yaml:"port" json:"port"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// RouteConfig maps a public path prefix onto a registered service.
// An empty StripPrefix means "strip PathPrefix".
type RouteConfig struct {
	PathPrefix  string `yaml:"pathPrefix" json:"pathPrefix"`
	Service     string `yaml:"service" json:"service"`
	StripPrefix string `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	ForwardBase string `yaml:"forwardBase,omitempty" json:"forwardBase,omitempty"`
}

// RegistryConfig selects and configures the service registry store.
type RegistryConfig struct {
	Type     string                `yaml:"type" json:"type"`
	File     FileStoreConfig       `yaml:"file,omitempty" json:"file,omitempty"`
	Redis    RedisStoreConfig      `yaml:"redis,omitempty" json:"redis,omitempty"`
	Postgres PostgresStoreConfig   `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	Guard    StoreGuardConfig      `yaml:"guard,omitempty" json:"guard,omitempty"`
	Services []StaticServiceConfig `yaml:"services,omitempty" json:"services,omitempty"`
}

// FileStoreConfig configures the shared JSON file store.
type FileStoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RedisStoreConfig configures the redis store.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password,omitempty" json:"-"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
}

// PostgresStoreConfig configures the postgres store.
type PostgresStoreConfig struct {
	DSN      string `yaml:"dsn" json:"-"`
	Table    string `yaml:"table,omitempty" json:"table,omitempty"`
	MaxConns int32  `yaml:"maxConns,omitempty" json:"maxConns,omitempty"`
}

// StoreGuardConfig configures the breaker placed in front of a remote store.
type StoreGuardConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	MaxFailures uint32   `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty"`
	OpenTimeout Duration `yaml:"openTimeout,omitempty" json:"openTimeout,omitempty"`
}

// StaticServiceConfig is a service record registered at startup.
type StaticServiceConfig struct {
	Name      string   `yaml:"name" json:"name"`
	BaseURL   string   `yaml:"baseUrl" json:"baseUrl"`
	Version   string   `yaml:"version,omitempty" json:"version,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
}

// CircuitBreakerConfig configures the per-service breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
	Cooldown         Duration `yaml:"cooldown" json:"cooldown"`
}

// ProxyConfig configures outbound forwarding.
type ProxyConfig struct {
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// HealthCheckConfig configures the background health poller.
type HealthCheckConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	InitialDelay Duration `yaml:"initialDelay" json:"initialDelay"`
	Interval     Duration `yaml:"interval" json:"interval"`
	Timeout      Duration `yaml:"timeout" json:"timeout"`
	Path         string   `yaml:"path" json:"path"`
}

// IsEnabled reports whether the poller should run. Unset means enabled.
func (h HealthCheckConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// AggregatorConfig bounds the fan-out endpoints.
type AggregatorConfig struct {
	DashboardPageSize  int `yaml:"dashboardPageSize" json:"dashboardPageSize"`
	SampleSize         int `yaml:"sampleSize" json:"sampleSize"`
	SearchListPageSize int `yaml:"searchListPageSize" json:"searchListPageSize"`
	RecentLists        int `yaml:"recentLists" json:"recentLists"`
	CatalogLimit       int `yaml:"catalogLimit" json:"catalogLimit"`
	ListLimit          int `yaml:"listLimit" json:"listLimit"`
}

// AuthConfig configures bearer identity extraction. Without a secret the
// token claims are read but not verified; the issuing service stays the
// authority for the downstream calls.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret,omitempty" json:"-"`
	IdentityClaim string `yaml:"identityClaim,omitempty" json:"identityClaim,omitempty"`
}

// RateLimitConfig configures the inbound per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// DefaultRoutes returns the standard route table.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{PathPrefix: "/api/auth", Service: "auth-service", StripPrefix: "/api/auth", ForwardBase: "/auth"},
		{PathPrefix: "/api/users", Service: "user-service", StripPrefix: "/api/users", ForwardBase: "/users"},
		{PathPrefix: "/api/items", Service: "item-service", StripPrefix: "/api/items", ForwardBase: "/items"},
		{PathPrefix: "/api/lists", Service: "list-service", StripPrefix: "/api/lists", ForwardBase: "/lists"},
	}
}

// DefaultConfig returns a fully defaulted configuration.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       KindGateway,
		Metadata:   Metadata{Name: "api-gateway"},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field with its default.
func ApplyDefaults(cfg *GatewayConfig) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Kind == "" {
		cfg.Kind = KindGateway
	}
	if cfg.Metadata.Name == "" {
		cfg.Metadata.Name = "api-gateway"
	}

	spec := &cfg.Spec
	applyServerDefaults(&spec.Server)

	if len(spec.Routes) == 0 {
		spec.Routes = DefaultRoutes()
	}
	for i := range spec.Routes {
		if spec.Routes[i].StripPrefix == "" {
			spec.Routes[i].StripPrefix = spec.Routes[i].PathPrefix
		}
	}

	applyRegistryDefaults(&spec.Registry)

	if spec.CircuitBreaker.FailureThreshold == 0 {
		spec.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
	}
	if spec.CircuitBreaker.Cooldown == 0 {
		spec.CircuitBreaker.Cooldown = Duration(DefaultCooldown)
	}
	if spec.Proxy.Timeout == 0 {
		spec.Proxy.Timeout = Duration(DefaultProxyTimeout)
	}

	applyHealthDefaults(&spec.HealthCheck)
	applyAggregatorDefaults(&spec.Aggregator)

	if spec.Auth.IdentityClaim == "" {
		spec.Auth.IdentityClaim = DefaultIdentityClaim
	}

	if spec.RateLimit.RequestsPerSecond == 0 {
		spec.RateLimit.RequestsPerSecond = 100
	}
	if spec.RateLimit.Burst == 0 {
		spec.RateLimit.Burst = 200
	}

	applyObservabilityDefaults(&spec.Observability, cfg.Metadata.Name)
}

func applyServerDefaults(s *ServerConfig) {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
}

func applyRegistryDefaults(r *RegistryConfig) {
	if r.Type == "" {
		r.Type = RegistryTypeMemory
	}
	if r.Redis.KeyPrefix == "" {
		r.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if r.Postgres.Table == "" {
		r.Postgres.Table = DefaultPostgresTable
	}
	if r.Postgres.MaxConns == 0 {
		r.Postgres.MaxConns = DefaultPostgresMaxConn
	}
	if r.Guard.MaxFailures == 0 {
		r.Guard.MaxFailures = DefaultGuardFailures
	}
	if r.Guard.OpenTimeout == 0 {
		r.Guard.OpenTimeout = Duration(DefaultGuardTimeout)
	}
}

func applyHealthDefaults(h *HealthCheckConfig) {
	if h.InitialDelay == 0 {
		h.InitialDelay = Duration(DefaultHealthInitialDelay)
	}
	if h.Interval == 0 {
		h.Interval = Duration(DefaultHealthInterval)
	}
	if h.Timeout == 0 {
		h.Timeout = Duration(DefaultHealthTimeout)
	}
	if h.Path == "" {
		h.Path = DefaultHealthPath
	}
}

func applyAggregatorDefaults(a *AggregatorConfig) {
	if a.DashboardPageSize == 0 {
		a.DashboardPageSize = DefaultDashboardPageSize
	}
	if a.SampleSize == 0 {
		a.SampleSize = DefaultSampleSize
	}
	if a.SearchListPageSize == 0 {
		a.SearchListPageSize = DefaultSearchListPageSize
	}
	if a.RecentLists == 0 {
		a.RecentLists = DefaultRecentLists
	}
	if a.CatalogLimit == 0 {
		a.CatalogLimit = DefaultCatalogLimit
	}
	if a.ListLimit == 0 {
		a.ListLimit = DefaultListLimit
	}
}

func applyObservabilityDefaults(o *ObservabilityConfig, name string) {
	if o.Logging.Level == "" {
		o.Logging.Level = "info"
	}
	if o.Logging.Format == "" {
		o.Logging.Format = "json"
	}
	if o.Metrics.Port == 0 {
		o.Metrics.Port = DefaultMetricsPort
	}
	if o.Metrics.Path == "" {
		o.Metrics.Path = "/metrics"
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = name
	}
}
