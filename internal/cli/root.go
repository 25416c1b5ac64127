// Package cli implements registryctl, the command line client for the
// service registry. It speaks to the same stores the gateway reads, so a
// service (or an operator) can register, withdraw and inspect records
// without going through the gateway.
package cli

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
	"github.com/vyrodovalexey/aggregw/internal/registry"
)

// EnvPrefix prefixes every environment override, e.g.
// REGISTRYCTL_REGISTRY_REDIS_ADDR.
const EnvPrefix = "REGISTRYCTL"

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// DefaultFilePath is the file store used when nothing else is configured.
const DefaultFilePath = "registry.json"

// BuildInfo describes the binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"registry-type":  "registry.type",
	"file":           "registry.file.path",
	"redis-addr":     "registry.redis.addr",
	"redis-password": "registry.redis.password",
	"redis-db":       "registry.redis.db",
	"redis-prefix":   "registry.redis.keyPrefix",
	"postgres-dsn":   "registry.postgres.dsn",
	"postgres-table": "registry.postgres.table",
	"guard":          "registry.guard.enabled",
}

// app carries per-invocation state shared by the subcommands.
type app struct {
	v       *viper.Viper
	out     io.Writer
	build   BuildInfo
	cfgFile string
	output  string
	verbose bool
}

// NewRootCommand builds the registryctl command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	a := &app{v: viper.New(), build: build}

	root := &cobra.Command{
		Use:           "registryctl",
		Short:         "Manage the gateway service registry",
		Long:          "registryctl registers, withdraws and inspects the service records the gateway routes to.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			return a.initConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file with a top-level registry section")
	pf.StringVarP(&a.output, "output", "o", OutputTable, "output format: table, json")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log store activity to stderr")

	pf.String("registry-type", config.RegistryTypeFile, "registry store: file, redis, postgres")
	pf.String("file", DefaultFilePath, "file store path")
	pf.String("redis-addr", "", "redis address")
	pf.String("redis-password", "", "redis password")
	pf.Int("redis-db", 0, "redis database")
	pf.String("redis-prefix", config.DefaultRedisKeyPrefix, "redis key prefix")
	pf.String("postgres-dsn", "", "postgres connection string")
	pf.String("postgres-table", config.DefaultPostgresTable, "postgres table")
	pf.Bool("guard", false, "trip a circuit breaker on repeated store failures")

	for flag, key := range flagKeys {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		a.registerCmd(),
		a.unregisterCmd(),
		a.listCmd(),
		a.discoverCmd(),
		a.healthCmd(),
		a.announceCmd(),
		a.versionCmd(),
	)
	return root
}

// initConfig layers the config file and environment over the flags.
func (a *app) initConfig() error {
	switch a.output {
	case OutputTable, OutputJSON:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", a.cfgFile, err)
	}
	return nil
}

// registryConfig decodes the effective registry section on top of the
// gateway defaults.
func (a *app) registryConfig() (config.RegistryConfig, error) {
	doc := struct {
		Registry config.RegistryConfig `yaml:"registry"`
	}{
		Registry: config.DefaultConfig().Spec.Registry,
	}

	err := a.v.Unmarshal(&doc,
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" },
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			durationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)),
	)
	if err != nil {
		return config.RegistryConfig{}, fmt.Errorf("failed to decode registry config: %w", err)
	}
	return doc.Registry, nil
}

// durationHook decodes "10s" style strings into config.Duration.
func durationHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(config.Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != target {
			return data, nil
		}
		d, err := time.ParseDuration(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", data, err)
		}
		return config.Duration(d), nil
	}
}

func (a *app) logger() observability.Logger {
	if !a.verbose {
		return observability.NopLogger()
	}
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  "debug",
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return observability.NopLogger()
	}
	return logger
}

// openStore opens the configured store. The in-memory store is refused
// since nothing would outlive the command.
func (a *app) openStore(cmd *cobra.Command) (registry.Registry, error) {
	cfg, err := a.registryConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Type == config.RegistryTypeMemory {
		return nil, fmt.Errorf("registry type %q is process local; use file, redis or postgres", cfg.Type)
	}
	return registry.New(cmd.Context(), cfg, a.logger())
}
