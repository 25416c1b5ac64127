// Package main is the entry point for the aggregating API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/aggregw/internal/config"
	"github.com/vyrodovalexey/aggregw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	if err := run(context.Background(), flags); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags. Unset flags fall back to GATEWAY_*
// environment variables.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", envString("CONFIG_PATH", ""),
		"Path to configuration file (defaults are used when empty)")
	fs.StringVar(&flags.logLevel, "log-level", envString("LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&flags.logFormat, "log-format", envString("LOG_FORMAT", ""),
		"Log format (json, console); overrides the config file")
	fs.BoolVar(&flags.showVersion, "version", envBool("SHOW_VERSION", false),
		"Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "aggregw version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger builds the logger from the config, letting flags override the
// level and format.
func initLogger(cfg *config.GatewayConfig, flags cliFlags) (observability.Logger, error) {
	logCfg := observability.LogConfig{
		Level:  cfg.Spec.Observability.Logging.Level,
		Format: cfg.Spec.Observability.Logging.Format,
	}
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.Install(logger)
	return logger, nil
}
