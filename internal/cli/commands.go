package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/aggregw/internal/registry"
)

// withdrawTimeout bounds the unregister call made after an announce ends.
const withdrawTimeout = 5 * time.Second

// withStore opens the store for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(registry.Registry) error) error {
	store, err := a.openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func recordFromFlags(cmd *cobra.Command, name string) (registry.ServiceRecord, error) {
	baseURL, err := cmd.Flags().GetString("url")
	if err != nil {
		return registry.ServiceRecord{}, err
	}
	version, err := cmd.Flags().GetString("version")
	if err != nil {
		return registry.ServiceRecord{}, err
	}
	endpoints, err := cmd.Flags().GetStringSlice("endpoint")
	if err != nil {
		return registry.ServiceRecord{}, err
	}

	record := registry.ServiceRecord{
		Name:      name,
		BaseURL:   baseURL,
		Version:   version,
		Endpoints: endpoints,
	}
	return record, record.Validate()
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "service base URL, e.g. http://item-service:3002")
	cmd.Flags().String("version", "", "service version")
	cmd.Flags().StringSlice("endpoint", nil, "advertised endpoint (repeatable)")
	_ = cmd.MarkFlagRequired("url")
}

func (a *app) registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <name> --url <baseUrl>",
		Short: "Create or replace a service record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := recordFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store registry.Registry) error {
				if err := store.Register(cmd.Context(), record); err != nil {
					return err
				}
				saved, err := store.Discover(cmd.Context(), record.Name)
				if err != nil {
					return err
				}
				return a.printRecord(saved)
			})
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func (a *app) unregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "unregister <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a service record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store registry.Registry) error {
				if err := store.Unregister(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.out, "%s unregistered\n", args[0])
				return err
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every service record",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(store registry.Registry) error {
				records, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				return a.printRecords(records)
			})
		},
	}
}

func (a *app) discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <name>",
		Short: "Show one service record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store registry.Registry) error {
				record, err := store.Discover(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printRecord(record)
			})
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "health <name> <up|down>",
		Short:     "Set the liveness flag of a service",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var healthy bool
			switch args[1] {
			case "up":
				healthy = true
			case "down":
			default:
				return fmt.Errorf("health must be up or down, got %q", args[1])
			}

			return a.withStore(cmd, func(store registry.Registry) error {
				if err := store.UpdateHealth(cmd.Context(), args[0], healthy); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.out, "%s marked %s\n", args[0], args[1])
				return err
			})
		},
	}
}

// announceCmd keeps a record registered for as long as the command runs,
// the way a service announces itself on startup and withdraws on shutdown.
func (a *app) announceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "announce <name> --url <baseUrl>",
		Short: "Register a service until interrupted, then withdraw it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := recordFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store registry.Registry) error {
				ctx := cmd.Context()
				withdraw, err := registry.Announce(ctx, store, record)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.out, "%s announced at %s\n", record.Name, record.BaseURL)

				<-ctx.Done()

				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), withdrawTimeout)
				defer cancel()
				if err := withdraw(wctx); err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.out, "%s withdrawn\n", record.Name)
				return err
			})
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintf(a.out, "registryctl %s (commit %s, built %s)\n",
				a.build.Version, a.build.Commit, a.build.BuildDate)
			return err
		},
	}
}
