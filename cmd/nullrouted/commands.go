package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/config"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/hostsfile"
)

const (
	version = "0.1.0-dev"
	appName = "nullrouted"
)

// flagOverrides maps persistent flags to config keys. Only flags the user
// actually set override the environment.
var flagOverrides = map[string]string{
	"manifest": "rules.manifest",
	"db":       "rules.db",
	"hosts":    "hosts.path",
	"listen":   "listen.address",
	"port":     "listen.port",
	"admin":    "admin.address",
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "DNS-level ad and tracker blocker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("manifest", "", "source manifest (YAML)")
	pf.String("db", "", "user rule database")
	pf.String("hosts", "", "hosts file to write after every reload")
	pf.String("listen", "", "DNS listen address")
	pf.Int("port", 0, "DNS listen port")
	pf.String("admin", "", "admin HTTP address (ip:port)")

	serve := newServeCommand()
	root.AddCommand(serve, newHostsCommand(), newCheckCommand())
	root.RunE = serve.RunE
	return root
}

// loadConfig loads configuration with explicitly set flags applied on top
// and configures the global logger.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	overrides := make(map[string]any)
	for flag, key := range flagOverrides {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		overrides[key] = f.Value.String()
	}
	cfg, err := config.LoadWith(overrides)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return cfg, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the filtering DNS listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()

			log.Info(log.Fields{
				"version":  version,
				"env":      cfg.Env,
				"listen":   cfg.ListenAddr(),
				"upstream": cfg.Upstream.Servers,
				"manifest": cfg.Rules.Manifest,
				"db":       cfg.Rules.DB,
				"hosts":    cfg.Hosts.Path,
				"admin":    cfg.Admin.Address,
			}, "nullrouted_starting")

			app, err := buildApplication(cfg, log.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to build application: %w", err)
			}

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			defer signal.Stop(reload)
			app.reload = reload

			if err := app.Run(cmd.Context()); err != nil {
				return err
			}
			log.Info(nil, "nullrouted_stopped")
			return nil
		},
	}
}

func newHostsCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Render the hosts file from the configured sources and rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tool, err := buildOffline(cfg, log.GetLogger())
			if err != nil {
				return err
			}
			defer tool.Close()

			content, err := tool.RenderHosts(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), content)
				return err
			}
			return hostsfile.WriteFile(out, content)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output path, - for stdout")
	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name>...",
		Short: "Classify names against the configured sources and rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tool, err := buildOffline(cfg, log.GetLogger())
			if err != nil {
				return err
			}
			defer tool.Close()

			decisions, err := tool.Check(cmd.Context(), args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, d := range decisions {
				fmt.Fprintf(w, "%s\t%s\n", d.Verdict, d.Name)
			}
			return nil
		},
	}
}
