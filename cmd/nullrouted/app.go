package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/common/metrics"
	"github.com/haukened/nullroute/internal/dns/config"
	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/gateways/admin"
	"github.com/haukened/nullroute/internal/dns/gateways/transport"
	"github.com/haukened/nullroute/internal/dns/gateways/upstream"
	"github.com/haukened/nullroute/internal/dns/gateways/wire"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/bloom"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/bolt"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/lru"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/trie"
	"github.com/haukened/nullroute/internal/dns/repos/dnscache"
	"github.com/haukened/nullroute/internal/dns/services/filter"
	"github.com/haukened/nullroute/internal/dns/services/ruleset"
)

const defaultShutdownTimeout = 10 * time.Second

// Application holds all the components of the filtering DNS server.
type Application struct {
	config    *config.AppConfig
	logger    log.Logger
	metrics   *metrics.Metrics
	store     blocklist.RuleStore
	repo      blocklist.Repository
	loader    *ruleset.Loader
	filter    *filter.Filter
	transport transport.ServerTransport
	admin     *admin.Server

	// reload triggers a rule set reload on every receive; nil disables it.
	reload <-chan os.Signal
}

// buildRepository assembles trie, decision cache and Bloom prefilter.
func buildRepository(cfg *config.AppConfig, clk clock.Clock) (blocklist.Repository, error) {
	cache, err := lru.New(cfg.Blocklist.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	return blocklist.NewRepository(trie.New(clk), cache, bloom.NewFactory(), cfg.Blocklist.BloomFPRate, clk), nil
}

func hostsOptions(cfg *config.AppConfig) ruleset.HostsOptions {
	return ruleset.HostsOptions{
		IPv4Redirect: cfg.Hosts.IPv4Redirect,
		IPv6Redirect: cfg.Hosts.IPv6Redirect,
		IncludeIPv6:  cfg.Hosts.IPv6,
	}
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig, logger log.Logger) (*Application, error) {
	clk := &clock.RealClock{}
	m := metrics.New()

	store, err := bolt.New(cfg.Rules.DB, clk)
	if err != nil {
		return nil, err
	}

	repo, err := buildRepository(cfg, clk)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	loader := ruleset.NewLoader(ruleset.LoaderOptions{
		ManifestPath: cfg.Rules.Manifest,
		Store:        store,
		Updater:      repo,
		HostsPath:    cfg.Hosts.Path,
		Hosts:        hostsOptions(cfg),
		Observer:     m,
		Clock:        clk,
		Logger:       logger,
	})

	fwd, err := upstream.NewForwarder(upstream.Options{
		Servers:  cfg.Upstream.Servers,
		Timeout:  cfg.Upstream.Timeout,
		Parallel: cfg.Upstream.Parallel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create upstream forwarder: %w", err)
	}

	fopts := filter.Options{
		Decider:   repo,
		Codec:     wire.NewUDPCodec(logger),
		Forwarder: fwd,
		Observer:  m,
		Clock:     clk,
		Logger:    logger,
	}
	if cfg.Upstream.CacheSize > 0 {
		replies, err := dnscache.New(cfg.Upstream.CacheSize, cfg.Upstream.CacheMaxTTL, clk)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create reply cache: %w", err)
		}
		fopts.Cache = replies
	}
	flt, err := filter.New(fopts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tr, err := transport.NewTransport(transport.TransportUDP, cfg.ListenAddr(), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app := &Application{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		store:     store,
		repo:      repo,
		loader:    loader,
		filter:    flt,
		transport: tr,
	}

	if cfg.Admin.Address != "" {
		app.admin, err = admin.New(admin.Options{
			Address:  cfg.Admin.Address,
			Repo:     repo,
			Store:    store,
			Reloader: loader,
			Metrics:  m.Handler(),
			Gauge:    m,
			Logger:   logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return app, nil
}

// Run applies the rule set, starts the listeners and blocks until ctx is
// cancelled. Each value received on the reload channel reapplies the rules.
func (app *Application) Run(ctx context.Context) error {
	defer app.closeStore()

	if rs, err := app.loader.Apply(ctx); rs == nil {
		return fmt.Errorf("initial rule load failed: %w", err)
	}

	if err := app.transport.Start(ctx, app.filter); err != nil {
		return fmt.Errorf("failed to start UDP transport: %w", err)
	}
	if app.admin != nil {
		if err := app.admin.Start(ctx); err != nil {
			_ = app.transport.Stop()
			return err
		}
	}

	app.logger.Info(log.Fields{
		"address":   app.transport.Address(),
		"transport": "udp",
		"domains":   app.repo.Stats().Domains,
	}, "nullrouted_ready")

	for {
		select {
		case <-ctx.Done():
			return app.shutdown()
		case sig := <-app.reload:
			app.logger.Info(log.Fields{"signal": sig.String()}, "nullrouted_reload")
			// Apply logs and records its own outcome.
			_, _ = app.loader.Apply(ctx)
		}
	}
}

func (app *Application) shutdown() error {
	app.logger.Info(nil, "nullrouted_shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.transport.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}
	if app.admin != nil {
		if err := app.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (app *Application) closeStore() {
	if err := app.store.Close(); err != nil {
		app.logger.Warn(log.Fields{"error": err.Error()}, "rule_store_close_failed")
	}
}

// offline runs the rule pipeline without listeners, for the hosts and
// check commands.
type offline struct {
	cfg    *config.AppConfig
	store  blocklist.RuleStore
	repo   blocklist.Repository
	loader *ruleset.Loader
	logger log.Logger
}

// buildOffline is like buildApplication minus the network side. A rule
// database that cannot be opened, typically because the daemon holds its
// lock, is skipped with a warning.
func buildOffline(cfg *config.AppConfig, logger log.Logger) (*offline, error) {
	clk := &clock.RealClock{}
	repo, err := buildRepository(cfg, clk)
	if err != nil {
		return nil, err
	}

	o := &offline{cfg: cfg, repo: repo, logger: logger}
	opts := ruleset.LoaderOptions{
		ManifestPath: cfg.Rules.Manifest,
		Updater:      repo,
		Hosts:        hostsOptions(cfg),
		Clock:        clk,
		Logger:       logger,
	}
	if store, err := bolt.New(cfg.Rules.DB, clk); err != nil {
		logger.Warn(log.Fields{"db": cfg.Rules.DB, "error": err.Error()}, "rule_store_unavailable")
	} else {
		o.store = store
		opts.Store = store
	}
	o.loader = ruleset.NewLoader(opts)
	return o, nil
}

// RenderHosts loads the rule set and returns the hosts file content.
func (o *offline) RenderHosts(ctx context.Context) (string, error) {
	rs, err := o.loader.Load(ctx)
	if rs == nil {
		return "", err
	}
	if err != nil {
		o.logger.Warn(log.Fields{"error": err.Error()}, "ruleset_partial")
	}
	return o.loader.RenderHosts(rs), nil
}

// Check applies the rule set and classifies each name.
func (o *offline) Check(ctx context.Context, names []string) ([]domain.BlockDecision, error) {
	rs, err := o.loader.Apply(ctx)
	if rs == nil {
		return nil, err
	}
	out := make([]domain.BlockDecision, 0, len(names))
	for _, n := range names {
		out = append(out, o.repo.Decide(n))
	}
	return out, nil
}

func (o *offline) Close() error {
	if o.store == nil {
		return nil
	}
	return o.store.Close()
}
