// Package ruleset loads block-list sources and user rules into a snapshot
// and applies it to the live decision repository and the hosts file.
package ruleset

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/common/metrics"
	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/hostsfile"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/parsers"
	"github.com/haukened/nullroute/internal/dns/repos/sources"
)

type Loader struct {
	manifestPath string
	store        RuleLister
	updater      Updater
	hostsPath    string
	hosts        HostsOptions
	observer     RebuildObserver
	clock        clock.Clock
	logger       log.Logger

	mu      sync.Mutex
	current *Ruleset
}

// LoaderOptions wires a Loader. ManifestPath, Store, Updater, HostsPath and
// Observer are optional; a Loader with none of them yields empty rule sets.
type LoaderOptions struct {
	ManifestPath string
	Store        RuleLister
	Updater      Updater
	HostsPath    string
	Hosts        HostsOptions
	Observer     RebuildObserver
	Clock        clock.Clock
	Logger       log.Logger
}

func NewLoader(opts LoaderOptions) *Loader {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Loader{
		manifestPath: opts.ManifestPath,
		store:        opts.Store,
		updater:      opts.Updater,
		hostsPath:    opts.HostsPath,
		hosts:        opts.Hosts,
		observer:     opts.Observer,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
}

// Load builds a Ruleset.
//
// A manifest that cannot be read or parsed, or a failing rule store, is
// fatal and returns a nil Ruleset. A source or rule file that cannot be read
// is skipped; the Ruleset is still returned together with the combined
// per-file errors.
//
// Rules are merged in order manifest, rule files, store; for an identical
// key the later one wins.
func (l *Loader) Load(ctx context.Context) (*Ruleset, error) {
	m, err := l.manifest()
	if err != nil {
		return nil, err
	}

	rs := &Ruleset{LoadedAt: l.clock.Now()}
	var partial error

	for _, src := range m.EnabledSources() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set, err := l.parseSource(src)
		if err != nil {
			partial = multierr.Append(partial, err)
			l.logger.Warn(log.Fields{"source": src.Name, "path": src.Path, "error": err.Error()}, "ruleset_source_failed")
			continue
		}
		rs.Sources = append(rs.Sources, set)
		rs.SourceNames = append(rs.SourceNames, src.Name)
		l.logger.Info(log.Fields{"source": src.Name, "domains": set.Len()}, "ruleset_source_loaded")
	}

	var fileRules []domain.UserRule
	for _, path := range m.RuleFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rules, err := l.parseRuleFile(path)
		if err != nil {
			partial = multierr.Append(partial, err)
			l.logger.Warn(log.Fields{"path": path, "error": err.Error()}, "ruleset_rule_file_failed")
			continue
		}
		fileRules = append(fileRules, rules...)
	}

	var stored []domain.UserRule
	if l.store != nil {
		stored, err = l.store.List()
		if err != nil {
			return nil, fmt.Errorf("list stored rules: %w", err)
		}
	}

	rs.Rules = mergeRules(m.Rules, fileRules, stored)
	return rs, partial
}

// Apply loads a Ruleset, hands it to the updater and rewrites the hosts
// file. On a fatal load error nothing is applied and the previous rule set
// stays live. Partial load errors and hosts file write errors are returned
// after the new rule set is live.
func (l *Loader) Apply(ctx context.Context) (*Ruleset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.clock.Now()
	rs, err := l.Load(ctx)
	if rs == nil {
		l.observe(metrics.RebuildFailed, 0, start)
		l.logger.Error(log.Fields{"error": err.Error()}, "ruleset_apply_failed")
		return nil, err
	}

	domains, wildcards := rs.TrieInput()
	if l.updater != nil {
		l.updater.Update(domains, wildcards)
	}
	l.current = rs

	if l.hostsPath != "" {
		content := hostsfile.Build(rs.BuildOptions(l.hosts), l.logger)
		if werr := hostsfile.WriteFile(l.hostsPath, content); werr != nil {
			err = multierr.Append(err, werr)
		}
	}

	result := metrics.RebuildOK
	if err != nil {
		result = metrics.RebuildPartial
	}
	l.observe(result, int64(domains.Len()), start)
	l.logger.Info(log.Fields{
		"sources":   len(rs.Sources),
		"rules":     len(rs.Rules),
		"domains":   domains.Len(),
		"wildcards": len(wildcards),
		"result":    result,
	}, "ruleset_applied")
	return rs, err
}

// Current returns the last applied Ruleset, or nil before the first Apply.
func (l *Loader) Current() *Ruleset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// RenderHosts renders the hosts file for rs with the loader's options.
func (l *Loader) RenderHosts(rs *Ruleset) string {
	return hostsfile.Build(rs.BuildOptions(l.hosts), l.logger)
}

func (l *Loader) manifest() (sources.Manifest, error) {
	if l.manifestPath == "" {
		return sources.Manifest{}, nil
	}
	return sources.Load(l.manifestPath)
}

func (l *Loader) parseSource(src sources.Source) (domain.DomainSet, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	defer f.Close()
	set, err := parsers.ParseHosts(f, l.logger)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	return set, nil
}

func (l *Loader) parseRuleFile(path string) ([]domain.UserRule, error) {
	if sources.IsStructuredRuleFile(path) {
		return sources.LoadRuleFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rule file: %w", err)
	}
	defer f.Close()
	rules, err := parsers.ParseRuleList(f, l.logger)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rules, nil
}

func (l *Loader) observe(result string, domains int64, start time.Time) {
	if l.observer == nil {
		return
	}
	l.observer.ObserveRebuild(result, domains, l.clock.Now().Sub(start))
}
