package ruleset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/common/metrics"
	"github.com/haukened/nullroute/internal/dns/domain"
)

type fakeStore struct {
	rules []domain.UserRule
	err   error
}

func (f *fakeStore) List() ([]domain.UserRule, error) { return f.rules, f.err }

type fakeUpdater struct {
	calls     int
	domains   domain.DomainSet
	wildcards []domain.UserRule
}

func (f *fakeUpdater) Update(d domain.DomainSet, w []domain.UserRule) {
	f.calls++
	f.domains = d
	f.wildcards = w
}

type rebuild struct {
	result  string
	domains int64
	dur     time.Duration
}

type fakeObserver struct{ got []rebuild }

func (f *fakeObserver) ObserveRebuild(result string, domains int64, d time.Duration) {
	f.got = append(f.got, rebuild{result, domains, d})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func fixture(t *testing.T) (dir, manifest string) {
	t.Helper()
	dir = t.TempDir()
	writeFile(t, dir, "lists/one.hosts", "0.0.0.0 ads.example.com\n0.0.0.0 cdn.good.com\n0.0.0.0 x.com\n")
	writeFile(t, dir, "lists/two.hosts", "tracker.net\n127.0.0.1 localhost\n")
	writeFile(t, dir, "rules/custom.txt", "block *.doubleclick.net\nredirect x.com 10.0.0.1\n")
	writeFile(t, dir, "rules/lan.toml", "root = \"lan\"\nblock = [\"nas\"]\n")
	manifest = writeFile(t, dir, "manifest.yaml", `
sources:
  - name: one
    path: lists/one.hosts
  - name: two
    path: lists/two.hosts
  - name: off
    path: lists/missing.hosts
    enabled: false
rule_files:
  - rules/custom.txt
  - rules/lan.toml
rules:
  - pattern: "*.good.com"
    kind: allow
  - pattern: "*.doubleclick.net"
    kind: block
    enabled: false
`)
	return dir, manifest
}

func TestLoader_Load(t *testing.T) {
	_, manifest := fixture(t)
	store := &fakeStore{rules: []domain.UserRule{
		{Hostname: "extra.example.org", Kind: domain.RuleBlock, Enabled: true},
	}}
	l := NewLoader(LoaderOptions{ManifestPath: manifest, Store: store, Clock: clock.NewMockClock(time.Unix(10, 0))})

	rs, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, rs.SourceNames)
	assert.Equal(t, time.Unix(10, 0), rs.LoadedAt)

	assert.Equal(t, []domain.UserRule{
		{Hostname: "good.com", Kind: domain.RuleAllow, Enabled: true, Wildcard: true},
		{Hostname: "doubleclick.net", Kind: domain.RuleBlock, Enabled: true, Wildcard: true},
		{Hostname: "x.com", Kind: domain.RuleRedirect, Redirect: "10.0.0.1", Enabled: true},
		{Hostname: "nas.lan", Kind: domain.RuleBlock, Enabled: true},
		{Hostname: "extra.example.org", Kind: domain.RuleBlock, Enabled: true},
	}, rs.Rules, "rule file overrides the disabled manifest rule in place")

	domains, wildcards := rs.TrieInput()
	assert.Equal(t, []string{"ads.example.com", "extra.example.org", "nas.lan", "tracker.net"}, domains.Sorted())
	assert.Equal(t, []domain.UserRule{rs.Rules[0], rs.Rules[1]}, wildcards)
}

func TestLoader_LoadPartial(t *testing.T) {
	dir, _ := fixture(t)
	manifest := writeFile(t, dir, "partial.yaml", `
sources:
  - name: one
    path: lists/one.hosts
  - name: gone
    path: lists/gone.hosts
rule_files:
  - rules/gone.txt
`)
	l := NewLoader(LoaderOptions{ManifestPath: manifest})
	rs, err := l.Load(context.Background())
	require.NotNil(t, rs)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, []string{"one"}, rs.SourceNames)
}

func TestLoader_LoadFatal(t *testing.T) {
	_, manifest := fixture(t)

	_, err := NewLoader(LoaderOptions{ManifestPath: manifest + ".missing"}).Load(context.Background())
	assert.Error(t, err)

	storeErr := errors.New("bolt closed")
	rs, err := NewLoader(LoaderOptions{ManifestPath: manifest, Store: &fakeStore{err: storeErr}}).Load(context.Background())
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, storeErr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rs, err = NewLoader(LoaderOptions{ManifestPath: manifest}).Load(ctx)
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_LoadWithoutManifest(t *testing.T) {
	rs, err := NewLoader(LoaderOptions{}).Load(context.Background())
	require.NoError(t, err)
	domains, wildcards := rs.TrieInput()
	assert.Equal(t, 0, domains.Len())
	assert.Empty(t, wildcards)
}

func TestLoader_Apply(t *testing.T) {
	dir, manifest := fixture(t)
	hostsPath := filepath.Join(dir, "out", "hosts")
	require.NoError(t, os.MkdirAll(filepath.Dir(hostsPath), 0o755))

	up := &fakeUpdater{}
	obs := &fakeObserver{}
	l := NewLoader(LoaderOptions{
		ManifestPath: manifest,
		Updater:      up,
		HostsPath:    hostsPath,
		Hosts:        HostsOptions{IPv4Redirect: "0.0.0.0", IPv6Redirect: "::", IncludeIPv6: true},
		Observer:     obs,
		Logger:       log.NewNoopLogger(),
	})
	assert.Nil(t, l.Current())

	rs, err := l.Apply(context.Background())
	require.NoError(t, err)
	assert.Same(t, rs, l.Current())

	assert.Equal(t, 1, up.calls)
	assert.Equal(t, []string{"ads.example.com", "nas.lan", "tracker.net"}, up.domains.Sorted())
	assert.Len(t, up.wildcards, 2)

	data, err := os.ReadFile(hostsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "10.0.0.1 x.com\n")
	assert.Contains(t, string(data), "0.0.0.0 ads.example.com\n:: ads.example.com\n")
	assert.Contains(t, string(data), "0.0.0.0 nas.lan\n")
	assert.NotContains(t, string(data), "0.0.0.0 x.com")
	assert.Equal(t, l.RenderHosts(rs), string(data))

	require.Len(t, obs.got, 1)
	assert.Equal(t, metrics.RebuildOK, obs.got[0].result)
	assert.Equal(t, int64(3), obs.got[0].domains)
}

func TestLoader_ApplyFailureKeepsPrevious(t *testing.T) {
	dir, manifest := fixture(t)
	up := &fakeUpdater{}
	obs := &fakeObserver{}
	l := NewLoader(LoaderOptions{ManifestPath: manifest, Updater: up, Observer: obs})

	first, err := l.Apply(context.Background())
	require.NoError(t, err)

	writeFile(t, dir, "manifest.yaml", "sources: [\n")
	rs, err := l.Apply(context.Background())
	assert.Nil(t, rs)
	assert.Error(t, err)
	assert.Equal(t, 1, up.calls)
	assert.Same(t, first, l.Current())
	require.Len(t, obs.got, 2)
	assert.Equal(t, metrics.RebuildFailed, obs.got[1].result)
}

func TestLoader_ApplyHostsWriteError(t *testing.T) {
	_, manifest := fixture(t)
	up := &fakeUpdater{}
	obs := &fakeObserver{}
	l := NewLoader(LoaderOptions{
		ManifestPath: manifest,
		Updater:      up,
		HostsPath:    filepath.Join(t.TempDir(), "missing", "hosts"),
		Observer:     obs,
	})

	rs, err := l.Apply(context.Background())
	require.NotNil(t, rs)
	assert.Error(t, err)
	assert.Equal(t, 1, up.calls, "rule set goes live even when the hosts file cannot be written")
	assert.Equal(t, metrics.RebuildPartial, obs.got[0].result)
}

func TestMergeRules(t *testing.T) {
	a := domain.UserRule{Hostname: "a.com", Kind: domain.RuleBlock, Enabled: true}
	aOff := domain.UserRule{Hostname: "a.com", Kind: domain.RuleBlock, Enabled: false}
	aWild := domain.UserRule{Hostname: "a.com", Kind: domain.RuleBlock, Enabled: true, Wildcard: true}
	b := domain.UserRule{Hostname: "b.com", Kind: domain.RuleAllow, Enabled: true}

	got := mergeRules([]domain.UserRule{a, b}, nil, []domain.UserRule{aWild, aOff})
	assert.Equal(t, []domain.UserRule{aOff, b, aWild}, got)
}
