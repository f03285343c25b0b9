// Package hostsfile combines parsed block-list sources and user rules into a
// deployable hosts file.
package hostsfile

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logpkg "github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/domain"
)

const (
	DefaultIPv4Redirect = "0.0.0.0"
	DefaultIPv6Redirect = "::"
)

const header = `# Generated by nullroute. Do not edit; changes are overwritten.
# Blocked names resolve to the configured null-route addresses.
`

// BuildOptions is the input to Build.
type BuildOptions struct {
	Sources      []domain.DomainSet
	Rules        []domain.UserRule
	IPv4Redirect string
	IPv6Redirect string
	IncludeIPv6  bool
}

// Redirect is one hostname pinned to an address by a redirect rule.
type Redirect struct {
	Hostname string
	Address  string
}

// BlockedSet computes the names a hosts file blocks:
//  1. the union of every source
//  2. plus enabled exact block rules
//  3. minus enabled exact allow rules
//  4. minus names matched by an enabled wildcard allow rule
//  5. minus names owned by a redirect rule
//
// Wildcard block rules are not expanded; a hosts file cannot express them.
func BlockedSet(sources []domain.DomainSet, rules []domain.UserRule) domain.DomainSet {
	blocked := domain.NewDomainSet()
	blocked.Merge(sources...)

	var allowPatterns []string
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		switch {
		case r.Kind == domain.RuleBlock && !r.Wildcard:
			blocked.Add(r.Hostname)
		case r.Kind == domain.RuleAllow && !r.Wildcard:
			blocked.Remove(r.Hostname)
		case r.Kind == domain.RuleAllow && r.Wildcard:
			allowPatterns = append(allowPatterns, r.Pattern())
		}
	}

	if len(allowPatterns) > 0 {
		for name := range blocked {
			for _, p := range allowPatterns {
				if MatchesWildcard(name, p) {
					delete(blocked, name)
					break
				}
			}
		}
	}

	for name := range redirectMap(rules, nil) {
		blocked.Remove(name)
	}
	return blocked
}

// Redirects returns the enabled exact redirect rules sorted by hostname.
// A later rule for the same hostname replaces an earlier one; rules with an
// unparsable address are dropped.
func Redirects(rules []domain.UserRule, logger logpkg.Logger) []Redirect {
	m := redirectMap(rules, logger)
	out := make([]Redirect, 0, len(m))
	for host, addr := range m {
		out = append(out, Redirect{Hostname: host, Address: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

func redirectMap(rules []domain.UserRule, logger logpkg.Logger) map[string]string {
	m := make(map[string]string)
	for _, r := range rules {
		if !r.Enabled || r.Kind != domain.RuleRedirect {
			continue
		}
		if r.Wildcard {
			if logger != nil {
				logger.Debug(logpkg.Fields{"pattern": r.Pattern()}, "hosts_skip_wildcard_redirect")
			}
			continue
		}
		addr, err := netip.ParseAddr(r.Redirect)
		if err != nil {
			if logger != nil {
				logger.Warn(logpkg.Fields{"hostname": r.Hostname, "address": r.Redirect}, "hosts_skip_invalid_redirect")
			}
			continue
		}
		m[r.Hostname] = addr.String()
	}
	return m
}

// Build renders the hosts file. The output depends only on its input: a
// header, loopback entries, redirect lines sorted by hostname, then one
// IPv4 line (and optionally one IPv6 line) per blocked name in sorted order.
func Build(opts BuildOptions, logger logpkg.Logger) string {
	v4 := opts.IPv4Redirect
	if v4 == "" {
		v4 = DefaultIPv4Redirect
	}
	v6 := opts.IPv6Redirect
	if v6 == "" {
		v6 = DefaultIPv6Redirect
	}

	redirects := Redirects(opts.Rules, logger)
	blocked := BlockedSet(opts.Sources, opts.Rules).Sorted()

	var b strings.Builder
	b.Grow(len(header) + 64 + len(blocked)*48)
	b.WriteString(header)
	b.WriteString("\n127.0.0.1 localhost\n::1 localhost\n")

	if len(redirects) > 0 {
		b.WriteString("\n# Redirects\n")
		for _, r := range redirects {
			fmt.Fprintf(&b, "%s %s\n", r.Address, r.Hostname)
		}
	}

	if len(blocked) > 0 {
		b.WriteString("\n# Blocked\n")
		for _, name := range blocked {
			fmt.Fprintf(&b, "%s %s\n", v4, name)
			if opts.IncludeIPv6 {
				fmt.Fprintf(&b, "%s %s\n", v6, name)
			}
		}
	}

	logger.Debug(logpkg.Fields{
		"blocked":   len(blocked),
		"redirects": len(redirects),
		"ipv6":      opts.IncludeIPv6,
	}, "hosts_build_done")
	return b.String()
}

// WriteFile replaces path with content. The file is written to a temporary
// sibling and renamed into place so readers never see a partial file.
func WriteFile(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hosts-*")
	if err != nil {
		return fmt.Errorf("create temp hosts file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write hosts file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync hosts file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close hosts file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod hosts file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install hosts file: %w", err)
	}
	return nil
}
