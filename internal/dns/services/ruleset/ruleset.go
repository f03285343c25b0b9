package ruleset

import (
	"time"

	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/hostsfile"
)

// Ruleset is one consistent snapshot of every enabled source and rule.
type Ruleset struct {
	Sources     []domain.DomainSet // parsed sources, in manifest order
	SourceNames []string           // names matching Sources
	Rules       []domain.UserRule  // merged manifest, rule-file and stored rules
	LoadedAt    time.Time
}

// TrieInput returns what the trie is rebuilt from: the hosts-file block set
// and the enabled subtree wildcard rules.
func (rs Ruleset) TrieInput() (domain.DomainSet, []domain.UserRule) {
	wildcards := make([]domain.UserRule, 0)
	for _, r := range rs.Rules {
		if !r.Enabled || !r.IsSubtree() {
			continue
		}
		if r.Kind == domain.RuleBlock || r.Kind == domain.RuleAllow {
			wildcards = append(wildcards, r)
		}
	}
	return hostsfile.BlockedSet(rs.Sources, rs.Rules), wildcards
}

// HostsOptions configures hosts file rendering.
type HostsOptions struct {
	IPv4Redirect string
	IPv6Redirect string
	IncludeIPv6  bool
}

// BuildOptions pairs the snapshot with rendering options for hostsfile.Build.
func (rs Ruleset) BuildOptions(o HostsOptions) hostsfile.BuildOptions {
	return hostsfile.BuildOptions{
		Sources:      rs.Sources,
		Rules:        rs.Rules,
		IPv4Redirect: o.IPv4Redirect,
		IPv6Redirect: o.IPv6Redirect,
		IncludeIPv6:  o.IncludeIPv6,
	}
}

// mergeRules concatenates rule lists; a later rule with the same key replaces
// an earlier one in place.
func mergeRules(lists ...[]domain.UserRule) []domain.UserRule {
	index := make(map[string]int)
	var out []domain.UserRule
	for _, list := range lists {
		for _, r := range list {
			if i, ok := index[r.Key()]; ok {
				out[i] = r
				continue
			}
			index[r.Key()] = len(out)
			out = append(out, r)
		}
	}
	return out
}
