package admin

import (
	"context"

	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist"
	"github.com/haukened/nullroute/internal/dns/services/ruleset"
)

// Repository is the live decision pipeline. blocklist.Repository satisfies it.
type Repository interface {
	Decide(name string) domain.BlockDecision
	Block(name string) bool
	Unblock(name string) bool
	Stats() blocklist.RepoStats
}

// RuleStore persists user rules. blocklist.RuleStore satisfies it.
type RuleStore interface {
	Put(rule domain.UserRule) error
	Delete(kind domain.RuleKind, hostname string, wildcard bool) (bool, error)
	List() ([]domain.UserRule, error)
	Stats() blocklist.StoreStats
}

// Reloader rebuilds the live rule set. ruleset.Loader satisfies it.
type Reloader interface {
	Apply(ctx context.Context) (*ruleset.Ruleset, error)
	Current() *ruleset.Ruleset
}

// DomainGauge tracks the live domain count. metrics.Metrics satisfies it.
type DomainGauge interface {
	SetDomains(n int64)
}
