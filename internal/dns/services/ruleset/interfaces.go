package ruleset

import (
	"time"

	"github.com/haukened/nullroute/internal/dns/domain"
)

// RuleLister supplies persisted user rules. blocklist.RuleStore satisfies it.
type RuleLister interface {
	List() ([]domain.UserRule, error)
}

// Updater receives each successfully loaded rule set.
// blocklist.Repository satisfies it.
type Updater interface {
	Update(domains domain.DomainSet, wildcards []domain.UserRule)
}

// RebuildObserver records rebuild outcomes. metrics.Metrics satisfies it.
type RebuildObserver interface {
	ObserveRebuild(result string, domains int64, d time.Duration)
}
