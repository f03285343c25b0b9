package blocklist

import (
	"time"

	"github.com/haukened/nullroute/internal/dns/domain"
)

// BloomFilter holds canonical names the index can block on.
// MightContain must be safe to call concurrently with Add.
type BloomFilter interface {
	Add(name string)
	MightContain(name string) bool
}

// BloomFactory creates filters sized for a dataset.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// CachedDecision is a decision tagged with the repository epoch it was
// computed under. Entries from an older epoch are treated as misses.
type CachedDecision struct {
	Decision domain.BlockDecision
	Epoch    uint64
}

// DecisionCache caches block decisions by canonical name with basic metrics.
type DecisionCache interface {
	Get(name string) (CachedDecision, bool)
	Put(name string, d CachedDecision)
	Len() int
	Purge()
	Stats() CacheStats
}

// DomainIndex is the authoritative matcher behind the cache and the Bloom
// filter. trie.DomainTrie implements it.
type DomainIndex interface {
	Rebuild(domains domain.DomainSet, wildcards []domain.UserRule)
	AddDomain(host string) bool
	RemoveDomain(host string) bool
	Classify(hostname string) domain.Verdict
	Count() int64
	BuiltAt() time.Time
}

// Repository is the composition layer that wires bloom → cache → index.
// Decide returns a value-type BlockDecision for any name and never fails.
// Update replaces the whole rule set; Block and Unblock change one exact
// name in place and report whether anything changed.
type Repository interface {
	Decide(name string) domain.BlockDecision
	Update(domains domain.DomainSet, wildcards []domain.UserRule)
	Block(name string) bool
	Unblock(name string) bool
	Stats() RepoStats
}

// RuleStore persists user rules across restarts. Rules are keyed by
// UserRule.Key, so a Put with the same kind, wildcard flag and hostname
// replaces the stored rule.
type RuleStore interface {
	Put(rule domain.UserRule) error
	Delete(kind domain.RuleKind, hostname string, wildcard bool) (bool, error)
	List() ([]domain.UserRule, error)
	Stats() StoreStats
	Close() error
}
