package blocklist

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/utils"
	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist/trie"
)

type bloomRef struct{ f BloomFilter }

// repository implements Repository by composing a DomainIndex, a Bloom
// filter (via factory) and a DecisionCache. Reads go bloom → cache → index.
// Every rule change bumps the epoch, so a decision cached before the change
// is never served after it.
type repository struct {
	index   DomainIndex
	cache   DecisionCache
	factory BloomFactory
	fpRate  float64
	clock   clock.Clock

	bloom      atomic.Pointer[bloomRef]
	epoch      atomic.Uint64
	bloomSkips atomic.Uint64
	staleHits  atomic.Uint64
	updates    atomic.Uint64
	lastUpdate atomic.Int64
}

// NewRepository constructs a Repository.
// fpRate is the target false-positive rate for the Bloom filter when rebuilding.
// Until the first Update there is no Bloom filter and every name reaches the index.
func NewRepository(index DomainIndex, cache DecisionCache, factory BloomFactory, fpRate float64, clk clock.Clock) Repository {
	return &repository{index: index, cache: cache, factory: factory, fpRate: fpRate, clock: clk}
}

// Decide returns a BlockDecision for the provided domain name.
// An empty name is allowed.
func (r *repository) Decide(name string) domain.BlockDecision {
	cn := utils.CanonicalDNSName(name)
	if cn == "" {
		return domain.AllowDecision(cn)
	}
	epoch := r.epoch.Load()

	// 1) checkBloom: early-allow if definitively negative
	if !r.checkBloom(cn) {
		r.bloomSkips.Add(1)
		return domain.AllowDecision(cn)
	}
	// 2) checkCache
	if c, ok := r.cache.Get(cn); ok {
		if c.Epoch == epoch {
			return c.Decision
		}
		r.staleHits.Add(1)
	}
	// 3) checkIndex
	dec := domain.BlockDecision{
		Verdict: r.index.Classify(cn),
		Name:    cn,
		Apex:    utils.ApexDomain(cn),
	}
	// 4) updateCache
	r.cache.Put(cn, CachedDecision{Decision: dec, Epoch: epoch})
	return dec
}

// Update builds a Bloom filter for the new rule set, rebuilds the index and
// swaps both in before invalidating cached decisions.
func (r *repository) Update(domains domain.DomainSet, wildcards []domain.UserRule) {
	bf := r.buildBloom(domains, wildcards)
	r.index.Rebuild(domains, wildcards)
	r.bloom.Store(&bloomRef{f: bf})
	r.epoch.Add(1)
	r.cache.Purge()
	r.updates.Add(1)
	r.lastUpdate.Store(r.clock.Now().UnixNano())
}

// Block adds name to the live index as an exact block.
func (r *repository) Block(name string) bool {
	cn := utils.CanonicalDNSName(name)
	if cn == "" {
		return false
	}
	if ref := r.bloom.Load(); ref != nil {
		ref.f.Add(cn)
	}
	changed := r.index.AddDomain(cn)
	r.epoch.Add(1)
	return changed
}

// Unblock removes an exact block from the live index. Wildcard blocks are
// untouched. The Bloom filter keeps the key; it only costs an index lookup.
func (r *repository) Unblock(name string) bool {
	cn := utils.CanonicalDNSName(name)
	if cn == "" {
		return false
	}
	changed := r.index.RemoveDomain(cn)
	r.epoch.Add(1)
	return changed
}

func (r *repository) Stats() RepoStats {
	s := RepoStats{
		Cache:       r.cache.Stats(),
		Domains:     r.index.Count(),
		BuiltAt:     r.index.BuiltAt(),
		Epoch:       r.epoch.Load(),
		BloomSkips:  r.bloomSkips.Load(),
		StaleHits:   r.staleHits.Load(),
		UpdateCount: r.updates.Load(),
	}
	if ref := r.bloom.Load(); ref != nil {
		if sz, ok := ref.f.(interface{ ApproximatedSize() uint32 }); ok {
			s.BloomKeys = sz.ApproximatedSize()
		}
	}
	if ns := r.lastUpdate.Load(); ns != 0 {
		s.LastUpdate = time.Unix(0, ns)
	}
	return s
}

// buildBloom adds every key the index can block on: exact names, enabled
// wildcard block bases, and the DoH bypass tables. Keys are canonicalized
// the same way the index and Decide canonicalize names. Allow rules are left out;
// a Bloom miss already means allowed.
func (r *repository) buildBloom(domains domain.DomainSet, wildcards []domain.UserRule) BloomFilter {
	bypass := trie.BypassDomains()
	bypassWild := trie.BypassWildcards()

	n := uint64(len(domains) + len(wildcards) + len(bypass) + len(bypassWild))
	bf := r.factory.New(n, r.fpRate)
	for name := range domains {
		bf.Add(utils.CanonicalDNSName(name))
	}
	for _, w := range wildcards {
		if w.Enabled && w.Kind == domain.RuleBlock && w.IsSubtree() {
			bf.Add(utils.CanonicalDNSName(w.Hostname))
		}
	}
	for _, name := range bypass {
		bf.Add(name)
	}
	for _, name := range bypassWild {
		bf.Add(name)
	}
	return bf
}

// checkBloom returns true if we should consult the index (maybe-positive),
// or false if we can early-allow (definitely negative). Every suffix of the
// name is tested since a blocked parent blocks its subtree; this also
// covers the index's "www." fallback. With no Bloom filter loaded it
// returns true.
func (r *repository) checkBloom(cn string) bool {
	ref := r.bloom.Load()
	if ref == nil {
		return true
	}
	a := cn
	for {
		if ref.f.MightContain(a) {
			return true
		}
		i := strings.IndexByte(a, '.')
		if i < 0 || i == len(a)-1 {
			return false
		}
		a = a[i+1:]
	}
}

var _ Repository = (*repository)(nil)
