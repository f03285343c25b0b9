// Package trie implements the reversed-label domain trie that classifies
// every intercepted DNS query.
//
// Labels are stored top-level domain first, so ".com" and ".net" paths are
// shared by every rule underneath them and a lookup costs one map access per
// label regardless of how many rules are loaded.
//
// The live structure is a generation published through an atomic pointer.
// Rebuild assembles a complete generation off to the side and swaps it in
// with a single store; readers always see a fully built generation.
// AddDomain and RemoveDomain mutate whichever generation is live at the
// time they run. A mutation racing a Rebuild may land on the superseded
// generation and be lost; callers that need it to survive must also record
// it in the rule set that feeds the next Rebuild.
package trie

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/utils"
	"github.com/haukened/nullroute/internal/dns/domain"
)

type node struct {
	children map[string]*node

	terminal      bool // this exact name is blocked
	wildcardBlock bool // this name and its subtree are blocked
	wildcardAllow bool // this name and its subtree are allowed, overriding any block
}

func (n *node) childOrCreate(label string) *node {
	if c := n.children[label]; c != nil {
		return c
	}
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	c := &node{}
	n.children[label] = c
	return c
}

// generation is one immutable-by-swap snapshot of the rule set.
type generation struct {
	// mu only serializes in-place single-domain mutation against walks;
	// Go maps cannot be read while another goroutine writes them.
	mu      sync.RWMutex
	root    node
	count   atomic.Int64 // advisory number of terminal entries
	builtAt time.Time
}

// path walks (and creates) the node for name. Returns nil for an empty name.
func (g *generation) path(name string) *node {
	labels := utils.ReverseLabels(name)
	if len(labels) == 0 {
		return nil
	}
	n := &g.root
	for _, l := range labels {
		n = n.childOrCreate(l)
	}
	return n
}

func (g *generation) insert(name string) bool {
	n := g.path(name)
	if n == nil || n.terminal {
		return false
	}
	n.terminal = true
	g.count.Add(1)
	return true
}

func (g *generation) remove(name string) bool {
	n := &g.root
	for _, l := range utils.ReverseLabels(name) {
		if n = n.children[l]; n == nil {
			return false
		}
	}
	if n == &g.root || !n.terminal {
		return false
	}
	n.terminal = false
	g.count.Add(-1)
	return true
}

// walk classifies name against the generation. decided is false when no
// rule matched at all, in which case the caller may try the www fallback.
func (g *generation) walk(name string) (v domain.Verdict, decided bool) {
	n := &g.root
	pending := false
	rest := name
	for rest != "" {
		var label string
		if i := strings.LastIndexByte(rest, '.'); i >= 0 {
			label, rest = rest[i+1:], rest[:i]
		} else {
			label, rest = rest, ""
		}
		child := n.children[label]
		if child == nil {
			if pending {
				return domain.Blocked, true
			}
			return domain.Allowed, false
		}
		if child.wildcardAllow {
			return domain.Allowed, true
		}
		if child.wildcardBlock {
			pending = true
		}
		n = child
	}
	if n.terminal || pending {
		return domain.Blocked, true
	}
	return domain.Allowed, false
}

// DomainTrie classifies hostnames as blocked or allowed.
// All methods are safe for concurrent use.
//
// Reads are not lock-free. Classify holds the live generation's read lock
// for the length of one walk, so an in-flight AddDomain or RemoveDomain
// briefly blocks readers of that generation. Rebuild builds a fresh
// generation off to the side and swaps the pointer, which never blocks
// readers; a walk that started on the old generation finishes there.
type DomainTrie struct {
	current atomic.Pointer[generation]
	clock   clock.Clock
}

// New returns a trie whose first generation already holds the DoH bypass tables.
func New(clk clock.Clock) *DomainTrie {
	if clk == nil {
		clk = clock.RealClock{}
	}
	t := &DomainTrie{clock: clk}
	t.Rebuild(nil, nil)
	return t
}

// Rebuild replaces the live structure with a new generation holding every
// name in domains, the DoH bypass tables, and every enabled subtree wildcard
// rule. Block rules set wildcardBlock and allow rules set wildcardAllow;
// redirect rules and non-subtree patterns are ignored.
func (t *DomainTrie) Rebuild(domains domain.DomainSet, wildcards []domain.UserRule) {
	g := &generation{}
	for name := range domains {
		g.insert(utils.CanonicalDNSName(name))
	}
	for _, name := range dohBypassDomains {
		g.insert(name)
	}
	for _, name := range dohBypassWildcards {
		g.path(name).wildcardBlock = true
	}
	for _, r := range wildcards {
		if !r.Enabled || !r.IsSubtree() {
			continue
		}
		n := g.path(utils.CanonicalDNSName(r.Hostname))
		if n == nil {
			continue
		}
		switch r.Kind {
		case domain.RuleBlock:
			n.wildcardBlock = true
		case domain.RuleAllow:
			n.wildcardAllow = true
		}
	}
	g.builtAt = t.clock.Now()
	t.current.Store(g)
}

// AddDomain marks host as blocked in the live generation. Wildcard flags
// are left untouched.
func (t *DomainTrie) AddDomain(host string) bool {
	name := utils.CanonicalDNSName(host)
	if name == "" {
		return false
	}
	g := t.current.Load()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.insert(name)
}

// RemoveDomain clears the exact-block flag for host in the live generation.
// It reports whether a flag was actually cleared.
func (t *DomainTrie) RemoveDomain(host string) bool {
	name := utils.CanonicalDNSName(host)
	if name == "" {
		return false
	}
	g := t.current.Load()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remove(name)
}

// Classify returns Blocked or Allowed for hostname.
//
// An allow wildcard on any ancestor wins immediately. A block wildcard is
// remembered while the walk continues so a deeper allow can still override
// it. An exact entry only matches when the walk consumes every label. When
// nothing matched and the name starts with "www.", the bare name is tried
// once.
func (t *DomainTrie) Classify(hostname string) domain.Verdict {
	name := utils.CanonicalDNSName(hostname)
	if name == "" {
		return domain.Allowed
	}
	g := t.current.Load()
	g.mu.RLock()
	defer g.mu.RUnlock()

	if v, ok := g.walk(name); ok {
		return v
	}
	if bare, ok := utils.StripWWW(name); ok {
		if v, ok := g.walk(bare); ok {
			return v
		}
	}
	return domain.Allowed
}

// Count returns the advisory number of exact entries in the live
// generation, bypass domains included.
func (t *DomainTrie) Count() int64 {
	return t.current.Load().count.Load()
}

// BuiltAt returns when the live generation was assembled.
func (t *DomainTrie) BuiltAt() time.Time {
	return t.current.Load().builtAt
}
