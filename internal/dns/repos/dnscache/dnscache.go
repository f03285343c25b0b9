// Package dnscache caches upstream replies to allowed queries so repeated
// lookups are answered without another upstream round trip.
package dnscache

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/domain"
)

// DefaultMaxTTL caps how long any reply is kept regardless of its records.
const DefaultMaxTTL = 5 * time.Minute

// entry is one cached reply. msg is never mutated after Put.
type entry struct {
	msg    *dns.Msg
	stored time.Time
	ttl    time.Duration
}

// dnsCache is an LRU of parsed upstream replies keyed by question.
type dnsCache struct {
	lru    *lru.Cache[string, entry]
	clock  clock.Clock
	maxTTL time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// New returns a cache of up to size replies, each kept for at most maxTTL.
// A maxTTL of zero means DefaultMaxTTL.
func New(size int, maxTTL time.Duration, clk clock.Clock) (*dnsCache, error) {
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &dnsCache{lru: cache, clock: clk, maxTTL: maxTTL}, nil
}

// Key identifies a question. Name case is folded; EDNS presence is part of
// the key since the reply carries or omits an OPT record accordingly.
func Key(q domain.DNSQuery) string {
	return fmt.Sprintf("%s|%d|%d|%t", strings.ToLower(q.Name), q.Type, q.Class, q.ARCount > 0)
}

// Put stores reply for q. Only NOERROR and NXDOMAIN replies with a positive
// TTL are kept; truncated or unparsable replies are ignored.
func (c *dnsCache) Put(q domain.DNSQuery, reply []byte) {
	msg := new(dns.Msg)
	if err := msg.Unpack(reply); err != nil {
		return
	}
	if msg.Truncated || (msg.Rcode != dns.RcodeSuccess && msg.Rcode != dns.RcodeNameError) {
		return
	}
	ttl, ok := replyTTL(msg)
	if !ok {
		return
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	c.lru.Add(Key(q), entry{msg: msg, stored: c.clock.Now(), ttl: ttl})
}

// Get returns a packed reply for q, carrying q's transaction ID and
// question name as sent, with record TTLs reduced by the time spent in the
// cache. Expired entries are removed.
func (c *dnsCache) Get(q domain.DNSQuery) ([]byte, bool) {
	key := Key(q)
	e, found := c.lru.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	age := c.clock.Now().Sub(e.stored)
	if age >= e.ttl {
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil, false
	}

	msg := e.msg.Copy()
	msg.Id = q.ID
	if len(msg.Question) > 0 {
		msg.Question[0].Name = dns.Fqdn(q.Name)
	}
	elapsed := uint32(age / time.Second)
	for _, section := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range section {
			h := rr.Header()
			if h.Rrtype == dns.TypeOPT {
				continue
			}
			if h.Ttl > elapsed {
				h.Ttl -= elapsed
			} else {
				h.Ttl = 0
			}
		}
	}
	out, err := msg.Pack()
	if err != nil {
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return out, true
}

// Delete removes the entry for q.
func (c *dnsCache) Delete(q domain.DNSQuery) {
	c.lru.Remove(Key(q))
}

// Purge drops every entry.
func (c *dnsCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached replies, expired ones included until
// they are next looked up.
func (c *dnsCache) Len() int {
	return c.lru.Len()
}

func (c *dnsCache) Stats() Stats {
	return Stats{Size: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// replyTTL is the smallest TTL among answer and authority records. For a
// negative reply the SOA minimum also bounds it, per RFC 2308.
func replyTTL(msg *dns.Msg) (time.Duration, bool) {
	var minTTL uint32
	found := false
	for _, section := range [][]dns.RR{msg.Answer, msg.Ns} {
		for _, rr := range section {
			ttl := rr.Header().Ttl
			if soa, ok := rr.(*dns.SOA); ok && len(msg.Answer) == 0 && soa.Minttl < ttl {
				ttl = soa.Minttl
			}
			if !found || ttl < minTTL {
				minTTL = ttl
				found = true
			}
		}
	}
	if !found || minTTL == 0 {
		return 0, false
	}
	return time.Duration(minTTL) * time.Second, true
}
