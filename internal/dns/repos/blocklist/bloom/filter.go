// Package bloom adapts bits-and-blooms filters to the blocklist repository's
// negative prefilter. Keys are canonical domain names.
package bloom

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/nullroute/internal/dns/repos/blocklist"
)

// DefaultFPRate applies when the configured rate is outside (0, 1).
const DefaultFPRate = 0.01

type factory struct{}

// NewFactory returns a BloomFactory sizing each filter with
// bits-and-blooms' estimator.
func NewFactory() blocklist.BloomFactory { return factory{} }

// New returns an empty filter for capacity names at fpRate. A zero capacity
// still yields a usable filter.
func (factory) New(capacity uint64, fpRate float64) blocklist.BloomFilter {
	m, k := Params(capacity, fpRate)
	return &filter{bf: bitsbloom.New(m, k)}
}

// Params returns the bit count and hash count for n names at rate p.
func Params(n uint64, p float64) (m, k uint) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = DefaultFPRate
	}
	return bitsbloom.EstimateParameters(uint(n), p)
}

// filter guards the bitset: bits-and-blooms does not synchronize Add
// against Test.
type filter struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

func (f *filter) Add(name string) {
	f.mu.Lock()
	f.bf.AddString(name)
	f.mu.Unlock()
}

func (f *filter) MightContain(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.TestString(name)
}

// ApproximatedSize estimates how many distinct names were added.
func (f *filter) ApproximatedSize() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.ApproximatedSize()
}
