package blocklist

import "time"

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity  int    // configured capacity (0 for disabled cache)
	Size      int    // current number of entries
	Hits      uint64 // total cache hits since construction
	Misses    uint64 // total cache misses since construction
	Evictions uint64 // total evictions since construction
}

// StoreStats reports lightweight rule store metrics and metadata.
// Values are read from the store in a cheap, read-only transaction.
type StoreStats struct {
	Version     uint64 // incremented on every write (0 if never written)
	UpdatedUnix int64  // last write unix time (0 if never written)
	Rules       uint64 // number of stored rules
}

// RepoStats exposes repository-level counters.
type RepoStats struct {
	Cache       CacheStats
	Domains     int64     // advisory domain count of the live index
	BuiltAt     time.Time // when the live index generation was built
	Epoch       uint64    // bumped on every rule change
	BloomKeys   uint32    // approximate distinct keys in the Bloom filter
	BloomSkips  uint64    // decisions answered by the Bloom filter alone
	StaleHits   uint64    // cached decisions discarded for an old epoch
	LastUpdate  time.Time // last Update call (zero if never updated)
	UpdateCount uint64
}
