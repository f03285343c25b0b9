// Package bolt stores user rules in a bbolt database.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/nullroute/internal/dns/common/clock"
	"github.com/haukened/nullroute/internal/dns/common/utils"
	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist"
)

var (
	bucketRules = []byte("rules")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

// errBucketMissing is returned when a transaction finds a required bucket absent.
var errBucketMissing = errors.New("bolt: bucket missing")

// bucketCreator is the slice of *bbolt.Tx used to ensure buckets exist.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

// ensureBucketsFn is swapped out in tests to exercise bucket creation failures.
var ensureBucketsFn = func(tx bucketCreator) error { return ensureBuckets(tx) }

// boltStore implements blocklist.RuleStore using bbolt.
type boltStore struct {
	db    *bbolt.DB
	clock clock.Clock
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string, clk clock.Clock) (blocklist.RuleStore, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open rule store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, clock: clk}, nil
}

func ensureBuckets(tx bucketCreator) error {
	for _, name := range [][]byte{bucketRules, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	return nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// Put validates rule and stores it, replacing any rule with the same key.
func (s *boltStore) Put(rule domain.UserRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b == nil {
			return errBucketMissing
		}
		if err := b.Put([]byte(rule.Key()), val); err != nil {
			return err
		}
		return s.touch(tx)
	})
}

// Delete removes the rule identified by kind, hostname and wildcard flag.
// It reports whether a rule was removed.
func (s *boltStore) Delete(kind domain.RuleKind, hostname string, wildcard bool) (bool, error) {
	key := []byte(domain.UserRule{Kind: kind, Hostname: utils.CanonicalDNSName(hostname), Wildcard: wildcard}.Key())
	var found bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b == nil {
			return errBucketMissing
		}
		if b.Get(key) == nil {
			return nil
		}
		found = true
		if err := b.Delete(key); err != nil {
			return err
		}
		return s.touch(tx)
	})
	return found && err == nil, err
}

// List returns every stored rule in key order. Values that fail to decode
// are reported as an error naming the key.
func (s *boltStore) List() ([]domain.UserRule, error) {
	var out []domain.UserRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b == nil {
			return errBucketMissing
		}
		out = make([]domain.UserRule, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			r, err := decodeRule(v)
			if err != nil {
				return fmt.Errorf("rule %q: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *boltStore) Stats() blocklist.StoreStats {
	st := blocklist.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketRules); b != nil {
			st.Rules = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyVersion); len(v) == 8 {
				st.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

// touch bumps the version and records the write time.
func (s *boltStore) touch(tx *bbolt.Tx) error {
	b := tx.Bucket(bucketMeta)
	if b == nil {
		return errBucketMissing
	}
	var version uint64
	if v := b.Get(keyVersion); len(v) == 8 {
		version = binary.BigEndian.Uint64(v)
	}
	vbuf := make([]byte, 8)
	ubuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, version+1)
	binary.BigEndian.PutUint64(ubuf, uint64(s.clock.Now().Unix()))
	if err := b.Put(keyVersion, vbuf); err != nil {
		return err
	}
	return b.Put(keyUpdated, ubuf)
}

func decodeRule(v []byte) (domain.UserRule, error) {
	var r domain.UserRule
	if err := json.Unmarshal(v, &r); err != nil {
		return domain.UserRule{}, fmt.Errorf("decode: %w", err)
	}
	if err := r.Validate(); err != nil {
		return domain.UserRule{}, err
	}
	return r, nil
}

var _ blocklist.RuleStore = (*boltStore)(nil)
