package keys

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto/v2"
)

// verifyCache remembers verification outcomes for hot (secret, hash)
// pairs so repeated calls skip the bcrypt comparison. Entries are keyed
// by a SHA-256 digest of the pair; raw secrets never enter the cache.
type verifyCache struct {
	entries int64
	cache   *ristretto.Cache[string, bool]
}

func newVerifyCache(entries int64) *verifyCache {
	if entries <= 0 {
		entries = 1000
	}
	return &verifyCache{entries: entries}
}

func (c *verifyCache) init() error {
	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: c.entries * 10,
		MaxCost:     c.entries,
		BufferItems: 64,
	})
	if err != nil {
		return err
	}
	c.cache = cache
	return nil
}

func (c *verifyCache) get(secret, hash string) (result, hit bool) {
	return c.cache.Get(cacheKey(secret, hash))
}

func (c *verifyCache) put(secret, hash string, result bool) {
	c.cache.Set(cacheKey(secret, hash), result, 1)
}

// cacheKey digests the pair so neither the secret nor the hash is held
// beyond the entry's lifetime.
func cacheKey(secret, hash string) string {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte{0})
	h.Write([]byte(hash))
	return hex.EncodeToString(h.Sum(nil))
}
