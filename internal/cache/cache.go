package cache

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/threatforge/enrichment-engine/internal/config"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// Process-wide enrichment result cache.
//
// One instance is shared by every adapter call in the process. Entries carry
// their own expiry and are evicted lazily on read. Verdicts other than
// unknown get the positive TTL; unknown results (missing credential, 404,
// transport failure) get the shorter negative TTL so a transient outage
// does not suppress lookups for a full day.
//
// There is no distributed mode: warmth is lost on restart, and TTL changes
// apply to future writes only.

// Key derives the stable cache key for one (provider, type, value) lookup.
func Key(provider string, iocType models.IOCType, value string) string {
	sum := md5.Sum([]byte(provider + ":" + string(iocType) + ":" + value))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	expiresAt time.Time
	result    models.NormalizedResult
}

// ResultCache is a concurrency-safe TTL map of normalized provider results.
type ResultCache struct {
	mu          sync.Mutex
	entries     map[string]entry
	positiveTTL time.Duration
	negativeTTL time.Duration

	// now is swapped by tests to simulate clock advance.
	now func() time.Time
}

// New builds a cache with the given TTLs, clamped to the allowed ranges.
func New(positiveTTL, negativeTTL time.Duration) *ResultCache {
	return &ResultCache{
		entries:     make(map[string]entry),
		positiveTTL: config.ClampPositiveTTL(positiveTTL),
		negativeTTL: config.ClampNegativeTTL(negativeTTL),
		now:         time.Now,
	}
}

// Get returns the cached result for key if present and unexpired.
// Expired entries are removed on the way out.
func (c *ResultCache) Get(key string) (models.NormalizedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return models.NormalizedResult{}, false
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return models.NormalizedResult{}, false
	}
	return e.result, true
}

// Put stores a result under key, choosing the positive or negative TTL
// from the result's verdict.
func (c *ResultCache) Put(key string, result models.NormalizedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := c.positiveTTL
	if result.Verdict == models.VerdictUnknown {
		ttl = c.negativeTTL
	}
	c.entries[key] = entry{expiresAt: c.now().Add(ttl), result: result}
}

// SetTTLs updates the TTLs for future writes, clamped to the allowed
// ranges, and returns the effective values. Existing entries keep the
// expiry they were written with.
func (c *ResultCache) SetTTLs(positive, negative time.Duration) (time.Duration, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.positiveTTL = config.ClampPositiveTTL(positive)
	c.negativeTTL = config.ClampNegativeTTL(negative)
	return c.positiveTTL, c.negativeTTL
}

// TTLs returns the TTLs currently applied to new writes.
func (c *ResultCache) TTLs() (time.Duration, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positiveTTL, c.negativeTTL
}

// Clear drops every entry. Keys are hashed, so value-targeted eviction is
// not supported; flushing everything is the only admin escape hatch.
func (c *ResultCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// Len reports the number of stored entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
