package sdk

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// CacheConfig configures the two-tier TTL cache.
type CacheConfig struct {
	// KeyPrefix namespaces this cache's entries in the durable store.
	// Default: "cache."
	KeyPrefix string

	// BlobThreshold is the value size in bytes above which the payload is
	// stored in the blob store, referenced from a small metadata record.
	// Default: 8 KiB
	BlobThreshold int

	// SweepInterval is how often expired entries are removed from the
	// durable tier. The owning client drives the sweep; this value is only
	// a default for it.
	// Default: 10m
	SweepInterval time.Duration
}

// DefaultCacheConfig returns the cache configuration used when none is
// supplied.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		KeyPrefix:     "cache.",
		BlobThreshold: 8 * 1024,
		SweepInterval: 10 * time.Minute,
	}
}

// cacheEntry is the fast-tier record. The same shape, JSON-encoded, is the
// durable-tier envelope.
type cacheEntry struct {
	Value     []byte `json:"value"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Blob      bool   `json:"blob,omitempty"`
}

func (e cacheEntry) expired(now time.Time) bool {
	return epochMillis(now) >= e.ExpiresAt
}

// originalTTL returns the TTL the entry was written with.
func (e cacheEntry) originalTTL() time.Duration {
	return time.Duration(e.ExpiresAt-e.CreatedAt) * time.Millisecond
}

// remainingTTL returns the TTL left at now, which may be negative.
func (e cacheEntry) remainingTTL(now time.Time) time.Duration {
	return time.Duration(e.ExpiresAt-epochMillis(now)) * time.Millisecond
}

// TTLCache is a two-tier byte cache: an in-process map for the fast path
// and a durable Store that survives restart for entries written with
// persist=true. Values above the blob threshold are offloaded to the blob
// store so the primary key/value store stays small.
//
// Reads fall through from the fast tier to the durable tier, hydrating the
// fast tier on the way back. GetOrFetch adds stale-while-revalidate: a
// value close to expiry is still served while a background refresh runs.
type TTLCache struct {
	config   CacheConfig
	store    Store
	blobs    BlobStore
	clock    Clock
	observer Observer

	mu      sync.RWMutex
	entries map[string]cacheEntry

	refreshMu  sync.Mutex
	refreshing map[string]bool
}

// NewTTLCache creates a cache over the given durable store. store and
// blobs may be nil, in which case only the fast tier is used.
func NewTTLCache(config CacheConfig, store Store, blobs BlobStore, clock Clock, observer Observer) *TTLCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "cache."
	}
	if config.BlobThreshold <= 0 {
		config.BlobThreshold = 8 * 1024
	}
	if clock == nil {
		clock = SystemClock()
	}
	if observer == nil {
		observer = &NoopObserver{}
	}
	return &TTLCache{
		config:     config,
		store:      store,
		blobs:      blobs,
		clock:      clock,
		observer:   observer,
		entries:    make(map[string]cacheEntry),
		refreshing: make(map[string]bool),
	}
}

// Put stores value under key with the given TTL. When persist is true the
// entry is also written to the durable store and survives restart.
func (c *TTLCache) Put(key string, value []byte, ttl time.Duration, persist bool) {
	now := c.clock.Now()
	entry := cacheEntry{
		Value:     value,
		CreatedAt: epochMillis(now),
		ExpiresAt: epochMillis(now.Add(ttl)),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if persist && c.store != nil {
		c.persistEntry(key, entry)
	}
}

// persistEntry writes the durable envelope, offloading large values to the
// blob store. Failures clear the entry rather than propagating.
func (c *TTLCache) persistEntry(key string, entry cacheEntry) {
	storeKey := c.storeKey(key)

	envelope := entry
	if len(entry.Value) > c.config.BlobThreshold && c.blobs != nil {
		if err := c.blobs.SetBlob(storeKey, entry.Value); err != nil {
			return
		}
		envelope.Value = nil
		envelope.Blob = true
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if err := c.store.SetString(storeKey, string(data)); err != nil {
		c.store.Remove(storeKey)
	}
}

// Get returns the cached value for key. Expired entries are misses unless
// allowExpired is true. Falls through to the durable tier on a fast-tier
// miss, hydrating the fast tier.
func (c *TTLCache) Get(key string, allowExpired bool) ([]byte, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		entry, ok = c.hydrate(key)
	}
	if !ok {
		c.observer.OnCacheMiss(key)
		return nil, false
	}

	if entry.expired(now) && !allowExpired {
		c.observer.OnCacheMiss(key)
		return nil, false
	}

	c.observer.OnCacheHit(key)
	return entry.Value, true
}

// hydrate loads an entry from the durable tier into the fast tier.
// A corrupt durable record is removed rather than surfaced.
func (c *TTLCache) hydrate(key string) (cacheEntry, bool) {
	if c.store == nil {
		return cacheEntry{}, false
	}
	storeKey := c.storeKey(key)

	raw, found, err := c.store.GetString(storeKey)
	if err != nil || !found {
		return cacheEntry{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.store.Remove(storeKey)
		return cacheEntry{}, false
	}

	if entry.Blob {
		if c.blobs == nil {
			c.store.Remove(storeKey)
			return cacheEntry{}, false
		}
		data, found, err := c.blobs.GetBlob(storeKey)
		if err != nil || !found {
			c.store.Remove(storeKey)
			return cacheEntry{}, false
		}
		entry.Value = data
		entry.Blob = false
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry, true
}

// GetOrFetch returns the cached value for key if present and not expired.
// When the remaining TTL has fallen below 10% of the original TTL, a
// non-blocking background refresh via provider is started while the cached
// value is still returned (stale-while-revalidate). With no usable cached
// value the fetch runs inline and the result is cached before returning.
func (c *TTLCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, provider func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		entry, ok = c.hydrate(key)
	}

	if ok && !entry.expired(now) {
		c.observer.OnCacheHit(key)
		if entry.remainingTTL(now) < entry.originalTTL()/10 {
			c.refreshInBackground(key, ttl, provider)
		}
		return entry.Value, nil
	}

	c.observer.OnCacheMiss(key)
	value, err := provider(ctx)
	if err != nil {
		return nil, err
	}
	c.Put(key, value, ttl, true)
	return value, nil
}

// refreshInBackground runs at most one refresh per key at a time.
func (c *TTLCache) refreshInBackground(key string, ttl time.Duration, provider func(ctx context.Context) ([]byte, error)) {
	c.refreshMu.Lock()
	if c.refreshing[key] {
		c.refreshMu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.refreshMu.Unlock()

	go func() {
		defer func() {
			c.refreshMu.Lock()
			delete(c.refreshing, key)
			c.refreshMu.Unlock()
		}()

		value, err := provider(context.Background())
		if err != nil {
			return
		}
		c.Put(key, value, ttl, true)
	}()
}

// Remove deletes key from both tiers.
func (c *TTLCache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.store != nil {
		storeKey := c.storeKey(key)
		c.store.Remove(storeKey)
		if c.blobs != nil {
			c.blobs.RemoveBlob(storeKey)
		}
	}
}

// Clear removes every entry owned by this cache from both tiers.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	keys, err := c.store.KeysWithPrefix(c.config.KeyPrefix)
	if err != nil {
		return
	}
	for _, k := range keys {
		c.store.Remove(k)
		if c.blobs != nil {
			c.blobs.RemoveBlob(k)
		}
	}
}

// Sweep removes expired entries from both tiers. The owning client calls
// this on a timer.
func (c *TTLCache) Sweep() {
	now := c.clock.Now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}

	keys, err := c.store.KeysWithPrefix(c.config.KeyPrefix)
	if err != nil {
		return
	}
	for _, storeKey := range keys {
		raw, found, err := c.store.GetString(storeKey)
		if err != nil || !found {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			c.store.Remove(storeKey)
			continue
		}
		if entry.expired(now) {
			c.store.Remove(storeKey)
			if c.blobs != nil {
				c.blobs.RemoveBlob(storeKey)
			}
		}
	}
}

// storeKey builds the normalized durable-store key for a cache key.
func (c *TTLCache) storeKey(key string) string {
	return c.config.KeyPrefix + normalizeKey(key)
}

// normalizeKey replaces characters outside [A-Za-z0-9._-] with '_' so keys
// are safe for any backing store.
func normalizeKey(key string) string {
	out := []byte(key)
	for i := 0; i < len(out); i++ {
		b := out[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		case b == '.' || b == '_' || b == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
