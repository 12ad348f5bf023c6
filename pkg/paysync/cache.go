package paysync

import (
	"sync"
	"time"
)

// Cache defines the interface for short-TTL caching of reconciled records on
// the projection read path. A cached nil value is a valid "known absent"
// answer; a miss must fall through to the durable Store, never to the
// provider.
type Cache interface {
	// GetSubscription retrieves a cached subscription row.
	// Returns the row (possibly nil for known-absent) and true if cached.
	GetSubscription(userID string) (*SubscriptionState, bool)

	// SetSubscription stores a subscription row with TTL.
	SetSubscription(userID string, state *SubscriptionState, ttl time.Duration)

	// GetPurchase retrieves a cached purchase by buyer+product key.
	GetPurchase(buyerID, productID string) (*PurchaseRecord, bool)

	// SetPurchase stores a purchase with TTL.
	SetPurchase(buyerID, productID string, rec *PurchaseRecord, ttl time.Duration)

	// GetPayout retrieves a cached payout account status.
	GetPayout(artistID string) (*PayoutAccountStatus, bool)

	// SetPayout stores a payout account status with TTL.
	SetPayout(artistID string, status *PayoutAccountStatus, ttl time.Duration)

	// Clear removes all entries from the cache.
	Clear()

	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// cacheEntry wraps a cached value with expiration time and access time for LRU
type cacheEntry struct {
	value      interface{}
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak when access times are equal
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// NoopCache is a cache implementation that does nothing.
// Used when caching is disabled.
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) GetSubscription(_ string) (*SubscriptionState, bool) { return nil, false }

func (c *NoopCache) SetSubscription(_ string, _ *SubscriptionState, _ time.Duration) {}

func (c *NoopCache) GetPurchase(_, _ string) (*PurchaseRecord, bool) { return nil, false }

func (c *NoopCache) SetPurchase(_, _ string, _ *PurchaseRecord, _ time.Duration) {}

func (c *NoopCache) GetPayout(_ string) (*PayoutAccountStatus, bool) { return nil, false }

func (c *NoopCache) SetPayout(_ string, _ *PayoutAccountStatus, _ time.Duration) {}

func (c *NoopCache) Clear() {}

func (c *NoopCache) Stats() CacheStats { return CacheStats{} }

// LRUCache implements Cache using an in-memory LRU cache with TTL support
type LRUCache struct {
	entries    map[string]*cacheEntry
	maxEntries int
	mu         sync.RWMutex
	hits       int64
	misses     int64
	evictions  int64
	sequence   int64
}

// NewLRUCache creates a new LRU cache with the given capacity.
// maxEntries <= 0 defaults to 1024.
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &LRUCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
	}
}

func subscriptionKey(userID string) string { return "sub:" + userID }

func purchaseKey(buyerID, productID string) string { return "pur:" + buyerID + ":" + productID }

func payoutKey(artistID string) string { return "pay:" + artistID }

func (c *LRUCache) GetSubscription(userID string) (*SubscriptionState, bool) {
	v, ok := c.get(subscriptionKey(userID))
	if !ok {
		return nil, false
	}
	state, _ := v.(*SubscriptionState)
	return state, true
}

func (c *LRUCache) SetSubscription(userID string, state *SubscriptionState, ttl time.Duration) {
	c.set(subscriptionKey(userID), state, ttl)
}

func (c *LRUCache) GetPurchase(buyerID, productID string) (*PurchaseRecord, bool) {
	v, ok := c.get(purchaseKey(buyerID, productID))
	if !ok {
		return nil, false
	}
	rec, _ := v.(*PurchaseRecord)
	return rec, true
}

func (c *LRUCache) SetPurchase(buyerID, productID string, rec *PurchaseRecord, ttl time.Duration) {
	c.set(purchaseKey(buyerID, productID), rec, ttl)
}

func (c *LRUCache) GetPayout(artistID string) (*PayoutAccountStatus, bool) {
	v, ok := c.get(payoutKey(artistID))
	if !ok {
		return nil, false
	}
	status, _ := v.(*PayoutAccountStatus)
	return status, true
}

func (c *LRUCache) SetPayout(artistID string, status *PayoutAccountStatus, ttl time.Duration) {
	c.set(payoutKey(artistID), status, ttl)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

func (c *LRUCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.isExpired() {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}

	entry.accessTime = time.Now()
	c.sequence++
	entry.sequence = c.sequence
	c.hits++
	return entry.value, true
}

func (c *LRUCache) set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.sequence++
	c.entries[key] = &cacheEntry{
		value:      value,
		expiration: time.Now().Add(ttl),
		accessTime: time.Now(),
		sequence:   c.sequence,
	}
}

// evictOldest removes the least recently used entry. Caller must hold c.mu.
func (c *LRUCache) evictOldest() {
	var oldestKey string
	var oldest *cacheEntry

	for key, entry := range c.entries {
		if oldest == nil ||
			entry.accessTime.Before(oldest.accessTime) ||
			(entry.accessTime.Equal(oldest.accessTime) && entry.sequence < oldest.sequence) {
			oldestKey = key
			oldest = entry
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
