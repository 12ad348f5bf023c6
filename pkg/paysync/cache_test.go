package paysync

import (
	"testing"
	"time"
)

func TestLRUCache_SubscriptionRoundTrip(t *testing.T) {
	cache := NewLRUCache(10)

	state := &SubscriptionState{
		UserID: "user_1",
		Status: SubscriptionActive,
	}
	cache.SetSubscription("user_1", state, time.Minute)

	got, ok := cache.GetSubscription("user_1")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if got.Status != SubscriptionActive {
		t.Errorf("Expected status active, got %s", got.Status)
	}
}

func TestLRUCache_KnownAbsent(t *testing.T) {
	cache := NewLRUCache(10)

	// A cached nil is a valid "known absent" answer, distinct from a miss.
	cache.SetSubscription("user_none", nil, time.Minute)

	got, ok := cache.GetSubscription("user_none")
	if !ok {
		t.Fatal("Expected cache hit for known-absent entry")
	}
	if got != nil {
		t.Errorf("Expected nil value, got %+v", got)
	}
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := NewLRUCache(10)

	cache.SetPayout("artist_1", &PayoutAccountStatus{ArtistID: "artist_1", Onboarded: true}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := cache.GetPayout("artist_1"); ok {
		t.Error("Expected expired entry to miss")
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(2)

	cache.SetPurchase("u1", "p1", &PurchaseRecord{PurchaseID: "a"}, time.Minute)
	cache.SetPurchase("u2", "p2", &PurchaseRecord{PurchaseID: "b"}, time.Minute)

	// Touch the first entry so the second becomes LRU.
	if _, ok := cache.GetPurchase("u1", "p1"); !ok {
		t.Fatal("Expected hit for first entry")
	}

	cache.SetPurchase("u3", "p3", &PurchaseRecord{PurchaseID: "c"}, time.Minute)

	if _, ok := cache.GetPurchase("u2", "p2"); ok {
		t.Error("Expected LRU entry to be evicted")
	}
	if _, ok := cache.GetPurchase("u1", "p1"); !ok {
		t.Error("Expected recently used entry to survive eviction")
	}

	stats := cache.Stats()
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestLRUCache_ZeroTTLIgnored(t *testing.T) {
	cache := NewLRUCache(10)

	cache.SetSubscription("user_1", &SubscriptionState{UserID: "user_1"}, 0)

	if _, ok := cache.GetSubscription("user_1"); ok {
		t.Error("Expected zero-TTL set to be ignored")
	}
}

func TestNoopCache(t *testing.T) {
	cache := NewNoopCache()

	cache.SetSubscription("user_1", &SubscriptionState{UserID: "user_1"}, time.Minute)
	if _, ok := cache.GetSubscription("user_1"); ok {
		t.Error("NoopCache should never hit")
	}
	if stats := cache.Stats(); stats.Size != 0 {
		t.Error("NoopCache should report empty stats")
	}
}
