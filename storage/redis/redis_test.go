package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	client := setupTestRedis(t)
	store, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("New(nil) should fail")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	store, err := New(client, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if store.config.KeyPrefix != "paysync:" {
		t.Errorf("KeyPrefix = %q, want %q", store.config.KeyPrefix, "paysync:")
	}
}

func TestCustomerRefLookups(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	ref := &paysync.CustomerRef{
		UserID:     "user_1",
		ArtistID:   "artist_1",
		CustomerID: "cus_123",
		AccountID:  "acct_456",
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.PutCustomerRef(ctx, ref); err != nil {
		t.Fatalf("PutCustomerRef() error = %v", err)
	}

	got, err := store.GetCustomerRef(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetCustomerRef() error = %v", err)
	}
	if got.CustomerID != "cus_123" {
		t.Errorf("CustomerID = %q, want cus_123", got.CustomerID)
	}

	got, err = store.GetCustomerRefByCustomerID(ctx, "cus_123")
	if err != nil {
		t.Fatalf("GetCustomerRefByCustomerID() error = %v", err)
	}
	if got.UserID != "user_1" {
		t.Errorf("UserID = %q, want user_1", got.UserID)
	}

	got, err = store.GetCustomerRefByAccountID(ctx, "acct_456")
	if err != nil {
		t.Fatalf("GetCustomerRefByAccountID() error = %v", err)
	}
	if got.ArtistID != "artist_1" {
		t.Errorf("ArtistID = %q, want artist_1", got.ArtistID)
	}

	if _, err := store.GetCustomerRef(ctx, "missing"); !errors.Is(err, paysync.ErrCustomerRefNotFound) {
		t.Errorf("GetCustomerRef(missing) error = %v, want ErrCustomerRefNotFound", err)
	}
}

func TestCustomerRefReindexOnUpdate(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	ref := &paysync.CustomerRef{UserID: "user_1", CustomerID: "cus_old"}
	if err := store.PutCustomerRef(ctx, ref); err != nil {
		t.Fatalf("PutCustomerRef() error = %v", err)
	}

	ref.CustomerID = "cus_new"
	if err := store.PutCustomerRef(ctx, ref); err != nil {
		t.Fatalf("PutCustomerRef() error = %v", err)
	}

	if _, err := store.GetCustomerRefByCustomerID(ctx, "cus_old"); !errors.Is(err, paysync.ErrCustomerRefNotFound) {
		t.Errorf("stale customer index should be gone, got err = %v", err)
	}
	got, err := store.GetCustomerRefByCustomerID(ctx, "cus_new")
	if err != nil {
		t.Fatalf("GetCustomerRefByCustomerID(cus_new) error = %v", err)
	}
	if got.UserID != "user_1" {
		t.Errorf("UserID = %q, want user_1", got.UserID)
	}
}

func TestSubscriptionStateOverwrite(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	state := &paysync.SubscriptionState{
		UserID:             "user_1",
		SubscriptionID:     "sub_123",
		Status:             paysync.SubscriptionActive,
		PriceID:            "price_1",
		PaymentMethodBrand: "visa",
		PaymentMethodLast4: "4242",
		UpdatedAt:          time.Now().UTC(),
	}
	if err := store.SetSubscriptionState(ctx, state); err != nil {
		t.Fatalf("SetSubscriptionState() error = %v", err)
	}

	// The whole row is overwritten, not merged
	if err := store.SetSubscriptionState(ctx, &paysync.SubscriptionState{
		UserID: "user_1",
		Status: paysync.SubscriptionNone,
	}); err != nil {
		t.Fatalf("SetSubscriptionState() error = %v", err)
	}

	got, err := store.GetSubscriptionState(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetSubscriptionState() error = %v", err)
	}
	if got.Status != paysync.SubscriptionNone {
		t.Errorf("Status = %q, want none", got.Status)
	}
	if got.PriceID != "" {
		t.Errorf("PriceID = %q, want empty", got.PriceID)
	}

	if _, err := store.GetSubscriptionState(ctx, "missing"); !errors.Is(err, paysync.ErrSubscriptionNotFound) {
		t.Errorf("GetSubscriptionState(missing) error = %v, want ErrSubscriptionNotFound", err)
	}
}

func seedPurchase(t *testing.T, store *Storage, id string) {
	t.Helper()
	err := store.PutPurchase(context.Background(), &paysync.PurchaseRecord{
		PurchaseID:  id,
		Type:        paysync.PurchaseTypeProduct,
		BuyerID:     "user_1",
		ArtistID:    "artist_1",
		ProductID:   "prod_1",
		AmountCents: 2500,
		Currency:    "usd",
		Status:      paysync.PurchasePending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("PutPurchase() error = %v", err)
	}
}

func TestTransitionPurchase(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	seedPurchase(t, store, "pur_1")

	rec, applied, err := store.TransitionPurchase(ctx, "pur_1", paysync.PurchaseCompleted)
	if err != nil {
		t.Fatalf("TransitionPurchase() error = %v", err)
	}
	if !applied {
		t.Fatal("pending -> completed should apply")
	}
	if rec.Status != paysync.PurchaseCompleted {
		t.Errorf("Status = %q, want completed", rec.Status)
	}

	// Late expiry after completion is suppressed
	rec, applied, err = store.TransitionPurchase(ctx, "pur_1", paysync.PurchaseCancelled)
	if err != nil {
		t.Fatalf("TransitionPurchase() error = %v", err)
	}
	if applied {
		t.Fatal("completed -> cancelled should be suppressed")
	}
	if rec.Status != paysync.PurchaseCompleted {
		t.Errorf("Status = %q, want completed after suppressed move", rec.Status)
	}

	rec, applied, err = store.TransitionPurchase(ctx, "pur_1", paysync.PurchaseRefunded)
	if err != nil {
		t.Fatalf("TransitionPurchase() error = %v", err)
	}
	if !applied {
		t.Fatal("completed -> refunded should apply")
	}
	if rec.Status != paysync.PurchaseRefunded {
		t.Errorf("Status = %q, want refunded", rec.Status)
	}

	if _, _, err := store.TransitionPurchase(ctx, "pur_missing", paysync.PurchaseCompleted); !errors.Is(err, paysync.ErrPurchaseNotFound) {
		t.Errorf("TransitionPurchase(missing) error = %v, want ErrPurchaseNotFound", err)
	}
}

func TestGetPurchaseByBuyerProduct(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()
	seedPurchase(t, store, "pur_1")

	rec, err := store.GetPurchaseByBuyerProduct(ctx, "user_1", "prod_1")
	if err != nil {
		t.Fatalf("GetPurchaseByBuyerProduct() error = %v", err)
	}
	if rec.PurchaseID != "pur_1" {
		t.Errorf("PurchaseID = %q, want pur_1", rec.PurchaseID)
	}

	if _, err := store.GetPurchaseByBuyerProduct(ctx, "user_1", "prod_other"); !errors.Is(err, paysync.ErrPurchaseNotFound) {
		t.Errorf("GetPurchaseByBuyerProduct(miss) error = %v, want ErrPurchaseNotFound", err)
	}
}

func TestPayoutStatus(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	if _, err := store.GetPayoutStatus(ctx, "artist_1"); !errors.Is(err, paysync.ErrPayoutStatusNotFound) {
		t.Errorf("GetPayoutStatus(missing) error = %v, want ErrPayoutStatusNotFound", err)
	}

	status := &paysync.PayoutAccountStatus{
		ArtistID:      "artist_1",
		AccountID:     "acct_456",
		Onboarded:     true,
		LastCheckedAt: time.Now().UTC(),
	}
	if err := store.SetPayoutStatus(ctx, status); err != nil {
		t.Fatalf("SetPayoutStatus() error = %v", err)
	}

	got, err := store.GetPayoutStatus(ctx, "artist_1")
	if err != nil {
		t.Fatalf("GetPayoutStatus() error = %v", err)
	}
	if !got.Onboarded || got.AccountID != "acct_456" {
		t.Errorf("unexpected payout status: %+v", got)
	}
}

func TestProcessedEventLedger(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	processed, err := store.HasProcessedEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("HasProcessedEvent() error = %v", err)
	}
	if processed {
		t.Fatal("unseen event should not be processed")
	}

	rec := &paysync.ProcessedEvent{
		EventID:     "evt_1",
		ProcessedAt: time.Now().UTC(),
		Outcome:     "subscription_synced",
	}
	if err := store.MarkEventProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkEventProcessed() error = %v", err)
	}
	// Idempotent for the same event id
	if err := store.MarkEventProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkEventProcessed() repeat error = %v", err)
	}

	processed, err = store.HasProcessedEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("HasProcessedEvent() error = %v", err)
	}
	if !processed {
		t.Fatal("marked event should be processed")
	}

	// Retention is enforced by key TTL
	ttl, err := store.client.TTL(ctx, store.eventKey("evt_1")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 {
		t.Errorf("ledger key TTL = %v, want > 0", ttl)
	}

	n, err := store.PruneProcessedEvents(ctx, time.Now())
	if err != nil {
		t.Fatalf("PruneProcessedEvents() error = %v", err)
	}
	if n != 0 {
		t.Errorf("PruneProcessedEvents() = %d, want 0", n)
	}
}
