package paysync

import (
	"context"
	"testing"
	"time"
)

// fakeStore is a minimal in-package Store for projector tests.
// It tracks read counts so cache fall-through can be asserted.
type fakeStore struct {
	subscriptions map[string]*SubscriptionState
	purchases     map[string]*PurchaseRecord // keyed buyerID+":"+productID
	payouts       map[string]*PayoutAccountStatus

	subscriptionReads int
	purchaseReads     int
	payoutReads       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subscriptions: make(map[string]*SubscriptionState),
		purchases:     make(map[string]*PurchaseRecord),
		payouts:       make(map[string]*PayoutAccountStatus),
	}
}

func (s *fakeStore) GetCustomerRef(_ context.Context, _ string) (*CustomerRef, error) {
	return nil, ErrCustomerRefNotFound
}

func (s *fakeStore) GetCustomerRefByCustomerID(_ context.Context, _ string) (*CustomerRef, error) {
	return nil, ErrCustomerRefNotFound
}

func (s *fakeStore) GetCustomerRefByAccountID(_ context.Context, _ string) (*CustomerRef, error) {
	return nil, ErrCustomerRefNotFound
}

func (s *fakeStore) PutCustomerRef(_ context.Context, _ *CustomerRef) error { return nil }

func (s *fakeStore) GetSubscriptionState(_ context.Context, userID string) (*SubscriptionState, error) {
	s.subscriptionReads++
	state, ok := s.subscriptions[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return state, nil
}

func (s *fakeStore) SetSubscriptionState(_ context.Context, state *SubscriptionState) error {
	s.subscriptions[state.UserID] = state
	return nil
}

func (s *fakeStore) GetPurchase(_ context.Context, _ string) (*PurchaseRecord, error) {
	return nil, ErrPurchaseNotFound
}

func (s *fakeStore) GetPurchaseByBuyerProduct(_ context.Context, buyerID, productID string) (*PurchaseRecord, error) {
	s.purchaseReads++
	rec, ok := s.purchases[buyerID+":"+productID]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	return rec, nil
}

func (s *fakeStore) PutPurchase(_ context.Context, rec *PurchaseRecord) error {
	s.purchases[rec.BuyerID+":"+rec.ProductID] = rec
	return nil
}

func (s *fakeStore) TransitionPurchase(_ context.Context, _ string, _ PurchaseStatus) (*PurchaseRecord, bool, error) {
	return nil, false, ErrPurchaseNotFound
}

func (s *fakeStore) GetPayoutStatus(_ context.Context, artistID string) (*PayoutAccountStatus, error) {
	s.payoutReads++
	status, ok := s.payouts[artistID]
	if !ok {
		return nil, ErrPayoutStatusNotFound
	}
	return status, nil
}

func (s *fakeStore) SetPayoutStatus(_ context.Context, status *PayoutAccountStatus) error {
	s.payouts[status.ArtistID] = status
	return nil
}

func (s *fakeStore) HasProcessedEvent(_ context.Context, _ string) (bool, error) { return false, nil }

func (s *fakeStore) MarkEventProcessed(_ context.Context, _ *ProcessedEvent) error { return nil }

func (s *fakeStore) PruneProcessedEvents(_ context.Context, _ time.Time) (int, error) { return 0, nil }

func TestProjector_IsSupporter(t *testing.T) {
	store := newFakeStore()
	projector, err := NewProjector(ProjectorConfig{Store: store})
	if err != nil {
		t.Fatalf("Failed to create projector: %v", err)
	}
	ctx := context.Background()

	// Unsynchronized user: no entitlement, no error.
	ok, err := projector.IsSupporter(ctx, "user_1")
	if err != nil {
		t.Fatalf("IsSupporter failed: %v", err)
	}
	if ok {
		t.Error("Expected unsynchronized user to not be a supporter")
	}

	store.subscriptions["user_1"] = &SubscriptionState{
		UserID: "user_1",
		Status: SubscriptionActive,
	}
	ok, err = projector.IsSupporter(ctx, "user_1")
	if err != nil {
		t.Fatalf("IsSupporter failed: %v", err)
	}
	if !ok {
		t.Error("Expected active subscription to grant supporter")
	}

	for _, status := range []SubscriptionStatus{
		SubscriptionNone, SubscriptionIncomplete, SubscriptionPastDue,
		SubscriptionCanceled, SubscriptionPaused,
	} {
		store.subscriptions["user_2"] = &SubscriptionState{UserID: "user_2", Status: status}
		ok, err := projector.IsSupporter(ctx, "user_2")
		if err != nil {
			t.Fatalf("IsSupporter failed for %s: %v", status, err)
		}
		if ok {
			t.Errorf("Expected status %s to not grant supporter", status)
		}
	}
}

func TestProjector_HasPurchased(t *testing.T) {
	store := newFakeStore()
	projector, err := NewProjector(ProjectorConfig{Store: store})
	if err != nil {
		t.Fatalf("Failed to create projector: %v", err)
	}
	ctx := context.Background()

	ok, err := projector.HasPurchased(ctx, "buyer_1", "prod_1")
	if err != nil {
		t.Fatalf("HasPurchased failed: %v", err)
	}
	if ok {
		t.Error("Expected no purchase to mean not purchased")
	}

	store.purchases["buyer_1:prod_1"] = &PurchaseRecord{
		PurchaseID: "p_1",
		BuyerID:    "buyer_1",
		ProductID:  "prod_1",
		Status:     PurchasePending,
	}
	ok, _ = projector.HasPurchased(ctx, "buyer_1", "prod_1")
	if ok {
		t.Error("Expected pending purchase to not count as purchased")
	}

	store.purchases["buyer_1:prod_1"].Status = PurchaseCompleted
	ok, _ = projector.HasPurchased(ctx, "buyer_1", "prod_1")
	if !ok {
		t.Error("Expected completed purchase to count as purchased")
	}

	store.purchases["buyer_1:prod_1"].Status = PurchaseRefunded
	ok, _ = projector.HasPurchased(ctx, "buyer_1", "prod_1")
	if ok {
		t.Error("Expected refunded purchase to not count as purchased")
	}
}

func TestProjector_IsPayoutReady(t *testing.T) {
	store := newFakeStore()
	projector, err := NewProjector(ProjectorConfig{Store: store})
	if err != nil {
		t.Fatalf("Failed to create projector: %v", err)
	}
	ctx := context.Background()

	ok, err := projector.IsPayoutReady(ctx, "artist_1")
	if err != nil {
		t.Fatalf("IsPayoutReady failed: %v", err)
	}
	if ok {
		t.Error("Expected unchecked artist to not be payout ready")
	}

	store.payouts["artist_1"] = &PayoutAccountStatus{
		ArtistID:      "artist_1",
		AccountID:     "acct_1",
		Onboarded:     true,
		LastCheckedAt: time.Now(),
	}
	ok, _ = projector.IsPayoutReady(ctx, "artist_1")
	if !ok {
		t.Error("Expected onboarded artist to be payout ready")
	}
}

func TestProjector_CacheFallsThroughToStore(t *testing.T) {
	store := newFakeStore()
	store.subscriptions["user_1"] = &SubscriptionState{UserID: "user_1", Status: SubscriptionActive}

	projector, err := NewProjector(ProjectorConfig{
		Store:    store,
		Cache:    NewLRUCache(10),
		CacheTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("Failed to create projector: %v", err)
	}
	ctx := context.Background()

	// First read hits the store, second is served from cache.
	if _, err := projector.IsSupporter(ctx, "user_1"); err != nil {
		t.Fatalf("IsSupporter failed: %v", err)
	}
	if _, err := projector.IsSupporter(ctx, "user_1"); err != nil {
		t.Fatalf("IsSupporter failed: %v", err)
	}
	if store.subscriptionReads != 1 {
		t.Errorf("Expected 1 store read, got %d", store.subscriptionReads)
	}

	// Known-absent is cached too.
	if _, err := projector.IsSupporter(ctx, "user_missing"); err != nil {
		t.Fatalf("IsSupporter failed: %v", err)
	}
	if _, err := projector.IsSupporter(ctx, "user_missing"); err != nil {
		t.Fatalf("IsSupporter failed: %v", err)
	}
	if store.subscriptionReads != 2 {
		t.Errorf("Expected 2 store reads, got %d", store.subscriptionReads)
	}
}
