package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atelierhq/paysync/pkg/paysync"
)

func TestStore_CustomerRefLookups(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetCustomerRef(ctx, "user1")
	if !errors.Is(err, paysync.ErrCustomerRefNotFound) {
		t.Errorf("Expected ErrCustomerRefNotFound, got %v", err)
	}

	ref := &paysync.CustomerRef{
		UserID:     "user1",
		ArtistID:   "artist1",
		CustomerID: "cus_123",
		AccountID:  "acct_123",
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.PutCustomerRef(ctx, ref); err != nil {
		t.Fatalf("PutCustomerRef failed: %v", err)
	}

	byUser, err := store.GetCustomerRef(ctx, "user1")
	if err != nil {
		t.Fatalf("GetCustomerRef failed: %v", err)
	}
	if byUser.CustomerID != "cus_123" {
		t.Errorf("CustomerID = %q, want cus_123", byUser.CustomerID)
	}

	byCustomer, err := store.GetCustomerRefByCustomerID(ctx, "cus_123")
	if err != nil {
		t.Fatalf("GetCustomerRefByCustomerID failed: %v", err)
	}
	if byCustomer.UserID != "user1" {
		t.Errorf("UserID = %q, want user1", byCustomer.UserID)
	}

	byAccount, err := store.GetCustomerRefByAccountID(ctx, "acct_123")
	if err != nil {
		t.Fatalf("GetCustomerRefByAccountID failed: %v", err)
	}
	if byAccount.ArtistID != "artist1" {
		t.Errorf("ArtistID = %q, want artist1", byAccount.ArtistID)
	}
}

func TestStore_CustomerRefReindexOnUpdate(t *testing.T) {
	store := New()
	ctx := context.Background()

	ref := &paysync.CustomerRef{UserID: "user1", CustomerID: "cus_old"}
	if err := store.PutCustomerRef(ctx, ref); err != nil {
		t.Fatalf("PutCustomerRef failed: %v", err)
	}

	ref.CustomerID = "cus_new"
	if err := store.PutCustomerRef(ctx, ref); err != nil {
		t.Fatalf("PutCustomerRef update failed: %v", err)
	}

	if _, err := store.GetCustomerRefByCustomerID(ctx, "cus_old"); !errors.Is(err, paysync.ErrCustomerRefNotFound) {
		t.Errorf("stale customer index still resolves, err = %v", err)
	}
	got, err := store.GetCustomerRefByCustomerID(ctx, "cus_new")
	if err != nil {
		t.Fatalf("GetCustomerRefByCustomerID failed: %v", err)
	}
	if got.UserID != "user1" {
		t.Errorf("UserID = %q, want user1", got.UserID)
	}
}

func TestStore_SubscriptionStateOverwrite(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetSubscriptionState(ctx, "user1")
	if !errors.Is(err, paysync.ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}

	first := &paysync.SubscriptionState{
		UserID:         "user1",
		SubscriptionID: "sub_1",
		Status:         paysync.SubscriptionActive,
		PriceID:        "price_supporter",
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.SetSubscriptionState(ctx, first); err != nil {
		t.Fatalf("SetSubscriptionState failed: %v", err)
	}

	second := &paysync.SubscriptionState{
		UserID:         "user1",
		SubscriptionID: "sub_1",
		Status:         paysync.SubscriptionCanceled,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := store.SetSubscriptionState(ctx, second); err != nil {
		t.Fatalf("SetSubscriptionState overwrite failed: %v", err)
	}

	got, err := store.GetSubscriptionState(ctx, "user1")
	if err != nil {
		t.Fatalf("GetSubscriptionState failed: %v", err)
	}
	if got.Status != paysync.SubscriptionCanceled {
		t.Errorf("Status = %q, want canceled", got.Status)
	}
	if got.PriceID != "" {
		t.Errorf("PriceID = %q, want empty after whole-row overwrite", got.PriceID)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	state := &paysync.SubscriptionState{UserID: "user1", Status: paysync.SubscriptionActive}
	if err := store.SetSubscriptionState(ctx, state); err != nil {
		t.Fatalf("SetSubscriptionState failed: %v", err)
	}

	got, _ := store.GetSubscriptionState(ctx, "user1")
	got.Status = paysync.SubscriptionCanceled

	again, _ := store.GetSubscriptionState(ctx, "user1")
	if again.Status != paysync.SubscriptionActive {
		t.Errorf("external mutation leaked into store, Status = %q", again.Status)
	}
}

func TestStore_TransitionPurchase(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, _, err := store.TransitionPurchase(ctx, "missing", paysync.PurchaseCompleted)
	if !errors.Is(err, paysync.ErrPurchaseNotFound) {
		t.Errorf("Expected ErrPurchaseNotFound, got %v", err)
	}

	rec := &paysync.PurchaseRecord{
		PurchaseID: "p_789",
		Type:       paysync.PurchaseTypeProduct,
		BuyerID:    "buyer1",
		ProductID:  "prod_1",
		Status:     paysync.PurchasePending,
	}
	if err := store.PutPurchase(ctx, rec); err != nil {
		t.Fatalf("PutPurchase failed: %v", err)
	}

	got, applied, err := store.TransitionPurchase(ctx, "p_789", paysync.PurchaseCompleted)
	if err != nil {
		t.Fatalf("TransitionPurchase failed: %v", err)
	}
	if !applied {
		t.Fatal("pending -> completed should apply")
	}
	if got.Status != paysync.PurchaseCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}

	// A late expiry after completion is suppressed, not an error.
	got, applied, err = store.TransitionPurchase(ctx, "p_789", paysync.PurchaseCancelled)
	if err != nil {
		t.Fatalf("TransitionPurchase failed: %v", err)
	}
	if applied {
		t.Error("completed -> cancelled should be suppressed")
	}
	if got.Status != paysync.PurchaseCompleted {
		t.Errorf("Status = %q, want completed after suppressed transition", got.Status)
	}

	_, applied, err = store.TransitionPurchase(ctx, "p_789", paysync.PurchaseRefunded)
	if err != nil {
		t.Fatalf("TransitionPurchase failed: %v", err)
	}
	if !applied {
		t.Error("completed -> refunded should apply")
	}
}

func TestStore_GetPurchaseByBuyerProduct(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetPurchaseByBuyerProduct(ctx, "buyer1", "prod_1")
	if !errors.Is(err, paysync.ErrPurchaseNotFound) {
		t.Errorf("Expected ErrPurchaseNotFound, got %v", err)
	}

	rec := &paysync.PurchaseRecord{
		PurchaseID: "p_1",
		BuyerID:    "buyer1",
		ProductID:  "prod_1",
		Status:     paysync.PurchaseCompleted,
	}
	if err := store.PutPurchase(ctx, rec); err != nil {
		t.Fatalf("PutPurchase failed: %v", err)
	}

	got, err := store.GetPurchaseByBuyerProduct(ctx, "buyer1", "prod_1")
	if err != nil {
		t.Fatalf("GetPurchaseByBuyerProduct failed: %v", err)
	}
	if got.PurchaseID != "p_1" {
		t.Errorf("PurchaseID = %q, want p_1", got.PurchaseID)
	}
}

func TestStore_PayoutStatus(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.GetPayoutStatus(ctx, "artist1")
	if !errors.Is(err, paysync.ErrPayoutStatusNotFound) {
		t.Errorf("Expected ErrPayoutStatusNotFound, got %v", err)
	}

	status := &paysync.PayoutAccountStatus{
		ArtistID:      "artist1",
		AccountID:     "acct_1",
		Onboarded:     true,
		LastCheckedAt: time.Now().UTC(),
	}
	if err := store.SetPayoutStatus(ctx, status); err != nil {
		t.Fatalf("SetPayoutStatus failed: %v", err)
	}

	got, err := store.GetPayoutStatus(ctx, "artist1")
	if err != nil {
		t.Fatalf("GetPayoutStatus failed: %v", err)
	}
	if !got.Onboarded {
		t.Error("Onboarded = false, want true")
	}
}

func TestStore_ProcessedEventLedger(t *testing.T) {
	store := New()
	ctx := context.Background()

	seen, err := store.HasProcessedEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("HasProcessedEvent failed: %v", err)
	}
	if seen {
		t.Error("unseen event reported as processed")
	}

	rec := &paysync.ProcessedEvent{
		EventID:     "evt_1",
		ProcessedAt: time.Now().UTC().Add(-48 * time.Hour),
		Outcome:     "subscription_synced",
	}
	if err := store.MarkEventProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}
	// Marking twice is idempotent.
	if err := store.MarkEventProcessed(ctx, rec); err != nil {
		t.Fatalf("MarkEventProcessed second call failed: %v", err)
	}

	seen, err = store.HasProcessedEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("HasProcessedEvent failed: %v", err)
	}
	if !seen {
		t.Error("processed event not found in ledger")
	}

	removed, err := store.PruneProcessedEvents(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneProcessedEvents failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	seen, _ = store.HasProcessedEvent(ctx, "evt_1")
	if seen {
		t.Error("pruned event still in ledger")
	}
}
