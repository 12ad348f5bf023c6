package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atelierhq/paysync/pkg/paysync"
	"github.com/atelierhq/paysync/storage/memory"
)

// Test helper to create a projector over a seeded memory store
func setupTestProjector(t *testing.T) (*paysync.Projector, *memory.Store) {
	t.Helper()

	store := memory.New()
	projector, err := paysync.NewProjector(paysync.ProjectorConfig{Store: store})
	if err != nil {
		t.Fatalf("Failed to create projector: %v", err)
	}
	return projector, store
}

func setSubscription(t *testing.T, store *memory.Store, userID string, status paysync.SubscriptionStatus) {
	t.Helper()

	err := store.SetSubscriptionState(context.Background(), &paysync.SubscriptionState{
		UserID:    userID,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to set subscription state: %v", err)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSupporter_Active(t *testing.T) {
	projector, store := setupTestProjector(t)
	setSubscription(t, store, "user1", paysync.SubscriptionActive)

	mw := RequireSupporter(Config{
		Projector: projector,
		GetUserID: FromHeader("X-User-ID"),
	})
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRequireSupporter_Forbidden(t *testing.T) {
	projector, store := setupTestProjector(t)
	setSubscription(t, store, "user1", paysync.SubscriptionPastDue)

	mw := RequireSupporter(Config{
		Projector: projector,
		GetUserID: FromHeader("X-User-ID"),
	})
	handler := mw(okHandler())

	for _, user := range []string{"user1", "never_synced"} {
		req := httptest.NewRequest(http.MethodGet, "/premium", nil)
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("user %s: status = %d, want 403", user, rec.Code)
		}
	}
}

func TestRequireSupporter_Unauthorized(t *testing.T) {
	projector, _ := setupTestProjector(t)

	mw := RequireSupporter(Config{
		Projector: projector,
		GetUserID: FromHeader("X-User-ID"),
	})
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireSupporter_CustomCallbacks(t *testing.T) {
	projector, _ := setupTestProjector(t)

	mw := RequireSupporter(Config{
		Projector: projector,
		GetUserID: FromHeader("X-User-ID"),
		OnForbidden: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "supporters only", http.StatusPaymentRequired)
		},
	})
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
}

func TestRequirePurchase(t *testing.T) {
	projector, store := setupTestProjector(t)

	seedPurchase := func(id string, status paysync.PurchaseStatus) {
		t.Helper()
		err := store.PutPurchase(context.Background(), &paysync.PurchaseRecord{
			PurchaseID: "pur_" + id,
			Type:       paysync.PurchaseTypeProduct,
			BuyerID:    "user1",
			ProductID:  id,
			Status:     status,
		})
		if err != nil {
			t.Fatalf("Failed to put purchase: %v", err)
		}
	}
	seedPurchase("prod_paid", paysync.PurchaseCompleted)
	seedPurchase("prod_pending", paysync.PurchasePending)

	mw := RequirePurchase(Config{
		Projector: projector,
		GetUserID: FromHeader("X-User-ID"),
	}, ProductFromQuery("product"))
	handler := mw(okHandler())

	tests := []struct {
		product string
		want    int
	}{
		{"prod_paid", http.StatusOK},
		{"prod_pending", http.StatusForbidden},
		{"prod_unknown", http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/download?product="+tt.product, nil)
		req.Header.Set("X-User-ID", "user1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("product %q: status = %d, want %d", tt.product, rec.Code, tt.want)
		}
	}
}

func TestFromContext(t *testing.T) {
	projector, store := setupTestProjector(t)
	setSubscription(t, store, "ctx_user", paysync.SubscriptionActive)

	mw := RequireSupporter(Config{
		Projector: projector,
		GetUserID: FromContext(UserIDKey),
	})
	handler := mw(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req = req.WithContext(WithUserID(req.Context(), "ctx_user"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandlerFunc(t *testing.T) {
	projector, store := setupTestProjector(t)
	setSubscription(t, store, "user1", paysync.SubscriptionActive)

	wrap := HandlerFunc(RequireSupporter(Config{
		Projector: projector,
		GetUserID: FromHeader("X-User-ID"),
	}))
	handler := wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
