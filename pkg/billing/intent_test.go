package billing

import (
	"errors"
	"testing"

	"github.com/atelierhq/paysync/pkg/paysync"
)

func TestIntentFromMetadata_RoundTrip(t *testing.T) {
	original := &PurchaseIntent{
		Type:       paysync.PurchaseTypeProduct,
		PurchaseID: "p_789",
		ProductID:  "prod_42",
		BuyerID:    "user_1",
		ArtistID:   "artist_9",
	}

	parsed, err := IntentFromMetadata(original.Metadata())
	if err != nil {
		t.Fatalf("IntentFromMetadata failed: %v", err)
	}
	if *parsed != *original {
		t.Errorf("Round trip mismatch: got %+v, want %+v", parsed, original)
	}
}

func TestIntentFromMetadata_NoIntent(t *testing.T) {
	// Plain subscription checkouts carry no purchase_type; that is not an error.
	for _, md := range []map[string]string{
		nil,
		{},
		{"user_id": "user_1"},
	} {
		intent, err := IntentFromMetadata(md)
		if err != nil {
			t.Fatalf("Expected no error for metadata %v, got %v", md, err)
		}
		if intent != nil {
			t.Errorf("Expected nil intent for metadata %v, got %+v", md, intent)
		}
	}
}

func TestIntentFromMetadata_UnknownType(t *testing.T) {
	_, err := IntentFromMetadata(map[string]string{
		MetaPurchaseType: "2", // legacy numeric-enum form is rejected, not guessed at
		MetaPurchaseID:   "p_1",
		MetaUserID:       "user_1",
	})
	if !errors.Is(err, ErrUnknownPurchaseType) {
		t.Errorf("Expected ErrUnknownPurchaseType, got %v", err)
	}
}

func TestIntentFromMetadata_MissingIDs(t *testing.T) {
	_, err := IntentFromMetadata(map[string]string{
		MetaPurchaseType: string(paysync.PurchaseTypeCommission),
		MetaUserID:       "user_1",
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for missing purchase_id, got %v", err)
	}

	_, err = IntentFromMetadata(map[string]string{
		MetaPurchaseType: string(paysync.PurchaseTypeCommission),
		MetaPurchaseID:   "p_1",
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for missing user_id, got %v", err)
	}
}
