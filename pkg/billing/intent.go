package billing

import (
	"fmt"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Metadata keys round-tripped through the provider. Set by this system at
// checkout-creation time and echoed back on webhook events.
const (
	MetaPurchaseType = "purchase_type"
	MetaPurchaseID   = "purchase_id"
	MetaProductID    = "product_id"
	MetaUserID       = "user_id"
	MetaArtistID     = "artist_id"
)

// PurchaseIntent is the closed tagged union describing what a checkout
// session is buying. It is validated at the classifier boundary before the
// synchronizer trusts it.
type PurchaseIntent struct {
	// Type discriminates the union (artist_corner or commission)
	Type paysync.PurchaseType

	// PurchaseID is the local purchase record id
	PurchaseID string

	// ProductID is the storefront product or commission id
	ProductID string

	// BuyerID is the local user making the purchase
	BuyerID string

	// ArtistID is the selling artist, when known at checkout time
	ArtistID string
}

// Metadata serializes the intent into provider metadata.
func (i *PurchaseIntent) Metadata() map[string]string {
	md := map[string]string{
		MetaPurchaseType: string(i.Type),
		MetaPurchaseID:   i.PurchaseID,
		MetaProductID:    i.ProductID,
		MetaUserID:       i.BuyerID,
	}
	if i.ArtistID != "" {
		md[MetaArtistID] = i.ArtistID
	}
	return md
}

// Validate checks the intent is complete enough to reconcile against.
func (i *PurchaseIntent) Validate() error {
	switch i.Type {
	case paysync.PurchaseTypeProduct, paysync.PurchaseTypeCommission:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPurchaseType, i.Type)
	}
	if i.PurchaseID == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformedEvent, MetaPurchaseID)
	}
	if i.BuyerID == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformedEvent, MetaUserID)
	}
	return nil
}

// IntentFromMetadata parses provider metadata back into a PurchaseIntent.
// Returns (nil, nil) when the metadata carries no purchase_type at all
// (e.g. a plain subscription checkout); returns an error for a present but
// unknown or incomplete intent.
func IntentFromMetadata(md map[string]string) (*PurchaseIntent, error) {
	if md == nil {
		return nil, nil
	}
	rawType, ok := md[MetaPurchaseType]
	if !ok || rawType == "" {
		return nil, nil
	}

	intent := &PurchaseIntent{
		Type:       paysync.PurchaseType(rawType),
		PurchaseID: md[MetaPurchaseID],
		ProductID:  md[MetaProductID],
		BuyerID:    md[MetaUserID],
		ArtistID:   md[MetaArtistID],
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}
