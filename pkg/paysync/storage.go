package paysync

import (
	"context"
	"time"
)

// Store defines the durable persistence interface for reconciled payment state.
// All methods are point lookups or single-row upserts keyed by owner or event
// id; per-key atomicity from the backend is the only transactional requirement.
// The synchronizer is the sole writer; the Projector only reads.
type Store interface {
	// GetCustomerRef retrieves the provider customer mapping for a local user.
	// Returns ErrCustomerRefNotFound if none exists.
	GetCustomerRef(ctx context.Context, userID string) (*CustomerRef, error)

	// GetCustomerRefByCustomerID resolves a provider customer id back to the
	// owning user. Returns ErrCustomerRefNotFound if none exists.
	GetCustomerRefByCustomerID(ctx context.Context, customerID string) (*CustomerRef, error)

	// GetCustomerRefByAccountID resolves a connected account id back to the
	// owning artist. Returns ErrCustomerRefNotFound if none exists.
	GetCustomerRefByAccountID(ctx context.Context, accountID string) (*CustomerRef, error)

	// PutCustomerRef upserts the mapping keyed by UserID. At most one
	// CustomerID per user; a concurrent double-create resolves to one row.
	PutCustomerRef(ctx context.Context, ref *CustomerRef) error

	// GetSubscriptionState retrieves the reconciled subscription row for a user.
	// Returns ErrSubscriptionNotFound if the user was never synchronized.
	GetSubscriptionState(ctx context.Context, userID string) (*SubscriptionState, error)

	// SetSubscriptionState overwrites the whole subscription row for
	// state.UserID in a single atomic upsert.
	SetSubscriptionState(ctx context.Context, state *SubscriptionState) error

	// GetPurchase retrieves a purchase by id.
	// Returns ErrPurchaseNotFound if unknown.
	GetPurchase(ctx context.Context, purchaseID string) (*PurchaseRecord, error)

	// GetPurchaseByBuyerProduct finds a buyer's purchase of a product or
	// commission. Returns ErrPurchaseNotFound if none exists.
	GetPurchaseByBuyerProduct(ctx context.Context, buyerID, productID string) (*PurchaseRecord, error)

	// PutPurchase upserts a purchase record keyed by PurchaseID. Used to
	// create the pending record at checkout-session start and to backfill
	// provider ids; status changes go through TransitionPurchase.
	PutPurchase(ctx context.Context, rec *PurchaseRecord) error

	// TransitionPurchase atomically moves a purchase to the given status when
	// PurchaseStatus.CanTransitionTo allows it. Returns the current record and
	// whether the transition was applied; a disallowed transition is a no-op
	// (applied=false), not an error. Returns ErrPurchaseNotFound if unknown.
	TransitionPurchase(ctx context.Context, purchaseID string, to PurchaseStatus) (*PurchaseRecord, bool, error)

	// GetPayoutStatus retrieves the cached payout readiness for an artist.
	// Returns ErrPayoutStatusNotFound if never checked.
	GetPayoutStatus(ctx context.Context, artistID string) (*PayoutAccountStatus, error)

	// SetPayoutStatus upserts the payout readiness cache keyed by ArtistID.
	SetPayoutStatus(ctx context.Context, status *PayoutAccountStatus) error

	// HasProcessedEvent reports whether an external event id has already been
	// fully processed.
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)

	// MarkEventProcessed records completion of an event's side effects. Called
	// only after all writes succeeded; idempotent for the same event id.
	MarkEventProcessed(ctx context.Context, rec *ProcessedEvent) error

	// PruneProcessedEvents removes ledger entries older than the cutoff and
	// returns how many were removed. Backends with native key TTL may make
	// this a no-op.
	PruneProcessedEvents(ctx context.Context, before time.Time) (int, error)
}
