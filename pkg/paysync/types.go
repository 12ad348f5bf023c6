package paysync

import (
	"time"
)

// SubscriptionStatus is the reconciled local view of a recurring payment's state
type SubscriptionStatus string

const (
	// SubscriptionNone means the customer has no subscription at the provider
	SubscriptionNone SubscriptionStatus = "none"
	// SubscriptionIncomplete means checkout started but the first payment has not settled
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	// SubscriptionActive means the subscription is paid up (trialing counts as active)
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionPastDue means the latest renewal payment failed
	SubscriptionPastDue SubscriptionStatus = "past_due"
	// SubscriptionCanceled means the subscription ended; the record is retired, not deleted
	SubscriptionCanceled SubscriptionStatus = "canceled"
	// SubscriptionPaused means collection is paused at the provider
	SubscriptionPaused SubscriptionStatus = "paused"
)

// PurchaseStatus is the state of a one-time sale
type PurchaseStatus string

const (
	// PurchasePending means a checkout session was started but not confirmed
	PurchasePending PurchaseStatus = "pending"
	// PurchaseCompleted means payment settled
	PurchaseCompleted PurchaseStatus = "completed"
	// PurchaseCancelled means the checkout session expired or was abandoned (terminal)
	PurchaseCancelled PurchaseStatus = "cancelled"
	// PurchaseRefunded means the payment was refunded after completion (terminal)
	PurchaseRefunded PurchaseStatus = "refunded"
)

// Terminal reports whether no further forward transition is allowed from this status
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseCancelled || s == PurchaseRefunded
}

// CanTransitionTo reports whether the monotonic purchase state machine allows s -> to.
// Allowed: pending -> completed, pending -> cancelled, completed -> refunded.
// Everything else (including same-status writes) is a no-op for callers.
func (s PurchaseStatus) CanTransitionTo(to PurchaseStatus) bool {
	switch s {
	case PurchasePending:
		return to == PurchaseCompleted || to == PurchaseCancelled
	case PurchaseCompleted:
		return to == PurchaseRefunded
	default:
		return false
	}
}

// PurchaseType discriminates the metadata union round-tripped through the provider
type PurchaseType string

const (
	// PurchaseTypeProduct is a storefront ("artist corner") product sale
	PurchaseTypeProduct PurchaseType = "artist_corner"
	// PurchaseTypeCommission is a commission invoice payment
	PurchaseTypeCommission PurchaseType = "commission"
)

// CustomerRef maps a local user (and optionally their artist identity) to the
// provider's customer id. Created lazily on first checkout or subscribe; never
// deleted because historical records soft-reference it.
type CustomerRef struct {
	UserID     string
	ArtistID   string // empty for plain buyers
	CustomerID string // provider customer id (cus_...)
	AccountID  string // provider connected account id (acct_...), empty until onboarding
	CreatedAt  time.Time
}

// SubscriptionState is the reconciled view of a customer's recurring payment.
// One row per owner, overwritten as a whole by the synchronizer (last-write-wins
// against authoritative provider truth). Only the synchronizer mutates it.
type SubscriptionState struct {
	UserID             string
	SubscriptionID     string // empty when Status == SubscriptionNone
	Status             SubscriptionStatus
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool

	// Display-only card summary. Never full card data.
	PaymentMethodBrand string
	PaymentMethodLast4 string

	UpdatedAt time.Time
}

// PurchaseRecord is a one-time sale: an artist-corner product or a commission
// invoice. Status moves monotonically forward per PurchaseStatus.CanTransitionTo.
type PurchaseRecord struct {
	PurchaseID string
	Type       PurchaseType
	BuyerID    string
	ArtistID   string
	ProductID  string // product id or commission id, per Type

	AmountCents int64
	Currency    string

	Status            PurchaseStatus
	CheckoutSessionID string
	PaymentID         string // provider payment/charge id once known

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PayoutAccountStatus caches whether an artist's connected account can receive
// charges. Short-TTL cache semantics: always safe to recompute from the provider.
type PayoutAccountStatus struct {
	ArtistID      string
	AccountID     string
	Onboarded     bool
	LastCheckedAt time.Time
}

// ProcessedEvent is an idempotency ledger entry. A record exists if and only if
// the event's side effects were fully applied. Prunable after a retention
// window since providers do not redeliver indefinitely.
type ProcessedEvent struct {
	EventID     string
	ProcessedAt time.Time
	Outcome     string // short summary, e.g. "subscription_synced", "purchase_completed"
}
