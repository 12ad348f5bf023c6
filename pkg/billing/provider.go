package billing

import (
	"context"
	"net/http"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Provider is the generic interface a payment backend must implement.
// The reconciliation flow (verify, classify, dedup, synchronize) lives behind
// this seam so the application never talks to the provider SDK directly.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler for inbound provider events.
	// The implementation handles signature verification, classification,
	// deduplication, and background synchronization internally.
	WebhookHandler() http.Handler

	// SyncUser reconciles a user's durable payment state from the provider's
	// authoritative current truth. This is the poll-driven path, used when a
	// user returns from a hosted checkout or billing portal and the webhook
	// may not have arrived yet.
	SyncUser(ctx context.Context, userID string) (*SyncResult, error)
}

// SyncResult describes what a synchronization run wrote.
type SyncResult struct {
	// UserID is the local owner the run reconciled
	UserID string

	// Subscription is the subscription row as written, nil if untouched
	Subscription *paysync.SubscriptionState

	// Purchase is the purchase record as written, nil if untouched
	Purchase *paysync.PurchaseRecord

	// Payout is the payout account status as written, nil if untouched
	Payout *paysync.PayoutAccountStatus
}
