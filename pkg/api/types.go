package api

import "time"

// EntitlementResponse represents the reconciled entitlement state for a user
type EntitlementResponse struct {
	UserID       string            `json:"user_id"`
	Supporter    bool              `json:"supporter"`
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
	Purchases    map[string]bool   `json:"purchases,omitempty"`
	PayoutReady  *bool             `json:"payout_ready,omitempty"`
}

// SubscriptionInfo is the client-facing view of a subscription row.
// Card fields are display-only; never full card data.
type SubscriptionInfo struct {
	Status             string     `json:"status"` // "none", "active", "past_due", ...
	PriceID            string     `json:"price_id,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end,omitempty"`
	PaymentMethodBrand string     `json:"payment_method_brand,omitempty"`
	PaymentMethodLast4 string     `json:"payment_method_last4,omitempty"`
}
