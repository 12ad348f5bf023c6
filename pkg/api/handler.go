// Package api provides an HTTP read API over reconciled entitlement state.
// It never calls the payment provider; responses come from the Projector.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/atelierhq/paysync/pkg/paysync"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for entitlement inspection
type Handler struct {
	config Config
}

// GetEntitlements returns a standardized JSON response of the user's current
// entitlement standing: supporter status, subscription summary, purchase
// ownership for the requested products, and payout readiness for artists.
func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	state, err := h.config.Projector.Subscription(ctx, userID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get subscription: %w", err), http.StatusInternalServerError)
		return
	}

	response := EntitlementResponse{
		UserID:       userID,
		Supporter:    state != nil && state.Status == paysync.SubscriptionActive,
		Subscription: subscriptionInfo(state),
	}

	products := h.requestedProducts(r)
	if len(products) > 0 {
		purchases := make(map[string]bool, len(products))
		for _, productID := range products {
			owned, err := h.config.Projector.HasPurchased(ctx, userID, productID)
			if err != nil {
				// One failed lookup should not fail the whole request
				continue
			}
			purchases[productID] = owned
		}
		response.Purchases = purchases
	}

	if h.config.GetArtistID != nil {
		if artistID := h.config.GetArtistID(r); artistID != "" {
			ready, err := h.config.Projector.IsPayoutReady(ctx, artistID)
			if err != nil {
				h.handleError(w, r, fmt.Errorf("failed to get payout status: %w", err), http.StatusInternalServerError)
				return
			}
			response.PayoutReady = &ready
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Response already sent
		return
	}
}

// requestedProducts merges the configured product list with ?product= query
// parameters, preserving order and dropping duplicates
func (h *Handler) requestedProducts(r *http.Request) []string {
	seen := make(map[string]bool)
	var products []string

	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		products = append(products, id)
	}

	for _, id := range h.config.KnownProducts {
		add(id)
	}
	for _, id := range r.URL.Query()["product"] {
		add(id)
	}
	return products
}

func subscriptionInfo(state *paysync.SubscriptionState) *SubscriptionInfo {
	if state == nil {
		return nil
	}

	info := &SubscriptionInfo{
		Status:             string(state.Status),
		PriceID:            state.PriceID,
		CancelAtPeriodEnd:  state.CancelAtPeriodEnd,
		PaymentMethodBrand: state.PaymentMethodBrand,
		PaymentMethodLast4: state.PaymentMethodLast4,
	}
	if !state.CurrentPeriodEnd.IsZero() {
		end := state.CurrentPeriodEnd
		info.CurrentPeriodEnd = &end
	}
	return info
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
