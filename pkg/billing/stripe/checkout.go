package stripe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/atelierhq/paysync/pkg/billing"
	"github.com/atelierhq/paysync/pkg/paysync"
)

// EnsureCustomer returns the user's provider customer mapping, creating
// the Stripe customer lazily on first use. The user id rides along in
// customer metadata so the mapping can be rebuilt if the local row is lost.
func (p *Provider) EnsureCustomer(ctx context.Context, userID string) (*paysync.CustomerRef, error) {
	ref, err := p.store.GetCustomerRef(ctx, userID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, paysync.ErrCustomerRefNotFound) {
		return nil, fmt.Errorf("failed to look up customer ref: %w", err)
	}

	startTime := time.Now()
	cust, err := p.stripeClient.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Metadata: map[string]string{billing.MetaUserID: userID},
	})
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/customers/create", "error")
		return nil, fmt.Errorf("%w: failed to create customer: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/customers/create", "success")
	p.metrics.RecordAPICallDuration(providerName, "/customers/create", time.Since(startTime))

	ref = &paysync.CustomerRef{
		UserID:     userID,
		CustomerID: cust.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.PutCustomerRef(ctx, ref); err != nil {
		return nil, fmt.Errorf("failed to store customer ref: %w", err)
	}
	return ref, nil
}

// SubscriptionCheckoutURL creates a hosted checkout session for the
// supporter subscription and returns its URL. An empty priceID selects
// the first configured supporter price.
func (p *Provider) SubscriptionCheckoutURL(ctx context.Context, userID, priceID, successURL, cancelURL string) (string, error) {
	if priceID == "" {
		if len(p.supporterPriceIDs) == 0 {
			return "", fmt.Errorf("%w: no supporter price configured", billing.ErrProviderNotConfigured)
		}
		priceID = p.supporterPriceIDs[0]
	}

	ref, err := p.EnsureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	params := subscriptionCheckoutParams(ref.CustomerID, userID, priceID, successURL, cancelURL)
	return p.createCheckoutSession(ctx, params, nil)
}

// ProductCheckoutParams describes a one-time sale checkout.
type ProductCheckoutParams struct {
	BuyerID     string
	ArtistID    string
	ProductID   string
	ProductName string
	AmountCents int64
	Currency    string // empty uses the provider default
	SuccessURL  string
	CancelURL   string
}

// ProductCheckoutURL creates a one-time payment session for an artist-corner
// product. A pending PurchaseRecord is written before the URL is handed out;
// the purchase intent rides in session metadata and the webhook path moves
// the record forward when the session completes or expires.
func (p *Provider) ProductCheckoutURL(ctx context.Context, params ProductCheckoutParams) (string, error) {
	return p.purchaseCheckoutURL(ctx, paysync.PurchaseTypeProduct, params)
}

// CommissionCheckoutURL creates a one-time payment session for a commission
// invoice. Same flow as ProductCheckoutURL with ProductID holding the
// commission id.
func (p *Provider) CommissionCheckoutURL(ctx context.Context, params ProductCheckoutParams) (string, error) {
	return p.purchaseCheckoutURL(ctx, paysync.PurchaseTypeCommission, params)
}

func (p *Provider) purchaseCheckoutURL(ctx context.Context, typ paysync.PurchaseType, params ProductCheckoutParams) (string, error) {
	if params.BuyerID == "" || params.ProductID == "" || params.AmountCents <= 0 {
		return "", fmt.Errorf("%w: buyer, product and amount are required", billing.ErrInvalidWebhookPayload)
	}

	ref, err := p.EnsureCustomer(ctx, params.BuyerID)
	if err != nil {
		return "", err
	}

	currency := params.Currency
	if currency == "" {
		currency = p.currency
	}

	intent := &billing.PurchaseIntent{
		Type:       typ,
		PurchaseID: newPurchaseID(),
		ProductID:  params.ProductID,
		BuyerID:    params.BuyerID,
		ArtistID:   params.ArtistID,
	}

	now := time.Now().UTC()
	rec := &paysync.PurchaseRecord{
		PurchaseID:  intent.PurchaseID,
		Type:        typ,
		BuyerID:     params.BuyerID,
		ArtistID:    params.ArtistID,
		ProductID:   params.ProductID,
		AmountCents: params.AmountCents,
		Currency:    currency,
		Status:      paysync.PurchasePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.PutPurchase(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to create pending purchase: %w", err)
	}

	sessionParams := paymentCheckoutParams(ref.CustomerID, intent, params.ProductName, params.AmountCents, currency, params.SuccessURL, params.CancelURL)
	return p.createCheckoutSession(ctx, sessionParams, rec)
}

// createCheckoutSession calls Stripe and, for purchase checkouts, backfills
// the session id onto the pending record.
func (p *Provider) createCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams, rec *paysync.PurchaseRecord) (string, error) {
	startTime := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		return "", fmt.Errorf("%w: failed to create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	if rec != nil {
		rec.CheckoutSessionID = session.ID
		if err := p.store.PutPurchase(ctx, rec); err != nil {
			p.logger.Warn("failed to backfill checkout session id",
				paysync.Field{Key: "purchase_id", Value: rec.PurchaseID},
				paysync.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return session.URL, nil
}

// PortalURL creates a customer portal session so the user can manage or
// cancel their subscription. Requires an existing customer mapping.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	ref, err := p.store.GetCustomerRef(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, userID)
	}

	startTime := time.Now()
	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(ref.CustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		return "", fmt.Errorf("%w: failed to create portal session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))

	return session.URL, nil
}

// AccountLinkURL creates (if needed) the artist's express connected account
// and returns an onboarding link. Payout readiness stays false until an
// account.updated event or RefreshPayoutStatus observes charges_enabled.
func (p *Provider) AccountLinkURL(ctx context.Context, userID, artistID, refreshURL, returnURL string) (string, error) {
	ref, err := p.ensureAccount(ctx, userID, artistID)
	if err != nil {
		return "", err
	}

	startTime := time.Now()
	link, err := p.stripeClient.V1AccountLinks.Create(ctx, &stripe.AccountLinkCreateParams{
		Account:    stripe.String(ref.AccountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	})
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/account_links", "error")
		return "", fmt.Errorf("%w: failed to create account link: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/account_links", "success")
	p.metrics.RecordAPICallDuration(providerName, "/account_links", time.Since(startTime))

	return link.URL, nil
}

// RefreshPayoutStatus re-checks an artist's connected account on demand,
// for when the onboarding return page should not wait for the webhook.
func (p *Provider) RefreshPayoutStatus(ctx context.Context, artistID string) (*paysync.PayoutAccountStatus, error) {
	status, err := p.store.GetPayoutStatus(ctx, artistID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payout status: %w", err)
	}
	return p.syncAccount(ctx, status.AccountID)
}

func (p *Provider) ensureAccount(ctx context.Context, userID, artistID string) (*paysync.CustomerRef, error) {
	ref, err := p.EnsureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ref.AccountID != "" {
		return ref, nil
	}

	startTime := time.Now()
	account, err := p.stripeClient.V1Accounts.Create(ctx, &stripe.AccountCreateParams{
		Type:     stripe.String(string(stripe.AccountTypeExpress)),
		Metadata: map[string]string{billing.MetaArtistID: artistID},
	})
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/accounts/create", "error")
		return nil, fmt.Errorf("%w: failed to create connected account: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/accounts/create", "success")
	p.metrics.RecordAPICallDuration(providerName, "/accounts/create", time.Since(startTime))

	ref.ArtistID = artistID
	ref.AccountID = account.ID
	if err := p.store.PutCustomerRef(ctx, ref); err != nil {
		return nil, fmt.Errorf("failed to store account ref: %w", err)
	}

	// Seed the payout cache so RefreshPayoutStatus can resolve the account
	// before the first account.updated event arrives.
	if err := p.store.SetPayoutStatus(ctx, &paysync.PayoutAccountStatus{
		ArtistID:      artistID,
		AccountID:     account.ID,
		Onboarded:     false,
		LastCheckedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to seed payout status: %w", err)
	}
	return ref, nil
}

// subscriptionCheckoutParams builds the session parameters for a supporter
// subscription checkout. The user id is attached to the subscription itself
// so every later subscription event can be tied back to the owner.
func subscriptionCheckoutParams(customerID, userID, priceID, successURL, cancelURL string) *stripe.CheckoutSessionCreateParams {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(billing.MetaUserID, userID)
	return params
}

// paymentCheckoutParams builds the session parameters for a one-time
// purchase. The intent metadata is set on both the session and the payment
// intent so checkout.session.* and charge.refunded events all carry it.
func paymentCheckoutParams(
	customerID string, intent *billing.PurchaseIntent,
	productName string, amountCents int64, currency, successURL, cancelURL string,
) *stripe.CheckoutSessionCreateParams {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(productName),
					},
					UnitAmount: stripe.Int64(amountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata:   intent.Metadata(),
	}
	params.PaymentIntentData = &stripe.CheckoutSessionCreatePaymentIntentDataParams{}
	for k, v := range intent.Metadata() {
		params.PaymentIntentData.AddMetadata(k, v)
	}
	return params
}

func newPurchaseID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("pur_%d", time.Now().UnixNano())
	}
	return "pur_" + hex.EncodeToString(b[:])
}
