package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/atelierhq/paysync/pkg/billing"
	"github.com/atelierhq/paysync/pkg/paysync"
)

// SyncUser reconciles a user's durable payment state from Stripe's current
// truth. Used on checkout return and as the manual repair path; the webhook
// path converges on the same writes, so running both is harmless.
func (p *Provider) SyncUser(ctx context.Context, userID string) (*billing.SyncResult, error) {
	startTime := time.Now()
	result := &billing.SyncResult{UserID: userID}

	ref, err := p.store.GetCustomerRef(ctx, userID)
	if errors.Is(err, paysync.ErrCustomerRefNotFound) {
		// Never checked out: record the known-absent subscription so the
		// Projector does not have to special-case missing rows.
		state, err := p.writeSubscriptionState(ctx, noneSubscriptionState(userID))
		if err != nil {
			p.recordSync(billing.SyncTriggerUser, "error", startTime)
			return nil, err
		}
		result.Subscription = state
		p.recordSync(billing.SyncTriggerUser, "success", startTime)
		return result, nil
	}
	if err != nil {
		p.recordSync(billing.SyncTriggerUser, "error", startTime)
		return nil, fmt.Errorf("failed to resolve customer ref: %w", err)
	}

	state, err := p.refreshSubscription(ctx, ref)
	if err != nil {
		p.recordSync(billing.SyncTriggerUser, "error", startTime)
		return nil, err
	}
	result.Subscription = state

	if ref.AccountID != "" {
		payout, err := p.syncAccount(ctx, ref.AccountID)
		if err != nil {
			p.recordSync(billing.SyncTriggerUser, "error", startTime)
			return nil, err
		}
		result.Payout = payout
	}

	p.recordSync(billing.SyncTriggerUser, "success", startTime)
	return result, nil
}

// syncClassified performs the background reconciliation work for a verified,
// classified, non-duplicate webhook event. Purchase transitions are applied
// first so a completed sale is durable even if the Stripe fetch below fails
// and the event is redelivered.
func (p *Provider) syncClassified(ctx context.Context, c *Classification) (string, error) {
	startTime := time.Now()

	outcome, err := p.applyClassified(ctx, c)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.recordSync(billing.SyncTriggerWebhook, status, startTime)
	return outcome, err
}

func (p *Provider) applyClassified(ctx context.Context, c *Classification) (string, error) {
	if c.Kind == KindAccountUpdated {
		if _, err := p.syncAccount(ctx, c.AccountID); err != nil {
			return "", err
		}
		return "payout_status_synced", nil
	}

	outcome := "subscription_synced"
	if c.Intent != nil {
		applied, err := p.applyPurchaseIntent(ctx, c)
		if err != nil {
			return "", err
		}
		if applied {
			outcome = "purchase_" + string(purchaseTargetStatus(c.Kind))
		} else {
			outcome = "purchase_transition_suppressed"
		}
	}

	if c.CustomerID != "" {
		ref, err := p.store.GetCustomerRefByCustomerID(ctx, c.CustomerID)
		if errors.Is(err, paysync.ErrCustomerRefNotFound) {
			// No local user maps to this customer and a redelivery carries
			// the same unresolvable id. Ack and let a later user sync or
			// checkout re-link repair the row.
			p.logger.Warn("no local user for provider customer",
				paysync.Field{Key: "customer_id", Value: c.CustomerID},
			)
			p.metrics.RecordWebhookError(providerName, "customer_unlinked")
			if c.Intent == nil {
				outcome = "customer_unlinked"
			}
			return outcome, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve customer ref: %w", err)
		}
		if _, err := p.refreshSubscription(ctx, ref); err != nil {
			return "", err
		}
	}

	return outcome, nil
}

// refreshSubscription fetches the customer's authoritative subscription list
// from Stripe and overwrites the local row in one upsert. The event snapshot
// is never used as state, which is what makes out-of-order and duplicate
// deliveries converge. Concurrent refreshes for one customer are coalesced;
// the atomic upsert stays the correctness mechanism.
func (p *Provider) refreshSubscription(ctx context.Context, ref *paysync.CustomerRef) (*paysync.SubscriptionState, error) {
	if ref.CustomerID == "" {
		return p.writeSubscriptionState(ctx, noneSubscriptionState(ref.UserID))
	}

	v, err, _ := p.flight.Do(ref.CustomerID, func() (interface{}, error) {
		sub, err := p.fetchLatestSubscription(ctx, ref.CustomerID)
		if err != nil {
			return nil, err
		}
		state, err := p.writeSubscriptionState(ctx, subscriptionStateFrom(ref.UserID, sub))
		if err != nil {
			return nil, err
		}
		p.logger.Info("subscription state reconciled",
			paysync.Field{Key: "user_id", Value: ref.UserID},
			paysync.Field{Key: "status", Value: string(state.Status)},
		)
		return state, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*paysync.SubscriptionState), nil
}

// writeSubscriptionState upserts the reconciled row. When the reconciled
// fields match the stored row the write is skipped and the stored row is
// returned unchanged, so repeated syncs against unchanged provider truth
// leave the record untouched, UpdatedAt included.
func (p *Provider) writeSubscriptionState(ctx context.Context, state *paysync.SubscriptionState) (*paysync.SubscriptionState, error) {
	prev, err := p.store.GetSubscriptionState(ctx, state.UserID)
	if err == nil && subscriptionUnchanged(prev, state) {
		return prev, nil
	}
	if err != nil && !errors.Is(err, paysync.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("failed to read subscription state: %w", err)
	}
	if err := p.store.SetSubscriptionState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to write subscription state: %w", err)
	}
	return state, nil
}

func subscriptionUnchanged(prev, next *paysync.SubscriptionState) bool {
	return prev.SubscriptionID == next.SubscriptionID &&
		prev.Status == next.Status &&
		prev.PriceID == next.PriceID &&
		prev.CurrentPeriodStart.Equal(next.CurrentPeriodStart) &&
		prev.CurrentPeriodEnd.Equal(next.CurrentPeriodEnd) &&
		prev.CancelAtPeriodEnd == next.CancelAtPeriodEnd &&
		prev.PaymentMethodBrand == next.PaymentMethodBrand &&
		prev.PaymentMethodLast4 == next.PaymentMethodLast4
}

// fetchLatestSubscription lists the customer's subscriptions across all
// statuses and returns the most recently created one, or nil when none
// exist. default_payment_method is expanded for the card summary.
func (p *Provider) fetchLatestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	startTime := time.Now()

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String("all")
	params.Expand = []*string{stripe.String("data.default_payment_method")}

	var latest *stripe.Subscription
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			return nil, fmt.Errorf("%w: failed to list subscriptions: %v", billing.ErrProviderAPIError, err)
		}
		if latest == nil || sub.Created > latest.Created {
			latest = sub
		}
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(startTime))
	return latest, nil
}

// applyPurchaseIntent moves the purchase named by the event's metadata
// through the monotonic state machine. A disallowed transition (late
// expiry after completion, duplicate refund) is suppressed with a warning,
// never an error: the provider's delivery order is not trusted. A purchase
// the checkout path never wrote locally is created from the intent here,
// so a confirmation event is never lost to a missing row.
func (p *Provider) applyPurchaseIntent(ctx context.Context, c *Classification) (bool, error) {
	target := purchaseTargetStatus(c.Kind)
	if target == "" {
		return false, nil
	}

	rec, applied, err := p.store.TransitionPurchase(ctx, c.Intent.PurchaseID, target)
	if errors.Is(err, paysync.ErrPurchaseNotFound) {
		return p.createPurchaseFromIntent(ctx, c, target)
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition purchase %s: %w", c.Intent.PurchaseID, err)
	}

	if !applied {
		p.logger.Warn("purchase transition suppressed",
			paysync.Field{Key: "purchase_id", Value: rec.PurchaseID},
			paysync.Field{Key: "current", Value: string(rec.Status)},
			paysync.Field{Key: "requested", Value: string(target)},
		)
		p.metrics.RecordPurchaseTransition(providerName, string(rec.Status), string(target), "suppressed")
		return false, nil
	}

	from := paysync.PurchasePending
	if target == paysync.PurchaseRefunded {
		from = paysync.PurchaseCompleted
	}
	p.metrics.RecordPurchaseTransition(providerName, string(from), string(target), "applied")

	// Backfill the provider payment ids now that they are known.
	changed := false
	if c.PaymentID != "" && rec.PaymentID == "" {
		rec.PaymentID = c.PaymentID
		changed = true
	}
	if c.SessionID != "" && rec.CheckoutSessionID == "" {
		rec.CheckoutSessionID = c.SessionID
		changed = true
	}
	if changed {
		if err := p.store.PutPurchase(ctx, rec); err != nil {
			return true, fmt.Errorf("failed to backfill purchase ids: %w", err)
		}
	}
	return true, nil
}

// createPurchaseFromIntent materializes a purchase record straight from
// the event's validated intent when no local row exists. The amount stays
// zero until a later sync backfills it; losing the sale would be worse.
func (p *Provider) createPurchaseFromIntent(ctx context.Context, c *Classification, target paysync.PurchaseStatus) (bool, error) {
	now := time.Now().UTC()
	rec := &paysync.PurchaseRecord{
		PurchaseID:        c.Intent.PurchaseID,
		Type:              c.Intent.Type,
		BuyerID:           c.Intent.BuyerID,
		ArtistID:          c.Intent.ArtistID,
		ProductID:         c.Intent.ProductID,
		Status:            target,
		CheckoutSessionID: c.SessionID,
		PaymentID:         c.PaymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := p.store.PutPurchase(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to create purchase %s: %w", rec.PurchaseID, err)
	}

	p.logger.Warn("purchase record created from event intent",
		paysync.Field{Key: "purchase_id", Value: rec.PurchaseID},
		paysync.Field{Key: "status", Value: string(target)},
	)
	p.metrics.RecordPurchaseTransition(providerName, "none", string(target), "created")
	return true, nil
}

// syncAccount recomputes payout readiness from the connected account's
// charges_enabled flag. Safe to run on every account.updated delivery.
func (p *Provider) syncAccount(ctx context.Context, accountID string) (*paysync.PayoutAccountStatus, error) {
	ref, err := p.store.GetCustomerRefByAccountID(ctx, accountID)
	if errors.Is(err, paysync.ErrCustomerRefNotFound) {
		return nil, fmt.Errorf("%w: no local artist for account %s", billing.ErrCustomerNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account ref: %w", err)
	}

	startTime := time.Now()
	account, err := p.stripeClient.V1Accounts.GetByID(ctx, accountID, nil)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/accounts/retrieve", "error")
		return nil, fmt.Errorf("%w: failed to fetch account: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/accounts/retrieve", "success")
	p.metrics.RecordAPICallDuration(providerName, "/accounts/retrieve", time.Since(startTime))

	status := &paysync.PayoutAccountStatus{
		ArtistID:      ref.ArtistID,
		AccountID:     accountID,
		Onboarded:     account.ChargesEnabled,
		LastCheckedAt: time.Now().UTC(),
	}
	if err := p.store.SetPayoutStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to write payout status: %w", err)
	}
	return status, nil
}

// purchaseTargetStatus maps an event kind to the purchase status it drives.
func purchaseTargetStatus(kind EventKind) paysync.PurchaseStatus {
	switch kind {
	case KindCheckoutCompleted:
		return paysync.PurchaseCompleted
	case KindCheckoutExpired:
		return paysync.PurchaseCancelled
	case KindChargeRefunded:
		return paysync.PurchaseRefunded
	default:
		return ""
	}
}

// subscriptionStateFrom builds the local row from Stripe's truth. A nil
// subscription maps to status none so "known absent" is distinguishable
// from "never synced".
func subscriptionStateFrom(userID string, sub *stripe.Subscription) *paysync.SubscriptionState {
	state := &paysync.SubscriptionState{
		UserID:    userID,
		Status:    paysync.SubscriptionNone,
		UpdatedAt: time.Now().UTC(),
	}
	if sub == nil {
		return state
	}

	state.SubscriptionID = sub.ID
	state.Status = mapSubscriptionStatus(sub.Status)
	state.CancelAtPeriodEnd = sub.CancelAtPeriodEnd

	// Period bounds live on the subscription item in v83.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			state.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			state.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			state.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	if sub.DefaultPaymentMethod != nil && sub.DefaultPaymentMethod.Card != nil {
		state.PaymentMethodBrand = string(sub.DefaultPaymentMethod.Card.Brand)
		state.PaymentMethodLast4 = sub.DefaultPaymentMethod.Card.Last4
	}

	return state
}

func mapSubscriptionStatus(s stripe.SubscriptionStatus) paysync.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return paysync.SubscriptionActive
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
		return paysync.SubscriptionIncomplete
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return paysync.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		return paysync.SubscriptionCanceled
	case stripe.SubscriptionStatusPaused:
		return paysync.SubscriptionPaused
	default:
		return paysync.SubscriptionIncomplete
	}
}

func noneSubscriptionState(userID string) *paysync.SubscriptionState {
	return &paysync.SubscriptionState{
		UserID:    userID,
		Status:    paysync.SubscriptionNone,
		UpdatedAt: time.Now().UTC(),
	}
}

func (p *Provider) recordSync(trigger, status string, startTime time.Time) {
	p.metrics.RecordSync(providerName, trigger, status)
	p.metrics.RecordSyncDuration(providerName, trigger, time.Since(startTime))
}
