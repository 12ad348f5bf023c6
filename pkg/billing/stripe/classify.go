package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/atelierhq/paysync/pkg/billing"
)

// EventKind identifies what work an incoming webhook event requires.
type EventKind int

const (
	// KindIgnored means the event type is outside the allow-list.
	// Acknowledged with 200, no work performed.
	KindIgnored EventKind = iota
	KindCheckoutCompleted
	KindCheckoutExpired
	KindSubscriptionChange
	KindInvoicePaid
	KindInvoiceFailed
	KindChargeRefunded
	KindAccountUpdated
)

func (k EventKind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindCheckoutExpired:
		return "checkout_expired"
	case KindSubscriptionChange:
		return "subscription_change"
	case KindInvoicePaid:
		return "invoice_paid"
	case KindInvoiceFailed:
		return "invoice_failed"
	case KindChargeRefunded:
		return "charge_refunded"
	case KindAccountUpdated:
		return "account_updated"
	default:
		return "ignored"
	}
}

// Classification is the result of mapping a verified webhook event onto
// the reconciliation work it triggers. The event payload itself is never
// treated as state; only the identities and the purchase intent survive
// classification.
type Classification struct {
	Kind       EventKind
	CustomerID string
	AccountID  string
	Intent     *billing.PurchaseIntent
	SessionID  string
	PaymentID  string
}

// classifyEvent maps a Stripe event type onto an EventKind using a closed
// allow-list and extracts the customer identity. Unknown event types
// classify as KindIgnored with no error. An allow-listed event that
// carries no usable identity is malformed: the caller acknowledges it and
// raises an alert counter, because retrying cannot fix it.
func classifyEvent(event *stripe.Event) (*Classification, error) {
	switch event.Type {
	case "checkout.session.completed":
		return classifyCheckoutSession(event, KindCheckoutCompleted)
	case "checkout.session.expired":
		return classifyCheckoutSession(event, KindCheckoutExpired)

	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription payload: %v", billing.ErrMalformedEvent, err)
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return nil, fmt.Errorf("%w: subscription %s has no customer", billing.ErrMalformedEvent, sub.ID)
		}
		return &Classification{Kind: KindSubscriptionChange, CustomerID: sub.Customer.ID}, nil

	case "invoice.paid", "invoice.payment_failed":
		kind := KindInvoicePaid
		if event.Type == "invoice.payment_failed" {
			kind = KindInvoiceFailed
		}
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice payload: %v", billing.ErrMalformedEvent, err)
		}
		if inv.Customer == nil || inv.Customer.ID == "" {
			return nil, fmt.Errorf("%w: invoice %s has no customer", billing.ErrMalformedEvent, inv.ID)
		}
		return &Classification{Kind: kind, CustomerID: inv.Customer.ID}, nil

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("%w: charge payload: %v", billing.ErrMalformedEvent, err)
		}
		c := &Classification{Kind: KindChargeRefunded}
		if charge.Customer != nil {
			c.CustomerID = charge.Customer.ID
		}
		if charge.PaymentIntent != nil {
			c.PaymentID = charge.PaymentIntent.ID
		}
		intent, err := billing.IntentFromMetadata(charge.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: charge %s: %v", billing.ErrMalformedEvent, charge.ID, err)
		}
		c.Intent = intent
		if c.CustomerID == "" && c.Intent == nil {
			return nil, fmt.Errorf("%w: charge %s has no customer and no purchase metadata", billing.ErrMalformedEvent, charge.ID)
		}
		return c, nil

	case "account.updated":
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return nil, fmt.Errorf("%w: account payload: %v", billing.ErrMalformedEvent, err)
		}
		if account.ID == "" {
			return nil, fmt.Errorf("%w: account event has no account id", billing.ErrMalformedEvent)
		}
		return &Classification{Kind: KindAccountUpdated, AccountID: account.ID}, nil

	default:
		return &Classification{Kind: KindIgnored}, nil
	}
}

func classifyCheckoutSession(event *stripe.Event, kind EventKind) (*Classification, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session payload: %v", billing.ErrMalformedEvent, err)
	}

	c := &Classification{Kind: kind, SessionID: session.ID}
	if session.Customer != nil {
		c.CustomerID = session.Customer.ID
	}
	if session.PaymentIntent != nil {
		c.PaymentID = session.PaymentIntent.ID
	}

	intent, err := billing.IntentFromMetadata(session.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: checkout session %s: %v", billing.ErrMalformedEvent, session.ID, err)
	}
	c.Intent = intent

	// One-time product checkouts may complete before a customer object
	// exists; the purchase intent is identity enough for those.
	if c.CustomerID == "" && c.Intent == nil {
		return nil, fmt.Errorf("%w: checkout session %s has no customer and no purchase metadata", billing.ErrMalformedEvent, session.ID)
	}
	return c, nil
}
