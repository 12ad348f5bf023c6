package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/atelierhq/paysync/pkg/billing"
	"github.com/atelierhq/paysync/pkg/billing/internal"
	"github.com/atelierhq/paysync/pkg/paysync"
)

type webhookAck struct {
	Received bool `json:"received"`
}

// handleWebhook is the intake path: verify, classify, dedup, dispatch,
// acknowledge. It answers fast and never blocks on reconciliation work;
// a failed background run simply leaves the event unmarked so Stripe
// redelivers it.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	// Timestamped HMAC over the exact raw bytes. Anything that fails here
	// gets a 400 and no further processing.
	sig := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEventWithOptions(body, sig, string(p.webhookSecret), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "signature_failed")
		return
	}

	eventType := string(event.Type)
	eventID := event.ID

	classification, err := classifyEvent(&event)
	if err != nil {
		// Malformed but authentic: acknowledge so Stripe stops retrying
		// (a retry delivers the same broken payload) and alert instead.
		p.logger.Warn("malformed webhook event",
			paysync.Field{Key: "event_id", Value: eventID},
			paysync.Field{Key: "event_type", Value: eventType},
			paysync.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookEvent(providerName, eventType, "malformed")
		p.ackWebhook(w, eventType, startTime)
		return
	}

	if classification.Kind == KindIgnored {
		p.metrics.RecordWebhookEvent(providerName, eventType, "ignored")
		p.ackWebhook(w, eventType, startTime)
		return
	}

	// Dedup ledger check runs after verification and classification so a
	// forged or ignorable event never touches storage.
	// A storage outage here is retry-worthy, so refuse with 503 and let
	// Stripe redeliver once the store is back.
	processed, err := p.store.HasProcessedEvent(r.Context(), eventID)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		p.metrics.RecordWebhookError(providerName, "ledger_check_failed")
		return
	}
	if processed {
		p.logger.Debug("duplicate webhook event",
			paysync.Field{Key: "event_id", Value: eventID},
			paysync.Field{Key: "event_type", Value: eventType},
		)
		p.metrics.RecordWebhookEvent(providerName, eventType, "duplicate")
		p.ackWebhook(w, eventType, startTime)
		return
	}

	accepted := p.dispatcher.Dispatch(eventType, func(ctx context.Context) error {
		return p.reconcileEvent(ctx, eventID, classification)
	})
	if !accepted {
		// Shutting down: refuse without acknowledging so Stripe redelivers.
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		p.metrics.RecordWebhookError(providerName, "dispatch_rejected")
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "accepted")
	p.ackWebhook(w, eventType, startTime)
}

// reconcileEvent runs in the background dispatcher. The ledger entry is
// written only after every side effect landed; a partial failure leaves
// the event unmarked and the next delivery re-converges.
func (p *Provider) reconcileEvent(ctx context.Context, eventID string, c *Classification) error {
	outcome, err := p.syncClassified(ctx, c)
	if err != nil {
		return err
	}

	return p.store.MarkEventProcessed(ctx, &paysync.ProcessedEvent{
		EventID:     eventID,
		ProcessedAt: time.Now().UTC(),
		Outcome:     outcome,
	})
}

func (p *Provider) ackWebhook(w http.ResponseWriter, eventType string, startTime time.Time) {
	_ = internal.WriteJSON(w, http.StatusOK, webhookAck{Received: true})
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

var _ billing.Provider = (*Provider)(nil)
