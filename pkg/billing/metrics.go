package billing

import "time"

// Sync trigger labels, distinguishing the event-driven and poll-driven call
// sites of the same reconciliation routine.
const (
	SyncTriggerWebhook = "webhook"
	SyncTriggerUser    = "user"
)

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the provider.
	// eventType: the provider event type (e.g., "checkout.session.completed")
	// status: "processed", "ignored", "duplicate", or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long the intake path took
	// (verification through dispatch, not the background work).
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook intake error.
	// errorType: e.g., "auth_failed", "invalid_payload", "malformed_event"
	RecordWebhookError(provider, errorType string)

	// RecordSync records a synchronization run.
	// trigger: SyncTriggerWebhook or SyncTriggerUser
	// status: "success" or "error"
	RecordSync(provider, trigger, status string)

	// RecordSyncDuration records how long a synchronization run took.
	RecordSyncDuration(provider, trigger string, duration time.Duration)

	// RecordPurchaseTransition records a purchase status change, including
	// suppressed ones (status "noop") when a terminal record absorbs an event.
	RecordPurchaseTransition(provider, from, to, status string)

	// RecordAPICall records an outbound API call to the payment provider.
	// endpoint: the API endpoint called (e.g., "/subscriptions/list")
	// status: outcome label ("success", "error", ...)
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordSync(_, _, _ string)                                    {}
func (n *NoopMetrics) RecordSyncDuration(_, _ string, _ time.Duration)              {}
func (n *NoopMetrics) RecordPurchaseTransition(_, _, _, _ string)                   {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
