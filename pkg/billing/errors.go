package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails.
	// The endpoint must answer 4xx and process nothing further.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMalformedEvent is returned when an allow-listed event is missing the
	// identity fields reconciliation needs. Acknowledged with 200 to stop
	// redelivery of an unfixable payload; an alert is raised instead.
	ErrMalformedEvent = errors.New("malformed provider event")

	// ErrCustomerNotFound is returned when a customer cannot be resolved at the provider
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrUnknownPurchaseType is returned for a purchase_type value outside the
	// closed tagged union round-tripped through checkout metadata
	ErrUnknownPurchaseType = errors.New("unknown purchase type in metadata")
)
