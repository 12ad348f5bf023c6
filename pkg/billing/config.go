package billing

import (
	"net/http"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Config defines the standard configuration all providers accept
type Config struct {
	// Store is the durable record store the synchronizer writes to (required)
	Store paysync.Store

	// Logger is an optional structured logger. If nil, logging is disabled.
	Logger paysync.Logger

	// WebhookSecret is the shared secret used to verify inbound webhook
	// signatures (e.g. the Stripe whsec_ signing secret).
	WebhookSecret string

	// APIKey is used for outbound API calls to the payment provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for provider operations.
	// If nil, metrics are silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics
}
