package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/singleflight"

	"github.com/atelierhq/paysync/pkg/billing"
	"github.com/atelierhq/paysync/pkg/billing/internal"
	"github.com/atelierhq/paysync/pkg/paysync"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultSyncTimeout       = 30 * time.Second
	defaultCurrency          = "usd"
	maxWebhookBodyBytes      = 256 * 1024
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Logger, Metrics, HTTPClient)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// Supporter subscription prices. The first entry is the default
	// price offered by SubscriptionCheckoutURL.
	SupporterPriceIDs []string

	// Currency for one-time product checkouts. Defaults to "usd".
	DefaultCurrency string

	// Deadline for a single background synchronization run.
	SyncTimeout time.Duration

	// MaxConcurrentSyncs bounds the background dispatcher. Zero uses
	// the dispatcher default.
	MaxConcurrentSyncs int
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store             paysync.Store
	logger            paysync.Logger
	metrics           billing.Metrics
	httpClient        *http.Client
	rateLimiter       *internal.RateLimiter
	dispatcher        *billing.Dispatcher
	flight            singleflight.Group
	webhookSecret     []byte
	apiKey            string
	stripeClient      *stripe.Client
	supporterPriceIDs []string
	currency          string
	syncTimeout       time.Duration
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = &paysync.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	currency := strings.ToLower(strings.TrimSpace(config.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}

	syncTimeout := config.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = defaultSyncTimeout
	}

	dispatcher := billing.NewDispatcher(billing.DispatcherConfig{
		Logger:        logger,
		TaskTimeout:   syncTimeout,
		MaxConcurrent: config.MaxConcurrentSyncs,
	})

	return &Provider{
		store:             config.Store,
		logger:            logger,
		metrics:           metrics,
		httpClient:        httpClient,
		rateLimiter:       internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		dispatcher:        dispatcher,
		webhookSecret:     []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		apiKey:            apiKey,
		stripeClient:      stripe.NewClient(apiKey),
		supporterPriceIDs: config.SupporterPriceIDs,
		currency:          currency,
		syncTimeout:       syncTimeout,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

// Shutdown drains in-flight background synchronizations. After Shutdown
// the webhook handler rejects new events with 503 so Stripe redelivers
// them.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.dispatcher.Shutdown(ctx)
}

// SyncHandlerConfig configures the checkout-return synchronization
// endpoint.
type SyncHandlerConfig struct {
	// GetUserID extracts the authenticated user from the request.
	GetUserID func(r *http.Request) (string, error)

	// Redirect targets. The handler answers with 303 See Other.
	SuccessURL string
	FailureURL string
}

// SyncHandler returns a GET handler that re-synchronizes the calling
// user from Stripe and redirects. Mounted on the checkout success URL
// so state is fresh before Stripe delivers the webhook.
func (p *Provider) SyncHandler(config SyncHandlerConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, err := config.GetUserID(r)
		if err != nil || userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if _, err := p.SyncUser(r.Context(), userID); err != nil {
			p.logger.Warn("checkout return sync failed",
				paysync.Field{Key: "user_id", Value: userID},
				paysync.Field{Key: "error", Value: err.Error()},
			)
			http.Redirect(w, r, config.FailureURL, http.StatusSeeOther)
			return
		}

		http.Redirect(w, r, config.SuccessURL, http.StatusSeeOther)
	})
}
