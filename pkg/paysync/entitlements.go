package paysync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultProjectionTTL = 30 * time.Second

// ProjectorConfig holds configuration for the entitlement projection read path
type ProjectorConfig struct {
	// Store is the durable record store (required)
	Store Store

	// Cache is an optional short-TTL cache in front of the store.
	// If nil, caching is disabled.
	Cache Cache

	// CacheTTL is the TTL applied to cached projections (default 30s)
	CacheTTL time.Duration

	// Logger is optional; if nil, logging is disabled
	Logger Logger
}

// Projector answers entitlement questions from reconciled durable state.
// It never calls the payment provider: a cache miss falls through to the
// Store, and unsynchronized users simply have no entitlements yet.
type Projector struct {
	store    Store
	cache    Cache
	cacheTTL time.Duration
	logger   Logger
}

// NewProjector creates a projector over the given store
func NewProjector(config ProjectorConfig) (*Projector, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("projector: store is required")
	}

	cache := config.Cache
	if cache == nil {
		cache = NewNoopCache()
	}

	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = defaultProjectionTTL
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}

	return &Projector{
		store:    config.Store,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger,
	}, nil
}

// IsSupporter reports whether the user currently has an active subscription.
// A subscription flagged cancel_at_period_end stays a supporter until the
// provider actually cancels it (status flips on the next sync).
func (p *Projector) IsSupporter(ctx context.Context, userID string) (bool, error) {
	state, err := p.Subscription(ctx, userID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	return state.Status == SubscriptionActive, nil
}

// Subscription returns the user's reconciled subscription row, or nil if the
// user was never synchronized.
func (p *Projector) Subscription(ctx context.Context, userID string) (*SubscriptionState, error) {
	if state, ok := p.cache.GetSubscription(userID); ok {
		return state, nil
	}

	state, err := p.store.GetSubscriptionState(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		p.cache.SetSubscription(userID, nil, p.cacheTTL)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription state: %w", err)
	}

	p.cache.SetSubscription(userID, state, p.cacheTTL)
	return state, nil
}

// HasPurchased reports whether the user has a completed purchase of the
// given product or commission.
func (p *Projector) HasPurchased(ctx context.Context, userID, productID string) (bool, error) {
	rec, err := p.purchase(ctx, userID, productID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.Status == PurchaseCompleted, nil
}

func (p *Projector) purchase(ctx context.Context, buyerID, productID string) (*PurchaseRecord, error) {
	if rec, ok := p.cache.GetPurchase(buyerID, productID); ok {
		return rec, nil
	}

	rec, err := p.store.GetPurchaseByBuyerProduct(ctx, buyerID, productID)
	if errors.Is(err, ErrPurchaseNotFound) {
		p.cache.SetPurchase(buyerID, productID, nil, p.cacheTTL)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}

	p.cache.SetPurchase(buyerID, productID, rec, p.cacheTTL)
	return rec, nil
}

// IsPayoutReady reports whether the artist's connected account can receive
// funds, from the cached account status. Never onboarded means not ready.
func (p *Projector) IsPayoutReady(ctx context.Context, artistID string) (bool, error) {
	if status, ok := p.cache.GetPayout(artistID); ok {
		return status != nil && status.Onboarded, nil
	}

	status, err := p.store.GetPayoutStatus(ctx, artistID)
	if errors.Is(err, ErrPayoutStatusNotFound) {
		p.cache.SetPayout(artistID, nil, p.cacheTTL)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get payout status: %w", err)
	}

	p.cache.SetPayout(artistID, status, p.cacheTTL)
	return status.Onboarded, nil
}
