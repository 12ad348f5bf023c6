// Package postgres provides a PostgreSQL implementation of the paysync.Store
// interface. Single-row upserts use ON CONFLICT; the purchase state machine
// runs inside a transaction with SELECT FOR UPDATE so concurrent webhook
// deliveries cannot interleave transitions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Schema creates the tables this store expects. Run it once at deploy time
// (or feed it to your migration tool).
const Schema = `
CREATE TABLE IF NOT EXISTS customer_refs (
	user_id     TEXT PRIMARY KEY,
	artist_id   TEXT NOT NULL DEFAULT '',
	customer_id TEXT NOT NULL DEFAULT '',
	account_id  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS customer_refs_customer_idx
	ON customer_refs (customer_id) WHERE customer_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS customer_refs_account_idx
	ON customer_refs (account_id) WHERE account_id <> '';

CREATE TABLE IF NOT EXISTS subscription_states (
	user_id              TEXT PRIMARY KEY,
	subscription_id      TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	price_id             TEXT NOT NULL DEFAULT '',
	current_period_start TIMESTAMPTZ,
	current_period_end   TIMESTAMPTZ,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
	payment_method_brand TEXT NOT NULL DEFAULT '',
	payment_method_last4 TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS purchases (
	purchase_id         TEXT PRIMARY KEY,
	purchase_type       TEXT NOT NULL,
	buyer_id            TEXT NOT NULL,
	artist_id           TEXT NOT NULL DEFAULT '',
	product_id          TEXT NOT NULL,
	amount_cents        BIGINT NOT NULL,
	currency            TEXT NOT NULL,
	status              TEXT NOT NULL,
	checkout_session_id TEXT NOT NULL DEFAULT '',
	payment_id          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS purchases_buyer_product_idx
	ON purchases (buyer_id, product_id);

CREATE TABLE IF NOT EXISTS payout_statuses (
	artist_id       TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	onboarded       BOOLEAN NOT NULL,
	last_checked_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL,
	outcome      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS processed_events_processed_at_idx
	ON processed_events (processed_at);
`

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store implements paysync.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema creates the tables if they do not exist
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const customerRefColumns = `user_id, artist_id, customer_id, account_id, created_at`

func scanCustomerRef(row pgx.Row) (*paysync.CustomerRef, error) {
	var ref paysync.CustomerRef
	err := row.Scan(&ref.UserID, &ref.ArtistID, &ref.CustomerID, &ref.AccountID, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, paysync.ErrCustomerRefNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer ref: %w", err)
	}
	return &ref, nil
}

// GetCustomerRef implements paysync.Store
func (s *Store) GetCustomerRef(ctx context.Context, userID string) (*paysync.CustomerRef, error) {
	return scanCustomerRef(s.pool.QueryRow(ctx,
		`SELECT `+customerRefColumns+` FROM customer_refs WHERE user_id = $1`, userID))
}

// GetCustomerRefByCustomerID implements paysync.Store
func (s *Store) GetCustomerRefByCustomerID(ctx context.Context, customerID string) (*paysync.CustomerRef, error) {
	return scanCustomerRef(s.pool.QueryRow(ctx,
		`SELECT `+customerRefColumns+` FROM customer_refs WHERE customer_id = $1 AND customer_id <> ''`, customerID))
}

// GetCustomerRefByAccountID implements paysync.Store
func (s *Store) GetCustomerRefByAccountID(ctx context.Context, accountID string) (*paysync.CustomerRef, error) {
	return scanCustomerRef(s.pool.QueryRow(ctx,
		`SELECT `+customerRefColumns+` FROM customer_refs WHERE account_id = $1 AND account_id <> ''`, accountID))
}

// PutCustomerRef implements paysync.Store
func (s *Store) PutCustomerRef(ctx context.Context, ref *paysync.CustomerRef) error {
	if ref == nil || ref.UserID == "" {
		return fmt.Errorf("invalid customer ref")
	}

	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO customer_refs (user_id, artist_id, customer_id, account_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE SET
				artist_id = EXCLUDED.artist_id,
				customer_id = EXCLUDED.customer_id,
				account_id = EXCLUDED.account_id`,
		ref.UserID, ref.ArtistID, ref.CustomerID, ref.AccountID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put customer ref: %w", err)
	}
	return nil
}

// GetSubscriptionState implements paysync.Store
func (s *Store) GetSubscriptionState(ctx context.Context, userID string) (*paysync.SubscriptionState, error) {
	var state paysync.SubscriptionState
	var periodStart, periodEnd *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, subscription_id, status, price_id, current_period_start,
				current_period_end, cancel_at_period_end, payment_method_brand,
				payment_method_last4, updated_at
			FROM subscription_states WHERE user_id = $1`,
		userID).Scan(
		&state.UserID,
		&state.SubscriptionID,
		&state.Status,
		&state.PriceID,
		&periodStart,
		&periodEnd,
		&state.CancelAtPeriodEnd,
		&state.PaymentMethodBrand,
		&state.PaymentMethodLast4,
		&state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, paysync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription state: %w", err)
	}

	if periodStart != nil {
		state.CurrentPeriodStart = *periodStart
	}
	if periodEnd != nil {
		state.CurrentPeriodEnd = *periodEnd
	}
	return &state, nil
}

// SetSubscriptionState implements paysync.Store
func (s *Store) SetSubscriptionState(ctx context.Context, state *paysync.SubscriptionState) error {
	if state == nil || state.UserID == "" {
		return fmt.Errorf("invalid subscription state")
	}

	var periodStart, periodEnd *time.Time
	if !state.CurrentPeriodStart.IsZero() {
		periodStart = &state.CurrentPeriodStart
	}
	if !state.CurrentPeriodEnd.IsZero() {
		periodEnd = &state.CurrentPeriodEnd
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_states
				(user_id, subscription_id, status, price_id, current_period_start,
				 current_period_end, cancel_at_period_end, payment_method_brand,
				 payment_method_last4, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id) DO UPDATE SET
				subscription_id = EXCLUDED.subscription_id,
				status = EXCLUDED.status,
				price_id = EXCLUDED.price_id,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				payment_method_brand = EXCLUDED.payment_method_brand,
				payment_method_last4 = EXCLUDED.payment_method_last4,
				updated_at = EXCLUDED.updated_at`,
		state.UserID, state.SubscriptionID, string(state.Status), state.PriceID,
		periodStart, periodEnd, state.CancelAtPeriodEnd,
		state.PaymentMethodBrand, state.PaymentMethodLast4, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set subscription state: %w", err)
	}
	return nil
}

const purchaseColumns = `purchase_id, purchase_type, buyer_id, artist_id, product_id,
	amount_cents, currency, status, checkout_session_id, payment_id, created_at, updated_at`

func scanPurchase(row pgx.Row) (*paysync.PurchaseRecord, error) {
	var rec paysync.PurchaseRecord
	err := row.Scan(
		&rec.PurchaseID, &rec.Type, &rec.BuyerID, &rec.ArtistID, &rec.ProductID,
		&rec.AmountCents, &rec.Currency, &rec.Status, &rec.CheckoutSessionID,
		&rec.PaymentID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, paysync.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return &rec, nil
}

// GetPurchase implements paysync.Store
func (s *Store) GetPurchase(ctx context.Context, purchaseID string) (*paysync.PurchaseRecord, error) {
	return scanPurchase(s.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE purchase_id = $1`, purchaseID))
}

// GetPurchaseByBuyerProduct implements paysync.Store
func (s *Store) GetPurchaseByBuyerProduct(ctx context.Context, buyerID, productID string) (*paysync.PurchaseRecord, error) {
	return scanPurchase(s.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
			WHERE buyer_id = $1 AND product_id = $2
			ORDER BY created_at DESC LIMIT 1`,
		buyerID, productID))
}

// PutPurchase implements paysync.Store
func (s *Store) PutPurchase(ctx context.Context, rec *paysync.PurchaseRecord) error {
	if rec == nil || rec.PurchaseID == "" {
		return fmt.Errorf("invalid purchase record")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO purchases
				(purchase_id, purchase_type, buyer_id, artist_id, product_id,
				 amount_cents, currency, status, checkout_session_id, payment_id,
				 created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (purchase_id) DO UPDATE SET
				artist_id = EXCLUDED.artist_id,
				amount_cents = EXCLUDED.amount_cents,
				currency = EXCLUDED.currency,
				checkout_session_id = EXCLUDED.checkout_session_id,
				payment_id = EXCLUDED.payment_id,
				updated_at = EXCLUDED.updated_at`,
		rec.PurchaseID, string(rec.Type), rec.BuyerID, rec.ArtistID, rec.ProductID,
		rec.AmountCents, rec.Currency, string(rec.Status), rec.CheckoutSessionID,
		rec.PaymentID, rec.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put purchase: %w", err)
	}
	return nil
}

// TransitionPurchase implements paysync.Store. The row is locked for the
// duration of the check so two concurrent deliveries cannot both observe
// "pending" and both apply.
func (s *Store) TransitionPurchase(ctx context.Context, purchaseID string, to paysync.PurchaseStatus) (*paysync.PurchaseRecord, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rec, err := scanPurchase(tx.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE purchase_id = $1 FOR UPDATE`,
		purchaseID))
	if err != nil {
		return nil, false, err
	}

	if !rec.Status.CanTransitionTo(to) {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", err)
		}
		return rec, false, nil
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE purchases SET status = $1, updated_at = $2 WHERE purchase_id = $3`,
		string(to), now, purchaseID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to transition purchase: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	rec.Status = to
	rec.UpdatedAt = now
	return rec, true, nil
}

// GetPayoutStatus implements paysync.Store
func (s *Store) GetPayoutStatus(ctx context.Context, artistID string) (*paysync.PayoutAccountStatus, error) {
	var status paysync.PayoutAccountStatus
	err := s.pool.QueryRow(ctx,
		`SELECT artist_id, account_id, onboarded, last_checked_at
			FROM payout_statuses WHERE artist_id = $1`,
		artistID).Scan(&status.ArtistID, &status.AccountID, &status.Onboarded, &status.LastCheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, paysync.ErrPayoutStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout status: %w", err)
	}
	return &status, nil
}

// SetPayoutStatus implements paysync.Store
func (s *Store) SetPayoutStatus(ctx context.Context, status *paysync.PayoutAccountStatus) error {
	if status == nil || status.ArtistID == "" {
		return fmt.Errorf("invalid payout status")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO payout_statuses (artist_id, account_id, onboarded, last_checked_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (artist_id) DO UPDATE SET
				account_id = EXCLUDED.account_id,
				onboarded = EXCLUDED.onboarded,
				last_checked_at = EXCLUDED.last_checked_at`,
		status.ArtistID, status.AccountID, status.Onboarded, status.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set payout status: %w", err)
	}
	return nil
}

// HasProcessedEvent implements paysync.Store
func (s *Store) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkEventProcessed implements paysync.Store. ON CONFLICT DO NOTHING makes
// the write idempotent when two deliveries of one event race past the check.
func (s *Store) MarkEventProcessed(ctx context.Context, rec *paysync.ProcessedEvent) error {
	if rec == nil || rec.EventID == "" {
		return fmt.Errorf("invalid processed event")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, processed_at, outcome)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.ProcessedAt, rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// PruneProcessedEvents implements paysync.Store
func (s *Store) PruneProcessedEvents(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ paysync.Store = (*Store)(nil)
