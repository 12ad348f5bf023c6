// Package redis provides a Redis implementation of the paysync.Store interface.
// Values are JSON under prefixed keys; the purchase state machine is enforced
// atomically with a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Storage implements paysync.Store using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "paysync:")
	KeyPrefix string

	// EventRetention is the TTL for processed-event ledger keys. Providers do
	// not redeliver indefinitely, so entries can expire (default: 72h,
	// 0 = no expiration).
	EventRetention time.Duration

	// PayoutStatusTTL is the TTL for payout status cache keys. The status is
	// always safe to recompute from the provider (0 = no expiration).
	PayoutStatusTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:       "paysync:",
		EventRetention:  72 * time.Hour,
		PayoutStatusTTL: 0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "paysync:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Move a purchase through the monotonic state machine. Reads the record,
	// checks the allowed-transition table, writes back only when the move is
	// legal. Returns the (possibly updated) JSON and an applied flag.
	s.scripts["transition"] = redis.NewScript(`
		local data = redis.call('GET', KEYS[1])
		if not data then
			return nil
		end

		local rec = cjson.decode(data)
		local target = ARGV[1]

		local allowed = {
			pending = { completed = true, cancelled = true },
			completed = { refunded = true },
		}

		local from = allowed[rec['Status']]
		if not from or not from[target] then
			return {data, 0}
		end

		rec['Status'] = target
		rec['UpdatedAt'] = ARGV[2]
		local updated = cjson.encode(rec)
		redis.call('SET', KEYS[1], updated)
		return {updated, 1}
	`)
}

// Key builders

func (s *Storage) refKey(userID string) string {
	return fmt.Sprintf("%sref:user:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) refByCustomerKey(customerID string) string {
	return fmt.Sprintf("%sref:customer:%s", s.config.KeyPrefix, customerID)
}

func (s *Storage) refByAccountKey(accountID string) string {
	return fmt.Sprintf("%sref:account:%s", s.config.KeyPrefix, accountID)
}

func (s *Storage) subscriptionKey(userID string) string {
	return fmt.Sprintf("%ssubscription:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) purchaseKey(purchaseID string) string {
	return fmt.Sprintf("%spurchase:%s", s.config.KeyPrefix, purchaseID)
}

func (s *Storage) purchaseIndexKey(buyerID, productID string) string {
	return fmt.Sprintf("%spurchase:buyer:%s:%s", s.config.KeyPrefix, buyerID, productID)
}

func (s *Storage) payoutKey(artistID string) string {
	return fmt.Sprintf("%spayout:%s", s.config.KeyPrefix, artistID)
}

func (s *Storage) eventKey(eventID string) string {
	return fmt.Sprintf("%sevent:%s", s.config.KeyPrefix, eventID)
}

// GetCustomerRef retrieves the provider customer mapping for a local user
func (s *Storage) GetCustomerRef(ctx context.Context, userID string) (*paysync.CustomerRef, error) {
	return s.getRef(ctx, s.refKey(userID))
}

// GetCustomerRefByCustomerID resolves a provider customer id to the owning user
func (s *Storage) GetCustomerRefByCustomerID(ctx context.Context, customerID string) (*paysync.CustomerRef, error) {
	userID, err := s.client.Get(ctx, s.refByCustomerKey(customerID)).Result()
	if err == redis.Nil {
		return nil, paysync.ErrCustomerRefNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer id: %w", err)
	}
	return s.getRef(ctx, s.refKey(userID))
}

// GetCustomerRefByAccountID resolves a connected account id to the owning artist
func (s *Storage) GetCustomerRefByAccountID(ctx context.Context, accountID string) (*paysync.CustomerRef, error) {
	userID, err := s.client.Get(ctx, s.refByAccountKey(accountID)).Result()
	if err == redis.Nil {
		return nil, paysync.ErrCustomerRefNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account id: %w", err)
	}
	return s.getRef(ctx, s.refKey(userID))
}

func (s *Storage) getRef(ctx context.Context, key string) (*paysync.CustomerRef, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, paysync.ErrCustomerRefNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer ref: %w", err)
	}

	var ref paysync.CustomerRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer ref: %w", err)
	}
	return &ref, nil
}

// PutCustomerRef upserts the mapping keyed by UserID and maintains the
// customer-id and account-id secondary indexes, removing stale entries when
// the ref is re-pointed.
func (s *Storage) PutCustomerRef(ctx context.Context, ref *paysync.CustomerRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal customer ref: %w", err)
	}

	prev, err := s.getRef(ctx, s.refKey(ref.UserID))
	if err != nil && err != paysync.ErrCustomerRefNotFound {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.refKey(ref.UserID), data, 0)
	if prev != nil && prev.CustomerID != "" && prev.CustomerID != ref.CustomerID {
		pipe.Del(ctx, s.refByCustomerKey(prev.CustomerID))
	}
	if prev != nil && prev.AccountID != "" && prev.AccountID != ref.AccountID {
		pipe.Del(ctx, s.refByAccountKey(prev.AccountID))
	}
	if ref.CustomerID != "" {
		pipe.Set(ctx, s.refByCustomerKey(ref.CustomerID), ref.UserID, 0)
	}
	if ref.AccountID != "" {
		pipe.Set(ctx, s.refByAccountKey(ref.AccountID), ref.UserID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put customer ref: %w", err)
	}
	return nil
}

// GetSubscriptionState retrieves the reconciled subscription row for a user
func (s *Storage) GetSubscriptionState(ctx context.Context, userID string) (*paysync.SubscriptionState, error) {
	data, err := s.client.Get(ctx, s.subscriptionKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, paysync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription state: %w", err)
	}

	var state paysync.SubscriptionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription state: %w", err)
	}
	return &state, nil
}

// SetSubscriptionState overwrites the whole subscription row for state.UserID
func (s *Storage) SetSubscriptionState(ctx context.Context, state *paysync.SubscriptionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription state: %w", err)
	}
	if err := s.client.Set(ctx, s.subscriptionKey(state.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set subscription state: %w", err)
	}
	return nil
}

// GetPurchase retrieves a purchase by id
func (s *Storage) GetPurchase(ctx context.Context, purchaseID string) (*paysync.PurchaseRecord, error) {
	data, err := s.client.Get(ctx, s.purchaseKey(purchaseID)).Bytes()
	if err == redis.Nil {
		return nil, paysync.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}

	var rec paysync.PurchaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal purchase: %w", err)
	}
	return &rec, nil
}

// GetPurchaseByBuyerProduct finds a buyer's purchase of a product or commission
func (s *Storage) GetPurchaseByBuyerProduct(ctx context.Context, buyerID, productID string) (*paysync.PurchaseRecord, error) {
	purchaseID, err := s.client.Get(ctx, s.purchaseIndexKey(buyerID, productID)).Result()
	if err == redis.Nil {
		return nil, paysync.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve purchase index: %w", err)
	}
	return s.GetPurchase(ctx, purchaseID)
}

// PutPurchase upserts a purchase record keyed by PurchaseID and maintains the
// buyer+product index. Status changes go through TransitionPurchase.
func (s *Storage) PutPurchase(ctx context.Context, rec *paysync.PurchaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.purchaseKey(rec.PurchaseID), data, 0)
	pipe.Set(ctx, s.purchaseIndexKey(rec.BuyerID, rec.ProductID), rec.PurchaseID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put purchase: %w", err)
	}
	return nil
}

// TransitionPurchase atomically moves a purchase to the given status when the
// state machine allows it. A disallowed transition is a no-op, not an error.
func (s *Storage) TransitionPurchase(ctx context.Context, purchaseID string, to paysync.PurchaseStatus) (*paysync.PurchaseRecord, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.scripts["transition"].Run(ctx, s.client,
		[]string{s.purchaseKey(purchaseID)},
		string(to), now,
	).Result()
	if err == redis.Nil {
		return nil, false, paysync.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to transition purchase: %w", err)
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, false, fmt.Errorf("unexpected transition script result: %v", result)
	}
	payload, ok := vals[0].(string)
	if !ok {
		return nil, false, fmt.Errorf("unexpected transition script payload: %v", vals[0])
	}
	applied, ok := vals[1].(int64)
	if !ok {
		return nil, false, fmt.Errorf("unexpected transition script flag: %v", vals[1])
	}

	var rec paysync.PurchaseRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal purchase: %w", err)
	}
	return &rec, applied == 1, nil
}

// GetPayoutStatus retrieves the cached payout readiness for an artist
func (s *Storage) GetPayoutStatus(ctx context.Context, artistID string) (*paysync.PayoutAccountStatus, error) {
	data, err := s.client.Get(ctx, s.payoutKey(artistID)).Bytes()
	if err == redis.Nil {
		return nil, paysync.ErrPayoutStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout status: %w", err)
	}

	var status paysync.PayoutAccountStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payout status: %w", err)
	}
	return &status, nil
}

// SetPayoutStatus upserts the payout readiness cache keyed by ArtistID
func (s *Storage) SetPayoutStatus(ctx context.Context, status *paysync.PayoutAccountStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal payout status: %w", err)
	}
	if err := s.client.Set(ctx, s.payoutKey(status.ArtistID), data, s.config.PayoutStatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to set payout status: %w", err)
	}
	return nil
}

// HasProcessedEvent reports whether an external event id has been processed
func (s *Storage) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// MarkEventProcessed records completion of an event's side effects. The key
// carries the configured retention TTL; re-marking the same event is a no-op.
func (s *Storage) MarkEventProcessed(ctx context.Context, rec *paysync.ProcessedEvent) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal processed event: %w", err)
	}
	if err := s.client.SetNX(ctx, s.eventKey(rec.EventID), data, s.config.EventRetention).Err(); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// PruneProcessedEvents is a no-op for Redis; ledger retention is enforced by
// key TTL at write time.
func (s *Storage) PruneProcessedEvents(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

// Ping checks connectivity to Redis
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

var _ paysync.Store = (*Storage)(nil)
