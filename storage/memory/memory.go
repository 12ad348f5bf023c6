// Package memory provides an in-memory implementation of the paysync.Store
// interface. Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Store implements paysync.Store using in-memory maps
type Store struct {
	mu              sync.RWMutex
	refsByUser      map[string]*paysync.CustomerRef
	refsByCustomer  map[string]string // customer id -> user id
	refsByAccount   map[string]string // account id -> user id
	subscriptions   map[string]*paysync.SubscriptionState
	purchases       map[string]*paysync.PurchaseRecord
	purchaseIndex   map[string]string // buyer id + "\x00" + product id -> purchase id
	payouts         map[string]*paysync.PayoutAccountStatus
	processedEvents map[string]*paysync.ProcessedEvent
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		refsByUser:      make(map[string]*paysync.CustomerRef),
		refsByCustomer:  make(map[string]string),
		refsByAccount:   make(map[string]string),
		subscriptions:   make(map[string]*paysync.SubscriptionState),
		purchases:       make(map[string]*paysync.PurchaseRecord),
		purchaseIndex:   make(map[string]string),
		payouts:         make(map[string]*paysync.PayoutAccountStatus),
		processedEvents: make(map[string]*paysync.ProcessedEvent),
	}
}

func purchaseIndexKey(buyerID, productID string) string {
	return buyerID + "\x00" + productID
}

// GetCustomerRef implements paysync.Store
func (s *Store) GetCustomerRef(_ context.Context, userID string) (*paysync.CustomerRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refsByUser[userID]
	if !ok {
		return nil, paysync.ErrCustomerRefNotFound
	}
	refCopy := *ref
	return &refCopy, nil
}

// GetCustomerRefByCustomerID implements paysync.Store
func (s *Store) GetCustomerRefByCustomerID(_ context.Context, customerID string) (*paysync.CustomerRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.refsByCustomer[customerID]
	if !ok {
		return nil, paysync.ErrCustomerRefNotFound
	}
	refCopy := *s.refsByUser[userID]
	return &refCopy, nil
}

// GetCustomerRefByAccountID implements paysync.Store
func (s *Store) GetCustomerRefByAccountID(_ context.Context, accountID string) (*paysync.CustomerRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.refsByAccount[accountID]
	if !ok {
		return nil, paysync.ErrCustomerRefNotFound
	}
	refCopy := *s.refsByUser[userID]
	return &refCopy, nil
}

// PutCustomerRef implements paysync.Store
func (s *Store) PutCustomerRef(_ context.Context, ref *paysync.CustomerRef) error {
	if ref == nil || ref.UserID == "" {
		return fmt.Errorf("invalid customer ref")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.refsByUser[ref.UserID]; ok {
		delete(s.refsByCustomer, prev.CustomerID)
		delete(s.refsByAccount, prev.AccountID)
	}

	refCopy := *ref
	s.refsByUser[ref.UserID] = &refCopy
	if ref.CustomerID != "" {
		s.refsByCustomer[ref.CustomerID] = ref.UserID
	}
	if ref.AccountID != "" {
		s.refsByAccount[ref.AccountID] = ref.UserID
	}
	return nil
}

// GetSubscriptionState implements paysync.Store
func (s *Store) GetSubscriptionState(_ context.Context, userID string) (*paysync.SubscriptionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.subscriptions[userID]
	if !ok {
		return nil, paysync.ErrSubscriptionNotFound
	}
	stateCopy := *state
	return &stateCopy, nil
}

// SetSubscriptionState implements paysync.Store
func (s *Store) SetSubscriptionState(_ context.Context, state *paysync.SubscriptionState) error {
	if state == nil || state.UserID == "" {
		return fmt.Errorf("invalid subscription state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stateCopy := *state
	s.subscriptions[state.UserID] = &stateCopy
	return nil
}

// GetPurchase implements paysync.Store
func (s *Store) GetPurchase(_ context.Context, purchaseID string) (*paysync.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.purchases[purchaseID]
	if !ok {
		return nil, paysync.ErrPurchaseNotFound
	}
	recCopy := *rec
	return &recCopy, nil
}

// GetPurchaseByBuyerProduct implements paysync.Store
func (s *Store) GetPurchaseByBuyerProduct(_ context.Context, buyerID, productID string) (*paysync.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.purchaseIndex[purchaseIndexKey(buyerID, productID)]
	if !ok {
		return nil, paysync.ErrPurchaseNotFound
	}
	recCopy := *s.purchases[id]
	return &recCopy, nil
}

// PutPurchase implements paysync.Store
func (s *Store) PutPurchase(_ context.Context, rec *paysync.PurchaseRecord) error {
	if rec == nil || rec.PurchaseID == "" {
		return fmt.Errorf("invalid purchase record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.purchases[rec.PurchaseID] = &recCopy
	s.purchaseIndex[purchaseIndexKey(rec.BuyerID, rec.ProductID)] = rec.PurchaseID
	return nil
}

// TransitionPurchase implements paysync.Store
func (s *Store) TransitionPurchase(_ context.Context, purchaseID string, to paysync.PurchaseStatus) (*paysync.PurchaseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.purchases[purchaseID]
	if !ok {
		return nil, false, paysync.ErrPurchaseNotFound
	}

	if !rec.Status.CanTransitionTo(to) {
		recCopy := *rec
		return &recCopy, false, nil
	}

	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	recCopy := *rec
	return &recCopy, true, nil
}

// GetPayoutStatus implements paysync.Store
func (s *Store) GetPayoutStatus(_ context.Context, artistID string) (*paysync.PayoutAccountStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.payouts[artistID]
	if !ok {
		return nil, paysync.ErrPayoutStatusNotFound
	}
	statusCopy := *status
	return &statusCopy, nil
}

// SetPayoutStatus implements paysync.Store
func (s *Store) SetPayoutStatus(_ context.Context, status *paysync.PayoutAccountStatus) error {
	if status == nil || status.ArtistID == "" {
		return fmt.Errorf("invalid payout status")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statusCopy := *status
	s.payouts[status.ArtistID] = &statusCopy
	return nil
}

// HasProcessedEvent implements paysync.Store
func (s *Store) HasProcessedEvent(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processedEvents[eventID]
	return ok, nil
}

// MarkEventProcessed implements paysync.Store
func (s *Store) MarkEventProcessed(_ context.Context, rec *paysync.ProcessedEvent) error {
	if rec == nil || rec.EventID == "" {
		return fmt.Errorf("invalid processed event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processedEvents[rec.EventID]; ok {
		return nil
	}
	recCopy := *rec
	s.processedEvents[rec.EventID] = &recCopy
	return nil
}

// PruneProcessedEvents implements paysync.Store
func (s *Store) PruneProcessedEvents(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.processedEvents {
		if rec.ProcessedAt.Before(before) {
			delete(s.processedEvents, id)
			removed++
		}
	}
	return removed, nil
}

var _ paysync.Store = (*Store)(nil)
