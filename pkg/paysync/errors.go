package paysync

import "errors"

var (
	// ErrCustomerRefNotFound is returned when no provider customer is mapped for a user
	ErrCustomerRefNotFound = errors.New("customer ref not found")

	// ErrSubscriptionNotFound is returned when a user has no subscription state row
	ErrSubscriptionNotFound = errors.New("subscription state not found")

	// ErrPurchaseNotFound is returned for an unknown purchase id
	ErrPurchaseNotFound = errors.New("purchase not found")

	// ErrPayoutStatusNotFound is returned when an artist has no payout account record
	ErrPayoutStatusNotFound = errors.New("payout account status not found")

	// ErrStorageUnavailable is returned when the durable store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
)
