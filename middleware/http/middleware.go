// Package http provides HTTP middleware that gates routes on reconciled
// entitlements: supporter status and completed purchases.
package http

import (
	"context"
	"net/http"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// ProductIDExtractor extracts the product or commission ID from an HTTP request
// For example: from a path segment or query parameter
type ProductIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Projector answers entitlement questions from reconciled state (required)
	Projector *paysync.Projector

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnForbidden is called when the user lacks the required entitlement
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireSupporter creates an HTTP middleware that only passes requests from
// users with an active subscription
func RequireSupporter(config Config) func(http.Handler) http.Handler {
	return requireEntitlement(config, func(ctx context.Context, r *http.Request, userID string) (bool, error) {
		return config.Projector.IsSupporter(ctx, userID)
	})
}

// RequirePurchase creates an HTTP middleware that only passes requests from
// users with a completed purchase of the extracted product
func RequirePurchase(config Config, getProduct ProductIDExtractor) func(http.Handler) http.Handler {
	return requireEntitlement(config, func(ctx context.Context, r *http.Request, userID string) (bool, error) {
		productID := getProduct(r)
		if productID == "" {
			return false, nil
		}
		return config.Projector.HasPurchased(ctx, userID, productID)
	})
}

func requireEntitlement(config Config, check func(ctx context.Context, r *http.Request, userID string) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			allowed, err := check(r.Context(), r, userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !allowed {
				if config.OnForbidden != nil {
					config.OnForbidden(w, r)
				} else {
					http.Error(w, "Forbidden", http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc adapts a middleware to http.HandlerFunc chains
func HandlerFunc(middleware func(http.Handler) http.Handler) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "paysync:userID"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// ProductFromPath returns a ProductIDExtractor reading a named path value,
// for routers that populate http.Request path values
func ProductFromPath(name string) ProductIDExtractor {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// ProductFromQuery returns a ProductIDExtractor reading a query parameter
func ProductFromQuery(name string) ProductIDExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// FixedProduct returns a ProductIDExtractor that always returns a fixed product ID
func FixedProduct(productID string) ProductIDExtractor {
	return func(r *http.Request) string {
		return productID
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
