// Package gin provides Gin middleware that gates routes on reconciled
// entitlements: supporter status and completed purchases.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// ProductIDExtractor extracts the product or commission ID from a Gin context
type ProductIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Projector answers entitlement questions from reconciled state (required)
	Projector *paysync.Projector

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c *gongin.Context)

	// OnForbidden is called when the user lacks the required entitlement
	// If nil, returns 403 JSON
	OnForbidden func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 JSON
	OnError func(c *gongin.Context, err error)
}

// RequireSupporter creates a Gin middleware that only passes requests from
// users with an active subscription
func RequireSupporter(cfg Config) gongin.HandlerFunc {
	validate(cfg)
	return handler(cfg, func(c *gongin.Context, userID string) (bool, error) {
		return cfg.Projector.IsSupporter(c.Request.Context(), userID)
	})
}

// RequirePurchase creates a Gin middleware that only passes requests from
// users with a completed purchase of the extracted product
func RequirePurchase(cfg Config, getProduct ProductIDExtractor) gongin.HandlerFunc {
	validate(cfg)
	if getProduct == nil {
		panic("paysync/gin: product extractor is required")
	}
	return handler(cfg, func(c *gongin.Context, userID string) (bool, error) {
		productID := getProduct(c)
		if productID == "" {
			return false, nil
		}
		return cfg.Projector.HasPurchased(c.Request.Context(), userID, productID)
	})
}

// Validate required configuration at startup (fail fast)
func validate(cfg Config) {
	if cfg.Projector == nil {
		panic("paysync/gin: Config.Projector is required")
	}
	if cfg.GetUserID == nil {
		panic("paysync/gin: Config.GetUserID is required")
	}
}

func handler(cfg Config, check func(c *gongin.Context, userID string) (bool, error)) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		allowed, err := check(c, userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}
		if !allowed {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c)
			} else {
				c.JSON(http.StatusForbidden, gongin.H{"error": "Forbidden"})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// Convenience extractors for Product ID

// ProductFromParam returns a ProductIDExtractor that reads a route parameter
func ProductFromParam(paramName string) ProductIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// ProductFromQuery returns a ProductIDExtractor that reads a query parameter
func ProductFromQuery(queryName string) ProductIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}

// FixedProduct returns a ProductIDExtractor that always returns a fixed product ID
func FixedProduct(productID string) ProductIDExtractor {
	return func(*gongin.Context) string {
		return productID
	}
}
