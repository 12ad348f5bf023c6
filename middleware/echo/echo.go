// Package echo provides Echo middleware that gates routes on reconciled
// entitlements: supporter status and completed purchases.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// ProductIDExtractor extracts the product or commission ID from an Echo context
type ProductIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Projector answers entitlement questions from reconciled state (required)
	Projector *paysync.Projector

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c echo.Context) error

	// OnForbidden is called when the user lacks the required entitlement
	// If nil, returns 403 JSON
	OnForbidden func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 JSON
	OnError func(c echo.Context, err error) error
}

// RequireSupporter creates an Echo middleware that only passes requests from
// users with an active subscription
func RequireSupporter(cfg Config) echo.MiddlewareFunc {
	validate(cfg)
	return middleware(cfg, func(c echo.Context, userID string) (bool, error) {
		return cfg.Projector.IsSupporter(c.Request().Context(), userID)
	})
}

// RequirePurchase creates an Echo middleware that only passes requests from
// users with a completed purchase of the extracted product
func RequirePurchase(cfg Config, getProduct ProductIDExtractor) echo.MiddlewareFunc {
	validate(cfg)
	if getProduct == nil {
		panic("paysync/echo: product extractor is required")
	}
	return middleware(cfg, func(c echo.Context, userID string) (bool, error) {
		productID := getProduct(c)
		if productID == "" {
			return false, nil
		}
		return cfg.Projector.HasPurchased(c.Request().Context(), userID, productID)
	})
}

// Validate required configuration at startup (fail fast)
func validate(cfg Config) {
	if cfg.Projector == nil {
		panic("paysync/echo: Config.Projector is required")
	}
	if cfg.GetUserID == nil {
		panic("paysync/echo: Config.GetUserID is required")
	}
}

func middleware(cfg Config, check func(c echo.Context, userID string) (bool, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			allowed, err := check(c, userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}
			if !allowed {
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c)
				}
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
			}

			return next(c)
		}
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
// Use with auth middleware that sets user information via c.Set("UserID", ...).
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// Convenience extractors for Product ID

// ProductFromParam returns a ProductIDExtractor that reads a route parameter
func ProductFromParam(paramName string) ProductIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// ProductFromQuery returns a ProductIDExtractor that reads a query parameter
func ProductFromQuery(queryName string) ProductIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}

// FixedProduct returns a ProductIDExtractor that always returns a fixed product ID
func FixedProduct(productID string) ProductIDExtractor {
	return func(echo.Context) string {
		return productID
	}
}
