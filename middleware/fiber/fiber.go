// Package fiber provides Fiber middleware that gates routes on reconciled
// entitlements: supporter status and completed purchases.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// ProductIDExtractor extracts the product or commission ID from a Fiber context
type ProductIDExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Projector answers entitlement questions from reconciled state (required)
	Projector *paysync.Projector

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c *fiber.Ctx) error

	// OnForbidden is called when the user lacks the required entitlement
	// If nil, returns 403 JSON
	OnForbidden func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 JSON
	OnError func(c *fiber.Ctx, err error) error
}

// RequireSupporter creates a Fiber middleware that only passes requests from
// users with an active subscription
func RequireSupporter(cfg Config) fiber.Handler {
	validate(cfg)
	return handler(cfg, func(c *fiber.Ctx, userID string) (bool, error) {
		return cfg.Projector.IsSupporter(c.UserContext(), userID)
	})
}

// RequirePurchase creates a Fiber middleware that only passes requests from
// users with a completed purchase of the extracted product
func RequirePurchase(cfg Config, getProduct ProductIDExtractor) fiber.Handler {
	validate(cfg)
	if getProduct == nil {
		panic("paysync/fiber: product extractor is required")
	}
	return handler(cfg, func(c *fiber.Ctx, userID string) (bool, error) {
		productID := getProduct(c)
		if productID == "" {
			return false, nil
		}
		return cfg.Projector.HasPurchased(c.UserContext(), userID, productID)
	})
}

// Validate required configuration at startup (fail fast)
func validate(cfg Config) {
	if cfg.Projector == nil {
		panic("paysync/fiber: Config.Projector is required")
	}
	if cfg.GetUserID == nil {
		panic("paysync/fiber: Config.GetUserID is required")
	}
}

func handler(cfg Config, check func(c *fiber.Ctx, userID string) (bool, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		allowed, err := check(c, userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}
		if !allowed {
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}

		return c.Next()
	}
}

// Convenience extractors for User ID

// FromLocals returns a UserIDExtractor that gets user ID from Fiber locals
// Use with auth middleware that sets user information via c.Locals("UserID", ...).
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// Convenience extractors for Product ID

// ProductFromParam returns a ProductIDExtractor that reads a route parameter
func ProductFromParam(paramName string) ProductIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// ProductFromQuery returns a ProductIDExtractor that reads a query parameter
func ProductFromQuery(queryName string) ProductIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}

// FixedProduct returns a ProductIDExtractor that always returns a fixed product ID
func FixedProduct(productID string) ProductIDExtractor {
	return func(*fiber.Ctx) string {
		return productID
	}
}
