package api

import (
	"fmt"
	"net/http"

	"github.com/atelierhq/paysync/pkg/paysync"
)

// Config holds configuration for the Entitlements API handler
type Config struct {
	// Projector answers entitlement questions from reconciled state (required)
	Projector *paysync.Projector

	// GetUserID extracts user ID from HTTP request (required)
	// Similar to middleware/http pattern
	GetUserID func(*http.Request) string

	// GetArtistID optionally resolves the caller's artist identity. When it
	// returns non-empty, the response includes payout readiness.
	GetArtistID func(*http.Request) string

	// KnownProducts is an optional list of product ids always reported in the
	// purchases map, in addition to any ?product= query parameters
	KnownProducts []string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Projector == nil {
		return fmt.Errorf("projector is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new Entitlements API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
