package internal

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	cleanupEveryRequests = 100
	cleanupAboveSize     = 200
)

// RateLimiter provides simple in-memory per-IP rate limiting for the webhook
// endpoint. It protects the intake path from floods; legitimate provider
// retries stay far below any sane limit.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	limit        int
	window       time.Duration
	requestCount int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per window per IP
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Lazy cleanup keeps the map bounded without a background goroutine.
	rl.requestCount++
	if rl.requestCount%cleanupEveryRequests == 0 || len(rl.buckets) > cleanupAboveSize {
		rl.cleanupExpired(now)
		if rl.requestCount >= cleanupEveryRequests*10 {
			rl.requestCount = 0
		}
	}

	b, exists := rl.buckets[ip]
	if !exists || now.After(b.resetAt) {
		rl.buckets[ip] = &bucket{count: 1, resetAt: now.Add(rl.window)}
		return true
	}

	if b.count >= rl.limit {
		return false
	}

	b.count++
	return true
}

// cleanupExpired removes expired entries. Caller must hold rl.mu.
func (rl *RateLimiter) cleanupExpired(now time.Time) {
	for ip, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, ip)
		}
	}
}

// Cleanup removes all expired entries from the rate limiter.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupExpired(time.Now())
}

// Middleware wraps an HTTP handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(GetClientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP address from the request, preferring the
// first hop of X-Forwarded-For when a proxy set it.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}
