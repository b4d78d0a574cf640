package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// DefaultIdleTimeout is how long an unused per-key limiter is kept
const DefaultIdleTimeout = 10 * time.Minute

// Limiter provides per-key rate limiting. Limiters of keys that stay idle
// for the idle timeout are evicted.
type Limiter struct {
	limiters *ttlcache.Cache[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter
// rps: requests per second
// burst: maximum burst size
func NewLimiter(rps float64, burst int, idleTimeout time.Duration) *Limiter {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	limiters := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](idleTimeout),
	)
	go limiters.Start()

	return &Limiter{
		limiters: limiters,
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for the given key (e.g., client IP)
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	item, _ := l.limiters.GetOrSet(key, rate.NewLimiter(l.rps, l.burst))
	return item.Value()
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	return l.limiters.Len()
}

// Close stops the eviction loop
func (l *Limiter) Close() {
	l.limiters.Stop()
}

// Middleware creates an HTTP middleware for rate limiting
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(keyFunc(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc extracts the client IP from the request as the rate limit key
func IPKeyFunc(r *http.Request) string {
	// Left-most X-Forwarded-For entry is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		client, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(client)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
