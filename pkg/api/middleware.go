package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitConfig holds the rate limiter settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// GlobalRateLimiter is a keyed token-bucket limiter: one bucket per key,
// created lazily on first use. Used both for per-IP limiting in front of
// every route (Middleware) and for per-tenant limiting inside a handler
// (Allow), since the tenant a request belongs to is only known once its
// body has been decoded, after the IP-based middleware has already run.
type GlobalRateLimiter struct {
	entries map[string]*limiterEntry
	mu      sync.Mutex
	config  rateLimitConfig
}

// limiterEntry tracks one key's bucket and last-seen time.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter creates a new rate limiter.
// rps: requests per second allowed.
// burst: maximum burst size.
func NewGlobalRateLimiter(rps int, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		entries: make(map[string]*limiterEntry),
		config: rateLimitConfig{
			rps:   rate.Limit(rps),
			burst: burst,
		},
	}
	go rl.cleanupEntries()
	return rl
}

// getLimiter retrieves the bucket for a given key, creating it if necessary.
func (rl *GlobalRateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.entries[key] = &limiterEntry{limiter, time.Now()}
		return limiter
	}

	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether a request under key may proceed, consuming a
// token from its bucket if so. Used directly by handlers that rate-limit
// on something other than the request's source IP (e.g. tenant ID).
func (rl *GlobalRateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// cleanupEntries removes stale bucket entries to prevent memory leaks.
// Checks every minute, removes entries older than 3 minutes.
func (rl *GlobalRateLimiter) cleanupEntries() {
	for {
		time.Sleep(1 * time.Minute)
		rl.mu.Lock()
		for key, e := range rl.entries {
			if time.Since(e.lastSeen) > 3*time.Minute {
				delete(rl.entries, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns a Handler that enforces rate limits keyed by source IP.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
			ip = strings.TrimPrefix(ip, "[")
			ip = strings.TrimSuffix(ip, "]")
		}

		if !rl.Allow(ip) {
			WriteTooManyRequests(w, 5)
			return
		}

		next.ServeHTTP(w, r)
	})
}
