package connector

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainRateLimiter caps outbound connector requests per destination
// domain, independent of and ahead of the SSRF checks in validateURL.
// Grounded on the same per-key-limiter-with-cleanup shape as the
// gateway's HTTP-layer per-IP limiter, keyed by domain instead of
// client address.
type DomainRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewDomainRateLimiter builds a limiter allowing perSecond requests per
// domain with the given burst. perSecond <= 0 disables rate limiting
// entirely: Allow always returns true and no limiter state is kept.
func NewDomainRateLimiter(perSecond float64, burst int) *DomainRateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &DomainRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether a request to host may proceed right now,
// consuming a token if so.
func (d *DomainRateLimiter) Allow(host string) bool {
	if d == nil {
		return true
	}
	d.mu.Lock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(d.rps, d.burst)
		d.limiters[host] = l
	}
	d.mu.Unlock()
	return l.Allow()
}

// Prune discards the limiter state of every domain, bounding memory
// growth across long-lived processes with a large or adversarial set of
// distinct target domains. cutoff is not consulted: rate.Limiter carries
// no last-used timestamp, so recently used domains are reset as well. A
// domain's next request after a prune gets a fresh limiter, which starts
// with a full burst. cmd/gateway's runServer calls this from a
// time.Ticker.
func (d *DomainRateLimiter) Prune(cutoff time.Duration) {
	if d == nil {
		return
	}
	// Replacing the map drops every domain's limiter at once.
	d.mu.Lock()
	d.limiters = make(map[string]*rate.Limiter)
	d.mu.Unlock()
}
