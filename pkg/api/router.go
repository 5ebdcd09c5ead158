package api

import (
	"net/http"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/observability"
)

// NewRouter wires the gateway's HTTP surface: per-IP rate limiting on
// every route, idempotency-key replay protection scoped to /v1/execute
// specifically (a retried Execute call must not cause a second real side
// effect), and span/RED-metric tracking around every request. obs may be
// nil to disable tracking.
func NewRouter(api *GatewayAPI, limiter *GlobalRateLimiter, idempotency IdempotencyStorer, obs *observability.Provider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/evaluate", api.HandleEvaluate)
	mux.HandleFunc("/v1/execute", IdempotencyMiddleware(idempotency)(http.HandlerFunc(api.HandleExecute)).ServeHTTP)
	mux.HandleFunc("/v1/approvals/approve", api.HandleApprove)
	mux.HandleFunc("/v1/approvals/deny", api.HandleDeny)
	mux.HandleFunc("/healthz", handleHealth)

	var handler http.Handler = mux
	if limiter != nil {
		handler = limiter.Middleware(handler)
	}
	handler = TrackingMiddleware(obs)(handler)
	return handler
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DefaultIdempotencyStore builds the in-memory idempotency backend with a
// sensible default TTL for a one-shot redeemable action.
func DefaultIdempotencyStore() IdempotencyStorer {
	return NewIdempotencyStore(10 * time.Minute)
}
