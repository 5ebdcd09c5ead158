package api

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/observability"
)

// TrackingMiddleware brackets every request with a span and the RED
// metrics, the way the teacher's own service handlers wrap calls into
// their business logic rather than instrumenting the business logic
// itself — see pkg/gateway's own note on why TrackOperation does not
// belong inside the orchestrator.
func TrackingMiddleware(provider *observability.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if provider == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, done := provider.TrackOperation(r.Context(), r.URL.Path,
				attribute.String("http.method", r.Method),
			)
			provider.RecordRequest(ctx, attribute.String("http.route", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(ctx))
			done(nil)
		})
	}
}
