// Package observability provides OpenTelemetry tracing and metrics for the
// gateway. It implements production-ready observability following
// cloud-native best practices.
//
// # Tracing and metrics
//
// Initialize at application startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Bracket one operation with a span and the RED metrics at once:
//
//	ctx, done := p.TrackOperation(ctx, "gateway.evaluate", attribute.String("tenant", tenant))
//	defer done(err)
//
// Record a request or error directly:
//
//	p.RecordRequest(ctx, attribute.String("http.route", "/v1/evaluate"))
//	p.RecordError(ctx, err, attribute.String("http.route", "/v1/evaluate"))
package observability
