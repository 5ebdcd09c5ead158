// Package observability provides gateway-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway-specific semantic convention attributes.
var (
	// Request/tenant attributes
	AttrTenantID   = attribute.Key("uapk_gateway.tenant.id")
	AttrManifestID = attribute.Key("uapk_gateway.manifest.id")
	AttrAgentID    = attribute.Key("uapk_gateway.agent.id")

	// Policy Engine attributes
	AttrPolicyDecision  = attribute.Key("uapk_gateway.policy.decision")
	AttrPolicyStage     = attribute.Key("uapk_gateway.policy.stage")
	AttrPolicyLatencyMs = attribute.Key("uapk_gateway.policy.latency_ms")

	// Token Service attributes
	AttrTokenType      = attribute.Key("uapk_gateway.token.type")
	AttrTokenIssuer    = attribute.Key("uapk_gateway.token.issuer")
	AttrTokenOperation = attribute.Key("uapk_gateway.token.operation")

	// Audit Log attributes
	AttrAuditChainLength = attribute.Key("uapk_gateway.audit.chain_length")
	AttrAuditVerified    = attribute.Key("uapk_gateway.audit.verified")

	// Connector Runtime attributes
	AttrConnectorKind   = attribute.Key("uapk_gateway.connector.kind")
	AttrConnectorDomain = attribute.Key("uapk_gateway.connector.domain")
)

// PolicyOperation builds attributes for one Policy Engine evaluation.
func PolicyOperation(tenant, manifestID, decision string, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenant),
		AttrManifestID.String(manifestID),
		AttrPolicyDecision.String(decision),
		AttrPolicyLatencyMs.Float64(latencyMs),
	}
}

// TokenOperation builds attributes for a capability/override token issue
// or verify call.
func TokenOperation(tokenType, issuer, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTokenType.String(tokenType),
		AttrTokenIssuer.String(issuer),
		AttrTokenOperation.String(operation),
	}
}

// AuditOperation builds attributes for an audit chain append or verify.
func AuditOperation(tenant, manifestID string, chainLength int, verified bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenant),
		AttrManifestID.String(manifestID),
		AttrAuditChainLength.Int(chainLength),
		AttrAuditVerified.Bool(verified),
	}
}

// ConnectorOperation builds attributes for one connector invocation.
func ConnectorOperation(kind, domain string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConnectorKind.String(kind),
		AttrConnectorDomain.String(domain),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error on the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
