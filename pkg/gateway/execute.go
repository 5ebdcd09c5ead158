package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/approval"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/budget"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/connector"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/manifest"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/policy"
)

// Execute runs the Policy Engine and, on allow, carries the action out
// through the connector runtime (§4.7 Execute). The audit record is
// always written, regardless of how the request resolves.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Response, error) {
	interactionID, err := newInteractionID()
	if err != nil {
		return nil, err
	}

	eval, err := o.runPolicy(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		execResult *connector.Result
		durationMs *int64
		approvalID string
	)

	switch eval.result.Decision {
	case policy.Allow:
		execResult, durationMs, err = o.executeAllowed(ctx, req, interactionID, eval)
		if err != nil {
			return nil, err
		}
	case policy.Escalate:
		approvalID, err = o.createApprovalIfEscalated(ctx, req, interactionID, eval)
		if err != nil {
			return nil, err
		}
	case policy.Deny:
		// Nothing to do: step 4 of §4.7 Execute is a no-op by design.
	}

	resp := &Response{
		InteractionID: interactionID,
		Decision:      eval.result.Decision,
		Reasons:       eval.result.Reasons,
		ApprovalID:    approvalID,
		Timestamp:     o.now(),
		PolicyVersion: PolicyVersion,
		Executed:      execResult != nil,
		Result:        execResult,
	}

	if err := o.writeAuditRecord(ctx, req, interactionID, eval, execResult, durationMs); err != nil {
		resp.AuditWriteFailed = true
	}
	return resp, nil
}

// executeAllowed carries out §4.7 Execute step 2 (a-e). It may itself
// downgrade the decision to deny (budget_exceeded or
// override_token_already_used) when a concurrent request won a race; in
// that case it mutates eval.result in place so the audit record and
// response reflect the corrected decision, and returns a nil connector
// result (nothing was executed).
func (o *Orchestrator) executeAllowed(ctx context.Context, req Request, interactionID string, eval *evaluation) (*connector.Result, *int64, error) {
	// Step 2a: reserve a budget slot.
	cap := eval.manifest.Constraints.DailyBudgetCap
	if cap > 0 {
		_, err := o.Budgets.Reserve(ctx, req.Tenant, req.ManifestID, cap, o.now())
		if err == budget.ErrCapReached {
			denyWith(eval.result, "budget_exceeded", fmt.Sprintf("daily action budget exceeded (cap %d)", cap))
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("gateway: reserve budget: %w", err)
		}
	}

	// Optional risk-weighted budget check, ahead of the override-token
	// consume/connector invocation below. Only engaged when a risk budget
	// is configured for this tenant.
	if o.RiskEnforcer != nil {
		if tool, ok := eval.manifest.Tools[req.Action.Tool]; ok {
			level := extraRiskLevel(tool.Extra)
			decision := o.RiskEnforcer.CheckRisk(req.Tenant, level, 1.0, extraBlastRadius(tool.Extra))
			if !decision.Allowed {
				denyWith(eval.result, "risk_budget_exceeded", decision.Reason)
				return nil, nil, nil
			}
		}
	}

	// Step 2e is ordered before 2d's invocation, not after, per the MUST in
	// §4.7: a racing replay of the same override token must be rejected
	// before the connector runs, never after.
	if eval.result.TokenClaims != nil && eval.result.TokenClaims.IsOverride() {
		err := o.Approvals.Consume(ctx, req.Tenant, eval.result.TokenClaims.ApprovalID, interactionID, o.now())
		if err == approval.ErrAlreadyConsumed {
			denyWith(eval.result, "override_token_already_used", "override token has already been redeemed")
			return nil, nil, nil
		}
		if err != nil && err != approval.ErrNotFound {
			return nil, nil, fmt.Errorf("gateway: consume approval: %w", err)
		}
	}

	// Step 2b: resolve the tool config.
	tool, ok := eval.manifest.Tools[req.Action.Tool]
	if !ok {
		return &connector.Result{
			Success: false,
			Error:   &connector.ConnectorError{Code: connector.ErrToolNotConfigured, Message: fmt.Sprintf("tool %q not configured", req.Action.Tool)},
		}, zero(), nil
	}

	cfg := connector.Config{
		Type:             connector.Kind(tool.Connector),
		URL:              tool.URL,
		Method:           tool.Method,
		Headers:          tool.Headers,
		TimeoutSeconds:   float64(tool.TimeoutSeconds),
		SecretRefs:       tool.SecretRefs,
		AllowedDomains:   extraAllowedDomains(tool.Extra),
		MaxResponseBytes: extraMaxResponseBytes(tool.Extra),
		MockResult:       decodeMockResult(tool.MockResult),
		RateLimiter:      o.ConnectorRateLimiter,
	}

	// Zero-trust gate: every configured tool gets a lazily-registered
	// trust policy (verified by default, tightened via tool.Extra) that
	// CheckCall enforces ahead of the connector running at all.
	if o.ZeroTrust != nil {
		connectorID := zeroTrustConnectorID(req.ManifestID, req.Action.Tool)
		o.ZeroTrust.SetPolicy(trustPolicyFromExtra(connectorID, tool.Extra))
		decision := o.ZeroTrust.CheckCall(ctx, connectorID, extraDataClass(tool.Extra))
		if !decision.Allowed {
			return &connector.Result{
				Success: false,
				Error:   &connector.ConnectorError{Code: connector.ErrRateLimited, Message: decision.Reason},
			}, zero(), nil
		}
	}

	// Step 2c/2d: resolve secrets and instantiate+invoke the connector.
	conn, err := connector.New(cfg, o.DNS, secretAdapter{o.Secrets}, o.GlobalWebhookAllowlist)
	if err != nil {
		cerr, _ := err.(*connector.ConnectorError)
		if cerr == nil {
			cerr = &connector.ConnectorError{Code: connector.ErrInvalidConnector, Message: err.Error()}
		}
		return &connector.Result{Success: false, Error: cerr}, zero(), nil
	}

	start := o.now()
	result, err := conn.Execute(ctx, req.Tenant, req.Action.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: execute connector: %w", err)
	}
	d := time.Since(start).Milliseconds()

	// A successful connector call that fails the tool's declared output
	// schema is reported as a connector-side failure rather than silently
	// handed back: a manifest author who declared output_schema is relying
	// on it to catch a misbehaving or upstream-changed integration.
	if result.Success {
		if err := manifest.ValidateOutput(tool, result.Data); err != nil {
			return &connector.Result{
				Success: false,
				Error:   &connector.ConnectorError{Code: connector.ErrInvalidOutput, Message: err.Error()},
			}, &d, nil
		}
	}
	return result, &d, nil
}

func zero() *int64 {
	var z int64
	return &z
}

// denyWith mutates a policy.Result in place to reflect a decision
// downgrade discovered only at execute time (a lost race), appending the
// reason the way the engine itself would.
func denyWith(result *policy.Result, code, message string) {
	result.Decision = policy.Deny
	result.Reasons = append(result.Reasons, policy.Reason{Code: code, Message: message})
	result.Trace = append(result.Trace, policy.TraceEntry{Check: "execute_race", Outcome: "fail", Details: map[string]any{"code": code}})
}

// secretAdapter satisfies connector.SecretResolver from an Orchestrator's
// SecretStore.
type secretAdapter struct {
	store SecretStore
}

func (s secretAdapter) Resolve(ctx context.Context, tenant, secretName string) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("gateway: no secret store configured")
	}
	return s.store.Resolve(ctx, tenant, secretName)
}

func extraAllowedDomains(extra map[string]any) []string {
	v, ok := extra["allowed_domains"]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func extraMaxResponseBytes(extra map[string]any) int64 {
	v, ok := extra["max_response_bytes"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// zeroTrustConnectorID scopes zero-trust bookkeeping to one tool within
// one manifest: the same connector kind configured by two different
// tools (or two different manifests) is tracked independently.
func zeroTrustConnectorID(manifestID, tool string) string {
	return manifestID + ":" + tool
}

// extraRiskLevel reads a tool's configured risk tier from its extra config,
// defaulting to low when unset.
func extraRiskLevel(extra map[string]any) budget.RiskLevel {
	if v, ok := extra["risk_level"].(string); ok && v != "" {
		return budget.RiskLevel(v)
	}
	return budget.RiskLow
}

// extraBlastRadius reads a tool's configured blast radius (count of
// resources an action can affect) from its extra config, defaulting to 1.
func extraBlastRadius(extra map[string]any) int {
	switch v := extra["blast_radius"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}

func extraDataClass(extra map[string]any) string {
	if v, ok := extra["data_class"].(string); ok {
		return v
	}
	return ""
}

// trustPolicyFromExtra derives a zero-trust policy from a tool's extra
// config, defaulting to a verified connector with no rate limit or
// data-class restriction when extra carries no overrides.
func trustPolicyFromExtra(connectorID string, extra map[string]any) *connector.TrustPolicy {
	level := connector.TrustLevelVerified
	if v, ok := extra["trust_level"].(string); ok && v != "" {
		level = connector.TrustLevel(v)
	}

	var rateLimit int
	switch v := extra["trust_rate_limit_per_minute"].(type) {
	case float64:
		rateLimit = int(v)
	case int:
		rateLimit = v
	}

	var dataClasses []string
	if raw, ok := extra["allowed_data_classes"].([]interface{}); ok {
		for _, e := range raw {
			if s, ok := e.(string); ok {
				dataClasses = append(dataClasses, s)
			}
		}
	}

	return &connector.TrustPolicy{
		ConnectorID:        connectorID,
		TrustLevel:         level,
		RateLimitPerMinute: rateLimit,
		AllowedDataClasses: dataClasses,
	}
}

func decodeMockResult(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
