// Package policy implements the gateway's deterministic, stage-ordered
// decision engine: given an action request and the manifest selected for
// it, Evaluate walks a fixed pipeline of checks and returns an allow, deny,
// or escalate decision with a full trace of how it got there.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/manifest"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/token"
)

// Decision is the engine's verdict.
type Decision string

const (
	Allow    Decision = "allow"
	Deny     Decision = "deny"
	Escalate Decision = "escalate"
)

// Reason is one machine-readable explanation attached to a Result.
type Reason struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// TraceEntry records one stage's outcome.
type TraceEntry struct {
	Check   string         `json:"check"`
	Outcome string         `json:"outcome"` // pass | fail | skip | escalate
	Details map[string]any `json:"details,omitempty"`
}

// Action is the request's action payload.
type Action struct {
	Type   string                 `json:"type"`
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

// Counterparty optionally identifies the other party to an action.
type Counterparty struct {
	ID           string `json:"id,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// Request is the Policy Engine's evaluation input.
type Request struct {
	Tenant         string
	ManifestID     string
	AgentID        string
	Action          Action
	Counterparty    *Counterparty
	// CapabilityToken carries either a capability or an override token; the
	// two are distinguished by the verified claims' token_type, not by a
	// separate field.
	CapabilityToken string
}

// Result is the engine's full output.
type Result struct {
	Decision     Decision
	Reasons      []Reason
	Trace        []TraceEntry
	TokenClaims  *token.Claims
	BudgetCount  int
	BudgetLimit  int
	RiskSnapshot map[string]any
}

func (r *Result) addReason(code, message string, details map[string]any) {
	r.Reasons = append(r.Reasons, Reason{Code: code, Message: message, Details: details})
}

func (r *Result) addTrace(check, outcome string, details map[string]any) {
	r.Trace = append(r.Trace, TraceEntry{Check: check, Outcome: outcome, Details: details})
}

// ApprovalLookup resolves an approval by id for override-token binding
// (stage 3). Implementations live in pkg/approval; the engine only needs
// the fields it checks.
type ApprovalLookup interface {
	Lookup(approvalID string) (ApprovalView, bool, error)
}

// ApprovalView is the subset of an approval record the engine inspects.
type ApprovalView struct {
	Status      string
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	Tenant      string
	ManifestID  string
	AgentID     string
	ActionHash  string
}

// IssuerStatus resolves whether a registered issuer is still active (i.e.
// not revoked). The engine only consults this for a non-"gateway" issuer,
// after token.Verify has already confirmed the signature against that
// issuer's key — see pkg/issuer.Resolver's doc comment for why key
// resolution and the active-issuer check are deliberately two steps.
type IssuerStatus interface {
	Active(tenant, issuerID string) (bool, error)
}

// BudgetLookup reads today's counter without reserving it. The engine uses
// this for the escalation-threshold read in stage 14; Execute's hard
// enforcement instead calls the budget package's reserve operation
// directly (outside this package, see pkg/gateway).
type BudgetLookup interface {
	Count(tenant, manifestID string, now time.Time) (int, error)
}

// Engine evaluates requests against a manifest. It holds no mutable state;
// every dependency needed to resolve tokens, approvals, and budgets is
// passed in per call so that Evaluate is reproducible given the same
// backing-store snapshot.
type Engine struct {
	Resolve   token.KeyResolver
	Approvals ApprovalLookup
	Budget    BudgetLookup
	// Issuers backs the stage-2 revoked-issuer check. Nil skips the check
	// entirely (e.g. an engine under test that never issues tenant
	// tokens); production wiring always sets this (see pkg/gateway).
	Issuers IssuerStatus
	Clock   func() time.Time
}

func New(resolve token.KeyResolver, approvals ApprovalLookup, budget BudgetLookup) *Engine {
	return &Engine{Resolve: resolve, Approvals: approvals, Budget: budget, Clock: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Evaluate runs the full stage pipeline for req against m, the manifest
// the caller looked up (nil when none was found; the lookup is the
// caller's, since it requires a Store round-trip the engine itself does
// not own). Stage 1's verdicts are Evaluate's own: a nil m denies with
// manifest_not_found and a non-active m with manifest_not_active.
func (e *Engine) Evaluate(req Request, m *manifest.Manifest) *Result {
	result := &Result{Decision: Allow, RiskSnapshot: map[string]any{}}

	if m == nil {
		result.Decision = Deny
		result.addReason("manifest_not_found", "no active manifest found", nil)
		result.addTrace("manifest_lookup", "fail", nil)
		return result
	}
	if m.Status != manifest.StatusActive {
		result.Decision = Deny
		result.addReason("manifest_not_active", fmt.Sprintf("manifest status is %q", m.Status), nil)
		result.addTrace("manifest_status", "fail", map[string]any{"status": string(m.Status)})
		return result
	}
	result.addTrace("manifest_validation", "pass", map[string]any{"manifest_id": m.ManifestID})

	// Stage 1b: action.params against the tool's declared JSON Schema, ahead
	// of every later check. A tool absent from the manifest is left for
	// stage 7's tool_not_allowed to report, so this only fires for a
	// configured tool with a schema that the params actually fail.
	if tool, configured := m.Tools[req.Action.Tool]; configured {
		if err := manifest.ValidateArgs(tool, req.Action.Params); err != nil {
			result.Decision = Deny
			result.addReason("invalid_action_params", err.Error(), nil)
			result.addTrace("action_params_schema", "fail", nil)
			return result
		}
		result.addTrace("action_params_schema", "pass", nil)
	} else {
		result.addTrace("action_params_schema", "skip", map[string]any{"reason": "tool_not_configured"})
	}

	// Stage 2: capability token verification.
	var claims *token.Claims
	if req.CapabilityToken != "" {
		c, err := token.Verify(req.CapabilityToken, e.Resolve, e.now())
		if err != nil {
			result.Decision = Deny
			result.addReason("capability_token_invalid", err.Error(), nil)
			result.addTrace("capability_token_validation", "fail", nil)
			return result
		}
		if reason, ok := bindIdentity(c, req); !ok {
			result.Decision = Deny
			result.addReason(reason, "capability token identity mismatch", nil)
			result.addTrace("capability_token_validation", "fail", map[string]any{"reason": reason})
			return result
		}
		if c.Issuer != "gateway" && e.Issuers != nil {
			active, err := e.Issuers.Active(req.Tenant, c.Issuer)
			if err != nil {
				result.Decision = Deny
				result.addReason("capability_token_invalid", err.Error(), nil)
				result.addTrace("issuer_status_check", "fail", nil)
				return result
			}
			if !active {
				result.Decision = Deny
				result.addReason("token_issuer_revoked", fmt.Sprintf("issuer %q has been revoked", c.Issuer), nil)
				result.addTrace("issuer_status_check", "fail", map[string]any{"issuer": c.Issuer})
				return result
			}
			result.addTrace("issuer_status_check", "pass", map[string]any{"issuer": c.Issuer})
		} else {
			result.addTrace("issuer_status_check", "skip", nil)
		}
		claims = c
		result.TokenClaims = claims
		result.addTrace("capability_token_validation", "pass", map[string]any{"issuer": claims.Issuer})
	} else {
		result.addTrace("capability_token_validation", "skip", map[string]any{"reason": "no_token_provided"})
	}

	// Stage 3: override-token binding. Side-effect free; consumption happens
	// only in the execute path.
	overrideValid := false
	if claims != nil && claims.IsOverride() {
		ok, reason, details := e.validateOverride(claims, req)
		if !ok {
			result.Decision = Deny
			result.addReason(reason, "override token invalid", details)
			result.addTrace("override_token_validation", "fail", details)
			return result
		}
		overrideValid = true
		result.addTrace("override_token_validation", "pass", map[string]any{"approval_id": claims.ApprovalID})
	} else {
		result.addTrace("override_token_validation", "skip", map[string]any{"reason": "not_override_token"})
	}

	policy := m.Policy

	// Stage 4.
	if policy.RequireCapabilityToken && req.CapabilityToken == "" {
		result.Decision = Deny
		result.addReason("capability_token_required", "policy requires a capability token for all actions", nil)
		result.addTrace("require_capability_token_check", "fail", nil)
		return result
	}
	result.addTrace("require_capability_token_check", "pass", nil)

	// Stage 5: action-type allowlist (manifest).
	if len(policy.AllowedActionTypes) > 0 && !contains(policy.AllowedActionTypes, req.Action.Type) {
		result.Decision = Deny
		result.addReason("action_type_not_allowed", fmt.Sprintf("action type %q is not allowed", req.Action.Type),
			map[string]any{"allowed_types": policy.AllowedActionTypes})
		result.addTrace("manifest_action_type", "fail", map[string]any{"action_type": req.Action.Type})
		return result
	}
	result.addTrace("manifest_action_type", "pass", map[string]any{"action_type": req.Action.Type})

	// Stage 6: action-type allowlist (token).
	if claims != nil {
		if len(claims.AllowedActionTypes) > 0 && !contains(claims.AllowedActionTypes, req.Action.Type) {
			result.Decision = Deny
			result.addReason("token_action_type_not_allowed", fmt.Sprintf("action type %q not allowed by token", req.Action.Type),
				map[string]any{"token_allowed_types": claims.AllowedActionTypes})
			result.addTrace("token_action_type", "fail", nil)
			return result
		}
		result.addTrace("token_action_type", "pass", nil)
	} else {
		result.addTrace("token_action_type", "skip", nil)
	}

	// Stage 7: tool allow/deny (manifest) + configured.
	if contains(policy.DeniedTools, req.Action.Tool) {
		result.Decision = Deny
		result.addReason("tool_not_allowed", fmt.Sprintf("tool %q is explicitly denied", req.Action.Tool), nil)
		result.addTrace("manifest_tool", "fail", map[string]any{"tool": req.Action.Tool})
		return result
	}
	if len(policy.AllowedTools) > 0 && !contains(policy.AllowedTools, req.Action.Tool) {
		result.Decision = Deny
		result.addReason("tool_not_allowed", fmt.Sprintf("tool %q is not in allowed tools list", req.Action.Tool),
			map[string]any{"allowed_tools": policy.AllowedTools})
		result.addTrace("manifest_tool", "fail", map[string]any{"tool": req.Action.Tool})
		return result
	}
	result.addTrace("manifest_tool", "pass", map[string]any{"tool": req.Action.Tool})

	if _, configured := m.Tools[req.Action.Tool]; !configured {
		result.Decision = Deny
		result.addReason("tool_not_allowed", fmt.Sprintf("tool %q not configured in manifest", req.Action.Tool), nil)
		result.addTrace("tool_configured", "fail", map[string]any{"tool": req.Action.Tool})
		return result
	}
	result.addTrace("tool_configured", "pass", map[string]any{"tool": req.Action.Tool})

	// Stage 8: tool allow (token).
	if claims != nil {
		if len(claims.AllowedTools) > 0 && !contains(claims.AllowedTools, req.Action.Tool) {
			result.Decision = Deny
			result.addReason("token_tool_not_allowed", fmt.Sprintf("tool %q not allowed by token", req.Action.Tool),
				map[string]any{"token_allowed_tools": claims.AllowedTools})
			result.addTrace("token_tool", "fail", nil)
			return result
		}
		result.addTrace("token_tool", "pass", nil)
	} else {
		result.addTrace("token_tool", "skip", nil)
	}

	// Stage 9: approval thresholds (provisional escalate; continue).
	if esc, reason, details := checkApprovalThresholds(policy.ApprovalThresholds, req.Action); esc {
		result.Decision = Escalate
		result.addReason("amount_requires_approval", reason, details)
		result.addTrace("approval_thresholds", "escalate", details)
	} else {
		result.addTrace("approval_thresholds", "pass", nil)
	}

	// Stage 10: amount caps (manifest).
	amountDecision, reason, details := checkAmountCaps(policy.AmountCaps, req.Action.Params)
	switch amountDecision {
	case Deny:
		result.Decision = Deny
		result.addReason("amount_exceeds_cap", reason, details)
		result.addTrace("manifest_amount_cap", "fail", details)
		return result
	case Escalate:
		result.Decision = Escalate
		result.addReason("amount_requires_approval", reason, details)
		result.addTrace("manifest_amount_cap", "escalate", details)
	default:
		result.addTrace("manifest_amount_cap", "pass", nil)
	}

	// Stage 11: amount cap (token).
	if claims != nil && claims.Constraints != nil && claims.Constraints.AmountMax != nil {
		amt, ok := manifest.ExtractAmount(req.Action.Params, manifest.DefaultParamPaths)
		if ok && amt > *claims.Constraints.AmountMax {
			result.Decision = Deny
			result.addReason("token_amount_exceeds_cap", fmt.Sprintf("amount %v exceeds token cap %v", amt, *claims.Constraints.AmountMax),
				map[string]any{"amount": amt, "token_max_amount": *claims.Constraints.AmountMax})
			result.addTrace("token_amount_cap", "fail", nil)
			return result
		}
		result.addTrace("token_amount_cap", "pass", nil)
	} else {
		result.addTrace("token_amount_cap", "skip", nil)
	}

	// Stage 12: jurisdiction (manifest then token).
	if !checkJurisdiction(policy.AllowedJurisdictions, req.Counterparty) {
		result.Decision = Deny
		result.addReason("jurisdiction_not_allowed", "counterparty jurisdiction is not in allowed list",
			map[string]any{"allowed_jurisdictions": policy.AllowedJurisdictions})
		result.addTrace("manifest_jurisdiction", "fail", nil)
		return result
	}
	result.addTrace("manifest_jurisdiction", "pass", nil)

	if claims != nil {
		var tokenJurisdictions []string
		if claims.Constraints != nil {
			tokenJurisdictions = claims.Constraints.Jurisdictions
		}
		if !checkJurisdiction(tokenJurisdictions, req.Counterparty) {
			result.Decision = Deny
			result.addReason("token_jurisdiction_not_allowed", "counterparty jurisdiction not allowed by token", nil)
			result.addTrace("token_jurisdiction", "fail", nil)
			return result
		}
		result.addTrace("token_jurisdiction", "pass", nil)
	} else {
		result.addTrace("token_jurisdiction", "skip", nil)
	}

	// Stage 13: counterparty (manifest then token).
	if reason, ok := checkCounterparty(policy.Counterparty, req.Counterparty); !ok {
		result.Decision = Deny
		result.addReason(reason, "counterparty not permitted", nil)
		result.addTrace("manifest_counterparty", "fail", nil)
		return result
	}
	result.addTrace("manifest_counterparty", "pass", nil)

	if claims != nil {
		var cp manifest.CounterpartyPolicy
		if claims.Constraints != nil {
			cp = manifest.CounterpartyPolicy{
				Allowlist: claims.Constraints.CounterpartyAllowlist,
				Denylist:  claims.Constraints.CounterpartyDenylist,
			}
		}
		if _, ok := checkCounterparty(cp, req.Counterparty); !ok {
			result.Decision = Deny
			result.addReason("token_counterparty_not_allowed", "counterparty not permitted by token", nil)
			result.addTrace("token_counterparty", "fail", nil)
			return result
		}
		result.addTrace("token_counterparty", "pass", nil)
	} else {
		result.addTrace("token_counterparty", "skip", nil)
	}

	// Stage 14: daily budget (read-only threshold check; hard enforcement
	// happens at Execute time via the budget package's reserve()).
	cap := m.Constraints.DailyBudgetCap
	escalateAt := m.Constraints.BudgetEscalateAtPercent
	if escalateAt == 0 {
		escalateAt = 90
	}
	if e.Budget != nil && cap > 0 {
		count, err := e.Budget.Count(req.Tenant, req.ManifestID, e.now())
		if err == nil {
			result.BudgetCount = count
			result.BudgetLimit = cap
			result.RiskSnapshot["budget_current"] = count
			result.RiskSnapshot["budget_limit"] = cap

			if count >= cap {
				result.Decision = Deny
				result.addReason("budget_exceeded", fmt.Sprintf("daily action budget exceeded (%d/%d)", count, cap),
					map[string]any{"current_count": count, "daily_cap": cap})
				result.addTrace("budget_check", "fail", map[string]any{"count": count, "limit": cap})
				return result
			}
			threshold := cap * escalateAt / 100
			if count >= threshold {
				if result.Decision != Escalate {
					result.Decision = Escalate
				}
				result.addReason("budget_threshold_reached", fmt.Sprintf("approaching daily budget limit (%d/%d)", count, cap),
					map[string]any{"current_count": count, "daily_cap": cap, "threshold_percent": escalateAt})
				result.addTrace("budget_check", "escalate", map[string]any{"count": count, "limit": cap})
			} else {
				result.addTrace("budget_check", "pass", map[string]any{"count": count, "limit": cap})
			}
		}
	} else {
		result.addTrace("budget_check", "skip", nil)
	}

	// Stage 15: override acceptance. A valid override upgrades escalate to
	// allow; it never upgrades a deny (a deny would already have returned).
	if overrideValid && result.Decision == Escalate {
		result.Decision = Allow
		result.addReason("override_token_accepted", "override token accepted; required approval already granted",
			map[string]any{"approval_id": claims.ApprovalID})
		result.addTrace("override_token_applied", "pass", nil)
	}

	if result.Decision == Allow && !overrideValid {
		result.addReason("all_checks_passed", "all policy checks passed", nil)
	}

	return result
}

func bindIdentity(c *token.Claims, req Request) (string, bool) {
	if c.OrgID != req.Tenant {
		return "token_org_mismatch", false
	}
	if c.ManifestID != req.ManifestID {
		return "token_uapk_mismatch", false
	}
	if c.Subject != req.AgentID {
		return "token_agent_mismatch", false
	}
	return "", true
}

func (e *Engine) validateOverride(c *token.Claims, req Request) (bool, string, map[string]any) {
	requestHash, err := token.ActionHash(req.Action)
	if err != nil {
		return false, "override_token_invalid", map[string]any{"error": err.Error()}
	}
	if requestHash != c.ActionHash {
		return false, "override_token_invalid", map[string]any{
			"expected_action_hash": c.ActionHash,
			"actual_action_hash":   requestHash,
		}
	}

	if e.Approvals == nil {
		return false, "override_token_invalid", map[string]any{"approval_id": c.ApprovalID}
	}
	view, found, err := e.Approvals.Lookup(c.ApprovalID)
	if err != nil || !found {
		return false, "override_token_invalid", map[string]any{"approval_id": c.ApprovalID}
	}
	if view.Status != "approved" {
		return false, "override_token_invalid", map[string]any{"status": view.Status}
	}
	if !view.ExpiresAt.IsZero() && view.ExpiresAt.Before(e.now()) {
		return false, "override_token_invalid", map[string]any{"expires_at": view.ExpiresAt}
	}
	if view.Tenant != req.Tenant || view.ManifestID != req.ManifestID || view.AgentID != req.AgentID {
		return false, "override_token_invalid", map[string]any{
			"approval_tenant": view.Tenant, "request_tenant": req.Tenant,
		}
	}
	if view.ConsumedAt != nil {
		return false, "override_token_already_used", map[string]any{"consumed_at": view.ConsumedAt}
	}
	if view.ActionHash != c.ActionHash {
		return false, "override_token_invalid", map[string]any{
			"approval_action_hash": view.ActionHash, "token_action_hash": c.ActionHash,
		}
	}
	return true, "", nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func checkApprovalThresholds(t manifest.ApprovalThresholds, action Action) (bool, string, map[string]any) {
	if len(t.ActionTypes) > 0 && contains(t.ActionTypes, action.Type) {
		return true, fmt.Sprintf("action type %q requires human approval", action.Type), map[string]any{"action_type": action.Type}
	}
	if len(t.Tools) > 0 && contains(t.Tools, action.Tool) {
		return true, fmt.Sprintf("tool %q requires human approval", action.Tool), map[string]any{"tool": action.Tool}
	}
	if t.Amount != nil {
		amt, ok := manifest.ExtractAmount(action.Params, manifest.DefaultParamPaths)
		if ok && amt > *t.Amount {
			return true, fmt.Sprintf("amount %v exceeds approval threshold %v", amt, *t.Amount),
				map[string]any{"amount": amt, "threshold": *t.Amount}
		}
	}
	return false, "", nil
}

// checkAmountCaps evaluates per-currency and aggregate amount caps. A
// per-currency match short-circuits the escalate_above check entirely: once a request's
// currency matches a configured per-currency cap and passes it, the
// fallback max_amount/escalate_above path is not consulted at all.
func checkAmountCaps(caps manifest.AmountCaps, params map[string]interface{}) (Decision, string, map[string]any) {
	if caps.Empty() {
		return Allow, "", nil
	}

	amt, ok := manifest.ExtractAmount(params, caps.ParamPaths)
	if !ok {
		return Allow, "", nil
	}

	if len(caps.PerCurrency) > 0 {
		currency, ok := manifest.ExtractCurrency(params, caps.CurrencyField)
		if ok {
			if max, matched := caps.PerCurrency[currency]; matched {
				if amt > max {
					return Deny, fmt.Sprintf("amount %v %s exceeds maximum allowed %v %s", amt, currency, max, currency),
						map[string]any{"amount": amt, "currency": currency, "max_amount": max}
				}
				return Allow, "", nil
			}
		}
	}

	if caps.MaxAmount != nil && amt > *caps.MaxAmount {
		return Deny, fmt.Sprintf("amount %v exceeds maximum allowed %v", amt, *caps.MaxAmount),
			map[string]any{"amount": amt, "max_amount": *caps.MaxAmount}
	}

	if caps.EscalateAbove != nil && amt > *caps.EscalateAbove {
		return Escalate, fmt.Sprintf("amount %v exceeds threshold %v, requires approval", amt, *caps.EscalateAbove),
			map[string]any{"amount": amt, "escalate_above": *caps.EscalateAbove}
	}

	return Allow, "", nil
}

func checkJurisdiction(allowed []string, cp *Counterparty) bool {
	if len(allowed) == 0 {
		return true
	}
	if cp == nil || cp.Jurisdiction == "" {
		return true
	}
	want := strings.ToUpper(cp.Jurisdiction)
	for _, j := range allowed {
		if strings.ToUpper(j) == want {
			return true
		}
	}
	return false
}

func checkCounterparty(policy manifest.CounterpartyPolicy, cp *Counterparty) (string, bool) {
	if policy.Empty() || cp == nil || cp.ID == "" {
		return "", true
	}
	if contains(policy.Denylist, cp.ID) {
		return "counterparty_denied", false
	}
	if len(policy.Allowlist) > 0 && !contains(policy.Allowlist, cp.ID) {
		return "counterparty_not_in_allowlist", false
	}
	return "", true
}
