// Package gateway composes the Policy Engine, token verification, the
// approval workflow, budget counters, the audit chain, and the connector
// runtime into the two public operations collaborators call: Evaluate and
// Execute.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/approval"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/audit"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/budget"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/connector"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/issuer"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/manifest"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/policy"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/token"
)

// PolicyVersion is returned on every response so collaborators can tell
// which build of the stage pipeline produced a decision.
const PolicyVersion = "uapk-policy-v1"

// Counterparty mirrors policy.Counterparty at the orchestrator's public
// boundary, keeping pkg/policy free of any API-surface concerns.
type Counterparty = policy.Counterparty

// Action mirrors policy.Action at the orchestrator's public boundary.
type Action = policy.Action

// Request is the ActionRequest collaborators submit to Evaluate or
// Execute.
type Request struct {
	Tenant         string
	ManifestID     string
	AgentID        string
	Action         Action
	Counterparty   *Counterparty
	Context        map[string]interface{}
	CapabilityToken string
	OverrideToken   string
}

// tokenInUse returns whichever of the two token fields is set, preferring
// the override token: a caller presenting both is assumed to be retrying
// an escalated action with its freshly issued override.
func (r Request) tokenInUse() string {
	if r.OverrideToken != "" {
		return r.OverrideToken
	}
	return r.CapabilityToken
}

// Response is returned by both Evaluate and Execute.
type Response struct {
	InteractionID   string
	Decision        policy.Decision
	Reasons         []policy.Reason
	ApprovalID      string
	Timestamp       time.Time
	PolicyVersion   string
	Executed        bool
	Result          *connector.Result
	AuditWriteFailed bool
}

// SecretStore resolves a named secret for a tenant, backing the
// connector runtime's secret_refs indirection.
type SecretStore interface {
	Resolve(ctx context.Context, tenant, secretName string) (string, error)
}

// Orchestrator wires every subsystem together. All fields are required
// for production use; tests construct partial instances to exercise one
// flow at a time.
type Orchestrator struct {
	Manifests manifest.Store
	Approvals approval.Store
	Budgets   budget.Store
	Audit     audit.Store
	Signer    *signing.KeyPair
	Issuers   issuer.Store
	Secrets   SecretStore
	DNS       connector.Resolver
	GlobalWebhookAllowlist []string
	ConnectorRateLimiter   *connector.DomainRateLimiter
	ZeroTrust              *connector.ZeroTrustGate

	// RiskEnforcer adds an optional risk-weighted budget check ahead of
	// connector execution, on top of the daily action-count cap. Nil
	// disables it entirely. A tenant with neither its own risk budget
	// (RiskEnforcer.SetBudget) nor a default one
	// (RiskEnforcer.SetDefaultBudget) fails closed on every check.
	RiskEnforcer *budget.RiskEnforcer

	ApprovalTTL time.Duration
	OverrideTTL time.Duration

	Clock func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func (o *Orchestrator) approvalTTL() time.Duration {
	if o.ApprovalTTL > 0 {
		return o.ApprovalTTL
	}
	return 72 * time.Hour
}

func newInteractionID() (string, error) {
	return "int-" + uuid.NewString(), nil
}

// evaluation bundles everything shared between Evaluate's and Execute's
// first step: loading the manifest, running the Policy Engine, and
// resolving the verified claims (if any) for later use.
type evaluation struct {
	manifest *manifest.Manifest
	result   *policy.Result
}

// runPolicy performs §4.7 step 1: build a PolicyContext and call the
// Policy Engine. It is shared verbatim by Evaluate and Execute.
func (o *Orchestrator) runPolicy(ctx context.Context, req Request) (*evaluation, error) {
	m, err := o.Manifests.GetActive(ctx, req.Tenant, req.ManifestID)
	if err != nil {
		return nil, fmt.Errorf("gateway: load manifest: %w", err)
	}

	resolve := NewKeyResolver(ctx, req.Tenant, nil, o.Issuers, o.Signer)
	engine := policy.New(resolve, approval.PolicyLookup{Store: o.Approvals, Tenant: req.Tenant, Ctx: ctx}, budget.PolicyLookup{Store: o.Budgets, Ctx: ctx})
	engine.Clock = o.Clock
	if o.Issuers != nil {
		engine.Issuers = issuer.PolicyLookup{Store: o.Issuers, Ctx: ctx}
	}

	preq := policy.Request{
		Tenant:          req.Tenant,
		ManifestID:      req.ManifestID,
		AgentID:         req.AgentID,
		Action:          req.Action,
		Counterparty:    req.Counterparty,
		CapabilityToken: req.tokenInUse(),
	}

	return &evaluation{manifest: m, result: engine.Evaluate(preq, m)}, nil
}

// createApprovalIfEscalated performs §4.7 step 2: on escalate, create a
// pending Approval row frozen from the request. The core treats every
// evaluation as independent, so no deduplication against an existing
// outstanding approval is attempted.
func (o *Orchestrator) createApprovalIfEscalated(ctx context.Context, req Request, interactionID string, eval *evaluation) (string, error) {
	if eval.result.Decision != policy.Escalate {
		return "", nil
	}

	approvalID, err := approval.NewApprovalID()
	if err != nil {
		return "", fmt.Errorf("gateway: new approval id: %w", err)
	}

	actionHash, err := token.ActionHash(req.Action)
	if err != nil {
		return "", fmt.Errorf("gateway: hash action: %w", err)
	}

	reasonCodes := make([]string, 0, len(eval.result.Reasons))
	for _, r := range eval.result.Reasons {
		reasonCodes = append(reasonCodes, r.Code)
	}

	now := o.now()
	a := approval.Approval{
		ApprovalID:    approvalID,
		Tenant:        req.Tenant,
		InteractionID: interactionID,
		ManifestID:    req.ManifestID,
		AgentID:       req.AgentID,
		Action:        actionToMap(req.Action),
		ActionHash:    actionHash,
		Counterparty:  counterpartyToMap(req.Counterparty),
		Context:       req.Context,
		ReasonCodes:   reasonCodes,
		Status:        approval.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(o.approvalTTL()),
	}
	if err := o.Approvals.Create(ctx, a); err != nil {
		return "", fmt.Errorf("gateway: create approval: %w", err)
	}
	return approvalID, nil
}

func actionToMap(a Action) map[string]interface{} {
	return map[string]interface{}{"type": a.Type, "tool": a.Tool, "params": a.Params}
}

func counterpartyToMap(c *Counterparty) map[string]interface{} {
	if c == nil {
		return nil
	}
	return map[string]interface{}{"id": c.ID, "jurisdiction": c.Jurisdiction}
}

// writeAuditRecord performs §4.5/§4.7's always-write step. previous is the
// chain tail read immediately beforehand; callers are responsible for the
// linearization that makes that read-then-append safe under the Store's
// concurrency contract.
func (o *Orchestrator) writeAuditRecord(ctx context.Context, req Request, interactionID string, eval *evaluation, execResult *connector.Result, durationMs *int64) error {
	prev, err := o.Audit.Latest(ctx, req.Tenant, req.ManifestID)
	if err != nil {
		return fmt.Errorf("gateway: read chain tail: %w", err)
	}
	var prevHash *string
	if prev != nil {
		h := prev.RecordHash
		prevHash = &h
	}

	in := audit.BuildInput{
		RecordID:   interactionID,
		Tenant:     req.Tenant,
		ManifestID: req.ManifestID,
		AgentID:    req.AgentID,
		ActionType: req.Action.Type,
		Tool:       req.Action.Tool,
		Request: audit.RequestView{
			ManifestID:              req.ManifestID,
			AgentID:                 req.AgentID,
			Action:                  actionToMap(req.Action),
			Counterparty:            counterpartyToMap(req.Counterparty),
			Context:                 req.Context,
			CapabilityTokenProvided: req.tokenInUse() != "",
		},
		Decision:           decisionOutcome(eval.result.Decision),
		Reasons:            eval.result.Reasons,
		PolicyTrace:        eval.result.Trace,
		RiskSnapshot:       eval.result.RiskSnapshot,
		PreviousRecordHash: prevHash,
		CreatedAt:          o.now(),
	}
	if execResult != nil {
		in.Result = execResult
		in.DurationMs = durationMs
	}

	rec, err := audit.Build(in, o.Signer)
	if err != nil {
		return fmt.Errorf("gateway: build record: %w", err)
	}
	if err := o.Audit.Append(ctx, rec); err != nil {
		return fmt.Errorf("gateway: append record: %w", err)
	}
	return nil
}

func decisionOutcome(d policy.Decision) audit.DecisionOutcome {
	switch d {
	case policy.Allow:
		return audit.DecisionApproved
	case policy.Escalate:
		return audit.DecisionPending
	default:
		return audit.DecisionDenied
	}
}

// Evaluate runs the Policy Engine and records the decision without
// executing anything (§4.7 Evaluate).
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (*Response, error) {
	interactionID, err := newInteractionID()
	if err != nil {
		return nil, err
	}

	eval, err := o.runPolicy(ctx, req)
	if err != nil {
		return nil, err
	}

	approvalID, err := o.createApprovalIfEscalated(ctx, req, interactionID, eval)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		InteractionID: interactionID,
		Decision:      eval.result.Decision,
		Reasons:       eval.result.Reasons,
		ApprovalID:    approvalID,
		Timestamp:     o.now(),
		PolicyVersion: PolicyVersion,
		Executed:      false,
	}

	if err := o.writeAuditRecord(ctx, req, interactionID, eval, nil, nil); err != nil {
		resp.AuditWriteFailed = true
	}
	return resp, nil
}
