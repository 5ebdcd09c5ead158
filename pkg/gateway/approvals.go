package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/approval"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/token"
)

// ErrApprovalNotApproved is returned by IssueOverrideToken when the
// approval row is not in the approved state at the time of issuance.
var ErrApprovalNotApproved = fmt.Errorf("gateway: approval is not approved")

func (o *Orchestrator) overrideTTL() time.Duration {
	if o.OverrideTTL > 0 {
		return o.OverrideTTL
	}
	return 15 * time.Minute
}

// Approve transitions a pending approval to approved, attributing the
// decision to approver (§6 approval approve/deny).
func (o *Orchestrator) Approve(ctx context.Context, tenant, approvalID, approver string) error {
	return o.Approvals.SetStatus(ctx, tenant, approvalID, approval.StatusApproved, approver, o.now())
}

// Deny transitions a pending approval to denied.
func (o *Orchestrator) Deny(ctx context.Context, tenant, approvalID, approver string) error {
	return o.Approvals.SetStatus(ctx, tenant, approvalID, approval.StatusDenied, approver, time.Time{})
}

// IssueOverrideToken mints the one-shot override token an approved
// approval entitles its agent to redeem, bound to the approval's frozen
// action hash. The platform calls this immediately after Approve and
// returns the token to the collaborator that requested escalation.
func (o *Orchestrator) IssueOverrideToken(ctx context.Context, tenant, approvalID string) (string, error) {
	a, err := o.Approvals.Get(ctx, tenant, approvalID)
	if err != nil {
		return "", fmt.Errorf("gateway: load approval: %w", err)
	}
	if a.EffectiveStatus(o.now()) != approval.StatusApproved {
		return "", ErrApprovalNotApproved
	}

	tok, _, err := token.IssueOverride(a.Tenant, a.ManifestID, a.AgentID, a.ActionHash, a.ApprovalID, o.overrideTTL(), o.Signer.Private(), o.now())
	if err != nil {
		return "", fmt.Errorf("gateway: issue override token: %w", err)
	}
	return tok, nil
}
