package approval

import (
	"context"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/policy"
)

// PolicyLookup adapts a Store, scoped to one tenant and request context,
// to the policy package's ApprovalLookup interface. The Policy Engine only
// ever resolves approvals belonging to the tenant of the request it is
// evaluating, so construct a fresh adapter per evaluation.
type PolicyLookup struct {
	Store  Store
	Tenant string
	Ctx    context.Context
}

func (p PolicyLookup) Lookup(approvalID string) (policy.ApprovalView, bool, error) {
	a, err := p.Store.Get(p.Ctx, p.Tenant, approvalID)
	if err == ErrNotFound {
		return policy.ApprovalView{}, false, nil
	}
	if err != nil {
		return policy.ApprovalView{}, false, err
	}
	return policy.ApprovalView{
		Status:     string(a.Status),
		ExpiresAt:  a.ExpiresAt,
		ConsumedAt: a.ConsumedAt,
		Tenant:     a.Tenant,
		ManifestID: a.ManifestID,
		AgentID:    a.AgentID,
		ActionHash: a.ActionHash,
	}, true, nil
}
