package budget

import (
	"context"
	"time"
)

// PolicyLookup adapts a Store, scoped to one tenant and manifest, to the
// policy package's BudgetLookup interface. The Policy Engine only reads
// today's count to decide escalation; reservation for execution happens
// separately in the Orchestrator via Store.Reserve.
type PolicyLookup struct {
	Store Store
	Ctx   context.Context
}

func (p PolicyLookup) Count(tenant, manifestID string, now time.Time) (int, error) {
	return p.Store.Count(p.Ctx, tenant, manifestID, now)
}
