package issuer

import (
	"context"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/policy"
)

// PolicyLookup adapts a Store, scoped to one request context, to the
// policy package's IssuerStatus interface: the stage-2 binding check that
// tells a revoked issuer apart from an unknown one, after the token's
// signature has already been verified against the (possibly revoked)
// issuer's key by Resolver.
type PolicyLookup struct {
	Store Store
	Ctx   context.Context
}

func (p PolicyLookup) Active(tenant, issuerID string) (bool, error) {
	row, err := p.Store.Get(p.Ctx, tenant, issuerID)
	if err == ErrNotFound {
		// Verification already succeeded against this issuer, so a
		// missing row here would be a storage race rather than a real
		// unknown issuer; treat it as inactive rather than panicking the
		// caller with a surprising error path.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !row.Revoked, nil
}
