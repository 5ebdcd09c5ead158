package gateway

import (
	"context"
	"crypto/ed25519"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/issuer"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/token"
)

// NewKeyResolver builds the token.KeyResolver the Policy Engine uses to
// verify a token's signature, scoped to one tenant and request context.
// Precedence: an explicit override (set for tests or a trusted inline
// grant) wins first, then the tenant's registered issuer rows, then the
// gateway's own key when iss == "gateway"; an unresolved issuer is an
// error.
func NewKeyResolver(ctx context.Context, tenant string, override map[string]ed25519.PublicKey, issuers issuer.Store, master *signing.KeyPair) token.KeyResolver {
	resolveIssuer := issuer.Resolver(issuers, master)

	return func(iss string) (ed25519.PublicKey, error) {
		if override != nil {
			if pub, ok := override[iss]; ok {
				return pub, nil
			}
		}
		if issuers != nil {
			pub, err := resolveIssuer(ctx, tenant, iss)
			if err == nil {
				return pub, nil
			}
		}
		if iss == "gateway" {
			return master.PublicKey(), nil
		}
		return nil, token.ErrUnknownIssuer
	}
}
