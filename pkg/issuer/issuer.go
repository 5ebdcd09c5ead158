// Package issuer manages the per-tenant issuer rows the Policy Engine
// consults at capability-token verification time: an external party's
// registered Ed25519 public key, keyed by (tenant, issuer_id).
package issuer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
)

// Issuer is one registered verifying key for a tenant. A row with Derived
// set to true has no stored public key: its key is recomputed on demand
// from the gateway master seed via signing.DeriveIssuerKey, so rotating
// the gateway key rotates every derived issuer key with it.
type Issuer struct {
	Tenant    string
	IssuerID  string
	PublicKey ed25519.PublicKey
	Derived   bool
	Revoked   bool
	CreatedAt time.Time
}

// ErrNotFound is returned when no row matches (tenant, issuerID). A
// revoked row is still returned by Get; its Revoked field marks it.
var ErrNotFound = fmt.Errorf("issuer: not found")

// Store is the CRUD surface for issuer rows. The core only ever reads
// through Get during token verification; Create/Revoke/List back the
// collaborator-facing registration endpoint (spec §6).
type Store interface {
	Create(ctx context.Context, iss Issuer) error
	Get(ctx context.Context, tenant, issuerID string) (*Issuer, error)
	List(ctx context.Context, tenant string) ([]Issuer, error)
	Revoke(ctx context.Context, tenant, issuerID string) error
}

// Resolver resolves the verifying key for one registered issuer row,
// deriving it from master when the row is marked Derived. It deliberately
// returns a key for a revoked row too: signature verification and the
// active-issuer check are separate steps (mirroring the original engine's
// resolve-then-check-bindings split), so the Policy Engine can tell a
// revoked issuer apart from an unknown one instead of both collapsing into
// a generic verification failure. Callers that need the active/revoked
// status use PolicyLookup.
func Resolver(store Store, master *signing.KeyPair) func(ctx context.Context, tenant, issuerID string) (ed25519.PublicKey, error) {
	return func(ctx context.Context, tenant, issuerID string) (ed25519.PublicKey, error) {
		row, err := store.Get(ctx, tenant, issuerID)
		if err != nil {
			return nil, err
		}
		if row.Derived {
			kp, err := signing.DeriveIssuerKey(master, tenant, issuerID)
			if err != nil {
				return nil, fmt.Errorf("issuer: derive key: %w", err)
			}
			return kp.PublicKey(), nil
		}
		return row.PublicKey, nil
	}
}
