// Package token issues and verifies the gateway's capability and override
// tokens: compact Ed25519-signed JWS values carrying the claims the Policy
// Engine consults at evaluation time.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/canonicalize"
)

// TokenType distinguishes a general capability grant from a one-shot
// override bound to a single approved action.
type TokenType string

const (
	TypeCapability TokenType = "capability"
	TypeOverride   TokenType = "override"
)

// Constraints narrows what a capability (or override) token authorizes.
type Constraints struct {
	AmountMax               *float64  `json:"amount_max,omitempty"`
	Jurisdictions           []string  `json:"jurisdictions,omitempty"`
	CounterpartyAllowlist   []string  `json:"counterparty_allowlist,omitempty"`
	CounterpartyDenylist    []string  `json:"counterparty_denylist,omitempty"`
	ExpiresAt               *int64    `json:"expires_at,omitempty"`
}

// Claims is the full claim set carried by a capability or override token.
type Claims struct {
	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	OrgID      string    `json:"org_id"`
	ManifestID string    `json:"manifest_id"`

	AllowedActionTypes []string     `json:"allowed_action_types,omitempty"`
	AllowedTools       []string     `json:"allowed_tools,omitempty"`
	Constraints        *Constraints `json:"constraints,omitempty"`

	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
	ID        string    `json:"jti"`
	Type      TokenType `json:"token_type"`

	// Override-only.
	ActionHash string `json:"action_hash,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
}

// IsOverride reports whether the claims describe an override token.
func (c *Claims) IsOverride() bool {
	return c.Type == TypeOverride
}

// Valid rejects claims where override-only fields and token_type disagree:
// a token carrying action_hash/approval_id but not typed "override" is
// invalid, and vice versa.
func (c *Claims) Valid() error {
	hasOverrideFields := c.ActionHash != "" || c.ApprovalID != ""
	if hasOverrideFields && c.Type != TypeOverride {
		return fmt.Errorf("token: action_hash/approval_id present on non-override token")
	}
	if c.Type == TypeOverride && !hasOverrideFields {
		return fmt.Errorf("token: override token missing action_hash/approval_id")
	}
	return nil
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

var jwsHeader = header{Alg: "EdDSA", Typ: "JWT"}

// Sign constructs a signed capability or override token for the given
// claims using priv. Callers set IssuedAt/ExpiresAt/ID before calling.
func Sign(claims Claims, priv ed25519.PrivateKey) (string, error) {
	if err := claims.Valid(); err != nil {
		return "", err
	}

	headerJSON, err := canonicalize.Canonical(jwsHeader)
	if err != nil {
		return "", fmt.Errorf("token: encode header: %w", err)
	}
	payloadJSON, err := canonicalize.Canonical(claims)
	if err != nil {
		return "", fmt.Errorf("token: encode claims: %w", err)
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)

	signingInput := headerB64 + "." + payloadB64
	sig := ed25519.Sign(priv, []byte(signingInput))
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return headerB64 + "." + payloadB64 + "." + sigB64, nil
}

// NewCapabilityID returns a jti for a fresh capability token: "cap-" followed
// by 32 hex characters (16 random bytes).
func NewCapabilityID() (string, error) {
	return randomID("cap-")
}

// NewOverrideID returns a jti for a fresh override token: "override-"
// followed by 32 hex characters (16 random bytes).
func NewOverrideID() (string, error) {
	return randomID("override-")
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: random id: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// IssueCapability builds and signs a capability token with the given TTL.
func IssueCapability(claims Claims, ttl time.Duration, priv ed25519.PrivateKey, now time.Time) (string, Claims, error) {
	id, err := NewCapabilityID()
	if err != nil {
		return "", Claims{}, err
	}
	claims.Type = TypeCapability
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(ttl).Unix()
	claims.ID = id

	tok, err := Sign(claims, priv)
	return tok, claims, err
}

// IssueOverride builds and signs a short-lived override token bound to one
// action hash and one approval id.
func IssueOverride(orgID, manifestID, agentID, actionHash, approvalID string, ttl time.Duration, priv ed25519.PrivateKey, now time.Time) (string, Claims, error) {
	id, err := NewOverrideID()
	if err != nil {
		return "", Claims{}, err
	}
	claims := Claims{
		Issuer:     "gateway",
		Subject:    agentID,
		OrgID:      orgID,
		ManifestID: manifestID,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
		ID:         id,
		Type:       TypeOverride,
		ActionHash: actionHash,
		ApprovalID: approvalID,
	}
	tok, err := Sign(claims, priv)
	return tok, claims, err
}

// KeyResolver resolves the Ed25519 public key that should verify a token's
// signature, given its claimed issuer. Per spec: caller-provided override >
// per-tenant issuer map keyed by iss > gateway key when iss == "gateway" >
// unknown-issuer error. Implementations of this func embody that
// precedence; see pkg/gateway for the production wiring.
type KeyResolver func(iss string) (ed25519.PublicKey, error)

// ErrUnknownIssuer is returned by a KeyResolver that cannot resolve iss.
var ErrUnknownIssuer = fmt.Errorf("token: unknown issuer")

// Verify parses and validates the three JWS segments, resolves the
// verifying key via resolve, checks the signature, and checks expiry
// against now. It does not apply any of the semantic bindings the Policy
// Engine's capability/override stages require (org/manifest/agent match,
// issuer status, override lookup) — those are the caller's responsibility.
func Verify(tok string, resolve KeyResolver, now time.Time) (*Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token: malformed token: expected 3 segments, got %d", len(parts))
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, fmt.Errorf("token: invalid header encoding: %w", err)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, fmt.Errorf("token: invalid header JSON: %w", err)
	}
	if h.Alg != "EdDSA" {
		return nil, fmt.Errorf("token: unsupported algorithm %q", h.Alg)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("token: invalid payload encoding: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, fmt.Errorf("token: invalid payload JSON: %w", err)
	}
	if err := claims.Valid(); err != nil {
		return nil, err
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("token: invalid signature encoding: %w", err)
	}

	pub, err := resolve(claims.Issuer)
	if err != nil {
		return nil, err
	}

	signingInput := headerB64 + "." + payloadB64
	if !ed25519.Verify(pub, []byte(signingInput), sig) {
		return nil, fmt.Errorf("token: signature verification failed")
	}

	if claims.ExpiresAt > 0 && now.Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("token: expired")
	}

	return &claims, nil
}

// ActionHash computes the SHA-256 canonical-JSON hash an override token
// binds to, matching the hash the Policy Engine recomputes at stage 3.
func ActionHash(action interface{}) (string, error) {
	return canonicalize.Hash(action)
}
