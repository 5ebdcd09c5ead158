package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestIssueAndVerifyCapability(t *testing.T) {
	pub, priv := genKey(t)
	now := time.Now()

	tok, claims, err := IssueCapability(Claims{
		Issuer:     "gateway",
		Subject:    "agent-1",
		OrgID:      "tenant-a",
		ManifestID: "refund-bot-v1",
	}, time.Hour, priv, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if claims.Type != TypeCapability {
		t.Fatalf("expected capability type, got %s", claims.Type)
	}

	resolve := func(iss string) (ed25519.PublicKey, error) {
		if iss == "gateway" {
			return pub, nil
		}
		return nil, ErrUnknownIssuer
	}

	verified, err := Verify(tok, resolve, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Subject != "agent-1" || verified.OrgID != "tenant-a" {
		t.Fatalf("unexpected claims: %+v", verified)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	pub, priv := genKey(t)
	now := time.Now()
	tok, _, err := IssueCapability(Claims{Issuer: "gateway", Subject: "a", OrgID: "t", ManifestID: "m"}, time.Second, priv, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	resolve := func(string) (ed25519.PublicKey, error) { return pub, nil }
	if _, err := Verify(tok, resolve, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	pub, priv := genKey(t)
	other, _ := genKey(t)
	now := time.Now()
	tok, _, err := IssueCapability(Claims{Issuer: "gateway", Subject: "a", OrgID: "t", ManifestID: "m"}, time.Hour, priv, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	resolve := func(string) (ed25519.PublicKey, error) { return other, nil }
	if _, err := Verify(tok, resolve, now); err == nil {
		t.Fatalf("expected signature failure with wrong key")
	}
	_ = pub
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	resolve := func(string) (ed25519.PublicKey, error) { return nil, ErrUnknownIssuer }
	if _, err := Verify("not-a-token", resolve, time.Now()); err == nil {
		t.Fatalf("expected malformed-token error")
	}
}

func TestOverrideTokenRequiresActionHashAndApprovalID(t *testing.T) {
	_, priv := genKey(t)
	now := time.Now()
	claims := Claims{
		Issuer: "gateway", Subject: "a", OrgID: "t", ManifestID: "m",
		Type: TypeOverride,
	}
	if _, err := Sign(claims, priv); err == nil {
		t.Fatalf("expected validation error for override missing action_hash/approval_id")
	}

	tok, _, err := IssueOverride("t", "m", "a", "hash123", "approval-1", 5*time.Minute, priv, now)
	if err != nil {
		t.Fatalf("issue override: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected non-empty token")
	}
}

func TestActionHashDeterministic(t *testing.T) {
	action := map[string]interface{}{"type": "payment", "tool": "stripe_refund", "params": map[string]interface{}{"amount": 75, "currency": "USD"}}
	h1, err := ActionHash(action)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := ActionHash(action)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic hash")
	}
}
