// Package signing manages the gateway's Ed25519 signing key and derives
// per-tenant issuer keys from it. The gateway key is process-wide and
// read-only after initialization; issuer keys are derived on demand and
// safe to cache.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// Signer signs and exposes the public key of an Ed25519 keypair.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
}

// KeyPair is an in-memory Ed25519 Signer.
type KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeyPair wraps an existing Ed25519 private key.
func NewKeyPair(priv ed25519.PrivateKey) *KeyPair {
	return &KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// GenerateKeyPair creates a random Ed25519 keypair, for development and tests.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

func (k *KeyPair) PublicKey() ed25519.PublicKey {
	return k.pub
}

// Private returns the underlying Ed25519 private key, for callers (such as
// the override-token issuer) that need to call into crypto/ed25519 or
// pkg/token directly rather than through the Signer interface.
func (k *KeyPair) Private() ed25519.PrivateKey {
	return k.priv
}

// Seed returns the 32-byte Ed25519 seed backing this keypair, used as HKDF
// input key material for deriving other keys. Callers must not persist or
// log the returned bytes.
func (k *KeyPair) Seed() []byte {
	return k.priv.Seed()
}

// LoadGatewaySigner loads the gateway's signing key from the
// UAPK_GATEWAY_PRIVATE_KEY environment variable (PEM-encoded PKCS#8 Ed25519
// private key). UAPK_GATEWAY_PRIVATE_KEY_FILE is accepted as a
// development-only fallback when the variable is not set directly.
func LoadGatewaySigner() (*KeyPair, error) {
	pemData := os.Getenv("UAPK_GATEWAY_PRIVATE_KEY")
	if pemData == "" {
		if path := os.Getenv("UAPK_GATEWAY_PRIVATE_KEY_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("signing: read key file: %w", err)
			}
			pemData = string(data)
		}
	}
	if pemData == "" {
		return nil, fmt.Errorf("signing: UAPK_GATEWAY_PRIVATE_KEY not set")
	}

	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("signing: invalid PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse PKCS8 key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing: key is not Ed25519")
	}
	return NewKeyPair(priv), nil
}

const issuerKDFInfoPrefix = "uapk-gateway-issuer-kdf:"

// DeriveIssuerKey derives a deterministic Ed25519 keypair for one tenant's
// issuer from the gateway's master seed via HKDF-SHA256. The same
// (master seed, tenant, issuerID) triple always yields the same keypair,
// so issuer public keys never need to be persisted separately from the
// tenant/issuer identity that produced them.
func DeriveIssuerKey(master *KeyPair, tenant, issuerID string) (*KeyPair, error) {
	if tenant == "" || issuerID == "" {
		return nil, fmt.Errorf("signing: tenant and issuerID must be non-empty")
	}

	seed := master.Seed()
	info := []byte(issuerKDFInfoPrefix + tenant + ":" + issuerID)
	r := hkdf.New(sha256.New, seed, nil, info)

	derivedSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, derivedSeed); err != nil {
		return nil, fmt.Errorf("signing: HKDF derive: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(derivedSeed)
	return NewKeyPair(priv), nil
}

// EncodePublicKey hex-encodes a public key for storage/transport.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// DecodePublicKey reverses EncodePublicKey.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signing: invalid public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing: invalid public key length %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}
