package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Signer signs and verifies ProofRecord payloads. Primary implementation
// is Ed25519; ECDSASigner is the documented fallback
// for environments where Ed25519 key material is unavailable.
type Signer interface {
	// Sign returns a hex-encoded signature over data.
	Sign(data []byte) (string, error)
	// Verify checks a hex-encoded signature against data.
	Verify(data []byte, sigHex string) (bool, error)
	// PublicKey returns the hex-encoded public key.
	PublicKey() string
	// KeyID identifies which key produced a signature, for rotation.
	KeyID() string
	// Algorithm names the signature scheme, e.g. "ed25519" or "ecdsa-p256".
	Algorithm() string
}

// Ed25519Signer is the primary Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh random Ed25519 key pair. An
// ephemeral key is only acceptable with a warning in production —
// callers building a production Signer should prefer
// NewEd25519SignerFromSecret with a process-scoped secret instead.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromSecret derives a deterministic Ed25519 key from a
// process-scoped secret via HKDF-SHA256, so the same secret always yields
// the same key pair without persisting raw key material separately.
func NewEd25519SignerFromSecret(secret []byte, keyID string) (*Ed25519Signer, error) {
	kdf := hkdf.New(sha256.New, secret, []byte("vorion-proof-signing"), []byte(keyID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey), keyID: keyID}, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) Verify(data []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return ed25519.Verify(s.pubKey, data, sig), nil
}

func (s *Ed25519Signer) PublicKey() string { return hex.EncodeToString(s.pubKey) }
func (s *Ed25519Signer) KeyID() string     { return s.keyID }
func (s *Ed25519Signer) Algorithm() string { return AlgoEd25519 }

// ECDSASigner is the fallback signer using ECDSA P-256 / SHA-256.
type ECDSASigner struct {
	privKey *ecdsa.PrivateKey
	keyID   string
}

// NewECDSASigner generates a fresh ECDSA P-256 key pair.
func NewECDSASigner(keyID string) (*ECDSASigner, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &ECDSASigner{privKey: priv, keyID: keyID}, nil
}

func (s *ECDSASigner) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, s.privKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("ecdsa sign failed: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (s *ECDSASigner) Verify(data []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(&s.privKey.PublicKey, digest[:], sig), nil
}

func (s *ECDSASigner) PublicKey() string {
	return hex.EncodeToString(elliptic.MarshalCompressed(elliptic.P256(), s.privKey.PublicKey.X, s.privKey.PublicKey.Y))
}
func (s *ECDSASigner) KeyID() string     { return s.keyID }
func (s *ECDSASigner) Algorithm() string { return AlgoECDSAP256 }

// NewSigner selects Ed25519 when a secret is supplied, falling back to a
// fresh ECDSA P-256 key when useFallback is requested explicitly (e.g.
// the deployment's crypto provider lacks Ed25519 support).
func NewSigner(secret []byte, keyID string, useFallback bool) (Signer, error) {
	if useFallback {
		return NewECDSASigner(keyID)
	}
	if len(secret) == 0 {
		return NewEd25519Signer(keyID)
	}
	return NewEd25519SignerFromSecret(secret, keyID)
}
