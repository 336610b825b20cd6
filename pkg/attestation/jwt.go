// Package attestation provides a JWT-encoded transport for
// contracts.Attestation, carried alongside (not instead of) the raw
// Ed25519/ECDSA signature already on the struct: a portable certification
// an agent can present to a system that only understands bearer JWTs.
package attestation

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// claims is the JWT claim set an attestation encodes into.
type claims struct {
	jwt.RegisteredClaims
	AgentID string                    `json:"agent_id"`
	Type    contracts.AttestationType `json:"type"`
	Claim   map[string]string         `json:"claim,omitempty"`
}

// Issuer signs and verifies JWT-encoded attestations with a single
// Ed25519 key pair.
type Issuer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewIssuer wraps an existing Ed25519 key pair.
func NewIssuer(priv ed25519.PrivateKey, keyID string) *Issuer {
	return &Issuer{priv: priv, pub: priv.Public().(ed25519.PublicKey), keyID: keyID}
}

// GenerateIssuer creates a fresh random Ed25519 key pair for an Issuer.
func GenerateIssuer(keyID string) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("attestation: generate key: %w", err)
	}
	return &Issuer{priv: priv, pub: pub, keyID: keyID}, nil
}

// Encode signs a as a JWT. The token's own EdDSA signature is the proof
// of authenticity for this transport; a's Signature/Algorithm fields
// (the raw binary attestation signature) are not carried into the token.
func (iss *Issuer) Encode(a *contracts.Attestation) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.Issuer,
			Subject:   a.AgentID,
			ID:        a.ID,
			IssuedAt:  jwt.NewNumericDate(a.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(a.ExpiresAt),
		},
		AgentID: a.AgentID,
		Type:    a.Type,
		Claim:   a.Claim,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	token.Header["kid"] = iss.keyID
	signed, err := token.SignedString(iss.priv)
	if err != nil {
		return "", fmt.Errorf("attestation: sign jwt: %w", err)
	}
	return signed, nil
}

// Decode parses and verifies a JWT produced by Encode, reconstructing the
// Attestation it carries.
func (iss *Issuer) Decode(tokenStr string) (*contracts.Attestation, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, fmt.Errorf("attestation: unexpected signing method %v", t.Header["alg"])
		}
		return iss.pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("attestation: parse jwt: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("attestation: invalid jwt")
	}

	a := &contracts.Attestation{
		ID:        c.ID,
		AgentID:   c.AgentID,
		Issuer:    c.Issuer,
		Type:      c.Type,
		Claim:     c.Claim,
		Algorithm: "ed25519",
	}
	if c.IssuedAt != nil {
		a.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		a.ExpiresAt = c.ExpiresAt.Time
	}
	return a, nil
}

// KeyID reports the key identifier stamped into every token's "kid" header.
func (iss *Issuer) KeyID() string { return iss.keyID }
