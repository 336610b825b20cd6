package contracts

import "time"

// AttestationType enumerates the kinds of portable certification an
// Attestation can carry.
type AttestationType string

const (
	AttestationCertification AttestationType = "certification"
	AttestationCapability    AttestationType = "capability"
	AttestationTrust         AttestationType = "trust"
	AttestationCompliance    AttestationType = "compliance"
)

// Attestation is a portable certification travelling with an agent
//. An expired or revoked attestation contributes no floor to
// the Trust Engine's certification-floor calculation.
type Attestation struct {
	ID      string          `json:"id"`
	AgentID string          `json:"agent_id"`
	Issuer  string          `json:"issuer"`
	Type    AttestationType `json:"type"`

	// Claim carries issuer-defined assertions; for AttestationTrust the
	// engine reads Claim["band"] as the certified TrustBand name (e.g. "T3").
	Claim map[string]string `json:"claim"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"` // "ed25519" or "ecdsa-p256"

	Revoked bool `json:"revoked"`
}

// Valid reports whether the attestation is neither expired nor revoked
// as of "now".
func (a *Attestation) Valid(now time.Time) bool {
	if a.Revoked {
		return false
	}
	if !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt) {
		return false
	}
	return true
}
