// Package contracts defines the durable data model shared across the
// governance core: agent identities, trust records and signals,
// attestations, extensions, capability grants, action records, and the
// signed proof chain that gives every decision evidentiary weight.
package contracts

import "time"

// TrustBand is a discrete trust level derived from a continuous score.
type TrustBand int

const (
	BandT0 TrustBand = iota
	BandT1
	BandT2
	BandT3
	BandT4
	BandT5
)

func (b TrustBand) String() string {
	names := [...]string{"T0", "T1", "T2", "T3", "T4", "T5"}
	if int(b) < 0 || int(b) >= len(names) {
		return "T?"
	}
	return names[b]
}

// AgentIdentity is the durable principal governed by Vorion. It is created
// on first registration, mutated only by the Trust Engine, and never
// destroyed — revocation is recorded as a separate signal
// (see RevokedAt).
type AgentIdentity struct {
	AgentID  string `json:"agent_id"`
	Publisher string `json:"publisher"`
	Name     string `json:"name"`

	// ACI is the canonical agent-class identifier string, e.g.
	// "a3i.vorion.banquet-advisor:FHC-L3@1.2.0#gov,audit".
	ACI string `json:"aci"`

	CompetenceLevel int    `json:"competence_level"` // 0-5
	DomainMask      uint64 `json:"domain_mask"`       // operational-domain bitmask
	Version         string `json:"version"`           // semver

	// TrustBand is derived: band = scoreToBand(score) at read time, after
	// all ceilings are applied. It is a cache of the last computed value;
	// callers needing a fresh value should go through the Trust Engine.
	TrustBand TrustBand `json:"trust_band"`
	TrustScore int      `json:"trust_score"` // 0-1000

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the agent has been revoked as of now.
func (a *AgentIdentity) IsRevoked() bool {
	return a.RevokedAt != nil && !a.RevokedAt.IsZero()
}

// DeploymentContext is the environmental policy envelope imposing a
// further ceiling on trust.
type DeploymentContext string

const (
	ContextLocal      DeploymentContext = "C_LOCAL"
	ContextTeam       DeploymentContext = "C_TEAM"
	ContextEnterprise DeploymentContext = "C_ENTERPRISE"
	ContextRegulated  DeploymentContext = "C_REGULATED"
	ContextSovereign  DeploymentContext = "C_SOVEREIGN"
)

// ObservabilityClass is the declared visibility the runtime has into an
// agent's behavior; it constrains the maximum trust score attainable.
type ObservabilityClass string

const (
	ObservabilityBlackBox   ObservabilityClass = "black-box"
	ObservabilityLogsOnly   ObservabilityClass = "logs-only"
	ObservabilityMetrics    ObservabilityClass = "metrics"
	ObservabilityTraces     ObservabilityClass = "traces"
	ObservabilityFullAudit  ObservabilityClass = "full-audit"
)
