package contracts

import "time"

// ProofRecord is a single entry in the tenant-scoped, hash-linked,
// signed decision chain. SelfHash =
// H(position || previousHash || canonical-json(decision) || inputs ||
// outputs); the chain invariant is self.PreviousHash == prev.SelfHash.
//
// SchemaVersion and TenantID exist because the chain is scoped per
// tenant and future proof formats need a version discriminant that
// doesn't break existing hashes.
type ProofRecord struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	SchemaVersion int       `json:"schema_version"`
	Position      uint64    `json:"position"`
	PreviousHash  string    `json:"previous_hash"`
	SelfHash      string    `json:"self_hash"`

	Decision any            `json:"decision"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`

	Signature     string    `json:"signature"`
	SignatureAlgo string    `json:"signature_algo"` // "ed25519" or "ecdsa-p256"
	Timestamp     time.Time `json:"timestamp"`
}

// CircuitState enumerates the three states of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreakerState is the per-service breaker snapshot persisted in
// the coordination KV at key "vorion:circuit-breaker:<name>" with a
// 24-hour hard expiry.
type CircuitBreakerState struct {
	ServiceName     string       `json:"service_name"`
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailureTime time.Time    `json:"last_failure_time,omitempty"`
	OpenedAt        time.Time    `json:"opened_at,omitempty"`
	HalfOpenAttempts int         `json:"half_open_attempts"`
	WindowStartTime time.Time    `json:"window_start_time,omitempty"`
}
