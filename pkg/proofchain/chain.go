// Package proofchain implements the append-only, hash-linked, signed
// decision chain: each record's previousHash must equal the prior
// record's selfHash, and every record's signature verifies against the
// recorded public key.
//
// It trades a multi-parent DAG for a single-parent total order per
// tenant, favoring a simple linear audit trail over branching history.
package proofchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
	"github.com/voriongit/vorion-sub013/pkg/crypto"
)

// Store persists ProofRecords for a tenant. Durability is delegated to an
// external transactional store; this interface is what the chain needs
// from it.
type Store interface {
	AppendProof(ctx context.Context, p *contracts.ProofRecord) error
	LastProof(ctx context.Context, tenantID string) (*contracts.ProofRecord, error)
	GetProof(ctx context.Context, tenantID, id string) (*contracts.ProofRecord, error)
}

// Chain appends signed, hash-linked ProofRecords for a single tenant.
// Position/hash computation is serialized per tenant via mu; the Store
// is the system of record across instances.
type Chain struct {
	mu     sync.Mutex
	store  Store
	signer crypto.Signer

	// cache of the last record per tenant, used to avoid a store round
	// trip on the hot append path; the store remains authoritative.
	lastByTenant map[string]*contracts.ProofRecord
}

func NewChain(store Store, signer crypto.Signer) *Chain {
	return &Chain{
		store:        store,
		signer:       signer,
		lastByTenant: make(map[string]*contracts.ProofRecord),
	}
}

// hashableRecord is the subset of ProofRecord hashed into SelfHash:
// H(position || previousHash || canonical-json(decision) || inputs ||
// outputs).
type hashableRecord struct {
	Position     uint64         `json:"position"`
	PreviousHash string         `json:"previous_hash"`
	Decision     any            `json:"decision"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
}

// Append binds a decision plus its inputs/outputs into a new signed
// ProofRecord, linking it to the tenant's current chain head.
func (c *Chain) Append(ctx context.Context, tenantID string, decision any, inputs, outputs map[string]any) (*contracts.ProofRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, err := c.head(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("proofchain: resolve head: %w", err)
	}

	position := uint64(1)
	previousHash := ""
	if prev != nil {
		position = prev.Position + 1
		previousHash = prev.SelfHash
	}

	selfHash, err := computeSelfHash(position, previousHash, decision, inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("proofchain: compute hash: %w", err)
	}

	sig, err := c.signer.Sign([]byte(selfHash))
	if err != nil {
		return nil, fmt.Errorf("proofchain: sign: %w", err)
	}

	rec := &contracts.ProofRecord{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		SchemaVersion: 1,
		Position:      position,
		PreviousHash:  previousHash,
		SelfHash:      selfHash,
		Decision:      decision,
		Inputs:        inputs,
		Outputs:       outputs,
		Signature:     sig,
		SignatureAlgo: c.signer.Algorithm(),
		Timestamp:     time.Now().UTC(),
	}

	if err := c.store.AppendProof(ctx, rec); err != nil {
		return nil, fmt.Errorf("proofchain: append: %w", err)
	}
	c.lastByTenant[tenantID] = rec
	return rec, nil
}

func (c *Chain) head(ctx context.Context, tenantID string) (*contracts.ProofRecord, error) {
	if cached, ok := c.lastByTenant[tenantID]; ok {
		return cached, nil
	}
	last, err := c.store.LastProof(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return last, nil
}

func computeSelfHash(position uint64, previousHash string, decision any, inputs, outputs map[string]any) (string, error) {
	h := hashableRecord{
		Position:     position,
		PreviousHash: previousHash,
		Decision:     decision,
		Inputs:       inputs,
		Outputs:      outputs,
	}
	data, err := crypto.CanonicalMarshal(h)
	if err != nil {
		return "", err
	}
	return crypto.HashBytes(data), nil
}

// Verify walks the chain from a record back to the genesis, checking
// hash linkage and signature validity at every step.
func (c *Chain) Verify(ctx context.Context, tenantID, fromID string) error {
	current, err := c.store.GetProof(ctx, tenantID, fromID)
	if err != nil {
		return fmt.Errorf("proofchain: load %s: %w", fromID, err)
	}

	for {
		expectedHash, err := computeSelfHash(current.Position, current.PreviousHash, current.Decision, current.Inputs, current.Outputs)
		if err != nil {
			return err
		}
		if expectedHash != current.SelfHash {
			return fmt.Errorf("proofchain: hash mismatch at position %d: got %s want %s", current.Position, current.SelfHash, expectedHash)
		}
		ok, err := c.signer.Verify([]byte(current.SelfHash), current.Signature)
		if err != nil {
			return fmt.Errorf("proofchain: verify signature at position %d: %w", current.Position, err)
		}
		if !ok {
			return fmt.Errorf("proofchain: invalid signature at position %d", current.Position)
		}

		if current.Position <= 1 {
			return nil
		}

		prevCandidates, err := c.findByHash(ctx, tenantID, current.PreviousHash)
		if err != nil {
			return err
		}
		if prevCandidates == nil {
			return fmt.Errorf("proofchain: missing predecessor for position %d (previous_hash=%s)", current.Position, current.PreviousHash)
		}
		current = prevCandidates
	}
}

// findByHash is a thin helper over Store; a real Store implementation is
// expected to index proofs by self_hash for O(1) lookups, as
// pkg/store.Store does via idx_proofs_tenant_hash.
func (c *Chain) findByHash(ctx context.Context, tenantID, hash string) (*contracts.ProofRecord, error) {
	type byHash interface {
		GetProofByHash(ctx context.Context, tenantID, hash string) (*contracts.ProofRecord, error)
	}
	if s, ok := c.store.(byHash); ok {
		return s.GetProofByHash(ctx, tenantID, hash)
	}
	return nil, fmt.Errorf("proofchain: store does not support hash lookup")
}
