package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

func newTestSQLite(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "vorion.db")
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTrustRecordRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec := &contracts.TrustRecord{
		EntityID:         "agent-1",
		Score:            650,
		Band:             contracts.BandT3,
		Components:       contracts.TrustComponents{Behavioral: 0.7, Compliance: 0.6, Identity: 0.5, Context: 0.4},
		LastCalculatedAt: time.Now().UTC().Truncate(time.Second),
		LastActivityAt:   time.Now().UTC().Truncate(time.Second),
		SignalCount:      3,
	}
	if err := s.PutTrustRecord(ctx, rec); err != nil {
		t.Fatalf("PutTrustRecord: %v", err)
	}

	got, err := s.GetTrustRecord(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetTrustRecord: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Score != 650 || got.Band != contracts.BandT3 || got.SignalCount != 3 {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	rec.Score = 700
	rec.SignalCount = 4
	if err := s.PutTrustRecord(ctx, rec); err != nil {
		t.Fatalf("PutTrustRecord (update): %v", err)
	}
	got, err = s.GetTrustRecord(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetTrustRecord: %v", err)
	}
	if got.Score != 700 || got.SignalCount != 4 {
		t.Errorf("expected updated row, got %+v", got)
	}

	if missing, err := s.GetTrustRecord(ctx, "nobody"); err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown entity, got %+v, %v", missing, err)
	}
}

func TestSignalAndHistoryAppend(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sig := &contracts.TrustSignal{
		EntityID:  "agent-2",
		Type:      "behavioral.latency.p99_ok",
		Value:     0.9,
		Weight:    1.0,
		Source:    "monitoring",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Metadata:  map[string]string{"region": "us-east"},
	}
	if err := s.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}
	// Duplicate ID submission must be idempotent.
	if err := s.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("AppendSignal (duplicate id): %v", err)
	}

	h := &contracts.TrustHistoryEntry{
		EntityID:      "agent-2",
		PreviousScore: 400,
		NewScore:      600,
		PreviousBand:  contracts.BandT2,
		NewBand:       contracts.BandT3,
		Reason:        "recalculation",
		SignalID:      sig.ID,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
	}
	if err := s.AppendHistory(ctx, h); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
}

func TestAttestationLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := &contracts.Attestation{
		AgentID:   "agent-3",
		Issuer:    "vorion-cert-authority",
		Type:      contracts.AttestationTrust,
		Claim:     map[string]string{"band": "T3"},
		IssuedAt:  time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second),
		Signature: "deadbeef",
		Algorithm: "ed25519",
	}
	if err := s.PutAttestation(ctx, a); err != nil {
		t.Fatalf("PutAttestation: %v", err)
	}

	list, err := s.ListAttestations(ctx, "agent-3")
	if err != nil {
		t.Fatalf("ListAttestations: %v", err)
	}
	if len(list) != 1 || list[0].Claim["band"] != "T3" {
		t.Fatalf("unexpected attestations: %+v", list)
	}

	if err := s.RevokeAttestation(ctx, a.ID); err != nil {
		t.Fatalf("RevokeAttestation: %v", err)
	}
	list, err = s.ListAttestations(ctx, "agent-3")
	if err != nil {
		t.Fatalf("ListAttestations after revoke: %v", err)
	}
	if !list[0].Revoked {
		t.Error("expected attestation to be marked revoked")
	}
}

func TestProofChainPersistence(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	p1 := &contracts.ProofRecord{
		ID: "p1", TenantID: "tenant-a", SchemaVersion: 1, Position: 1,
		PreviousHash: "", SelfHash: "hash1", Decision: map[string]any{"granted": true},
		Inputs: map[string]any{"x": 1.0}, Outputs: map[string]any{"y": 2.0},
		Signature: "sig1", SignatureAlgo: "ed25519", Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	p2 := &contracts.ProofRecord{
		ID: "p2", TenantID: "tenant-a", SchemaVersion: 1, Position: 2,
		PreviousHash: "hash1", SelfHash: "hash2", Decision: map[string]any{"granted": false},
		Signature: "sig2", SignatureAlgo: "ed25519", Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.AppendProof(ctx, p1); err != nil {
		t.Fatalf("AppendProof p1: %v", err)
	}
	if err := s.AppendProof(ctx, p2); err != nil {
		t.Fatalf("AppendProof p2: %v", err)
	}

	last, err := s.LastProof(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("LastProof: %v", err)
	}
	if last == nil || last.ID != "p2" {
		t.Fatalf("expected p2 as chain head, got %+v", last)
	}

	byHash, err := s.GetProofByHash(ctx, "tenant-a", "hash1")
	if err != nil {
		t.Fatalf("GetProofByHash: %v", err)
	}
	if byHash == nil || byHash.ID != "p1" {
		t.Fatalf("expected p1 by hash, got %+v", byHash)
	}

	got, err := s.GetProof(ctx, "tenant-a", "p1")
	if err != nil {
		t.Fatalf("GetProof: %v", err)
	}
	if granted, _ := got.Decision.(map[string]interface{})["granted"].(bool); !granted {
		t.Errorf("expected decoded decision.granted = true, got %+v", got.Decision)
	}
}

func TestAgentAndExtensionPersistence(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	agent := &contracts.AgentIdentity{
		AgentID: "agent-4", Publisher: "acme", Name: "banquet-advisor",
		ACI: "a3i.vorion.banquet-advisor:FHC-L3@1.2.0#gov,audit",
		CompetenceLevel: 3, DomainMask: 0x7, Version: "1.2.0",
		TrustBand: contracts.BandT2, TrustScore: 450,
		Metadata: map[string]string{"owner": "team-x"},
	}
	if err := s.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
	// A second insert for the same ID must not overwrite (agents are
	// never destroyed, never re-created).
	if err := s.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent (duplicate): %v", err)
	}

	got, err := s.GetAgent(ctx, "agent-4")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.TrustScore != 450 || got.Metadata["owner"] != "team-x" {
		t.Fatalf("unexpected agent: %+v", got)
	}

	if err := s.UpdateAgentTrust(ctx, "agent-4", 620, contracts.BandT3); err != nil {
		t.Fatalf("UpdateAgentTrust: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.RevokeAgent(ctx, "agent-4", now); err != nil {
		t.Fatalf("RevokeAgent: %v", err)
	}
	got, err = s.GetAgent(ctx, "agent-4")
	if err != nil {
		t.Fatalf("GetAgent after revoke: %v", err)
	}
	if got.TrustScore != 620 || got.TrustBand != contracts.BandT3 {
		t.Errorf("expected updated trust, got %+v", got)
	}
	if !got.IsRevoked() {
		t.Error("expected agent to be revoked")
	}

	ext := &contracts.ExtensionDescriptor{
		ExtensionID: "aci-ext-governance-v1", ShortCode: "gov", Version: "1.0.0",
		Publisher: "vorion", Capabilities: []string{"capability.preCheck", "policy.evaluate"},
	}
	if err := s.PutExtension(ctx, ext); err != nil {
		t.Fatalf("PutExtension: %v", err)
	}
	list, err := s.ListExtensions(ctx)
	if err != nil {
		t.Fatalf("ListExtensions: %v", err)
	}
	if len(list) != 1 || list[0].ShortCode != "gov" {
		t.Fatalf("unexpected extensions: %+v", list)
	}
	if err := s.DeleteExtension(ctx, ext.ExtensionID); err != nil {
		t.Fatalf("DeleteExtension: %v", err)
	}
	list, err = s.ListExtensions(ctx)
	if err != nil {
		t.Fatalf("ListExtensions after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no extensions after delete, got %+v", list)
	}
}

// TestRebindForPostgres exercises the "?" -> "$N" placeholder rewrite
// against a sqlmock connection, since a real Postgres isn't available in
// this test environment.
func TestRebindForPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := Open(db, DialectPostgres)

	mock.ExpectExec(`UPDATE agents SET trust_score = \$1, trust_band = \$2 WHERE agent_id = \$3`).
		WithArgs(700, 3, "agent-9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateAgentTrust(context.Background(), "agent-9", 700, contracts.BandT3); err != nil {
		t.Fatalf("UpdateAgentTrust: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
