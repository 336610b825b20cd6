// Package store implements the durable store consumed by the governance
// core: row-level atomic persistence for trust records, signals,
// history, attestations, extension descriptors, and the proof chain,
// over database/sql. Postgres (lib/pq) backs production deployments;
// modernc.org/sqlite backs local/dev and tests, via a dual-driver setup
// selected through a Dialect at construction time.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// Dialect names the SQL backend, since placeholder syntax and a handful
// of DDL details differ between Postgres and SQLite.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the database/sql-backed durable store. It satisfies
// pkg/trust.Store and pkg/proofchain.Store (plus the GetProofByHash
// lookup proofchain.Chain.Verify optionally uses), and additionally
// persists AgentIdentity and ExtensionDescriptor rows.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open wraps an already-connected *sql.DB. Callers obtain db via
// sql.Open("postgres", dsn) or sql.Open("sqlite", dsn) with the
// corresponding driver imported for side effects (see NewPostgres /
// NewSQLite).
func Open(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// NewSQLite opens a modernc.org/sqlite-backed store at dsn (e.g.
// "file:vorion.db?cache=shared" or ":memory:" for tests) and applies the
// schema.
func NewSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := Open(db, DialectSQLite)
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgres opens a lib/pq-backed store at dsn and applies the schema.
func NewPostgres(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	s := Open(db, DialectPostgres)
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites "?" placeholders into Postgres "$1", "$2", ... form
// when the dialect requires it; SQLite accepts "?" as written.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Migrate applies the (idempotent) schema. Safe to call on every
// startup; there is no down-migration because the core never destroys
// durable records.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trust_records (
		entity_id           TEXT PRIMARY KEY,
		score                INTEGER NOT NULL,
		band                 INTEGER NOT NULL,
		behavioral           REAL NOT NULL,
		compliance           REAL NOT NULL,
		identity             REAL NOT NULL,
		context              REAL NOT NULL,
		last_calculated_at   TIMESTAMP NOT NULL,
		last_activity_at     TIMESTAMP NOT NULL,
		signal_count         INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trust_signals (
		id          TEXT PRIMARY KEY,
		entity_id   TEXT NOT NULL,
		type        TEXT NOT NULL,
		value       REAL NOT NULL,
		weight      REAL NOT NULL,
		source      TEXT NOT NULL,
		timestamp   TIMESTAMP NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trust_signals_entity ON trust_signals (entity_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS trust_history (
		id              TEXT PRIMARY KEY,
		entity_id       TEXT NOT NULL,
		previous_score  INTEGER NOT NULL,
		new_score       INTEGER NOT NULL,
		previous_band   INTEGER NOT NULL,
		new_band        INTEGER NOT NULL,
		reason          TEXT NOT NULL,
		signal_id       TEXT NOT NULL DEFAULT '',
		timestamp       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trust_history_entity ON trust_history (entity_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS attestations (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL,
		issuer      TEXT NOT NULL,
		type        TEXT NOT NULL,
		claim       TEXT NOT NULL DEFAULT '{}',
		issued_at   TIMESTAMP NOT NULL,
		expires_at  TIMESTAMP NOT NULL,
		signature   TEXT NOT NULL,
		algorithm   TEXT NOT NULL,
		revoked     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attestations_agent ON attestations (agent_id)`,
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id          TEXT PRIMARY KEY,
		publisher         TEXT NOT NULL,
		name              TEXT NOT NULL,
		aci               TEXT NOT NULL,
		competence_level  INTEGER NOT NULL,
		domain_mask       INTEGER NOT NULL,
		version           TEXT NOT NULL,
		trust_band        INTEGER NOT NULL,
		trust_score       INTEGER NOT NULL,
		metadata          TEXT NOT NULL DEFAULT '{}',
		created_at        TIMESTAMP NOT NULL,
		revoked_at        TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS extensions (
		extension_id   TEXT PRIMARY KEY,
		short_code     TEXT NOT NULL UNIQUE,
		version        TEXT NOT NULL,
		publisher      TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		capabilities   TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS proofs (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		schema_version   INTEGER NOT NULL,
		position         INTEGER NOT NULL,
		previous_hash    TEXT NOT NULL,
		self_hash        TEXT NOT NULL,
		decision         TEXT NOT NULL,
		inputs           TEXT NOT NULL DEFAULT '{}',
		outputs          TEXT NOT NULL DEFAULT '{}',
		signature        TEXT NOT NULL,
		signature_algo   TEXT NOT NULL,
		timestamp        TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_proofs_tenant_position ON proofs (tenant_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_proofs_tenant_hash ON proofs (tenant_id, self_hash)`,
}

// --- trust.Store -----------------------------------------------------

func (s *Store) GetTrustRecord(ctx context.Context, entityID string) (*contracts.TrustRecord, error) {
	row := s.queryRow(ctx, `SELECT entity_id, score, band, behavioral, compliance, identity, context,
		last_calculated_at, last_activity_at, signal_count FROM trust_records WHERE entity_id = ?`, entityID)

	var rec contracts.TrustRecord
	var band int
	if err := row.Scan(&rec.EntityID, &rec.Score, &band, &rec.Components.Behavioral, &rec.Components.Compliance,
		&rec.Components.Identity, &rec.Components.Context, &rec.LastCalculatedAt, &rec.LastActivityAt, &rec.SignalCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get trust record %q: %w", entityID, err)
	}
	rec.Band = contracts.TrustBand(band)
	return &rec, nil
}

// PutTrustRecord upserts the record: insert if no row exists for the
// entity yet, otherwise update the existing row in place.
func (s *Store) PutTrustRecord(ctx context.Context, rec *contracts.TrustRecord) error {
	existing, err := s.GetTrustRecord(ctx, rec.EntityID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err = s.exec(ctx, `INSERT INTO trust_records
			(entity_id, score, band, behavioral, compliance, identity, context, last_calculated_at, last_activity_at, signal_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.EntityID, rec.Score, int(rec.Band), rec.Components.Behavioral, rec.Components.Compliance,
			rec.Components.Identity, rec.Components.Context, rec.LastCalculatedAt, rec.LastActivityAt, rec.SignalCount)
	} else {
		_, err = s.exec(ctx, `UPDATE trust_records SET score=?, band=?, behavioral=?, compliance=?, identity=?,
			context=?, last_calculated_at=?, last_activity_at=?, signal_count=? WHERE entity_id=?`,
			rec.Score, int(rec.Band), rec.Components.Behavioral, rec.Components.Compliance,
			rec.Components.Identity, rec.Components.Context, rec.LastCalculatedAt, rec.LastActivityAt,
			rec.SignalCount, rec.EntityID)
	}
	if err != nil {
		return fmt.Errorf("store: put trust record %q: %w", rec.EntityID, err)
	}
	return nil
}

func (s *Store) AppendSignal(ctx context.Context, sig *contracts.TrustSignal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	meta, err := json.Marshal(sig.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal signal metadata: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO trust_signals (id, entity_id, type, value, weight, source, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.EntityID, sig.Type, sig.Value, sig.Weight, sig.Source, sig.Timestamp, string(meta))
	if err != nil {
		return fmt.Errorf("store: append signal: %w", err)
	}
	return nil
}

// ListSignals returns the entity's signals timestamped at or after since,
// oldest first, for the trust engine to recompose component means from.
func (s *Store) ListSignals(ctx context.Context, entityID string, since time.Time) ([]contracts.TrustSignal, error) {
	rows, err := s.query(ctx, `SELECT id, entity_id, type, value, weight, source, timestamp, metadata
		FROM trust_signals WHERE entity_id = ? AND timestamp >= ? ORDER BY timestamp ASC`, entityID, since)
	if err != nil {
		return nil, fmt.Errorf("store: list signals for %q: %w", entityID, err)
	}
	defer rows.Close()

	var out []contracts.TrustSignal
	for rows.Next() {
		var sig contracts.TrustSignal
		var meta string
		if err := rows.Scan(&sig.ID, &sig.EntityID, &sig.Type, &sig.Value, &sig.Weight, &sig.Source, &sig.Timestamp, &meta); err != nil {
			return nil, fmt.Errorf("store: scan signal: %w", err)
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &sig.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal signal metadata: %w", err)
			}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *Store) AppendHistory(ctx context.Context, h *contracts.TrustHistoryEntry) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO trust_history
		(id, entity_id, previous_score, new_score, previous_band, new_band, reason, signal_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.EntityID, h.PreviousScore, h.NewScore, int(h.PreviousBand), int(h.NewBand), h.Reason, h.SignalID, h.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append history: %w", err)
	}
	return nil
}

func (s *Store) ListAttestations(ctx context.Context, entityID string) ([]contracts.Attestation, error) {
	rows, err := s.query(ctx, `SELECT id, agent_id, issuer, type, claim, issued_at, expires_at, signature, algorithm, revoked
		FROM attestations WHERE agent_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("store: list attestations for %q: %w", entityID, err)
	}
	defer rows.Close()

	var out []contracts.Attestation
	for rows.Next() {
		var a contracts.Attestation
		var claimRaw string
		var revoked int
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Issuer, &a.Type, &claimRaw, &a.IssuedAt, &a.ExpiresAt,
			&a.Signature, &a.Algorithm, &revoked); err != nil {
			return nil, fmt.Errorf("store: scan attestation: %w", err)
		}
		a.Revoked = revoked != 0
		if claimRaw != "" {
			if err := json.Unmarshal([]byte(claimRaw), &a.Claim); err != nil {
				return nil, fmt.Errorf("store: unmarshal attestation claim: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutAttestation inserts an attestation by ID; if the ID already exists,
// only its revoked flag is updated.
func (s *Store) PutAttestation(ctx context.Context, a *contracts.Attestation) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	claim, err := json.Marshal(a.Claim)
	if err != nil {
		return fmt.Errorf("store: marshal claim: %w", err)
	}
	revoked := 0
	if a.Revoked {
		revoked = 1
	}
	_, err = s.exec(ctx, `INSERT INTO attestations
		(id, agent_id, issuer, type, claim, issued_at, expires_at, signature, algorithm, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET revoked = excluded.revoked`,
		a.ID, a.AgentID, a.Issuer, a.Type, string(claim), a.IssuedAt, a.ExpiresAt, a.Signature, a.Algorithm, revoked)
	if err != nil {
		return fmt.Errorf("store: put attestation: %w", err)
	}
	return nil
}

// RevokeAttestation marks an attestation revoked; it never deletes the row
// so the audit trail of "this once certified X" survives revocation.
func (s *Store) RevokeAttestation(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE attestations SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: revoke attestation %q: %w", id, err)
	}
	return nil
}

// --- proofchain.Store --------------------------------------------------

func (s *Store) AppendProof(ctx context.Context, p *contracts.ProofRecord) error {
	decision, err := json.Marshal(p.Decision)
	if err != nil {
		return fmt.Errorf("store: marshal decision: %w", err)
	}
	inputs, err := json.Marshal(p.Inputs)
	if err != nil {
		return fmt.Errorf("store: marshal inputs: %w", err)
	}
	outputs, err := json.Marshal(p.Outputs)
	if err != nil {
		return fmt.Errorf("store: marshal outputs: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO proofs
		(id, tenant_id, schema_version, position, previous_hash, self_hash, decision, inputs, outputs, signature, signature_algo, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.SchemaVersion, p.Position, p.PreviousHash, p.SelfHash,
		string(decision), string(inputs), string(outputs), p.Signature, p.SignatureAlgo, p.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append proof: %w", err)
	}
	return nil
}

func (s *Store) scanProof(row *sql.Row) (*contracts.ProofRecord, error) {
	var p contracts.ProofRecord
	var decision, inputs, outputs string
	if err := row.Scan(&p.ID, &p.TenantID, &p.SchemaVersion, &p.Position, &p.PreviousHash, &p.SelfHash,
		&decision, &inputs, &outputs, &p.Signature, &p.SignatureAlgo, &p.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(decision), &p.Decision); err != nil {
		return nil, fmt.Errorf("store: unmarshal decision: %w", err)
	}
	if inputs != "" {
		if err := json.Unmarshal([]byte(inputs), &p.Inputs); err != nil {
			return nil, fmt.Errorf("store: unmarshal inputs: %w", err)
		}
	}
	if outputs != "" {
		if err := json.Unmarshal([]byte(outputs), &p.Outputs); err != nil {
			return nil, fmt.Errorf("store: unmarshal outputs: %w", err)
		}
	}
	return &p, nil
}

const proofColumns = `id, tenant_id, schema_version, position, previous_hash, self_hash, decision, inputs, outputs, signature, signature_algo, timestamp`

func (s *Store) LastProof(ctx context.Context, tenantID string) (*contracts.ProofRecord, error) {
	row := s.queryRow(ctx, `SELECT `+proofColumns+` FROM proofs WHERE tenant_id = ? ORDER BY position DESC LIMIT 1`, tenantID)
	p, err := s.scanProof(row)
	if err != nil {
		return nil, fmt.Errorf("store: last proof for %q: %w", tenantID, err)
	}
	return p, nil
}

func (s *Store) GetProof(ctx context.Context, tenantID, id string) (*contracts.ProofRecord, error) {
	row := s.queryRow(ctx, `SELECT `+proofColumns+` FROM proofs WHERE tenant_id = ? AND id = ?`, tenantID, id)
	p, err := s.scanProof(row)
	if err != nil {
		return nil, fmt.Errorf("store: get proof %q: %w", id, err)
	}
	return p, nil
}

// GetProofByHash implements the optional hash-index lookup
// pkg/proofchain.Chain.Verify uses to walk the chain backward.
func (s *Store) GetProofByHash(ctx context.Context, tenantID, hash string) (*contracts.ProofRecord, error) {
	row := s.queryRow(ctx, `SELECT `+proofColumns+` FROM proofs WHERE tenant_id = ? AND self_hash = ?`, tenantID, hash)
	p, err := s.scanProof(row)
	if err != nil {
		return nil, fmt.Errorf("store: get proof by hash: %w", err)
	}
	return p, nil
}

// --- AgentIdentity -----------------------------------------------------

func (s *Store) GetAgent(ctx context.Context, agentID string) (*contracts.AgentIdentity, error) {
	row := s.queryRow(ctx, `SELECT agent_id, publisher, name, aci, competence_level, domain_mask, version,
		trust_band, trust_score, metadata, created_at, revoked_at FROM agents WHERE agent_id = ?`, agentID)

	var a contracts.AgentIdentity
	var band int
	var meta string
	var revokedAt sql.NullTime
	if err := row.Scan(&a.AgentID, &a.Publisher, &a.Name, &a.ACI, &a.CompetenceLevel, &a.DomainMask, &a.Version,
		&band, &a.TrustScore, &meta, &a.CreatedAt, &revokedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get agent %q: %w", agentID, err)
	}
	a.TrustBand = contracts.TrustBand(band)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal agent metadata: %w", err)
		}
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		a.RevokedAt = &t
	}
	return &a, nil
}

// PutAgent inserts a new AgentIdentity; it never overwrites an existing
// row. Agent rows are never destroyed once created — trust and
// revocation state change through UpdateAgentTrust and RevokeAgent
// instead of a rewrite of the identity row.
func (s *Store) PutAgent(ctx context.Context, a *contracts.AgentIdentity) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal agent metadata: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err = s.exec(ctx, `INSERT INTO agents
		(agent_id, publisher, name, aci, competence_level, domain_mask, version, trust_band, trust_score, metadata, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO NOTHING`,
		a.AgentID, a.Publisher, a.Name, a.ACI, a.CompetenceLevel, a.DomainMask, a.Version,
		int(a.TrustBand), a.TrustScore, string(meta), a.CreatedAt, a.RevokedAt)
	if err != nil {
		return fmt.Errorf("store: put agent: %w", err)
	}
	return nil
}

// UpdateAgentTrust persists the Trust Engine's latest score/band for an
// agent; trust_score and trust_band are the only agent fields the
// engine is permitted to mutate.
func (s *Store) UpdateAgentTrust(ctx context.Context, agentID string, score int, band contracts.TrustBand) error {
	_, err := s.exec(ctx, `UPDATE agents SET trust_score = ?, trust_band = ? WHERE agent_id = ?`, score, int(band), agentID)
	if err != nil {
		return fmt.Errorf("store: update agent trust: %w", err)
	}
	return nil
}

// RevokeAgent stamps RevokedAt; revocation is recorded by setting a
// timestamp, never by deleting the agent row.
func (s *Store) RevokeAgent(ctx context.Context, agentID string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE agents SET revoked_at = ? WHERE agent_id = ?`, at, agentID)
	if err != nil {
		return fmt.Errorf("store: revoke agent %q: %w", agentID, err)
	}
	return nil
}

// --- ExtensionDescriptor -------------------------------------------------

// PutExtension persists a registered extension's descriptor so the
// registry can rehydrate its installed set across restarts.
func (s *Store) PutExtension(ctx context.Context, d *contracts.ExtensionDescriptor) error {
	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO extensions (extension_id, short_code, version, publisher, description, capabilities)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (extension_id) DO UPDATE SET version = excluded.version, publisher = excluded.publisher,
			description = excluded.description, capabilities = excluded.capabilities`,
		d.ExtensionID, d.ShortCode, d.Version, d.Publisher, d.Description, string(caps))
	if err != nil {
		return fmt.Errorf("store: put extension: %w", err)
	}
	return nil
}

func (s *Store) DeleteExtension(ctx context.Context, extensionID string) error {
	_, err := s.exec(ctx, `DELETE FROM extensions WHERE extension_id = ?`, extensionID)
	if err != nil {
		return fmt.Errorf("store: delete extension %q: %w", extensionID, err)
	}
	return nil
}

func (s *Store) ListExtensions(ctx context.Context) ([]contracts.ExtensionDescriptor, error) {
	rows, err := s.query(ctx, `SELECT extension_id, short_code, version, publisher, description, capabilities FROM extensions`)
	if err != nil {
		return nil, fmt.Errorf("store: list extensions: %w", err)
	}
	defer rows.Close()

	var out []contracts.ExtensionDescriptor
	for rows.Next() {
		var d contracts.ExtensionDescriptor
		var caps string
		if err := rows.Scan(&d.ExtensionID, &d.ShortCode, &d.Version, &d.Publisher, &d.Description, &caps); err != nil {
			return nil, fmt.Errorf("store: scan extension: %w", err)
		}
		if caps != "" {
			if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
				return nil, fmt.Errorf("store: unmarshal capabilities: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
