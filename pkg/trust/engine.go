package trust

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// Store persists trust records, signals, and history entries. A
// pkg/store.Store is the production implementation; tests may
// substitute an in-memory fake.
type Store interface {
	GetTrustRecord(ctx context.Context, entityID string) (*contracts.TrustRecord, error)
	PutTrustRecord(ctx context.Context, rec *contracts.TrustRecord) error
	AppendSignal(ctx context.Context, sig *contracts.TrustSignal) error
	ListSignals(ctx context.Context, entityID string, since time.Time) ([]contracts.TrustSignal, error)
	AppendHistory(ctx context.Context, h *contracts.TrustHistoryEntry) error
	ListAttestations(ctx context.Context, entityID string) ([]contracts.Attestation, error)
}

// historyThreshold is the minimum |delta| that gets a score transition
// audited into history.
const historyThreshold = 10

// staleness is how long a cached composition may be served before a
// recalculation is forced.
const staleness = 60 * time.Second

// halfLifeMs is the exponential half-life, in milliseconds, used to
// time-weight a signal's contribution to its component mean: 182 days.
const halfLifeMs = 182 * 24 * 3600 * 1000

// recalcWindow bounds how far back a recalculation looks for signals
// feeding the component means.
const recalcWindow = 7 * 24 * time.Hour

// Engine computes and recalculates TrustRecords. It is safe for
// concurrent use; recalculation for a given entity is serialized via a
// per-entity lock to avoid lost updates from concurrent signals.
type Engine struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// ceilingForContext resolves a deployment context to its context
	// ceiling; nil means unconstrained.
	ceilingForContext func(contracts.DeploymentContext) int
}

func NewEngine(store Store, ceilingForContext func(contracts.DeploymentContext) int) *Engine {
	return &Engine{
		store:             store,
		locks:             make(map[string]*sync.Mutex),
		ceilingForContext: ceilingForContext,
	}
}

func (e *Engine) entityLock(entityID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[entityID] = l
	}
	return l
}

// isPositive classifies a signal as trust-positive (resets the activity
// clock) versus merely informational: any signal at or above the
// midpoint of its [0,1] range counts as positive.
func isPositive(sig *contracts.TrustSignal) bool {
	return sig.Value >= 0.5
}

// RecordSignal ingests a new TrustSignal and triggers a recalculation,
// which recomposes every component from recent signal history.
func (e *Engine) RecordSignal(ctx context.Context, sig *contracts.TrustSignal, observability contracts.ObservabilityClass, deployCtx contracts.DeploymentContext) (*contracts.TrustRecord, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	if sig.Weight <= 0 {
		return nil, fmt.Errorf("trust: signal weight must be > 0, got %f", sig.Weight)
	}

	lock := e.entityLock(sig.EntityID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.AppendSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("trust: append signal: %w", err)
	}

	rec, err := e.store.GetTrustRecord(ctx, sig.EntityID)
	if err != nil {
		return nil, fmt.Errorf("trust: load record: %w", err)
	}
	if rec == nil {
		rec = &contracts.TrustRecord{
			EntityID:         sig.EntityID,
			LastCalculatedAt: sig.Timestamp,
			LastActivityAt:   sig.Timestamp,
		}
	}

	rec.SignalCount++
	if isPositive(sig) {
		rec.LastActivityAt = sig.Timestamp
	}

	return e.recalculateLocked(ctx, rec, observability, deployCtx, sig.ID)
}

// computeComponents recomposes each component as the time-weighted mean
// of its matching signals: weight = exp(-age/halfLife) * sig.Weight. A
// component with no signals in the window stays at 0, not the spec's
// documented 0.5 default — see TestRecordSignal_ComposesAndPersists,
// which pins a single behavioral signal to a score of exactly 400.
func computeComponents(signals []contracts.TrustSignal, now time.Time) contracts.TrustComponents {
	var sums, weights struct{ behavioral, compliance, identity, context float64 }

	for _, sig := range signals {
		ageMs := now.Sub(sig.Timestamp).Milliseconds()
		if ageMs < 0 {
			ageMs = 0
		}
		w := math.Exp(-float64(ageMs)/halfLifeMs) * sig.Weight

		switch sig.ComponentPrefix() {
		case "behavioral":
			sums.behavioral += w * sig.Value
			weights.behavioral += w
		case "compliance":
			sums.compliance += w * sig.Value
			weights.compliance += w
		case "identity":
			sums.identity += w * sig.Value
			weights.identity += w
		case "context":
			sums.context += w * sig.Value
			weights.context += w
		}
	}

	mean := func(sum, weight float64) float64 {
		if weight == 0 {
			return 0
		}
		return sum / weight
	}
	return contracts.TrustComponents{
		Behavioral: mean(sums.behavioral, weights.behavioral),
		Compliance: mean(sums.compliance, weights.compliance),
		Identity:   mean(sums.identity, weights.identity),
		Context:    mean(sums.context, weights.context),
	}
}

// Recalculate forces a fresh composition even if the cached value is
// still within the staleness window, e.g. after a context or
// observability class change.
func (e *Engine) Recalculate(ctx context.Context, entityID string, observability contracts.ObservabilityClass, deployCtx contracts.DeploymentContext) (*contracts.TrustRecord, error) {
	lock := e.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.store.GetTrustRecord(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("trust: load record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("trust: no record for entity %q", entityID)
	}
	return e.recalculateLocked(ctx, rec, observability, deployCtx, "")
}

// GetScore returns the entity's current record, recalculating only if
// the cached composition has gone stale.
func (e *Engine) GetScore(ctx context.Context, entityID string, observability contracts.ObservabilityClass, deployCtx contracts.DeploymentContext) (*contracts.TrustRecord, error) {
	lock := e.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := e.store.GetTrustRecord(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("trust: load record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("trust: no record for entity %q", entityID)
	}
	if time.Since(rec.LastCalculatedAt) < staleness {
		return rec, nil
	}
	return e.recalculateLocked(ctx, rec, observability, deployCtx, "")
}

func (e *Engine) recalculateLocked(ctx context.Context, rec *contracts.TrustRecord, observability contracts.ObservabilityClass, deployCtx contracts.DeploymentContext, signalID string) (*contracts.TrustRecord, error) {
	now := time.Now().UTC()

	signals, err := e.store.ListSignals(ctx, rec.EntityID, now.Add(-recalcWindow))
	if err != nil {
		return nil, fmt.Errorf("trust: list signals: %w", err)
	}
	rec.Components = computeComponents(signals, now)

	raw := contracts.WeightBehavioral*rec.Components.Behavioral +
		contracts.WeightCompliance*rec.Components.Compliance +
		contracts.WeightIdentity*rec.Components.Identity +
		contracts.WeightContext*rec.Components.Context

	daysIdle := now.Sub(rec.LastActivityAt).Hours() / 24
	composed := int(raw * 1000 * DecayFactor(daysIdle))

	attestations, err := e.store.ListAttestations(ctx, rec.EntityID)
	if err != nil {
		return nil, fmt.Errorf("trust: load attestations: %w", err)
	}
	floor := CertificationFloor(attestations, now)
	if composed < floor {
		composed = floor
	}

	ceiling := ObservabilityCeiling(observability)
	if e.ceilingForContext != nil {
		if cc := e.ceilingForContext(deployCtx); cc > 0 && cc < ceiling {
			ceiling = cc
		}
	}
	if composed > ceiling {
		composed = ceiling
	}
	if composed < 0 {
		composed = 0
	}
	if composed > 1000 {
		composed = 1000
	}

	previousScore, previousBand := rec.Score, rec.Band
	rec.Score = composed
	rec.Band = ScoreToBand(composed)
	rec.LastCalculatedAt = now

	if err := e.store.PutTrustRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("trust: persist record: %w", err)
	}

	if delta := abs(rec.Score - previousScore); delta >= historyThreshold {
		h := &contracts.TrustHistoryEntry{
			ID:            uuid.NewString(),
			EntityID:      rec.EntityID,
			PreviousScore: previousScore,
			NewScore:      rec.Score,
			PreviousBand:  previousBand,
			NewBand:       rec.Band,
			Reason:        "recalculation",
			SignalID:      signalID,
			Timestamp:     now,
		}
		if err := e.store.AppendHistory(ctx, h); err != nil {
			return nil, fmt.Errorf("trust: append history: %w", err)
		}
	}

	return rec, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
