// Package trust implements the Trust Engine: score
// calculation from weighted behavioral/compliance/identity/context
// components, time-weighted decay, floor/ceiling clamping, and band
// derivation.
package trust

import (
	"time"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

// band boundaries are inclusive lower bounds on a 0-1000 scale.
var bandBounds = []struct {
	band contracts.TrustBand
	min  int
}{
	{contracts.BandT5, 900},
	{contracts.BandT4, 800},
	{contracts.BandT3, 600},
	{contracts.BandT2, 400},
	{contracts.BandT1, 200},
	{contracts.BandT0, 0},
}

// ScoreToBand maps a 0-1000 score onto its discrete trust band.
func ScoreToBand(score int) contracts.TrustBand {
	for _, b := range bandBounds {
		if score >= b.min {
			return b.band
		}
	}
	return contracts.BandT0
}

// observabilityCeiling bounds the maximum score attainable under a given
// declared observability class: a black-box agent cannot be trusted past
// the lowest band regardless of signal quality, since the runtime cannot
// verify its claims.
var observabilityCeiling = map[contracts.ObservabilityClass]int{
	contracts.ObservabilityBlackBox:  199,
	contracts.ObservabilityLogsOnly:  399,
	contracts.ObservabilityMetrics:   599,
	contracts.ObservabilityTraces:    799,
	contracts.ObservabilityFullAudit: 1000,
}

// ObservabilityCeiling returns the score ceiling for a declared
// observability class, defaulting to the strictest ceiling for unknown
// classes.
func ObservabilityCeiling(class contracts.ObservabilityClass) int {
	if v, ok := observabilityCeiling[class]; ok {
		return v
	}
	return observabilityCeiling[contracts.ObservabilityBlackBox]
}

// certificationFloor is the minimum score guaranteed to an entity holding
// a valid, unexpired, unrevoked certification attestation that carries
// no explicit band claim. A composition already above the floor is left
// unchanged.
const certificationFloor = 200

// bandMinScore is the minimum score of each band, the inverse of
// bandBounds, used to translate an attestation's certified band claim
// into a floor score.
var bandMinScore = map[string]int{
	"T0": 0,
	"T1": 200,
	"T2": 400,
	"T3": 600,
	"T4": 800,
	"T5": 900,
}

// CertificationFloor returns the floor score for a set of attestations,
// evaluated as of now: if the agent holds a valid attestation certifying
// trust-band Tk, the score cannot fall below the minimum score of Tk.
// An attestation with no explicit band claim falls back to the base
// certification floor.
func CertificationFloor(attestations []contracts.Attestation, now time.Time) int {
	floor := 0
	for _, a := range attestations {
		if !a.Valid(now) {
			continue
		}
		if a.Type != contracts.AttestationCertification && a.Type != contracts.AttestationTrust {
			continue
		}
		if band, ok := a.Claim["band"]; ok {
			if min, ok := bandMinScore[band]; ok {
				if min > floor {
					floor = min
				}
				continue
			}
		}
		if a.Type == contracts.AttestationCertification && certificationFloor > floor {
			floor = certificationFloor
		}
	}
	return floor
}
