package trust

import (
	"testing"

	"github.com/voriongit/vorion-sub013/pkg/contracts"
)

func TestScoreToBand_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  contracts.TrustBand
	}{
		{0, contracts.BandT0},
		{199, contracts.BandT0},
		{200, contracts.BandT1},
		{399, contracts.BandT1},
		{400, contracts.BandT2},
		{599, contracts.BandT2},
		{600, contracts.BandT3},
		{799, contracts.BandT3},
		{800, contracts.BandT4},
		{899, contracts.BandT4},
		{900, contracts.BandT5},
		{1000, contracts.BandT5},
	}
	for _, c := range cases {
		if got := ScoreToBand(c.score); got != c.want {
			t.Errorf("ScoreToBand(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestObservabilityCeiling(t *testing.T) {
	if ObservabilityCeiling(contracts.ObservabilityBlackBox) != 199 {
		t.Error("black-box agents must be capped within T0")
	}
	if ObservabilityCeiling(contracts.ObservabilityFullAudit) != 1000 {
		t.Error("full-audit agents should be unconstrained")
	}
	if ObservabilityCeiling("unknown-class") != ObservabilityCeiling(contracts.ObservabilityBlackBox) {
		t.Error("unknown observability classes should default to the strictest ceiling")
	}
}
