package ev

import (
	"math"
	"testing"

	"predict-scanner/pkg/types"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// TestComputeBaselineHappyPath mirrors scenario 1 of the end-to-end scenarios:
// NO ask=0.97, fee_bps=0, p_tail=0.02, tail_loss_fraction=0.5, sizeUsd=100.
func TestComputeBaselineHappyPath(t *testing.T) {
	t.Parallel()
	cfg := Config{
		FeeBps:                             0,
		PTail:                              0.02,
		TailLossFraction:                   0.5,
		AmbiguousResolutionPTailMultiplier: 1,
		EVMode:                             types.EVModeBaseline,
	}

	result := Compute(0.97, 100, cfg, false)

	wantShares := 100.0 / 0.97
	if !approxEqual(result.Assumptions["shares"].(float64), wantShares, 0.01) {
		t.Errorf("shares = %v, want ~%v", result.Assumptions["shares"], wantShares)
	}

	wantGross := 0.03 * 0.03 * wantShares
	if !approxEqual(result.GrossEV, wantGross, 0.001) {
		t.Errorf("gross_ev = %v, want ~%v", result.GrossEV, wantGross)
	}

	if result.FeesEstimate != 0 {
		t.Errorf("fees_estimate = %v, want 0", result.FeesEstimate)
	}

	wantTail := 0.02 * 0.5 * wantShares
	if !approxEqual(result.TailRiskCost, wantTail, 0.01) {
		t.Errorf("tail_risk_cost = %v, want ~%v", result.TailRiskCost, wantTail)
	}

	wantNet := wantGross - 0 - wantTail
	if !approxEqual(result.NetEV, wantNet, 0.01) {
		t.Errorf("net_ev = %v, want ~%v", result.NetEV, wantNet)
	}
	if result.NetEV >= 0 {
		t.Error("expected negative net_ev per scenario 1")
	}
	if result.TailBypassed {
		t.Error("baseline mode should not bypass tail risk")
	}
}

// TestComputeCaptureTailBypass mirrors scenario 2: ev_mode=capture, ask=0.51.
func TestComputeCaptureTailBypass(t *testing.T) {
	t.Parallel()
	cfg := Config{
		FeeBps:                             0,
		PTail:                              0.02,
		TailLossFraction:                   0.5,
		AmbiguousResolutionPTailMultiplier: 1,
		EVMode:                             types.EVModeCapture,
	}

	result := Compute(0.51, 100, cfg, false)

	if result.TailRiskCost != 0 {
		t.Errorf("tail_risk_cost = %v, want 0", result.TailRiskCost)
	}
	if !result.TailBypassed || result.TailBypassReason != tailBypassReasonCapture {
		t.Errorf("expected capture bypass, got bypassed=%v reason=%q", result.TailBypassed, result.TailBypassReason)
	}
	if result.NetEV <= 0 {
		t.Errorf("expected positive net_ev under capture bypass with zero fees, got %v", result.NetEV)
	}
}

func TestComputeAmbiguousMultipliesPTail(t *testing.T) {
	t.Parallel()
	cfg := Config{
		FeeBps:                             0,
		PTail:                              0.02,
		TailLossFraction:                   0.5,
		AmbiguousResolutionPTailMultiplier: 2,
		EVMode:                             types.EVModeBaseline,
	}

	withoutFlag := Compute(0.90, 100, cfg, false)
	withFlag := Compute(0.90, 100, cfg, true)

	if withFlag.TailRiskCost <= withoutFlag.TailRiskCost {
		t.Error("ambiguous resolution flag should increase tail_risk_cost")
	}
	if !approxEqual(withFlag.TailRiskCost, withoutFlag.TailRiskCost*2, 0.001) {
		t.Errorf("expected exactly 2x tail cost, got %v vs %v", withFlag.TailRiskCost, withoutFlag.TailRiskCost)
	}
}
