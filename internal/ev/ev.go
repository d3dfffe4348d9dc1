// Package ev computes the expected-value decomposition for a trade
// proposal: gross expected return, fee estimate, tail-risk cost (with a
// capture-mode bypass), and the net figure the scan orchestrator gates on.
package ev

import (
	"fmt"

	"predict-scanner/pkg/types"
)

// Config holds the EV model's tunables.
type Config struct {
	FeeBps                          float64
	PTail                           float64
	TailLossFraction                float64
	AmbiguousResolutionPTailMultiplier float64
	EVMode                          types.EVMode
}

const tailBypassReasonCapture = "capture_mode"

// Compute evaluates the EV model for one proposal.
//
// The gross_ev term intentionally multiplies (1-entryPrice) twice: once as
// the market-implied NO probability and once as the per-share payout. This
// is a deliberately conservative estimator and must be preserved verbatim —
// it is not a bug.
func Compute(entryPrice, sizeUSD float64, cfg Config, hasAmbiguousFlag bool) types.EVResult {
	shares := sizeUSD / entryPrice

	oneMinus := 1 - entryPrice
	grossEV := oneMinus * oneMinus * shares

	feesEstimate := sizeUSD * (cfg.FeeBps / 10000)

	var tailRiskCost float64
	var tailBypassed bool
	var tailBypassReason string

	if cfg.EVMode == types.EVModeCapture {
		tailRiskCost = 0
		tailBypassed = true
		tailBypassReason = tailBypassReasonCapture
	} else {
		pTail := cfg.PTail
		if hasAmbiguousFlag {
			pTail *= cfg.AmbiguousResolutionPTailMultiplier
		}
		tailRiskCost = pTail * cfg.TailLossFraction * shares
	}

	netEV := grossEV - feesEstimate - tailRiskCost

	assumptions := map[string]any{
		"entry_price":          entryPrice,
		"size_usd":             sizeUSD,
		"shares":               shares,
		"fee_bps":              cfg.FeeBps,
		"p_tail":               cfg.PTail,
		"tail_loss_fraction":   cfg.TailLossFraction,
		"ev_mode":              string(cfg.EVMode),
		"ambiguous_resolution": hasAmbiguousFlag,
	}

	explanation := []string{
		fmt.Sprintf("shares = size_usd(%.2f) / entry_price(%.4f) = %.4f", sizeUSD, entryPrice, shares),
		fmt.Sprintf("gross_ev = (1-entry)^2 * shares = %.4f", grossEV),
		fmt.Sprintf("fees_estimate = size_usd * fee_bps/10000 = %.4f", feesEstimate),
	}
	if tailBypassed {
		explanation = append(explanation, "tail_risk_cost = 0 (capture_mode bypass)")
	} else {
		explanation = append(explanation, fmt.Sprintf("tail_risk_cost = p_tail * tail_loss_fraction * shares = %.4f", tailRiskCost))
	}
	explanation = append(explanation, fmt.Sprintf("net_ev = gross - fees - tail = %.4f", netEV))

	return types.EVResult{
		GrossEV:          grossEV,
		FeesEstimate:     feesEstimate,
		TailRiskCost:      tailRiskCost,
		NetEV:            netEV,
		Assumptions:      assumptions,
		Explanation:      explanation,
		TailBypassed:     tailBypassed,
		TailBypassReason: tailBypassReason,
	}
}
