// Package filter evaluates a market against price, spread, liquidity,
// time-to-resolution, and ambiguity checks before it is allowed into the EV
// model. Checks run in a fixed order; the first failure short-circuits
// unless diagnostic mode is enabled, in which case every check runs and
// failures are recorded with their numeric value and threshold.
package filter

import (
	"strings"
	"time"

	"predict-scanner/pkg/types"
)

// Config holds the evaluator's thresholds. A single Config value is reused
// across a scan cycle; diagnostic_loose_filters selects a second, looser
// preset built by the caller.
type Config struct {
	MinNoPrice               float64
	MaxSpread                float64
	MinLiquidityUSD          float64
	MaxTimeToResolutionHours float64
	EVMode                   types.EVMode
	CaptureMinNoAsk          float64
	CaptureMaxNoAsk          float64

	// AmbiguityPhrases overrides the default phrase set when non-empty.
	AmbiguityPhrases []string

	// Diagnostic, when true, runs every check and records failures instead
	// of short-circuiting on the first one.
	Diagnostic bool
}

var defaultAmbiguityPhrases = []string{
	"at discretion",
	"tbd",
	"subject to",
	"final determination",
	"as determined by",
	"may be resolved",
}

const flagResolutionAmbiguous = "RESOLUTION_AMBIGUOUS"

// Evaluate runs the eight ordered checks against market and its top-of-book.
// tob may be the zero value with ok=false when no book is available.
func Evaluate(market types.NormalizedMarket, tob types.TopOfBook, hasTob bool, now time.Time, cfg Config) types.FilterResult {
	result := types.FilterResult{Pass: true}

	fail := func(check, reason string, value, threshold float64) bool {
		result.Pass = false
		result.Reasons = append(result.Reasons, reason)
		if cfg.Diagnostic {
			result.Diagnostics = append(result.Diagnostics, types.CheckDiagnostic{
				Check: check, Value: value, Threshold: threshold,
			})
		}
		return !cfg.Diagnostic // true means "stop here"
	}

	// 1. Market closed.
	if market.Closed {
		if fail("market_closed", "market_closed", 1, 0) {
			return result
		}
	}

	// 2. Missing NO token id.
	if strings.TrimSpace(market.NoTokenID) == "" {
		if fail("missing_no_token", "missing_no_token", 0, 0) {
			return result
		}
	}

	// 3. Missing ask.
	if !hasTob || !tob.HasAsk {
		if fail("missing_ask", "missing_ask", 0, 0) {
			return result
		}
		// Without an ask, none of the remaining price-dependent checks can
		// run meaningfully; only continue in diagnostic mode for the
		// non-price checks below.
	}

	// 4. Ask vs price gate.
	if hasTob && tob.HasAsk {
		switch cfg.EVMode {
		case types.EVModeCapture:
			if tob.Ask < cfg.CaptureMinNoAsk || tob.Ask > cfg.CaptureMaxNoAsk {
				if fail("capture_ask_band", "ask_outside_capture_band", tob.Ask, cfg.CaptureMinNoAsk) {
					return result
				}
			}
		default:
			if tob.Ask < cfg.MinNoPrice {
				if fail("min_no_price", "ask_below_min_no_price", tob.Ask, cfg.MinNoPrice) {
					return result
				}
			}
		}
	}

	// 5. Spread.
	if hasTob && tob.HasSpread {
		if tob.Spread > cfg.MaxSpread {
			if fail("max_spread", "spread_too_wide", tob.Spread, cfg.MaxSpread) {
				return result
			}
		}
	}

	// 6. Liquidity.
	if hasTob {
		minLiq := tob.Depth.BidLiquidityUSD
		if tob.Depth.AskLiquidityUSD < minLiq {
			minLiq = tob.Depth.AskLiquidityUSD
		}
		if minLiq < cfg.MinLiquidityUSD {
			if fail("min_liquidity", "insufficient_liquidity", minLiq, cfg.MinLiquidityUSD) {
				return result
			}
		}
	}

	// 7. Time-to-resolution.
	if !market.HasEndDate {
		if fail("time_to_resolution", "unknown_resolution_time", 0, cfg.MaxTimeToResolutionHours) {
			return result
		}
	} else {
		hoursLeft := market.EndDate.Sub(now).Hours()
		if hoursLeft < 0 || hoursLeft > cfg.MaxTimeToResolutionHours {
			if fail("time_to_resolution", "time_to_resolution_out_of_range", hoursLeft, cfg.MaxTimeToResolutionHours) {
				return result
			}
		}
	}

	// 8. Ambiguity — flags, never fails.
	phrases := cfg.AmbiguityPhrases
	if len(phrases) == 0 {
		phrases = defaultAmbiguityPhrases
	}
	rules := strings.ToLower(market.Rules)
	for _, phrase := range phrases {
		if strings.Contains(rules, phrase) {
			result.Flags = append(result.Flags, flagResolutionAmbiguous)
			break
		}
	}

	return result
}

// DefaultConfig returns the built-in baseline filter thresholds.
func DefaultConfig() Config {
	return Config{
		MinNoPrice:               0.90,
		MaxSpread:                0.03,
		MinLiquidityUSD:          1000,
		MaxTimeToResolutionHours: 720,
		EVMode:                   types.EVModeBaseline,
		CaptureMinNoAsk:          0.45,
		CaptureMaxNoAsk:          0.60,
	}
}

// LooseConfig returns the diagnostic_loose_filters preset: the same shape
// as DefaultConfig but with relaxed thresholds, used for near-miss
// reporting rather than live trading decisions.
func LooseConfig() Config {
	cfg := DefaultConfig()
	cfg.MinNoPrice = 0.80
	cfg.MaxSpread = 0.08
	cfg.MinLiquidityUSD = 200
	cfg.MaxTimeToResolutionHours = 4320
	cfg.Diagnostic = true
	return cfg
}
