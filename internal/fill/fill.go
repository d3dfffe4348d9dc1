// Package fill simulates filling a trade proposal against recorded order
// book depth: a VWAP walk across ascending ask levels, capped by a slippage
// band and a maximum depth of levels.
package fill

import "predict-scanner/pkg/types"

// Config holds the fill simulator's tunables.
type Config struct {
	DefaultOrderSizeUSD float64
	SlippageBps         float64
	MaxFillDepthLevels  int
}

const (
	reasonFullFill    = "full fill"
	reasonPartialFill = "partial fill (insufficient depth)"
	reasonNoLiquidity = "no liquidity within slippage or depth"
)

// Simulate walks ascending ask levels to fill sizeUSD worth of shares,
// starting from bestAsk and stopping at the first level priced above
// bestAsk*(1+slippageBps/10000), or after MaxFillDepthLevels levels.
func Simulate(sizeUSD, bestAsk float64, asks []types.OrderLevel, cfg Config) types.FillResult {
	if bestAsk <= 0 || sizeUSD <= 0 {
		return types.FillResult{Filled: false, Reason: reasonNoLiquidity}
	}

	priceCap := bestAsk * (1 + cfg.SlippageBps/10000)

	remainingUSD := sizeUSD
	var totalUSD, totalShares float64
	levelsUsed := 0

	for _, level := range asks {
		if levelsUsed >= cfg.MaxFillDepthLevels {
			break
		}
		if level.Price > priceCap {
			break
		}
		if remainingUSD <= 0 {
			break
		}

		levelUSD := level.Price * level.Size
		takeUSD := remainingUSD
		if levelUSD < takeUSD {
			takeUSD = levelUSD
		}

		totalUSD += takeUSD
		totalShares += takeUSD / level.Price
		remainingUSD -= takeUSD
		levelsUsed++
	}

	if totalShares == 0 {
		return types.FillResult{Filled: false, Reason: reasonNoLiquidity}
	}

	vwap := totalUSD / totalShares
	reason := reasonPartialFill
	if remainingUSD <= 0 {
		reason = reasonFullFill
	}

	slippagePct := (vwap - bestAsk) / bestAsk * 100

	return types.FillResult{
		Filled:         true,
		FillSizeUSD:    totalUSD,
		FillSizeShares: totalShares,
		VWAP:           vwap,
		Reason:         reason,
		LevelsUsed:     levelsUsed,
		SlippagePct:    slippagePct,
		PriceSource:    types.SourceWS,
	}
}

// Rescale proportionally rescales a filled result to a new target USD size
// at the same VWAP, used when the risk engine returns suggested_size.
func Rescale(result types.FillResult, newSizeUSD float64) types.FillResult {
	if !result.Filled || result.FillSizeUSD <= 0 {
		return result
	}
	ratio := newSizeUSD / result.FillSizeUSD
	result.FillSizeUSD = newSizeUSD
	result.FillSizeShares *= ratio
	return result
}
