// Package risk enforces correlated-exposure admission across five
// dimensions — global, per-market, per-category, per-assumption-key, and
// per-window-key — all in USD notional. Unlike a running-total aggregator,
// RiskState is recomputed by folding the full open-position set on every
// AllowTrade call: trading a bit of CPU for the guarantee that every risk
// decision is reproducible from the ledger alone.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"predict-scanner/pkg/types"
)

// Config holds the risk engine's caps.
type Config struct {
	MaxTotalExposureUSD          float64
	MaxExposurePerMarketUSD      float64
	MaxExposurePerCategoryUSD    float64
	MaxExposurePerAssumptionUSD  float64
	MaxExposurePerWindowUSD      float64
	MaxPositionsOpen             int
	KillSwitchEnabled            bool
}

// Engine evaluates AllowTradeResult for proposals against the current
// folded RiskState. It holds no position data itself — the caller (scan
// orchestrator or /confirm handler) supplies the open-position set, kept
// in the ledger, as the single source of truth.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a risk engine with the given configuration.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.With("component", "risk")}
}

// SetKillSwitch toggles the kill switch at runtime (used by the control API
// in addition to the config-file default).
func (e *Engine) SetKillSwitch(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.KillSwitchEnabled = enabled
}

// Config returns a copy of the engine's current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// FoldState computes RiskState by summing sizeUSD over all open positions
// (those with no ClosedAt), grouped by category, assumption key, window
// key, and market.
func FoldState(positions []types.PaperPosition) types.RiskState {
	state := types.RiskState{
		ByCategory:      make(map[string]float64),
		ByAssumptionKey: make(map[string]float64),
		ByWindowKey:     make(map[string]float64),
		ByMarket:        make(map[string]float64),
	}

	for _, p := range positions {
		if p.HasClosedAt {
			continue
		}
		state.TotalExposureUSD += p.SizeUSD
		state.ByCategory[p.Category] += p.SizeUSD
		state.ByAssumptionKey[p.AssumptionKey] += p.SizeUSD
		state.ByWindowKey[string(p.WindowKey)] += p.SizeUSD
		state.ByMarket[p.MarketID] += p.SizeUSD
		state.OpenCount++
	}

	return state
}

// AllowTrade decides admission for proposal given the currently folded
// RiskState.
func (e *Engine) AllowTrade(proposal types.TradeProposal, state types.RiskState) types.AllowTradeResult {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	if cfg.KillSwitchEnabled {
		return types.AllowTradeResult{
			Decision: types.Block,
			Reasons:  []string{"kill_switch_enabled"},
		}
	}

	if cfg.MaxPositionsOpen > 0 && state.OpenCount >= cfg.MaxPositionsOpen {
		return types.AllowTradeResult{
			Decision: types.Block,
			Reasons:  []string{fmt.Sprintf("max_positions_open reached: %d >= %d", state.OpenCount, cfg.MaxPositionsOpen)},
		}
	}

	headroom := types.HeadroomSnapshot{
		Global:     headroomOf(cfg.MaxTotalExposureUSD, state.TotalExposureUSD),
		Category:   headroomOf(cfg.MaxExposurePerCategoryUSD, state.ByCategory[proposal.Category]),
		Assumption: headroomOf(cfg.MaxExposurePerAssumptionUSD, state.ByAssumptionKey[proposal.AssumptionKey]),
		Window:     headroomOf(cfg.MaxExposurePerWindowUSD, state.ByWindowKey[string(proposal.WindowKey)]),
		PerMarket:  headroomOf(cfg.MaxExposurePerMarketUSD, state.ByMarket[proposal.MarketID]),
	}

	suggested := proposal.SizeUSD
	suggested = minOf(suggested, headroom.Global)
	suggested = minOf(suggested, headroom.Category)
	suggested = minOf(suggested, headroom.Assumption)
	suggested = minOf(suggested, headroom.Window)
	suggested = minOf(suggested, headroom.PerMarket)
	if suggested < 0 {
		suggested = 0
	}

	var reasons []string
	if proposal.SizeUSD > headroom.Global {
		reasons = append(reasons, fmt.Sprintf("global exposure %.2f + requested %.2f exceeds cap %.2f", state.TotalExposureUSD, proposal.SizeUSD, cfg.MaxTotalExposureUSD))
	}
	if proposal.SizeUSD > headroom.Category {
		reasons = append(reasons, fmt.Sprintf("category %q exposure %.2f + requested %.2f exceeds cap %.2f", proposal.Category, state.ByCategory[proposal.Category], proposal.SizeUSD, cfg.MaxExposurePerCategoryUSD))
	}
	if proposal.SizeUSD > headroom.Assumption {
		reasons = append(reasons, fmt.Sprintf("assumption key %q exposure %.2f + requested %.2f exceeds cap %.2f", proposal.AssumptionKey, state.ByAssumptionKey[proposal.AssumptionKey], proposal.SizeUSD, cfg.MaxExposurePerAssumptionUSD))
	}
	if proposal.SizeUSD > headroom.Window {
		reasons = append(reasons, fmt.Sprintf("window key %q exposure %.2f + requested %.2f exceeds cap %.2f", proposal.WindowKey, state.ByWindowKey[string(proposal.WindowKey)], proposal.SizeUSD, cfg.MaxExposurePerWindowUSD))
	}
	if proposal.SizeUSD > headroom.PerMarket {
		reasons = append(reasons, fmt.Sprintf("market %q exposure %.2f + requested %.2f exceeds cap %.2f", proposal.MarketID, state.ByMarket[proposal.MarketID], proposal.SizeUSD, cfg.MaxExposurePerMarketUSD))
	}

	if len(reasons) == 0 {
		return types.AllowTradeResult{Decision: types.Allow, Headroom: headroom}
	}

	if suggested > 0 {
		return types.AllowTradeResult{
			Decision:      types.AllowReducedSize,
			Reasons:       reasons,
			HasSuggested:  true,
			SuggestedSize: suggested,
			Headroom:      headroom,
		}
	}

	return types.AllowTradeResult{Decision: types.Block, Reasons: reasons, Headroom: headroom}
}

func headroomOf(cap, current float64) float64 {
	h := cap - current
	if h < 0 {
		return 0
	}
	return h
}

func minOf(a, b float64) float64 {
	if b < a {
		return b
	}
	return a
}
