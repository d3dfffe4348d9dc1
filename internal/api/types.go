package api

import (
	"time"

	"predict-scanner/pkg/types"
)

// statusResponse is GET /status's payload.
type statusResponse struct {
	Mode           types.Mode     `json:"mode"`
	Panic          bool           `json:"panic"`
	QueueLength    int            `json:"queue_length"`
	LastScanAt     time.Time      `json:"last_scan_at"`
	TradesProposed int            `json:"trades_proposed"`
	EVMode         types.EVMode   `json:"ev_mode"`
	CarryEnabled   bool           `json:"carry_enabled"`
	CarryDebug     map[string]int `json:"carry_debug"`
	MetaFull       *metaFull      `json:"meta_full,omitempty"`
}

// metaFull is the extra detail exposed only when /status?debug=1.
type metaFull struct {
	MarketsSeen     int                    `json:"markets_seen"`
	MarketsFiltered int                    `json:"markets_filtered"`
	WorstCandidates []types.WorstCandidate `json:"worst_candidates"`
}

// evBreakdownSummary is the stripped-down ev_breakdown shown by default on
// GET /plans. debug=1 returns the plan's full types.EVResult instead.
type evBreakdownSummary struct {
	NetEV            float64 `json:"net_ev"`
	TailRiskCost     float64 `json:"tail_risk_cost"`
	TailBypassed     bool    `json:"tail_bypassed"`
	TailBypassReason string  `json:"tail_bypass_reason,omitempty"`
}

// planResponse mirrors types.TradePlan with a JSON view and an ev_breakdown
// field whose shape depends on the debug query flag.
type planResponse struct {
	PlanID        string            `json:"plan_id"`
	MarketID      string            `json:"market_id"`
	ConditionID   string            `json:"condition_id"`
	TokenID       string            `json:"token_id"`
	Outcome       types.Outcome     `json:"outcome"`
	Mode          types.PlanMode    `json:"mode"`
	SizeUSD       float64           `json:"size_usd"`
	LimitPrice    float64           `json:"limit_price"`
	Category      string            `json:"category"`
	AssumptionKey string            `json:"assumption_key"`
	WindowKey     types.WindowKey   `json:"window_key"`
	Status        types.PlanStatus  `json:"status"`
	PriceSource   types.PriceSource `json:"price_source"`
	CreatedAt     time.Time         `json:"created_at"`
	EVBreakdown   interface{}       `json:"ev_breakdown"`
}

func newPlanResponse(p types.TradePlan, debug bool) planResponse {
	var breakdown interface{}
	if debug {
		breakdown = p.EVBreakdown
	} else {
		breakdown = evBreakdownSummary{
			NetEV:            p.EVBreakdown.NetEV,
			TailRiskCost:     p.EVBreakdown.TailRiskCost,
			TailBypassed:     p.EVBreakdown.TailBypassed,
			TailBypassReason: p.EVBreakdown.TailBypassReason,
		}
	}
	return planResponse{
		PlanID:        p.PlanID,
		MarketID:      p.MarketID,
		ConditionID:   p.ConditionID,
		TokenID:       p.TokenID,
		Outcome:       p.Outcome,
		Mode:          p.Mode,
		SizeUSD:       p.SizeUSD,
		LimitPrice:    p.LimitPrice,
		Category:      p.Category,
		AssumptionKey: p.AssumptionKey,
		WindowKey:     p.WindowKey,
		Status:        p.Status,
		PriceSource:   p.PriceSource,
		CreatedAt:     p.CreatedAt,
		EVBreakdown:   breakdown,
	}
}

// plansResponse is GET /plans's payload.
type plansResponse struct {
	Plans      []planResponse `json:"plans"`
	CountTotal int            `json:"count_total"`
}

// bookResponse is GET /book's payload.
type bookResponse struct {
	TokenID          string             `json:"token_id"`
	NormalizedKey    string             `json:"normalized_key"`
	HasBid           bool               `json:"has_bid"`
	Bid              float64            `json:"bid"`
	HasAsk           bool               `json:"has_ask"`
	Ask              float64            `json:"ask"`
	HasSpread        bool               `json:"has_spread"`
	Spread           float64            `json:"spread"`
	Depth            types.DepthSummary `json:"depth"`
	PriceSource      types.PriceSource  `json:"price_source"`
	HTTPFallbackUsed bool               `json:"http_fallback_used"`
}

// hasBookResponse is GET /has-book's payload.
type hasBookResponse struct {
	TokenID       string `json:"token_id"`
	NormalizedKey string `json:"normalized_key"`
	HasBook       bool   `json:"has_book"`
	Note          string `json:"note,omitempty"`
}

// fillResponse is GET /fill's payload.
type fillResponse struct {
	Filled       bool              `json:"filled"`
	FilledUSD    float64           `json:"filled_usd"`
	FilledShares float64           `json:"filled_shares"`
	AvgPrice     float64           `json:"avg_price"`
	LevelsUsed   int               `json:"levels_used"`
	SlippagePct  float64           `json:"slippage_pct"`
	PriceSource  types.PriceSource `json:"price_source"`
	Reason       string            `json:"reason,omitempty"`
}

// booksDebugResponse is GET /books-debug's payload.
type booksDebugResponse struct {
	Size       int      `json:"size"`
	SampleKeys []string `json:"sample_keys"`
	Note       string   `json:"note"`
}

// confirmRequest is POST /confirm's body.
type confirmRequest struct {
	PlanID string `json:"plan_id"`
}

// confirmResponse is POST /confirm's payload.
type confirmResponse struct {
	Executed   bool   `json:"executed"`
	Reason     string `json:"reason,omitempty"`
	PositionID string `json:"position_id,omitempty"`
}

// errorResponse is the shape of every non-2xx JSON body.
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
