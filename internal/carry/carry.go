// Package carry selects YES-side "resolution carry" candidates: buy YES
// near certainty, hold to resolution, earn (1-ask)/ask. It runs a nine-step
// pipeline per market and exposes debug counters for every rejection
// reason plus "passed", for observability.
package carry

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/internal/keying"
	"predict-scanner/pkg/types"
)

// Config holds the carry selector's policy.
type Config struct {
	Enabled              bool
	ROIMinPct            float64
	ROIMaxPct            float64
	MaxSpread            float64
	MaxDays              float64
	MinDaysToResolution  float64
	SpreadEdgeMaxRatio   float64
	SpreadEdgeMinAbs     float64
	AllowSyntheticAsk    bool
	SyntheticTick        float64
	SyntheticMaxAsk      float64
	AllowHTTPFallback    bool
	AllowCategories      []string
	AllowKeywords        []string
	MinAskLiquidityUSD   float64
}

var defaultKeywords = []string{
	"fed", "cpi", "temperature", "rainfall", "snow", "election",
	"court", "rate decision", "deadline", "resolution",
}

// Candidate is one accepted carry plan candidate.
type Candidate struct {
	MarketID      string
	ConditionID   string
	YesTokenID    string
	Category      string
	YesAsk        float64
	YesBid        float64
	HasBid        bool
	Spread        float64
	ROIPct        float64
	SpreadEdgeRatio float64
	PriceSource   types.PriceSource
	SyntheticReason string
	AssumptionKey string
	WindowKey     types.WindowKey
	TDays         float64
}

// Debug accumulates rejection-reason counters for one carry pass, exposed
// for observability (the report and /status carry_debug field).
type Debug struct {
	Counts map[string]int
}

func newDebug() *Debug {
	return &Debug{Counts: make(map[string]int)}
}

func (d *Debug) count(reason string) {
	d.Counts[reason]++
}

// HTTPFetcher resolves a top-of-book by HTTP when the local store misses.
// Implemented by internal/provider; accepted here as an interface to avoid
// a dependency cycle.
type HTTPFetcher interface {
	FetchTopOfBook(ctx context.Context, tokenID string) (types.TopOfBook, error)
}

var arrayStringRe = regexp.MustCompile(`^\["?(.+?)"?\]$`)

// NormalizeTokenID unwraps array-string forms like `["123"]` into the bare
// id, then leaves digits-only normalization to the book store.
func NormalizeTokenID(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := arrayStringRe.FindStringSubmatch(raw); m != nil {
		return strings.Trim(m[1], `"`)
	}
	return raw
}

// Select runs the nine-step carry pipeline over all markets, returning
// accepted candidates and the rejection-reason debug counters.
func Select(ctx context.Context, markets []types.NormalizedMarket, store *book.Store, fetcher HTTPFetcher, cache *TTLCache, now time.Time, cfg Config) ([]Candidate, *Debug) {
	debug := newDebug()
	var candidates []Candidate

	if !cfg.Enabled {
		return nil, debug
	}

	for _, m := range markets {
		c, reason := evaluate(ctx, m, store, fetcher, cache, now, cfg)
		if reason != "" {
			debug.count(reason)
			continue
		}
		debug.count("passed")
		candidates = append(candidates, c)
	}

	return candidates, debug
}

func evaluate(ctx context.Context, m types.NormalizedMarket, store *book.Store, fetcher HTTPFetcher, cache *TTLCache, now time.Time, cfg Config) (Candidate, string) {
	// 1. Normalize YES token id.
	yesToken := NormalizeTokenID(m.YesTokenID)
	if book.NormalizeKey(yesToken) == "" {
		return Candidate{}, "missing_yes_token"
	}

	// 2. Extract end time.
	if !m.HasEndDate {
		return Candidate{}, "missing_end_time"
	}

	// 3. t_days.
	tDays := m.EndDate.Sub(now).Hours() / 24
	switch {
	case tDays <= 0:
		return Candidate{}, "already_ended_or_resolving"
	case tDays < cfg.MinDaysToResolution:
		return Candidate{}, "too_soon_to_resolve"
	case tDays > cfg.MaxDays:
		return Candidate{}, "beyond_max_days"
	}

	// 4. Procedural heuristic.
	if !passesHeuristic(m, cfg) {
		return Candidate{}, "heuristic_rejected"
	}

	// 5. Resolve top-of-book, with HTTP fallback.
	tob, ok := store.TopOfBook(yesToken, 5)
	priceSource := types.SourceWS
	if !ok && cfg.AllowHTTPFallback && fetcher != nil {
		if cached, hit := cache.Get(yesToken); hit {
			tob, ok = cached, true
		} else if fetched, err := fetcher.FetchTopOfBook(ctx, yesToken); err == nil {
			tob, ok = fetched, true
			cache.Set(yesToken, fetched)
		}
		if ok {
			priceSource = types.SourceHTTP
		}
	}
	if !ok {
		return Candidate{}, "no_book_available"
	}

	// 6. Derive yesAsk, spread, askLiquidityUsd.
	var syntheticReason string
	yesAsk := tob.Ask
	if !tob.HasAsk {
		if !cfg.AllowSyntheticAsk || !tob.HasBid {
			return Candidate{}, "no_ask_no_synthetic"
		}
		yesAsk = math.Min(tob.Bid+cfg.SyntheticTick, cfg.SyntheticMaxAsk)
		syntheticReason = "no_ask_using_noBid_plus_tick"
		priceSource = types.SourceSyntheticAsk
	}

	spread := 0.0
	hasSpread := tob.HasBid && tob.HasAsk
	if hasSpread {
		spread = tob.Ask - tob.Bid
		if spread > cfg.MaxSpread {
			return Candidate{}, "spread_too_wide"
		}
	}
	if tob.Depth.AskLiquidityUSD < cfg.MinAskLiquidityUSD && priceSource != types.SourceSyntheticAsk {
		return Candidate{}, "insufficient_ask_liquidity"
	}

	// 7. Edge checks.
	edgeAbs := 1 - yesAsk
	if edgeAbs <= cfg.SpreadEdgeMinAbs {
		return Candidate{}, "edge_too_thin"
	}
	spreadEdgeRatio := 0.0
	if hasSpread {
		spreadEdgeRatio = spread / edgeAbs
		if spread > edgeAbs*cfg.SpreadEdgeMaxRatio {
			return Candidate{}, "spread_exceeds_edge_ratio"
		}
	}

	// 8. ROI band.
	roiPct := (1 - yesAsk) / yesAsk * 100
	if roiPct < cfg.ROIMinPct || roiPct > cfg.ROIMaxPct {
		return Candidate{}, "roi_out_of_band"
	}

	// 9. Emit candidate.
	windowKey := windowKeyByDays(tDays)
	assumptionKey := keying.AssumptionKey(m.Category, m.EndDate.Format("2006-01-02"), "", keying.ThesisCarry, windowKey)

	return Candidate{
		MarketID:        m.MarketID,
		ConditionID:     m.ConditionID,
		YesTokenID:      yesToken,
		Category:        m.Category,
		YesAsk:          yesAsk,
		YesBid:          tob.Bid,
		HasBid:          tob.HasBid,
		Spread:          spread,
		ROIPct:          roiPct,
		SpreadEdgeRatio: spreadEdgeRatio,
		PriceSource:     priceSource,
		SyntheticReason: syntheticReason,
		AssumptionKey:   assumptionKey,
		WindowKey:       windowKey,
		TDays:           tDays,
	}, ""
}

func passesHeuristic(m types.NormalizedMarket, cfg Config) bool {
	if len(cfg.AllowKeywords) == 0 && len(cfg.AllowCategories) == 0 {
		return true
	}

	for _, cat := range cfg.AllowCategories {
		if strings.EqualFold(strings.TrimSpace(cat), strings.TrimSpace(m.Category)) {
			return true
		}
	}

	keywords := cfg.AllowKeywords
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	text := strings.ToLower(m.Question + " " + m.Rules)
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func windowKeyByDays(tDays float64) types.WindowKey {
	switch {
	case tDays <= 7:
		return types.Window3To7D
	case tDays <= 30:
		return types.Window8To30D
	default:
		return types.Window31To180D
	}
}
