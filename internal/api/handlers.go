package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/internal/carry"
	"predict-scanner/internal/fill"
	"predict-scanner/internal/ledger"
	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/internal/risk"
	"predict-scanner/internal/scan"
	"predict-scanner/pkg/types"
)

const maxFillSizeUSD = 10000

// metaProvider is the slice of *scan.Orchestrator the handlers need. Kept as
// an interface so handler tests can supply a fake without spinning up a real
// orchestrator.
type metaProvider interface {
	Meta() scan.Meta
}

// Handlers holds every dependency the control API reads or mutates.
type Handlers struct {
	store        *book.Store
	planStore    *planstore.Store
	modeManager  *mode.Manager
	riskEngine   *risk.Engine
	ledger       *ledger.Ledger
	orchestrator metaProvider
	httpFetcher  carry.HTTPFetcher
	fillCfg      fill.Config
	evMode       types.EVMode
	carryEnabled bool
	logger       *slog.Logger
}

// NewHandlers creates the control API's handler set.
func NewHandlers(
	store *book.Store,
	planStore *planstore.Store,
	modeManager *mode.Manager,
	riskEngine *risk.Engine,
	ledgerStore *ledger.Ledger,
	orchestrator metaProvider,
	httpFetcher carry.HTTPFetcher,
	fillCfg fill.Config,
	evMode types.EVMode,
	carryEnabled bool,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		store:        store,
		planStore:    planStore,
		modeManager:  modeManager,
		riskEngine:   riskEngine,
		ledger:       ledgerStore,
		orchestrator: orchestrator,
		httpFetcher:  httpFetcher,
		fillCfg:      fillCfg,
		evMode:       evMode,
		carryEnabled: carryEnabled,
		logger:       logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, details ...string) {
	writeJSON(w, status, errorResponse{Error: code, Details: details})
}

// HandleStatus implements GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowedParams(r.URL.Query(), "debug") {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}

	state := h.modeManager.State()
	meta := h.orchestrator.Meta()

	resp := statusResponse{
		Mode:           state.Mode,
		Panic:          state.Panic,
		QueueLength:    h.planStore.QueueLength(),
		LastScanAt:     meta.LastScanAt,
		TradesProposed: meta.TradesProposed,
		EVMode:         h.evMode,
		CarryEnabled:   h.carryEnabled,
		CarryDebug:     meta.CarryDebug,
	}
	if r.URL.Query().Get("debug") == "1" {
		resp.MetaFull = &metaFull{
			MarketsSeen:     meta.MarketsSeen,
			MarketsFiltered: meta.MarketsFiltered,
			WorstCandidates: meta.WorstCandidates,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

var plansAllowedParams = map[string]bool{
	"limit": true, "offset": true, "min_ev": true, "category": true,
	"assumption_key": true, "debug": true, "gate": true,
}

// HandlePlans implements GET,HEAD /plans.
func (h *Handlers) HandlePlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for key := range q {
		if !plansAllowedParams[key] {
			writeError(w, http.StatusBadRequest, "invalid_query", "unknown parameter: "+key)
			return
		}
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be an integer")
			return
		}
		limit = v
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer")
			return
		}
		offset = v
	}

	var minEV float64
	hasMinEV := false
	if raw := q.Get("min_ev"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "min_ev must be a number")
			return
		}
		minEV, hasMinEV = v, true
	}

	category := strings.TrimSpace(q.Get("category"))
	assumptionKey := strings.TrimSpace(q.Get("assumption_key"))
	debug := q.Get("debug") == "1"
	gate := q.Get("gate") == "1"

	all := h.planStore.All()
	unfilteredTotal := len(all)

	filtered := make([]types.TradePlan, 0, len(all))
	for _, p := range all {
		if hasMinEV && p.EVBreakdown.NetEV < minEV {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		if assumptionKey != "" && p.AssumptionKey != assumptionKey {
			continue
		}
		if gate && !passesGate(p) {
			continue
		}
		filtered = append(filtered, p)
	}

	// planStore.All() already returns net_ev desc / created_at desc /
	// plan_id asc; filtering above preserves that relative order.
	countTotal := len(filtered)
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page := filtered[offset:end]

	out := make([]planResponse, 0, len(page))
	for _, p := range page {
		out = append(out, newPlanResponse(p, debug))
	}

	w.Header().Set("X-Plans-Total", strconv.Itoa(unfilteredTotal))
	w.Header().Set("X-Plans-Filtered", strconv.Itoa(countTotal))
	writeJSON(w, http.StatusOK, plansResponse{Plans: out, CountTotal: countTotal})
}

func passesGate(p types.TradePlan) bool {
	if p.Outcome == types.NO {
		switch p.Mode {
		case types.ModeCapture, types.ModeBaseline, types.ModeMicroCaptureV1:
			return true
		}
		return false
	}
	return p.Outcome == types.YES && p.Mode == types.ModeCarry
}

// HandleBook implements GET,HEAD /book.
func (h *Handlers) HandleBook(w http.ResponseWriter, r *http.Request) {
	if !allowedParams(r.URL.Query(), "no_token_id") {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	tokenID := strings.TrimSpace(r.URL.Query().Get("no_token_id"))
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "no_token_id is required")
		return
	}

	tob, ok := h.store.TopOfBook(tokenID, 10)
	source := types.SourceWS
	fallbackUsed := false
	if !ok || (!tob.HasBid && !tob.HasAsk) {
		fetched, err := h.httpFetcher.FetchTopOfBook(r.Context(), tokenID)
		if err != nil || (!fetched.HasBid && !fetched.HasAsk) {
			writeError(w, http.StatusNotFound, "book_not_found")
			return
		}
		tob = fetched
		source = types.SourceHTTP
		fallbackUsed = true
	}

	writeJSON(w, http.StatusOK, bookResponse{
		TokenID:          tokenID,
		NormalizedKey:    book.NormalizeKey(tokenID),
		HasBid:           tob.HasBid,
		Bid:              tob.Bid,
		HasAsk:           tob.HasAsk,
		Ask:              tob.Ask,
		HasSpread:        tob.HasSpread,
		Spread:           tob.Spread,
		Depth:            tob.Depth,
		PriceSource:      source,
		HTTPFallbackUsed: fallbackUsed,
	})
}

// HandleHasBook implements GET /has-book.
func (h *Handlers) HandleHasBook(w http.ResponseWriter, r *http.Request) {
	if !allowedParams(r.URL.Query(), "token_id") {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	tokenID := strings.TrimSpace(r.URL.Query().Get("token_id"))
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "token_id is required")
		return
	}

	key := book.NormalizeKey(tokenID)
	_, ok := h.store.TopOfBook(tokenID, 1)
	note := ""
	if !ok {
		note = "no book tracked for this token"
	}
	writeJSON(w, http.StatusOK, hasBookResponse{
		TokenID:       tokenID,
		NormalizedKey: key,
		HasBook:       ok,
		Note:          note,
	})
}

// HandleFill implements GET /fill.
func (h *Handlers) HandleFill(w http.ResponseWriter, r *http.Request) {
	if !allowedParams(r.URL.Query(), "no_token_id", "side", "size_usd") {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	q := r.URL.Query()
	tokenID := strings.TrimSpace(q.Get("no_token_id"))
	side := strings.ToLower(strings.TrimSpace(q.Get("side")))
	if tokenID == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "no_token_id is required")
		return
	}
	if side != "buy" && side != "sell" {
		writeError(w, http.StatusBadRequest, "invalid_query", "side must be buy or sell")
		return
	}
	sizeUSD, err := strconv.ParseFloat(q.Get("size_usd"), 64)
	if err != nil || sizeUSD <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_query", "size_usd must be a positive number")
		return
	}
	if sizeUSD > maxFillSizeUSD {
		sizeUSD = maxFillSizeUSD
	}

	tob, ok := h.store.TopOfBook(tokenID, h.fillCfg.MaxFillDepthLevels)
	if !ok {
		fetched, ferr := h.httpFetcher.FetchTopOfBook(r.Context(), tokenID)
		if ferr != nil || (!fetched.HasBid && !fetched.HasAsk) {
			writeError(w, http.StatusNotFound, "book_not_found")
			return
		}
		writeJSON(w, http.StatusOK, httpFallbackFill(fetched, side, sizeUSD))
		return
	}

	var result types.FillResult
	if side == "buy" {
		asks := h.store.Depth(tokenID, types.SELL)
		result = fill.Simulate(sizeUSD, tob.Ask, asks, h.fillCfg)
	} else {
		bids := h.store.Depth(tokenID, types.BUY)
		result = simulateSell(sizeUSD, tob.Bid, bids, h.fillCfg)
	}

	writeJSON(w, http.StatusOK, fillResponse{
		Filled:       result.Filled,
		FilledUSD:    result.FillSizeUSD,
		FilledShares: result.FillSizeShares,
		AvgPrice:     result.VWAP,
		LevelsUsed:   result.LevelsUsed,
		SlippagePct:  result.SlippagePct,
		PriceSource:  result.PriceSource,
		Reason:       result.Reason,
	})
}

// simulateSell walks descending bid levels by target shares (size_usd /
// topBid), mirroring fill.Simulate's ascending-ask walk for the sell side.
func simulateSell(sizeUSD, topBid float64, bids []types.OrderLevel, cfg fill.Config) types.FillResult {
	if topBid <= 0 || sizeUSD <= 0 {
		return types.FillResult{Filled: false, Reason: "no liquidity within slippage or depth"}
	}
	targetShares := sizeUSD / topBid
	priceFloor := topBid * (1 - cfg.SlippageBps/10000)

	remainingShares := targetShares
	var totalUSD, totalShares float64
	levelsUsed := 0

	for _, level := range bids {
		if levelsUsed >= cfg.MaxFillDepthLevels || remainingShares <= 0 {
			break
		}
		if level.Price < priceFloor {
			break
		}
		takeShares := remainingShares
		if level.Size < takeShares {
			takeShares = level.Size
		}
		totalUSD += takeShares * level.Price
		totalShares += takeShares
		remainingShares -= takeShares
		levelsUsed++
	}

	if totalShares == 0 {
		return types.FillResult{Filled: false, Reason: "no liquidity within slippage or depth"}
	}

	vwap := totalUSD / totalShares
	reason := "partial fill (insufficient depth)"
	if remainingShares <= 0 {
		reason = "full fill"
	}
	return types.FillResult{
		Filled:         true,
		FillSizeUSD:    totalUSD,
		FillSizeShares: totalShares,
		VWAP:           vwap,
		Reason:         reason,
		LevelsUsed:     levelsUsed,
		SlippagePct:    (topBid - vwap) / topBid * 100,
		PriceSource:    types.SourceWS,
	}
}

func httpFallbackFill(tob types.TopOfBook, side string, sizeUSD float64) fillResponse {
	price := tob.Ask
	if side == "sell" {
		price = tob.Bid
	}
	if price <= 0 {
		return fillResponse{Filled: false, Reason: "no liquidity within slippage or depth", PriceSource: types.SourceHTTP}
	}
	return fillResponse{
		Filled:       true,
		FilledUSD:    sizeUSD,
		FilledShares: sizeUSD / price,
		AvgPrice:     price,
		LevelsUsed:   1,
		SlippagePct:  0,
		PriceSource:  types.SourceHTTP,
	}
}

// HandleBooksDebug implements GET,HEAD /books-debug.
func (h *Handlers) HandleBooksDebug(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Query()) > 0 {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	writeJSON(w, http.StatusOK, booksDebugResponse{
		Size:       h.store.Count(),
		SampleKeys: h.store.SampleKeys(10),
		Note:       "sample_keys is an unordered subset, not the full key set",
	})
}

// HandleConfirm implements POST /confirm.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "plan_id is required")
		return
	}

	plan, ok := h.planStore.Get(req.PlanID)
	if !ok {
		writeError(w, http.StatusNotFound, "plan not found")
		return
	}

	if h.planStore.IsExecuted(req.PlanID) {
		writeJSON(w, http.StatusOK, confirmResponse{Executed: false, Reason: "already executed"})
		return
	}

	state := h.modeManager.State()
	if state.Panic {
		writeJSON(w, http.StatusOK, confirmResponse{Executed: false, Reason: "panic"})
		return
	}
	if plan.PriceSource == types.SourceSyntheticAsk {
		writeJSON(w, http.StatusOK, confirmResponse{Executed: false, Reason: "paper_only_synthetic"})
		return
	}

	now := time.Now()
	if !h.rerunFill(r.Context(), &plan) {
		writeJSON(w, http.StatusOK, confirmResponse{Executed: false, Reason: "no longer fillable"})
		return
	}

	proposal := types.TradeProposal{
		MarketID: plan.MarketID, ConditionID: plan.ConditionID, TokenID: plan.TokenID,
		Outcome: plan.Outcome, Side: types.BUY, SizeUSD: plan.SizeUSD, BestAsk: plan.LimitPrice,
		Category: plan.Category, AssumptionKey: plan.AssumptionKey, WindowKey: plan.WindowKey,
	}
	riskState := risk.FoldState(h.ledger.OpenPositions())
	allow := h.riskEngine.AllowTrade(proposal, riskState)
	if allow.Decision == types.Block {
		h.ledger.Append(types.LedgerEntry{
			Timestamp: now, Action: types.ActionTradeBlocked, MarketID: plan.MarketID,
			Metadata: map[string]any{"plan_id": plan.PlanID, "reasons": allow.Reasons},
		})
		writeJSON(w, http.StatusOK, confirmResponse{Executed: false, Reason: "blocked"})
		return
	}
	if allow.Decision == types.AllowReducedSize {
		plan.SizeUSD = allow.SuggestedSize
	}

	h.planStore.MarkPlanExecuted(plan.PlanID, now)
	pos := types.PaperPosition{
		ID: plan.PlanID, MarketID: plan.MarketID, ConditionID: plan.ConditionID,
		Outcome: plan.Outcome, EntryPrice: plan.LimitPrice, SizeUSD: plan.SizeUSD,
		SizeShares:    sizeSharesFor(plan),
		Category:      plan.Category,
		AssumptionKey: plan.AssumptionKey,
		WindowKey:     plan.WindowKey,
		OpenedAt:      now,
		ExpectedPnl:   plan.EVBreakdown.NetEV,
	}
	if err := h.ledger.OpenPosition(pos); err != nil {
		h.logger.Error("confirm: open position failed", "plan_id", plan.PlanID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.ledger.Append(types.LedgerEntry{
		Timestamp: now, Action: types.ActionTradeOpened, MarketID: plan.MarketID,
		Metadata: map[string]any{"plan_id": plan.PlanID, "size_usd": plan.SizeUSD, "source": "confirm"},
	})
	h.ledger.Append(types.LedgerEntry{
		Timestamp: now, Action: types.ActionPlanExecuted, MarketID: plan.MarketID,
		Metadata: map[string]any{"plan_id": plan.PlanID},
	})

	writeJSON(w, http.StatusOK, confirmResponse{Executed: true, PositionID: pos.ID})
}

// rerunFill re-simulates the fill for a queued plan against the current
// book, mutating plan.LimitPrice and plan.SizeUSD in place. Carry plans
// are treated as single-level fills at the recorded limit price.
func (h *Handlers) rerunFill(ctx context.Context, plan *types.TradePlan) bool {
	if plan.Mode == types.ModeCarry {
		return plan.LimitPrice > 0
	}

	tob, ok := h.store.TopOfBook(plan.TokenID, h.fillCfg.MaxFillDepthLevels)
	if !ok {
		return false
	}
	asks := h.store.Depth(plan.TokenID, types.SELL)
	result := fill.Simulate(plan.SizeUSD, tob.Ask, asks, h.fillCfg)
	if !result.Filled {
		return false
	}
	plan.LimitPrice = result.VWAP
	plan.SizeUSD = result.FillSizeUSD
	return true
}

func sizeSharesFor(p types.TradePlan) float64 {
	if p.LimitPrice <= 0 {
		return 0
	}
	return p.SizeUSD / p.LimitPrice
}

// HandleDisarm implements POST /disarm.
func (h *Handlers) HandleDisarm(w http.ResponseWriter, r *http.Request) {
	h.modeManager.Disarm()
	writeJSON(w, http.StatusOK, map[string]any{"mode": h.modeManager.State().Mode})
}

// HandleArmConfirm implements POST /arm_confirm.
func (h *Handlers) HandleArmConfirm(w http.ResponseWriter, r *http.Request) {
	h.modeManager.ArmConfirm()
	writeJSON(w, http.StatusOK, map[string]any{"mode": h.modeManager.State().Mode})
}

// HandleArmAuto implements POST /arm_auto.
func (h *Handlers) HandleArmAuto(w http.ResponseWriter, r *http.Request) {
	h.modeManager.ArmAuto()
	writeJSON(w, http.StatusOK, map[string]any{"mode": h.modeManager.State().Mode})
}

// HandlePanic implements POST /panic. Idempotent: calling it while already
// panicked just re-clears the queue.
func (h *Handlers) HandlePanic(w http.ResponseWriter, r *http.Request) {
	h.modeManager.Panic()
	h.planStore.ClearQueue()
	state := h.modeManager.State()
	writeJSON(w, http.StatusOK, map[string]any{"mode": state.Mode, "panic": state.Panic, "queue_length": h.planStore.QueueLength()})
}

// allowedParams reports whether r's query string contains only keys in
// allowed.
func allowedParams(q map[string][]string, allowed ...string) bool {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	for key := range q {
		if !set[key] {
			return false
		}
	}
	return true
}
