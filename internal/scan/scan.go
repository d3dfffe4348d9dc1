// Package scan implements the orchestrator that drives one scan cycle: it
// lists active markets, refreshes the order-book store, runs every market
// through the filter → EV → fill → risk pipeline, runs the carry selector
// over the same market set, replaces the plan store, and finally acts on
// the mode manager's current execution mode (enqueue under confirm, open a
// paper position under auto).
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/internal/carry"
	"predict-scanner/internal/ev"
	"predict-scanner/internal/filter"
	"predict-scanner/internal/fill"
	"predict-scanner/internal/keying"
	"predict-scanner/internal/ledger"
	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/internal/risk"
	"predict-scanner/pkg/types"
)

// warmupMinBooks is the minimum number of tracked order books before a
// missing top-of-book is treated as a real filter failure rather than a
// bootstrap race between the REST snapshot and the WS feed.
const warmupMinBooks = 5

// topOfBookDepthLevels is how many levels of depth feed into the liquidity
// check and the fill simulator's ask slice.
const topOfBookDepthLevels = 10

// MarketLister lists the currently in-scope markets. Implemented by
// internal/provider.GammaClient.
type MarketLister interface {
	ListMarkets(ctx context.Context) ([]types.NormalizedMarket, error)
}

// BookFetcher bootstraps the order-book store over REST and resolves a
// carry HTTP fallback. Implemented by internal/provider.BookClient.
type BookFetcher interface {
	FetchSnapshot(ctx context.Context, tokenID string) (bids, asks []types.OrderLevel, err error)
	FetchTopOfBook(ctx context.Context, tokenID string) (types.TopOfBook, error)
}

// Subscriber re-subscribes the WS feed to newly discovered tokens. Optional:
// a nil Subscriber means the orchestrator only relies on REST snapshots.
type Subscriber interface {
	Subscribe(ids []string) error
}

// Config holds every tunable the orchestrator's pipeline needs.
type Config struct {
	PollInterval      time.Duration
	WSSubscriptionCap int
	OrderSizeUSD      float64
	Filter            filter.Config
	EV                ev.Config
	Fill              fill.Config
	Carry             carry.Config
}

// Meta is the scan orchestrator's last-cycle metadata, read by /status.
type Meta struct {
	LastScanAt      time.Time
	TradesProposed  int
	WorstCandidates []types.WorstCandidate
	CarryDebug      map[string]int
	MarketsSeen     int
	MarketsFiltered int
}

// Orchestrator runs one scan cycle on a timer and exposes the last cycle's
// metadata. It owns no HTTP surface — the control API reads PlanStore and
// ModeManager directly, and Meta() for /status.
type Orchestrator struct {
	lister      MarketLister
	bookFetcher BookFetcher
	subscriber  Subscriber
	store       *book.Store
	carryCache  *carry.TTLCache
	riskEngine  *risk.Engine
	planStore   *planstore.Store
	modeManager *mode.Manager
	ledger      *ledger.Ledger
	logger      *slog.Logger
	cfg         Config

	metaMu sync.RWMutex
	meta   Meta
}

// New creates a scan orchestrator.
func New(
	lister MarketLister,
	bookFetcher BookFetcher,
	subscriber Subscriber,
	store *book.Store,
	riskEngine *risk.Engine,
	planStore *planstore.Store,
	modeManager *mode.Manager,
	ledgerStore *ledger.Ledger,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		lister:      lister,
		bookFetcher: bookFetcher,
		subscriber:  subscriber,
		store:       store,
		carryCache:  carry.NewTTLCache(carry.DefaultTTLCacheSize, carry.DefaultTTL),
		riskEngine:  riskEngine,
		planStore:   planStore,
		modeManager: modeManager,
		ledger:      ledgerStore,
		logger:      logger.With("component", "scan"),
		cfg:         cfg,
	}
}

// Meta returns a copy of the last completed cycle's metadata.
func (o *Orchestrator) Meta() Meta {
	o.metaMu.RLock()
	defer o.metaMu.RUnlock()
	m := o.meta
	m.WorstCandidates = append([]types.WorstCandidate(nil), o.meta.WorstCandidates...)
	carryDebug := make(map[string]int, len(o.meta.CarryDebug))
	for k, v := range o.meta.CarryDebug {
		carryDebug[k] = v
	}
	m.CarryDebug = carryDebug
	return m
}

// Run performs an immediate scan, then one scan per PollInterval tick until
// ctx is cancelled. One cycle always runs to completion before the next
// tick is honored.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCycle(ctx)

	interval := o.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	now := time.Now()

	// Step 1: fetch active markets.
	markets, err := o.lister.ListMarkets(ctx)
	if err != nil {
		o.logger.Error("list markets failed", "error", err)
		return
	}
	if len(markets) == 0 {
		o.logger.Warn("no active markets returned, skipping cycle")
		return
	}

	// Step 2: union token ids, prime the book store, re-subscribe WS.
	tokenIDs := collectTokenIDs(markets, o.cfg.WSSubscriptionCap)
	o.primeBookStore(ctx, tokenIDs)
	if o.subscriber != nil {
		if err := o.subscriber.Subscribe(tokenIDs); err != nil {
			o.logger.Warn("ws subscribe failed", "error", err)
		}
	}

	var worst []types.WorstCandidate
	var proposedPlans []types.TradePlan

	// Steps 3-8: per-market filter -> EV -> fill -> risk -> plan.
	filtered := 0
	for _, m := range markets {
		plan, wc, passedFilter := o.evaluateMarket(ctx, m, now)
		if passedFilter {
			filtered++
		}
		if wc != nil {
			worst = append(worst, *wc)
		}
		if plan != nil {
			proposedPlans = append(proposedPlans, *plan)
		}
	}

	// Step 9: carry selector over the whole market set.
	carryCandidates, carryDebug := carry.Select(ctx, markets, o.store, o.bookFetcher, o.carryCache, now, o.cfg.Carry)
	for _, c := range carryCandidates {
		plan := o.carryCandidateToPlan(c, now)
		riskProposal := types.TradeProposal{
			MarketID:      plan.MarketID,
			ConditionID:   plan.ConditionID,
			TokenID:       plan.TokenID,
			Outcome:       types.YES,
			Side:          types.BUY,
			SizeUSD:       plan.SizeUSD,
			BestAsk:       c.YesAsk,
			Category:      plan.Category,
			AssumptionKey: plan.AssumptionKey,
			WindowKey:     plan.WindowKey,
		}
		state := risk.FoldState(o.ledger.OpenPositions())
		allow := o.riskEngine.AllowTrade(riskProposal, state)
		if allow.Decision == types.Block {
			o.ledger.Append(types.LedgerEntry{
				Timestamp: now, Action: types.ActionTradeBlocked, MarketID: plan.MarketID,
				Metadata: map[string]any{"mode": "carry", "reasons": allow.Reasons},
			})
			continue
		}
		if allow.Decision == types.AllowReducedSize {
			plan.SizeUSD = allow.SuggestedSize
		}
		plan.Headroom = allow.Headroom
		proposedPlans = append(proposedPlans, plan)
	}

	// Step 10: atomic replace + metadata.
	o.planStore.SetPlans(proposedPlans, now)

	o.metaMu.Lock()
	o.meta = Meta{
		LastScanAt:      now,
		TradesProposed:  len(proposedPlans),
		WorstCandidates: worst,
		CarryDebug:      carryDebug.Counts,
		MarketsSeen:     len(markets),
		MarketsFiltered: filtered,
	}
	o.metaMu.Unlock()

	// Step 11: act per current execution mode.
	o.actOnPlans(proposedPlans, now)

	o.logger.Info("scan cycle complete",
		"markets", len(markets), "filtered", filtered,
		"proposed", len(proposedPlans), "carry_candidates", len(carryCandidates),
	)
}

// evaluateMarket runs one NO-side market through steps 3-8. It returns at
// most one of: a TradePlan (admitted), a WorstCandidate (rejected after
// passing the filter), or neither (rejected by the filter or warmup skip).
// passedFilter reports whether the market cleared the filter evaluator,
// independent of what happened afterward.
func (o *Orchestrator) evaluateMarket(ctx context.Context, m types.NormalizedMarket, now time.Time) (plan *types.TradePlan, worst *types.WorstCandidate, passedFilter bool) {
	if m.NoTokenID == "" {
		return nil, nil, false
	}

	tob, hasTob := o.store.TopOfBook(m.NoTokenID, topOfBookDepthLevels)
	if !hasTob && o.store.Count() < warmupMinBooks {
		o.logger.Debug("warmup skip", "market", m.MarketID)
		return nil, nil, false
	}

	fr := filter.Evaluate(m, tob, hasTob, now, o.cfg.Filter)
	if !fr.Pass {
		o.ledger.Append(types.LedgerEntry{
			Timestamp: now, Action: types.ActionScanFail, MarketID: m.MarketID,
			Metadata: map[string]any{"reasons": fr.Reasons},
		})
		return nil, nil, false
	}

	hasAmbiguous := containsFlag(fr.Flags, "RESOLUTION_AMBIGUOUS")
	sizeUSD := o.cfg.OrderSizeUSD
	evResult := ev.Compute(tob.Ask, sizeUSD, o.cfg.EV, hasAmbiguous)
	if evResult.NetEV <= 0 {
		o.ledger.Append(types.LedgerEntry{
			Timestamp: now, Action: types.ActionScanPass, MarketID: m.MarketID,
			Metadata: map[string]any{"ev_negative": true, "net_ev": evResult.NetEV},
		})
		return nil, &types.WorstCandidate{MarketID: m.MarketID, Reason: "ev_negative", EV: &evResult}, true
	}

	category := normalizeCategory(m.Category)
	primaryEntity := keying.PrimaryEntity(m.Question)
	thesisLabel := keying.ThesisLabel(o.cfg.EV.EVMode)
	windowKey := keying.WindowKey(m.EndDate, m.HasEndDate, now)
	assumptionKey := keying.AssumptionKey(category, primaryEntity, "", thesisLabel, windowKey)

	asks := o.store.Depth(m.NoTokenID, types.SELL)
	fillResult := fill.Simulate(sizeUSD, tob.Ask, asks, o.cfg.Fill)
	if !fillResult.Filled {
		o.ledger.Append(types.LedgerEntry{
			Timestamp: now, Action: types.ActionScanPass, MarketID: m.MarketID,
			Metadata: map[string]any{"fill_failed": true, "reason": fillResult.Reason},
		})
		return nil, &types.WorstCandidate{MarketID: m.MarketID, Reason: "no_fill", Fill: &fillResult}, true
	}

	proposal := types.TradeProposal{
		MarketID:      m.MarketID,
		ConditionID:   m.ConditionID,
		TokenID:       m.NoTokenID,
		Outcome:       types.NO,
		Side:          types.BUY,
		SizeUSD:       sizeUSD,
		BestAsk:       tob.Ask,
		Category:      category,
		AssumptionKey: assumptionKey,
		WindowKey:     windowKey,
	}
	state := risk.FoldState(o.ledger.OpenPositions())
	allow := o.riskEngine.AllowTrade(proposal, state)
	if allow.Decision == types.Block {
		o.ledger.Append(types.LedgerEntry{
			Timestamp: now, Action: types.ActionTradeBlocked, MarketID: m.MarketID,
			Metadata: map[string]any{"reasons": allow.Reasons},
		})
		return nil, nil, true
	}

	effectiveFill := fillResult
	effectiveSize := sizeUSD
	if allow.Decision == types.AllowReducedSize {
		effectiveSize = allow.SuggestedSize
		effectiveFill = fill.Rescale(fillResult, effectiveSize)
	}

	planID := planstore.PlanID(m.MarketID, types.NO, planModeFor(o.cfg.EV.EVMode))
	p := types.TradePlan{
		PlanID:        planID,
		MarketID:      m.MarketID,
		ConditionID:   m.ConditionID,
		TokenID:       m.NoTokenID,
		Outcome:       types.NO,
		Mode:          planModeFor(o.cfg.EV.EVMode),
		SizeUSD:       effectiveSize,
		LimitPrice:    tob.Ask,
		Category:      category,
		AssumptionKey: assumptionKey,
		WindowKey:     windowKey,
		EVBreakdown:   evResult,
		Headroom:      allow.Headroom,
		Status:        types.StatusProposed,
		PriceSource:   effectiveFill.PriceSource,
	}
	return &p, nil, true
}

func (o *Orchestrator) carryCandidateToPlan(c carry.Candidate, now time.Time) types.TradePlan {
	sizeUSD := o.cfg.OrderSizeUSD
	grossEV := sizeUSD * (1 - c.YesAsk) / c.YesAsk

	evResult := types.EVResult{
		GrossEV: grossEV,
		NetEV:   grossEV,
		Assumptions: map[string]any{
			"roi_pct": c.ROIPct,
			"t_days":  c.TDays,
			"yes_ask": c.YesAsk,
		},
		Explanation: []string{
			fmt.Sprintf("carry_roi_pct = (1-yes_ask)/yes_ask*100 = %.4f", c.ROIPct),
			fmt.Sprintf("net_ev = size_usd * roi = %.4f", grossEV),
		},
	}

	return types.TradePlan{
		PlanID:        planstore.PlanID(c.MarketID, types.YES, types.ModeCarry),
		MarketID:      c.MarketID,
		ConditionID:   c.ConditionID,
		TokenID:       c.YesTokenID,
		Outcome:       types.YES,
		Mode:          types.ModeCarry,
		SizeUSD:       sizeUSD,
		LimitPrice:    c.YesAsk,
		Category:      c.Category,
		AssumptionKey: c.AssumptionKey,
		WindowKey:     c.WindowKey,
		EVBreakdown:   evResult,
		Status:        types.StatusProposed,
		PriceSource:   c.PriceSource,
	}
}

// actOnPlans runs step 11: skip if disarmed/panic, enqueue under confirm,
// open a paper position under auto. Synthetic-ask plans are never
// auto-executed — they are paper-only until a real price appears.
func (o *Orchestrator) actOnPlans(plans []types.TradePlan, now time.Time) {
	state := o.modeManager.State()
	if state.Panic || state.Mode == types.Disarmed {
		return
	}

	for _, p := range plans {
		if state.Mode == types.ArmedConfirm {
			o.planStore.Enqueue(p.PlanID)
			o.ledger.Append(types.LedgerEntry{
				Timestamp: now, Action: types.ActionPlanCreated, MarketID: p.MarketID,
				Metadata: map[string]any{"plan_id": p.PlanID, "mode": string(p.Mode)},
			})
			continue
		}

		// ArmedAuto.
		if p.PriceSource == types.SourceSyntheticAsk {
			o.logger.Debug("skipping auto-execute of synthetic-ask plan", "plan_id", p.PlanID)
			continue
		}
		o.openPosition(p, now)
	}
}

func (o *Orchestrator) openPosition(p types.TradePlan, now time.Time) {
	alreadyExecuted := o.planStore.MarkPlanExecuted(p.PlanID, now)
	if alreadyExecuted {
		return
	}

	pos := types.PaperPosition{
		ID:            p.PlanID,
		MarketID:      p.MarketID,
		ConditionID:   p.ConditionID,
		Outcome:       p.Outcome,
		EntryPrice:    p.LimitPrice,
		SizeUSD:       p.SizeUSD,
		SizeShares:    sizeSharesFor(p),
		Category:      p.Category,
		AssumptionKey: p.AssumptionKey,
		WindowKey:     p.WindowKey,
		OpenedAt:      now,
		ExpectedPnl:   p.EVBreakdown.NetEV,
	}
	if err := o.ledger.OpenPosition(pos); err != nil {
		o.logger.Error("open position failed", "plan_id", p.PlanID, "error", err)
		return
	}

	o.ledger.Append(types.LedgerEntry{
		Timestamp: now, Action: types.ActionTradeOpened, MarketID: p.MarketID,
		Metadata: map[string]any{"plan_id": p.PlanID, "size_usd": p.SizeUSD},
	})
	o.ledger.Append(types.LedgerEntry{
		Timestamp: now, Action: types.ActionPlanExecuted, MarketID: p.MarketID,
		Metadata: map[string]any{"plan_id": p.PlanID},
	})
}

func sizeSharesFor(p types.TradePlan) float64 {
	if p.LimitPrice <= 0 {
		return 0
	}
	return p.SizeUSD / p.LimitPrice
}

func (o *Orchestrator) primeBookStore(ctx context.Context, tokenIDs []string) {
	for _, id := range tokenIDs {
		bids, asks, err := o.bookFetcher.FetchSnapshot(ctx, id)
		if err != nil {
			o.logger.Warn("book snapshot failed", "token_id", id, "error", err)
			continue
		}
		o.store.ApplySnapshot(id, bids, asks)
	}
}

func collectTokenIDs(markets []types.NormalizedMarket, capAt int) []string {
	seen := make(map[string]bool)
	var ids []string

	for _, m := range markets {
		for _, id := range [2]string{m.NoTokenID, m.YesTokenID} {
			if id == "" || seen[id] {
				continue
			}
			if capAt > 0 && len(ids) >= capAt {
				return ids
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func normalizeCategory(category string) string {
	c := strings.TrimSpace(category)
	if c == "" {
		return "uncategorized"
	}
	return c
}

func planModeFor(evMode types.EVMode) types.PlanMode {
	if evMode == types.EVModeCapture {
		return types.ModeCapture
	}
	return types.ModeBaseline
}

func containsFlag(flags []string, target string) bool {
	for _, f := range flags {
		if f == target {
			return true
		}
	}
	return false
}
