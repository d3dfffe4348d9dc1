package scan

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/internal/carry"
	"predict-scanner/internal/ev"
	"predict-scanner/internal/filter"
	"predict-scanner/internal/fill"
	"predict-scanner/internal/ledger"
	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/internal/risk"
	"predict-scanner/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeLister struct {
	markets []types.NormalizedMarket
	err     error
}

func (f *fakeLister) ListMarkets(ctx context.Context) ([]types.NormalizedMarket, error) {
	return f.markets, f.err
}

type fakeBookFetcher struct {
	bids, asks map[string][]types.OrderLevel
}

func (f *fakeBookFetcher) FetchSnapshot(ctx context.Context, tokenID string) ([]types.OrderLevel, []types.OrderLevel, error) {
	return f.bids[tokenID], f.asks[tokenID], nil
}

func (f *fakeBookFetcher) FetchTopOfBook(ctx context.Context, tokenID string) (types.TopOfBook, error) {
	return types.TopOfBook{}, nil
}

type fakeSubscriber struct{ subscribed []string }

func (f *fakeSubscriber) Subscribe(ids []string) error {
	f.subscribed = ids
	return nil
}

func generousRiskConfig() risk.Config {
	return risk.Config{
		MaxTotalExposureUSD:         1_000_000,
		MaxExposurePerMarketUSD:     1_000_000,
		MaxExposurePerCategoryUSD:   1_000_000,
		MaxExposurePerAssumptionUSD: 1_000_000,
		MaxExposurePerWindowUSD:     1_000_000,
		MaxPositionsOpen:            1000,
	}
}

func newTestOrchestrator(t *testing.T, lister *fakeLister, bf *fakeBookFetcher, sub Subscriber, riskCfg risk.Config, scanCfg Config) (*Orchestrator, *ledger.Ledger, *planstore.Store, *mode.Manager) {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.Open(dir, testLogger())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	ps := planstore.New()
	mm := mode.NewManager(nil)
	re := risk.NewEngine(riskCfg, testLogger())
	store := book.NewStore()

	o := New(lister, bf, sub, store, re, ps, mm, l, testLogger(), scanCfg)
	return o, l, ps, mm
}

func baselineScanConfig() Config {
	return Config{
		PollInterval:      time.Minute,
		WSSubscriptionCap: 1000,
		OrderSizeUSD:      100,
		Filter:            filter.DefaultConfig(),
		EV: ev.Config{
			FeeBps:                             0,
			PTail:                              0.02,
			TailLossFraction:                   0.5,
			AmbiguousResolutionPTailMultiplier: 1,
			EVMode:                             types.EVModeBaseline,
		},
		Fill: fill.Config{DefaultOrderSizeUSD: 100, SlippageBps: 50, MaxFillDepthLevels: 10},
		Carry: carry.Config{Enabled: false},
	}
}

func baselineMarket() types.NormalizedMarket {
	return types.NormalizedMarket{
		MarketID:     "m1",
		ConditionID:  "c1",
		Question:     "Will the incumbent win?",
		Category:     "Politics",
		NoTokenID:    "222",
		YesTokenID:   "111",
		LiquidityUSD: 5000,
		HasEndDate:   true,
		EndDate:      time.Now().Add(7 * 24 * time.Hour),
	}
}

// TestRunCycleSkipsEmptyMarketList mirrors step 1's early exit.
func TestRunCycleSkipsEmptyMarketList(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{}
	bf := &fakeBookFetcher{}
	o, _, ps, _ := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), baselineScanConfig())

	o.runCycle(t.Context())

	if ps.Count() != 0 {
		t.Error("expected no plans created for empty market list")
	}
}

// TestRunCycleWarmupSkip runs a cycle while the store holds fewer than
// warmupMinBooks books, none with any levels, and checks that no plan or
// position results.
func TestRunCycleWarmupSkip(t *testing.T) {
	t.Parallel()
	m := baselineMarket()
	lister := &fakeLister{markets: []types.NormalizedMarket{m}}
	bf := &fakeBookFetcher{bids: map[string][]types.OrderLevel{}, asks: map[string][]types.OrderLevel{}}
	o, l, ps, _ := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), baselineScanConfig())

	o.runCycle(t.Context())

	if ps.Count() != 0 {
		t.Error("expected no plan for a market with no book at all")
	}
	for _, e := range l.AllPositions() {
		t.Errorf("unexpected position opened: %+v", e)
	}
}

// TestRunCycleNegativeEVProducesWorstCandidate mirrors scenario 1: NO
// ask=0.97 produces a negative net_ev and no plan.
func TestRunCycleNegativeEVProducesWorstCandidate(t *testing.T) {
	t.Parallel()
	m := baselineMarket()
	lister := &fakeLister{markets: []types.NormalizedMarket{m}}
	bf := &fakeBookFetcher{
		bids: map[string][]types.OrderLevel{"222": {{Price: 0.96, Size: 5000 / 0.96}}},
		asks: map[string][]types.OrderLevel{"222": {{Price: 0.97, Size: 5000 / 0.97}}},
	}
	o, _, ps, _ := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), baselineScanConfig())

	// Pad the store past warmupMinBooks with unrelated digit-only asset ids
	// before the cycle runs.
	for i := 0; i < warmupMinBooks+1; i++ {
		o.store.ApplySnapshot("900"+string(rune('1'+i)), []types.OrderLevel{{Price: 0.5, Size: 10}}, []types.OrderLevel{{Price: 0.5, Size: 10}})
	}

	o.runCycle(t.Context())

	if ps.Count() != 0 {
		t.Errorf("expected no plan for negative EV, got %d", ps.Count())
	}
	meta := o.Meta()
	if len(meta.WorstCandidates) != 1 || meta.WorstCandidates[0].Reason != "ev_negative" {
		t.Errorf("expected one ev_negative worst candidate, got %+v", meta.WorstCandidates)
	}
}

// TestRunCycleArmedAutoOpensPosition exercises the full admit path end to
// end under capture mode (positive net_ev) with ARMED_AUTO.
func TestRunCycleArmedAutoOpensPosition(t *testing.T) {
	t.Parallel()
	m := baselineMarket()
	lister := &fakeLister{markets: []types.NormalizedMarket{m}}
	bf := &fakeBookFetcher{
		bids: map[string][]types.OrderLevel{"222": {{Price: 0.50, Size: 1000}}},
		asks: map[string][]types.OrderLevel{"222": {{Price: 0.51, Size: 1000}}},
	}

	cfg := baselineScanConfig()
	cfg.EV.EVMode = types.EVModeCapture
	cfg.Filter = filter.Config{
		MinNoPrice: 0, MaxSpread: 0.1, MinLiquidityUSD: 10,
		MaxTimeToResolutionHours: 24 * 30, EVMode: types.EVModeCapture,
		CaptureMinNoAsk: 0.45, CaptureMaxNoAsk: 0.60,
	}

	o, l, ps, mm := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), cfg)
	for i := 0; i < warmupMinBooks+1; i++ {
		o.store.ApplySnapshot("900"+string(rune('1'+i)), []types.OrderLevel{{Price: 0.5, Size: 10}}, []types.OrderLevel{{Price: 0.5, Size: 10}})
	}
	mm.ArmAuto()

	o.runCycle(t.Context())

	if ps.Count() != 1 {
		t.Fatalf("expected 1 plan, got %d", ps.Count())
	}
	open := l.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position under ARMED_AUTO, got %d", len(open))
	}
	if open[0].MarketID != "m1" {
		t.Errorf("unexpected position market id %q", open[0].MarketID)
	}
}

// TestActOnPlansDisarmedDoesNothing verifies step 11's disarmed/panic skip.
func TestActOnPlansDisarmedDoesNothing(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{}
	bf := &fakeBookFetcher{}
	o, l, ps, _ := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), baselineScanConfig())

	plan := types.TradePlan{PlanID: "p1", MarketID: "m1", Mode: types.ModeBaseline, Outcome: types.NO, PriceSource: types.SourceWS}
	ps.SetPlans([]types.TradePlan{plan}, time.Now())

	o.actOnPlans([]types.TradePlan{plan}, time.Now())

	if len(l.OpenPositions()) != 0 {
		t.Error("expected no position opened while disarmed")
	}
}

// TestActOnPlansSkipsSyntheticAskUnderAuto mirrors the carry "paper-only"
// rule: synthetic-ask plans are never auto-executed.
func TestActOnPlansSkipsSyntheticAskUnderAuto(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{}
	bf := &fakeBookFetcher{}
	o, l, ps, mm := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), baselineScanConfig())
	mm.ArmAuto()

	plan := types.TradePlan{
		PlanID: "p1", MarketID: "m1", Mode: types.ModeCarry, Outcome: types.YES,
		PriceSource: types.SourceSyntheticAsk, LimitPrice: 0.99, SizeUSD: 100,
	}
	ps.SetPlans([]types.TradePlan{plan}, time.Now())

	o.actOnPlans([]types.TradePlan{plan}, time.Now())

	if len(l.OpenPositions()) != 0 {
		t.Error("expected synthetic-ask plan to never auto-execute")
	}
}

// TestActOnPlansConfirmModeEnqueues mirrors the ARMED_CONFIRM branch.
func TestActOnPlansConfirmModeEnqueues(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{}
	bf := &fakeBookFetcher{}
	o, _, ps, mm := newTestOrchestrator(t, lister, bf, nil, generousRiskConfig(), baselineScanConfig())
	mm.ArmConfirm()

	plan := types.TradePlan{PlanID: "p1", MarketID: "m1", Mode: types.ModeBaseline, Outcome: types.NO, PriceSource: types.SourceWS}
	ps.SetPlans([]types.TradePlan{plan}, time.Now())

	o.actOnPlans([]types.TradePlan{plan}, time.Now())

	if ps.QueueLength() != 1 {
		t.Errorf("expected plan enqueued under confirm mode, got queue length %d", ps.QueueLength())
	}
}

func TestCollectTokenIDsDedupesAndCaps(t *testing.T) {
	t.Parallel()
	markets := []types.NormalizedMarket{
		{NoTokenID: "a", YesTokenID: "b"},
		{NoTokenID: "a", YesTokenID: "c"},
	}
	ids := collectTokenIDs(markets, 2)
	if len(ids) != 2 {
		t.Fatalf("expected cap respected, got %v", ids)
	}
}

func TestNormalizeCategoryDefaultsWhenBlank(t *testing.T) {
	t.Parallel()
	if got := normalizeCategory("   "); got != "uncategorized" {
		t.Errorf("expected uncategorized, got %q", got)
	}
	if got := normalizeCategory(" Politics "); got != "Politics" {
		t.Errorf("expected trimmed category, got %q", got)
	}
}
