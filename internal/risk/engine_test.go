package risk

import (
	"log/slog"
	"os"
	"testing"

	"predict-scanner/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func generousConfig() Config {
	return Config{
		MaxTotalExposureUSD:         10000,
		MaxExposurePerMarketUSD:     2000,
		MaxExposurePerCategoryUSD:   1500,
		MaxExposurePerAssumptionUSD: 10000,
		MaxExposurePerWindowUSD:     10000,
		MaxPositionsOpen:            100,
	}
}

func TestAllowTradeKillSwitch(t *testing.T) {
	t.Parallel()
	cfg := generousConfig()
	cfg.KillSwitchEnabled = true
	e := NewEngine(cfg, testLogger())

	result := e.AllowTrade(types.TradeProposal{SizeUSD: 10}, types.RiskState{})
	if result.Decision != types.Block {
		t.Fatalf("expected BLOCK, got %v", result.Decision)
	}
	if result.Reasons[0] != "kill_switch_enabled" {
		t.Errorf("expected kill_switch_enabled reason, got %v", result.Reasons)
	}
}

func TestAllowTradeMaxPositionsOpen(t *testing.T) {
	t.Parallel()
	cfg := generousConfig()
	cfg.MaxPositionsOpen = 1
	e := NewEngine(cfg, testLogger())

	state := types.RiskState{OpenCount: 1}
	result := e.AllowTrade(types.TradeProposal{SizeUSD: 10}, state)
	if result.Decision != types.Block {
		t.Fatalf("expected BLOCK, got %v", result.Decision)
	}
}

func TestAllowTradeAllow(t *testing.T) {
	t.Parallel()
	e := NewEngine(generousConfig(), testLogger())
	result := e.AllowTrade(types.TradeProposal{SizeUSD: 100, Category: "Politics"}, types.RiskState{
		ByCategory: map[string]float64{}, ByAssumptionKey: map[string]float64{},
		ByWindowKey: map[string]float64{}, ByMarket: map[string]float64{},
	})
	if result.Decision != types.Allow {
		t.Fatalf("expected ALLOW, got %v reasons=%v", result.Decision, result.Reasons)
	}
	if result.HasSuggested {
		t.Error("ALLOW should not carry a suggested size")
	}
}

// TestCategoryCapAccumulation mirrors scenario 3: category cap 1500,
// per_market 2000, global 10000; three proposals 600/600/400 then a
// fourth of 100.
func TestCategoryCapAccumulation(t *testing.T) {
	t.Parallel()
	cfg := Config{
		MaxTotalExposureUSD:         10000,
		MaxExposurePerMarketUSD:     2000,
		MaxExposurePerCategoryUSD:   1500,
		MaxExposurePerAssumptionUSD: 10000,
		MaxExposurePerWindowUSD:     10000,
		MaxPositionsOpen:            100,
	}
	e := NewEngine(cfg, testLogger())

	mkState := func(categoryUsed float64) types.RiskState {
		return types.RiskState{
			TotalExposureUSD: categoryUsed,
			ByCategory:       map[string]float64{"Politics": categoryUsed},
			ByAssumptionKey:  map[string]float64{},
			ByWindowKey:      map[string]float64{},
			ByMarket:         map[string]float64{"m1": 0, "m2": 0, "m3": 0},
		}
	}

	r1 := e.AllowTrade(types.TradeProposal{MarketID: "m1", Category: "Politics", SizeUSD: 600}, mkState(0))
	if r1.Decision != types.Allow {
		t.Fatalf("proposal 1: expected ALLOW, got %v", r1.Decision)
	}

	r2 := e.AllowTrade(types.TradeProposal{MarketID: "m2", Category: "Politics", SizeUSD: 600}, mkState(600))
	if r2.Decision != types.Allow {
		t.Fatalf("proposal 2: expected ALLOW, got %v", r2.Decision)
	}

	r3 := e.AllowTrade(types.TradeProposal{MarketID: "m3", Category: "Politics", SizeUSD: 400}, mkState(1200))
	if r3.Decision != types.AllowReducedSize {
		t.Fatalf("proposal 3: expected ALLOW_REDUCED_SIZE, got %v", r3.Decision)
	}
	if r3.SuggestedSize != 300 {
		t.Errorf("proposal 3: suggested_size = %v, want 300", r3.SuggestedSize)
	}

	r4 := e.AllowTrade(types.TradeProposal{MarketID: "m4", Category: "Politics", SizeUSD: 100}, mkState(1500))
	if r4.Decision != types.Block {
		t.Fatalf("proposal 4: expected BLOCK, got %v", r4.Decision)
	}
}

func TestFoldStateSkipsClosedPositions(t *testing.T) {
	t.Parallel()
	positions := []types.PaperPosition{
		{MarketID: "m1", Category: "Politics", SizeUSD: 100},
		{MarketID: "m2", Category: "Politics", SizeUSD: 200, HasClosedAt: true},
	}
	state := FoldState(positions)
	if state.TotalExposureUSD != 100 {
		t.Errorf("expected closed position excluded, got total %v", state.TotalExposureUSD)
	}
	if state.OpenCount != 1 {
		t.Errorf("expected OpenCount=1, got %d", state.OpenCount)
	}
}
