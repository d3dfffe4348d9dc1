package carry

import (
	"testing"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/pkg/types"
)

func carryConfig() Config {
	return Config{
		Enabled:             true,
		ROIMinPct:           6,
		ROIMaxPct:           7,
		MaxSpread:           0.02,
		MaxDays:             30,
		MinDaysToResolution: 1,
		SpreadEdgeMaxRatio:  2.0,
		SpreadEdgeMinAbs:    0.01,
		AllowHTTPFallback:   false,
		AllowKeywords:       []string{"election"},
	}
}

// TestSelectROIBand mirrors scenario 6: YES ask=0.94 (bid=0.93), t_days=14,
// category=Politics, keywords=[election], roiMinPct=6, roiMaxPct=7,
// maxSpread=0.02, spreadEdgeMaxRatio=2.0.
func TestSelectROIBand(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := book.NewStore()
	store.ApplySnapshot("123", []types.OrderLevel{{Price: 0.93, Size: 10000}}, []types.OrderLevel{{Price: 0.94, Size: 10000}})

	markets := []types.NormalizedMarket{
		{
			MarketID:   "m1",
			Question:   "Will there be an election upset?",
			Category:   "Politics",
			YesTokenID: "123",
			HasEndDate: true,
			EndDate:    now.Add(14 * 24 * time.Hour),
		},
	}

	candidates, debug := Select(nil, markets, store, nil, NewTTLCache(DefaultTTLCacheSize, DefaultTTL), now, carryConfig())
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d (debug=%+v)", len(candidates), debug.Counts)
	}

	c := candidates[0]
	if c.PriceSource != types.SourceWS {
		t.Errorf("expected price_source=ws, got %v", c.PriceSource)
	}
	if c.ROIPct < 6.3 || c.ROIPct > 6.5 {
		t.Errorf("roi_pct = %v, want ~6.383", c.ROIPct)
	}
	wantRatio := 0.01 / 0.06
	if diff := c.SpreadEdgeRatio - wantRatio; diff > 0.01 || diff < -0.01 {
		t.Errorf("spread_edge_ratio = %v, want ~%v", c.SpreadEdgeRatio, wantRatio)
	}
}

func TestSelectRejectsBeyondMaxDays(t *testing.T) {
	t.Parallel()
	now := time.Now()
	store := book.NewStore()
	store.ApplySnapshot("123", []types.OrderLevel{{Price: 0.93, Size: 1000}}, []types.OrderLevel{{Price: 0.94, Size: 1000}})

	markets := []types.NormalizedMarket{{
		MarketID: "m1", Question: "election", Category: "Politics", YesTokenID: "123",
		HasEndDate: true, EndDate: now.Add(60 * 24 * time.Hour),
	}}

	candidates, debug := Select(nil, markets, store, nil, NewTTLCache(DefaultTTLCacheSize, DefaultTTL), now, carryConfig())
	if len(candidates) != 0 {
		t.Fatalf("expected 0 candidates, got %d", len(candidates))
	}
	if debug.Counts["beyond_max_days"] != 1 {
		t.Errorf("expected beyond_max_days rejection, got %+v", debug.Counts)
	}
}

func TestSyntheticAskPricing(t *testing.T) {
	t.Parallel()
	// noBid=0.93, syntheticTick=0.01 -> yesAsk=0.94
	cfg := carryConfig()
	cfg.AllowSyntheticAsk = true
	cfg.SyntheticTick = 0.01
	cfg.SyntheticMaxAsk = 0.995

	now := time.Now()
	store := book.NewStore()
	store.ApplySnapshot("123", []types.OrderLevel{{Price: 0.93, Size: 1000}}, nil)

	markets := []types.NormalizedMarket{{
		MarketID: "m1", Question: "election", Category: "Politics", YesTokenID: "123",
		HasEndDate: true, EndDate: now.Add(14 * 24 * time.Hour),
	}}

	candidates, _ := Select(nil, markets, store, nil, NewTTLCache(DefaultTTLCacheSize, DefaultTTL), now, cfg)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 synthetic ask candidate, got %d", len(candidates))
	}
	if candidates[0].PriceSource != types.SourceSyntheticAsk {
		t.Errorf("expected synthetic_ask price source, got %v", candidates[0].PriceSource)
	}
}

func TestSyntheticAskCapsAtMax(t *testing.T) {
	t.Parallel()
	// noBid=0.99, syntheticTick=0.01, syntheticMaxAsk=0.995 -> yesAsk=min(1.00,0.995)=0.995
	cfg := Config{
		Enabled: true, ROIMinPct: 0, ROIMaxPct: 100, MaxSpread: 1, MaxDays: 30, MinDaysToResolution: 0,
		SpreadEdgeMaxRatio: 100, SpreadEdgeMinAbs: 0, AllowSyntheticAsk: true,
		SyntheticTick: 0.01, SyntheticMaxAsk: 0.995,
	}
	now := time.Now()
	store := book.NewStore()
	store.ApplySnapshot("123", []types.OrderLevel{{Price: 0.99, Size: 1000}}, nil)

	markets := []types.NormalizedMarket{{
		MarketID: "m1", Question: "q", Category: "", YesTokenID: "123",
		HasEndDate: true, EndDate: now.Add(5 * 24 * time.Hour),
	}}
	candidates, _ := Select(nil, markets, store, nil, NewTTLCache(DefaultTTLCacheSize, DefaultTTL), now, cfg)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate")
	}
	if candidates[0].YesAsk != 0.995 {
		t.Errorf("yesAsk = %v, want 0.995", candidates[0].YesAsk)
	}
}

func TestNormalizeTokenIDUnwrapsArrayString(t *testing.T) {
	t.Parallel()
	if got := NormalizeTokenID(`["123"]`); got != "123" {
		t.Errorf("got %q, want 123", got)
	}
	if got := NormalizeTokenID("456"); got != "456" {
		t.Errorf("got %q, want 456", got)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	t.Parallel()
	c := NewTTLCache(10, time.Millisecond)
	c.Set("k1", types.TopOfBook{Bid: 0.5})
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k1"); ok {
		t.Error("expected entry to have expired")
	}
}

func TestTTLCacheEviction(t *testing.T) {
	t.Parallel()
	c := NewTTLCache(2, time.Minute)
	c.Set("k1", types.TopOfBook{})
	c.Set("k2", types.TopOfBook{})
	c.Set("k3", types.TopOfBook{})
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", c.Len())
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("expected oldest entry k1 evicted")
	}
}
