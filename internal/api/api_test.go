package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/internal/fill"
	"predict-scanner/internal/ledger"
	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/internal/risk"
	"predict-scanner/internal/scan"
	"predict-scanner/pkg/types"
)

var errNoBook = errors.New("no book")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeMetaProvider struct{ meta scan.Meta }

func (f *fakeMetaProvider) Meta() scan.Meta { return f.meta }

type fakeFetcher struct {
	tob types.TopOfBook
	err error
}

func (f *fakeFetcher) FetchTopOfBook(ctx context.Context, tokenID string) (types.TopOfBook, error) {
	return f.tob, f.err
}

func newTestHandlers(t *testing.T) (*Handlers, *planstore.Store, *mode.Manager, *ledger.Ledger, *book.Store) {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.Open(dir, testLogger())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	ps := planstore.New()
	mm := mode.NewManager(nil)
	re := risk.NewEngine(risk.Config{
		MaxTotalExposureUSD: 1_000_000, MaxExposurePerMarketUSD: 1_000_000,
		MaxExposurePerCategoryUSD: 1_000_000, MaxExposurePerAssumptionUSD: 1_000_000,
		MaxExposurePerWindowUSD: 1_000_000, MaxPositionsOpen: 1000,
	}, testLogger())
	store := book.NewStore()
	meta := &fakeMetaProvider{meta: scan.Meta{LastScanAt: time.Now(), TradesProposed: 1}}
	fetcher := &fakeFetcher{tob: types.TopOfBook{HasAsk: true, Ask: 0.5, HasBid: true, Bid: 0.49}}
	fillCfg := fill.Config{DefaultOrderSizeUSD: 100, SlippageBps: 50, MaxFillDepthLevels: 10}

	h := NewHandlers(store, ps, mm, re, l, meta, fetcher, fillCfg, types.EVModeBaseline, false, testLogger())
	return h, ps, mm, l, store
}

func TestHandleStatusRejectsUnknownQuery(t *testing.T) {
	t.Parallel()
	h, _, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/status?bogus=1", nil)
	w := httptest.NewRecorder()
	h.HandleStatus(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlePlansGateFilter(t *testing.T) {
	t.Parallel()
	h, ps, _, _, _ := newTestHandlers(t)

	ps.SetPlans([]types.TradePlan{
		{PlanID: "a", MarketID: "m1", Outcome: types.NO, Mode: types.ModeBaseline, EVBreakdown: types.EVResult{NetEV: 5}},
		{PlanID: "b", MarketID: "m2", Outcome: types.YES, Mode: types.ModeCarry, EVBreakdown: types.EVResult{NetEV: 3}},
		{PlanID: "c", MarketID: "m3", Outcome: types.YES, Mode: types.ModeCapture, EVBreakdown: types.EVResult{NetEV: 9}},
	}, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/plans?gate=1", nil)
	w := httptest.NewRecorder()
	h.HandlePlans(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp plansResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Plans) != 2 {
		t.Fatalf("expected 2 plans to pass the gate, got %d: %+v", len(resp.Plans), resp.Plans)
	}
}

func TestHandlePlansDefaultStripsEVBreakdown(t *testing.T) {
	t.Parallel()
	h, ps, _, _, _ := newTestHandlers(t)
	ps.SetPlans([]types.TradePlan{
		{PlanID: "a", MarketID: "m1", Outcome: types.NO, Mode: types.ModeBaseline,
			EVBreakdown: types.EVResult{NetEV: 5, GrossEV: 99, Assumptions: map[string]any{"x": 1}}},
	}, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	w := httptest.NewRecorder()
	h.HandlePlans(w, req)

	var raw map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &raw)
	plans := raw["plans"].([]interface{})
	first := plans[0].(map[string]interface{})
	breakdown := first["ev_breakdown"].(map[string]interface{})
	if _, hasGross := breakdown["gross_ev"]; hasGross {
		t.Error("expected gross_ev to be stripped from default ev_breakdown")
	}
	if _, hasNet := breakdown["net_ev"]; !hasNet {
		t.Error("expected net_ev to survive stripping")
	}
}

func TestHandlePlansUnknownParamRejected(t *testing.T) {
	t.Parallel()
	h, _, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/plans?foo=bar", nil)
	w := httptest.NewRecorder()
	h.HandlePlans(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp errorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error != "invalid_query" {
		t.Errorf("expected invalid_query error, got %q", resp.Error)
	}
}

func TestHandleBookMissReturns404(t *testing.T) {
	t.Parallel()
	h, _, _, _, _ := newTestHandlers(t)
	h.httpFetcher = &fakeFetcher{err: errNoBook}

	req := httptest.NewRequest(http.MethodGet, "/book?no_token_id=123", nil)
	w := httptest.NewRecorder()
	h.HandleBook(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleBookFallsBackToHTTP(t *testing.T) {
	t.Parallel()
	h, _, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/book?no_token_id=123", nil)
	w := httptest.NewRecorder()
	h.HandleBook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp bookResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.HTTPFallbackUsed || resp.PriceSource != types.SourceHTTP {
		t.Errorf("expected http fallback used, got %+v", resp)
	}
}

func TestHandleConfirmAlreadyExecutedIsIdempotent(t *testing.T) {
	t.Parallel()
	h, ps, mm, _, store := newTestHandlers(t)
	mm.ArmConfirm()

	store.ApplySnapshot("no1", []types.OrderLevel{{Price: 0.49, Size: 100}}, []types.OrderLevel{{Price: 0.5, Size: 100}})
	plan := types.TradePlan{
		PlanID: "p1", MarketID: "m1", TokenID: "no1", Outcome: types.NO, Mode: types.ModeBaseline,
		SizeUSD: 10, LimitPrice: 0.5, PriceSource: types.SourceWS,
	}
	ps.SetPlans([]types.TradePlan{plan}, time.Now())
	ps.MarkPlanExecuted("p1", time.Now())

	body, _ := json.Marshal(confirmRequest{PlanID: "p1"})
	req := httptest.NewRequest(http.MethodPost, "/confirm", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleConfirm(w, req)

	var resp confirmResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Executed || resp.Reason != "already executed" {
		t.Errorf("expected already-executed rejection, got %+v", resp)
	}
}

func TestHandleConfirmRejectsSyntheticAsk(t *testing.T) {
	t.Parallel()
	h, ps, mm, _, _ := newTestHandlers(t)
	mm.ArmConfirm()

	plan := types.TradePlan{PlanID: "p1", MarketID: "m1", Outcome: types.YES, Mode: types.ModeCarry, PriceSource: types.SourceSyntheticAsk, LimitPrice: 0.9, SizeUSD: 10}
	ps.SetPlans([]types.TradePlan{plan}, time.Now())

	body, _ := json.Marshal(confirmRequest{PlanID: "p1"})
	req := httptest.NewRequest(http.MethodPost, "/confirm", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleConfirm(w, req)

	var resp confirmResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Executed || resp.Reason != "paper_only_synthetic" {
		t.Errorf("expected paper-only rejection, got %+v", resp)
	}
}

func TestHandlePanicClearsQueueAndSetsDisarmed(t *testing.T) {
	t.Parallel()
	h, ps, mm, _, _ := newTestHandlers(t)
	mm.ArmConfirm()
	ps.Enqueue("p1")

	req := httptest.NewRequest(http.MethodPost, "/panic", nil)
	w := httptest.NewRecorder()
	h.HandlePanic(w, req)

	state := mm.State()
	if !state.Panic || state.Mode != types.Disarmed {
		t.Errorf("expected disarmed+panic, got %+v", state)
	}
	if ps.QueueLength() != 0 {
		t.Error("expected queue cleared by panic")
	}
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		origin  string
		allowed []string
		reqHost string
		want    bool
	}{
		{"empty origin allowed", "", nil, "localhost:8080", true},
		{"localhost allowed by default", "http://localhost:8080", nil, "localhost:8080", true},
		{"non-local denied by default", "https://evil.example", nil, "localhost:8080", false},
		{"allowlist permits exact origin", "https://dash.example.com", []string{"https://dash.example.com"}, "0.0.0.0:8080", true},
		{"allowlist denies everything else", "https://evil.example", []string{"https://dash.example.com"}, "0.0.0.0:8080", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.allowed, tt.reqHost); got != tt.want {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
