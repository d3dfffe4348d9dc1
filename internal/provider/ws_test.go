package provider

import (
	"testing"

	"predict-scanner/internal/book"
	"predict-scanner/pkg/types"
)

func TestDispatchMessageBookSnapshot(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	f := NewMarketFeed("wss://example", store, testLogger())

	msg := []byte(`{"event_type":"book","asset_id":"123","market":"c1","buys":[{"price":"0.40","size":"100"}],"sells":[{"price":"0.45","size":"50"}]}`)
	diag := 0
	f.dispatchMessage(msg, &diag)

	tob, ok := store.TopOfBook("123", 10)
	if !ok {
		t.Fatal("expected book present after snapshot dispatch")
	}
	if !tob.HasBid || tob.Bid != 0.40 {
		t.Errorf("expected bid 0.40, got %+v", tob)
	}
	if !tob.HasAsk || tob.Ask != 0.45 {
		t.Errorf("expected ask 0.45, got %+v", tob)
	}
}

func TestDispatchMessagePriceChangeUpserts(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	store.ApplySnapshot("123", []types.OrderLevel{{Price: 0.40, Size: 100}}, []types.OrderLevel{{Price: 0.45, Size: 50}})
	f := NewMarketFeed("wss://example", store, testLogger())

	msg := []byte(`{"event_type":"price_change","market":"c1","price_changes":[{"asset_id":"123","price":"0.41","size":"20","side":"BUY"}]}`)
	diag := 0
	f.dispatchMessage(msg, &diag)

	tob, ok := store.TopOfBook("123", 10)
	if !ok {
		t.Fatal("expected book present")
	}
	if tob.Bid != 0.41 {
		t.Errorf("expected best bid updated to 0.41, got %v", tob.Bid)
	}
}

func TestDispatchMessageIgnoresUnknownEventType(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	f := NewMarketFeed("wss://example", store, testLogger())

	diag := 0
	f.dispatchMessage([]byte(`{"event_type":"new_market"}`), &diag)
	if store.Count() != 0 {
		t.Error("expected informational event to leave the store untouched")
	}
}

func TestDispatchMessageCapsDiagnosticLogging(t *testing.T) {
	t.Parallel()
	store := book.NewStore()
	f := NewMarketFeed("wss://example", store, testLogger())

	diag := 0
	for i := 0; i < maxDiagLogsPerConn+5; i++ {
		f.dispatchMessage([]byte(`not-json`), &diag)
	}
	if diag != maxDiagLogsPerConn {
		t.Errorf("expected diag counter capped at %d, got %d", maxDiagLogsPerConn, diag)
	}
}
