// Package book maintains a local, in-memory mirror of order books for an
// arbitrary set of outcome tokens. It is updated from two sources: REST
// snapshots (bootstrap and periodic refresh) and WebSocket events (full
// snapshots and incremental price_change deltas).
//
// The store is concurrency-safe: each asset's book is guarded by its own
// lock, so the ingest writer for one asset never blocks a reader of
// another. A reader racing a writer sees either the previous or the next
// state for that asset, never a half-updated bid/ask list.
package book

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"predict-scanner/pkg/types"
)

// MaxDepth is the maximum number of levels retained per side.
const MaxDepth = 50

var digitsOnly = regexp.MustCompile(`[^0-9]+`)

// NormalizeKey projects an asset identifier onto its canonical lookup key:
// the digits-only form. Upstream identifier formats sometimes include
// quoting or other non-digit noise; stripping it removes a whole class of
// cache-miss bugs. NormalizeKey is idempotent.
func NormalizeKey(id string) string {
	return digitsOnly.ReplaceAllString(id, "")
}

type book struct {
	mu      sync.RWMutex
	bids    []types.OrderLevel // sorted descending by price
	asks    []types.OrderLevel // sorted ascending by price
	updated time.Time
}

// Store is a concurrency-safe map of canonical key to order book.
type Store struct {
	mu     sync.RWMutex // guards the books map itself (insert/lookup of *book)
	books  map[string]*book
}

// NewStore creates an empty order-book store.
func NewStore() *Store {
	return &Store{books: make(map[string]*book)}
}

func (s *Store) getOrCreate(key string) *book {
	s.mu.RLock()
	b, ok := s.books[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.books[key]; ok {
		return b
	}
	b = &book{}
	s.books[key] = b
	return b
}

// Count returns the number of distinct books currently tracked, used by the
// scan orchestrator's warmup-skip check.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// ApplySnapshot replaces both sides of the book for assetID. Levels are
// sorted (bids descending, asks ascending) and truncated to MaxDepth per
// side. A blank canonical key is a no-op.
func (s *Store) ApplySnapshot(assetID string, bids, asks []types.OrderLevel) {
	key := NormalizeKey(assetID)
	if key == "" {
		return
	}
	b := s.getOrCreate(key)

	sortedBids := append([]types.OrderLevel(nil), bids...)
	sort.Slice(sortedBids, func(i, j int) bool { return sortedBids[i].Price > sortedBids[j].Price })
	if len(sortedBids) > MaxDepth {
		sortedBids = sortedBids[:MaxDepth]
	}

	sortedAsks := append([]types.OrderLevel(nil), asks...)
	sort.Slice(sortedAsks, func(i, j int) bool { return sortedAsks[i].Price < sortedAsks[j].Price })
	if len(sortedAsks) > MaxDepth {
		sortedAsks = sortedAsks[:MaxDepth]
	}

	b.mu.Lock()
	b.bids = sortedBids
	b.asks = sortedAsks
	b.updated = time.Now()
	b.mu.Unlock()
}

// ApplyPriceChange upserts or deletes a single level on one side. Size 0
// removes the level. The side is re-sorted and re-truncated after the
// change. A blank canonical key is a no-op.
func (s *Store) ApplyPriceChange(assetID string, price, size float64, side types.Side) {
	key := NormalizeKey(assetID)
	if key == "" {
		return
	}
	b := s.getOrCreate(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch side {
	case types.BUY:
		b.bids = upsertLevel(b.bids, price, size, true)
	case types.SELL:
		b.asks = upsertLevel(b.asks, price, size, false)
	}
	b.updated = time.Now()
}

func upsertLevel(levels []types.OrderLevel, price, size float64, descending bool) []types.OrderLevel {
	out := make([]types.OrderLevel, 0, len(levels)+1)
	found := false
	for _, l := range levels {
		if l.Price == price {
			found = true
			if size > 0 {
				out = append(out, types.OrderLevel{Price: price, Size: size})
			}
			continue
		}
		out = append(out, l)
	}
	if !found && size > 0 {
		out = append(out, types.OrderLevel{Price: price, Size: size})
	}

	if descending {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	}
	if len(out) > MaxDepth {
		out = out[:MaxDepth]
	}
	return out
}

// TopOfBook returns the best bid/ask and a depth summary over the first
// maxLevels of each side. Returns false if the asset has no tracked book at
// all (distinct from a book with an empty side).
func (s *Store) TopOfBook(id string, maxLevels int) (types.TopOfBook, bool) {
	key := NormalizeKey(id)
	if key == "" {
		return types.TopOfBook{}, false
	}

	s.mu.RLock()
	b, ok := s.books[key]
	s.mu.RUnlock()
	if !ok {
		return types.TopOfBook{}, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var tob types.TopOfBook
	if len(b.bids) > 0 {
		tob.HasBid = true
		tob.Bid = b.bids[0].Price
	}
	if len(b.asks) > 0 {
		tob.HasAsk = true
		tob.Ask = b.asks[0].Price
	}
	if tob.HasBid && tob.HasAsk {
		tob.HasSpread = true
		tob.Spread = tob.Ask - tob.Bid
	}

	bidPrefix := b.bids
	if len(bidPrefix) > maxLevels {
		bidPrefix = bidPrefix[:maxLevels]
	}
	askPrefix := b.asks
	if len(askPrefix) > maxLevels {
		askPrefix = askPrefix[:maxLevels]
	}
	for _, l := range bidPrefix {
		tob.Depth.BidLiquidityUSD += l.Price * l.Size
	}
	for _, l := range askPrefix {
		tob.Depth.AskLiquidityUSD += l.Price * l.Size
	}
	tob.Depth.LevelsCount = len(bidPrefix)
	if len(askPrefix) > tob.Depth.LevelsCount {
		tob.Depth.LevelsCount = len(askPrefix)
	}

	return tob, true
}

// Depth returns a copy of up to MaxDepth levels on the given side, for fill
// simulation. Returns nil if the asset has no tracked book.
func (s *Store) Depth(id string, side types.Side) []types.OrderLevel {
	key := NormalizeKey(id)
	if key == "" {
		return nil
	}

	s.mu.RLock()
	b, ok := s.books[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var src []types.OrderLevel
	if side == types.BUY {
		src = b.bids
	} else {
		src = b.asks
	}
	return append([]types.OrderLevel(nil), src...)
}

// SampleKeys returns up to n canonical keys currently tracked, for the
// control API's /books-debug endpoint. Order is unspecified.
func (s *Store) SampleKeys(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, n)
	for k := range s.books {
		if len(keys) >= n {
			break
		}
		keys = append(keys, k)
	}
	return keys
}

// LastUpdated returns the last update timestamp for an asset's book, or the
// zero time if untracked.
func (s *Store) LastUpdated(id string) time.Time {
	key := NormalizeKey(id)
	if key == "" {
		return time.Time{}
	}
	s.mu.RLock()
	b, ok := s.books[key]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
