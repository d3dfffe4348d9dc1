package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"predict-scanner/internal/httpclient"
	"predict-scanner/pkg/types"
)

// TokenBucket is a continuously-refilling token-bucket rate limiter.
// Callers block in Wait() until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// refill rate in tokens per second.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// BookClient fetches order book snapshots and top-of-book over REST,
// rate-limited by a token bucket with a burst of 150 requests refilled
// continuously at 15 per second (150 requests per 10s).
type BookClient struct {
	http *resty.Client
	rl   *TokenBucket
}

// NewBookClient creates a REST order-book client.
func NewBookClient(baseURL string, timeout time.Duration) *BookClient {
	client := httpclient.New(httpclient.Options{
		BaseURL:       baseURL,
		Timeout:       timeout,
		RetryCount:    3,
		RetryWaitTime: 500 * time.Millisecond,
		RetryMaxWait:  5 * time.Second,
	})

	return &BookClient{
		http: client,
		rl:   NewTokenBucket(150, 15),
	}
}

// FetchSnapshot fetches the full L2 order book for a single token.
func (c *BookClient) FetchSnapshot(ctx context.Context, tokenID string) (bids, asks []types.OrderLevel, err error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}

	bids = levelsFromWire(result.Bids)
	asks = levelsFromWire(result.Asks)
	return bids, asks, nil
}

// FetchTopOfBook fetches a snapshot and reduces it to a TopOfBook, the shape
// the carry selector's HTTP fallback needs. It satisfies carry.HTTPFetcher.
func (c *BookClient) FetchTopOfBook(ctx context.Context, tokenID string) (types.TopOfBook, error) {
	bids, asks, err := c.FetchSnapshot(ctx, tokenID)
	if err != nil {
		return types.TopOfBook{}, err
	}

	var tob types.TopOfBook
	if len(bids) > 0 {
		best := bids[0]
		for _, l := range bids[1:] {
			if l.Price > best.Price {
				best = l
			}
		}
		tob.HasBid = true
		tob.Bid = best.Price
	}
	if len(asks) > 0 {
		best := asks[0]
		for _, l := range asks[1:] {
			if l.Price < best.Price {
				best = l
			}
		}
		tob.HasAsk = true
		tob.Ask = best.Price
	}
	if tob.HasBid && tob.HasAsk {
		tob.HasSpread = true
		tob.Spread = tob.Ask - tob.Bid
	}
	for _, l := range bids {
		tob.Depth.BidLiquidityUSD += l.Price * l.Size
	}
	for _, l := range asks {
		tob.Depth.AskLiquidityUSD += l.Price * l.Size
	}
	tob.Depth.LevelsCount = len(bids)
	if len(asks) > tob.Depth.LevelsCount {
		tob.Depth.LevelsCount = len(asks)
	}
	return tob, nil
}

func levelsFromWire(wire []types.WSPriceLevel) []types.OrderLevel {
	out := make([]types.OrderLevel, 0, len(wire))
	for _, l := range wire {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, types.OrderLevel{Price: price, Size: size})
	}
	return out
}
