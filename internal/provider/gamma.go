// Package provider adapts the upstream Gamma metadata API and CLOB
// REST/WebSocket endpoints into the scanner's provider-independent shapes:
// NormalizedMarket, order book snapshots, and top-of-book. Nothing
// downstream of this package knows the upstream wire format.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"predict-scanner/internal/httpclient"
	"predict-scanner/pkg/types"
)

// Config controls market discovery: which Gamma listings are in scope and
// how they are paged. Price/spread/liquidity/time-to-resolution admission
// is the filter evaluator's job (internal/filter), not this package's —
// GammaClient only decides which markets are structurally eligible to be
// considered at all.
type Config struct {
	GammaBaseURL        string
	PageLimit           int
	RequestTimeout      time.Duration
	IncludeConditionIDs []string
	IncludeSlugs        []string
	IncludeKeywords     []string
	ExcludeSlugs        []string
	ExcludeKeywords     []string
	MaxEndDateDays      int
}

// DefaultConfig returns reasonable Gamma polling defaults.
func DefaultConfig() Config {
	return Config{
		GammaBaseURL:   "https://gamma-api.polymarket.com",
		PageLimit:      100,
		RequestTimeout: 15 * time.Second,
		MaxEndDateDays: 365,
	}
}

// gammaMarket is the JSON shape returned by GET /markets.
type gammaMarket struct {
	ID              string  `json:"id"`
	Question        string  `json:"question"`
	ConditionID     string  `json:"conditionId"`
	Slug            string  `json:"slug"`
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	AcceptingOrders bool    `json:"acceptingOrders"`
	EnableOrderBook bool    `json:"enableOrderBook"`
	EndDate         string  `json:"endDate"`
	Liquidity       string  `json:"liquidity"`
	ClobTokenIds    string  `json:"clobTokenIds"`
	Volume24hr      float64 `json:"volume24hr"`
}

// GammaClient lists in-scope markets from the Gamma API, paginating until
// a short page signals the end of the result set.
type GammaClient struct {
	http   *resty.Client
	cfg    Config
	logger *slog.Logger
}

// NewGammaClient creates a Gamma market-listing client.
func NewGammaClient(cfg Config, logger *slog.Logger) *GammaClient {
	client := httpclient.New(httpclient.Options{
		BaseURL:       cfg.GammaBaseURL,
		Timeout:       cfg.RequestTimeout,
		RetryCount:    2,
		RetryWaitTime: time.Second,
	})

	return &GammaClient{
		http:   client,
		cfg:    cfg,
		logger: logger.With("component", "provider_gamma"),
	}
}

// ListMarkets fetches every active, open, order-book-enabled market, applies
// the structural include/exclude filters, and converts the result to
// NormalizedMarket. It never touches price, spread, or liquidity admission —
// that belongs to the filter evaluator downstream.
func (c *GammaClient) ListMarkets(ctx context.Context) ([]types.NormalizedMarket, error) {
	raw, err := c.fetchPages(ctx)
	if err != nil {
		return nil, err
	}

	eligible := c.applyScope(raw)

	markets := make([]types.NormalizedMarket, 0, len(eligible))
	for _, gm := range eligible {
		markets = append(markets, convertMarket(gm))
	}
	return markets, nil
}

func (c *GammaClient) fetchPages(ctx context.Context) ([]gammaMarket, error) {
	var all []gammaMarket
	offset := 0
	limit := c.cfg.PageLimit
	if limit <= 0 {
		limit = 100
	}

	for {
		var page []gammaMarket
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		all = append(all, page...)
		if len(page) < limit {
			break
		}
		offset += limit
	}

	return all, nil
}

// applyScope drops markets that cannot possibly be traded (inactive, closed,
// not accepting orders, no order book, no token ids) and applies the
// configured include/exclude slug and keyword lists.
func (c *GammaClient) applyScope(markets []gammaMarket) []gammaMarket {
	includeConditions := toLowerSet(c.cfg.IncludeConditionIDs)
	includeSlugs := toLowerSet(c.cfg.IncludeSlugs)
	includeKeywords := toLowerSlice(c.cfg.IncludeKeywords)
	excludeSlugs := toLowerSet(c.cfg.ExcludeSlugs)
	excludeKeywords := toLowerSlice(c.cfg.ExcludeKeywords)
	hasIncludeFilter := len(includeConditions) > 0 || len(includeSlugs) > 0 || len(includeKeywords) > 0

	now := time.Now()
	maxEnd := now.AddDate(0, 0, c.cfg.MaxEndDateDays)

	result := make([]gammaMarket, 0, len(markets))
	for _, m := range markets {
		if !m.Active || m.Closed || !m.AcceptingOrders || !m.EnableOrderBook {
			continue
		}
		if m.ClobTokenIds == "" {
			continue
		}

		slugLower := strings.ToLower(m.Slug)
		questionLower := strings.ToLower(m.Question)
		conditionLower := strings.ToLower(m.ConditionID)

		if hasIncludeFilter {
			matched := includeConditions[conditionLower] || includeSlugs[slugLower]
			if !matched {
				matched = containsAny(slugLower, questionLower, includeKeywords)
			}
			if !matched {
				continue
			}
		}

		if excludeSlugs[slugLower] {
			continue
		}
		if containsAny(slugLower, questionLower, excludeKeywords) {
			continue
		}

		if m.EndDate != "" {
			endDate, err := time.Parse(time.RFC3339, m.EndDate)
			if err != nil {
				continue
			}
			if endDate.Before(now) || endDate.After(maxEnd) {
				continue
			}
		}

		result = append(result, m)
	}
	return result
}

func toLowerSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out[s] = true
		}
	}
	return out
}

func toLowerSlice(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(slug, question string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(slug, kw) || strings.Contains(question, kw) {
			return true
		}
	}
	return false
}

func convertMarket(gm gammaMarket) types.NormalizedMarket {
	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		_ = json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs)
	}
	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken = tokenIDs[0]
		noToken = tokenIDs[1]
	}

	category := strings.TrimSpace(gm.Category)
	if category == "" {
		category = "uncategorized"
	}

	endDate, err := time.Parse(time.RFC3339, gm.EndDate)
	hasEndDate := err == nil && gm.EndDate != ""

	return types.NormalizedMarket{
		MarketID:     gm.ID,
		ConditionID:  gm.ConditionID,
		Question:     gm.Question,
		Rules:        gm.Description,
		Category:     category,
		YesTokenID:   yesToken,
		NoTokenID:    noToken,
		LiquidityUSD: liquidity,
		Closed:       gm.Closed,
		EndDate:      endDate,
		HasEndDate:   hasEndDate,
	}
}
