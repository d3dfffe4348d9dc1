// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the scanner — market metadata,
// order book levels, proposal/plan/position records, and the WebSocket event
// payloads the provider ingest layer decodes. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a book level or simulated fill.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome identifies which binary token a proposal or plan trades.
type Outcome string

const (
	NO  Outcome = "NO"
	YES Outcome = "YES"
)

// EVMode selects which EV formula variant the filter and EV model use.
type EVMode string

const (
	EVModeBaseline EVMode = "baseline"
	EVModeCapture  EVMode = "capture"
)

// PlanMode is the strategy family that produced a TradePlan.
type PlanMode string

const (
	ModeCapture        PlanMode = "capture"
	ModeBaseline       PlanMode = "baseline"
	ModeCarry          PlanMode = "carry"
	ModeMicroCaptureV1 PlanMode = "micro_capture_v1"
)

// PlanStatus is a TradePlan's lifecycle stage.
type PlanStatus string

const (
	StatusProposed PlanStatus = "proposed"
	StatusQueued   PlanStatus = "queued"
	StatusExecuted PlanStatus = "executed"
)

// PriceSource records where a quoted price came from. Synthetic prices are
// never executable.
type PriceSource string

const (
	SourceWS           PriceSource = "ws"
	SourceHTTP         PriceSource = "http"
	SourceSyntheticAsk PriceSource = "synthetic_ask"
)

// AllowDecision is the risk engine's admission verdict.
type AllowDecision string

const (
	Allow            AllowDecision = "ALLOW"
	AllowReducedSize AllowDecision = "ALLOW_REDUCED_SIZE"
	Block            AllowDecision = "BLOCK"
)

// LedgerAction enumerates the audit actions the ledger records.
type LedgerAction string

const (
	ActionScanPass     LedgerAction = "scan_pass"
	ActionScanFail     LedgerAction = "scan_fail"
	ActionTradeBlocked LedgerAction = "trade_blocked"
	ActionTradeOpened  LedgerAction = "trade_opened"
	ActionTradeClosed  LedgerAction = "trade_closed"
	ActionPlanCreated  LedgerAction = "plan_created"
	ActionPlanExecuted LedgerAction = "plan_executed"
	ActionModeChange   LedgerAction = "mode_change"
)

// WindowKey is the coarse time-to-resolution risk bucket (component A).
type WindowKey string

const (
	Window0To72H   WindowKey = "W0_0_72H"
	Window3To7D    WindowKey = "W1_3_7D"
	Window8To30D   WindowKey = "W2_8_30D"
	Window31To180D WindowKey = "W3_31_180D"
	Window180DPlus WindowKey = "W4_180D_PLUS"
	WindowUnknown  WindowKey = "W_UNKNOWN"
)

// Mode is the execution-mode state machine's stored mode (component J).
type Mode string

const (
	Disarmed     Mode = "DISARMED"
	ArmedConfirm Mode = "ARMED_CONFIRM"
	ArmedAuto    Mode = "ARMED_AUTO"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// NormalizedMarket is the provider-independent view of one binary market,
// rebuilt fresh every scan cycle. It is never persisted.
type NormalizedMarket struct {
	MarketID     string
	ConditionID  string
	Question     string
	Rules        string // free-text resolution rules, scanned for ambiguity phrases
	Category     string
	YesTokenID   string
	NoTokenID    string
	LiquidityUSD float64
	Closed       bool
	EndDate      time.Time
	HasEndDate   bool
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// OrderLevel is a single bid or ask level. Both fields are non-negative.
type OrderLevel struct {
	Price float64
	Size  float64
}

// DepthSummary is the USD liquidity aggregate over a top-of-book prefix.
type DepthSummary struct {
	BidLiquidityUSD float64
	AskLiquidityUSD float64
	LevelsCount     int
}

// TopOfBook is the best bid/ask plus a depth summary for one token.
type TopOfBook struct {
	HasBid    bool
	Bid       float64
	HasAsk    bool
	Ask       float64
	HasSpread bool
	Spread    float64
	Depth     DepthSummary
}

// ————————————————————————————————————————————————————————————————————————
// Filter / EV / fill
// ————————————————————————————————————————————————————————————————————————

// CheckDiagnostic records one failed filter check's numeric value and
// threshold, used by the diagnostic_loose_filters near-miss reporting.
type CheckDiagnostic struct {
	Check     string
	Value     float64
	Threshold float64
}

// FilterResult is the filter evaluator's verdict for one market.
type FilterResult struct {
	Pass        bool
	Reasons     []string
	Flags       []string
	Diagnostics []CheckDiagnostic
}

// EVResult is the EV model's output: gross/fees/tail decomposition, net EV,
// the assumptions it was computed from, and a plain-text explanation trail.
type EVResult struct {
	GrossEV          float64
	FeesEstimate     float64
	TailRiskCost     float64
	NetEV            float64
	Assumptions      map[string]any
	Explanation      []string
	TailBypassed     bool
	TailBypassReason string
}

// TradeProposal is a candidate trade before risk admission.
type TradeProposal struct {
	MarketID      string
	ConditionID   string
	TokenID       string
	Outcome       Outcome
	Side          Side
	SizeUSD       float64
	BestAsk       float64
	Category      string
	AssumptionKey string
	WindowKey     WindowKey
}

// FillResult is the fill simulator's outcome for a proposal.
type FillResult struct {
	Filled         bool
	FillSizeUSD    float64
	FillSizeShares float64
	VWAP           float64
	Reason         string
	LevelsUsed     int
	SlippagePct    float64
	PriceSource    PriceSource
}

// ————————————————————————————————————————————————————————————————————————
// Risk
// ————————————————————————————————————————————————————————————————————————

// RiskState is the folded exposure view over all open positions.
type RiskState struct {
	TotalExposureUSD float64
	ByCategory       map[string]float64
	ByAssumptionKey  map[string]float64
	ByWindowKey      map[string]float64
	ByMarket         map[string]float64
	OpenCount        int
}

// HeadroomSnapshot is the remaining admissible USD per cap dimension.
type HeadroomSnapshot struct {
	Global     float64
	Category   float64
	Assumption float64
	Window     float64
	PerMarket  float64
}

// AllowTradeResult is the risk engine's admission verdict for one proposal.
type AllowTradeResult struct {
	Decision      AllowDecision
	Reasons       []string
	HasSuggested  bool
	SuggestedSize float64
	Headroom      HeadroomSnapshot
}

// ————————————————————————————————————————————————————————————————————————
// Plans and positions
// ————————————————————————————————————————————————————————————————————————

// TradePlan is a proposed, queued, or executed trade, keyed by a stable
// plan_id hashed from (market_id, outcome, mode).
type TradePlan struct {
	PlanID        string
	MarketID      string
	ConditionID   string
	TokenID       string
	Outcome       Outcome
	Mode          PlanMode
	SizeUSD       float64
	LimitPrice    float64
	Category      string
	AssumptionKey string
	WindowKey     WindowKey
	EVBreakdown   EVResult
	Headroom      HeadroomSnapshot
	Status        PlanStatus
	PriceSource   PriceSource
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExecutedAt    time.Time
	HasExecutedAt bool
}

// PaperPosition is an internally recorded paper trade — never a real order.
type PaperPosition struct {
	ID            string
	MarketID      string
	ConditionID   string
	Outcome       Outcome
	EntryPrice    float64
	SizeUSD       float64
	SizeShares    float64
	Category      string
	AssumptionKey string
	WindowKey     WindowKey
	OpenedAt      time.Time
	ClosedAt      time.Time
	HasClosedAt   bool
	ExpectedPnl   float64
}

// LedgerEntry is one append-only audit record.
type LedgerEntry struct {
	Timestamp time.Time
	Action    LedgerAction
	MarketID  string
	Metadata  map[string]any
}

// ModeState is the execution-mode manager's current state (component J).
// Invariant: panic forces the effective mode to DISARMED regardless of the
// stored mode.
type ModeState struct {
	Mode  Mode
	Panic bool
}

// ————————————————————————————————————————————————————————————————————————
// Reporting
// ————————————————————————————————————————————————————————————————————————

// WorstCandidate is a near-miss diagnostic record: a market that almost
// produced a plan but was rejected by EV or the fill simulator.
type WorstCandidate struct {
	MarketID string
	Reason   string // e.g. "ev_negative", "no_fill"
	EV       *EVResult
	Fill     *FillResult
}

// ReportSnapshot groups the /status-style fields for a daily report. No
// package in this module builds or reads one; /status uses its own
// response type.
type ReportSnapshot struct {
	Mode            Mode
	Panic           bool
	QueueLength     int
	LastScanAt      time.Time
	TradesProposed  int
	EVMode          EVMode
	CarryEnabled    bool
	CarryDebug      map[string]int
	WorstCandidates []WorstCandidate
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events (market channel)
// ————————————————————————————————————————————————————————————————————————
// These map 1:1 to the JSON messages sent over the upstream market data
// WebSocket. "book" is a full snapshot, "price_change" is an incremental
// delta. The scanner never opens the authenticated user channel — it has
// no orders to receive fills or lifecycle events for.

// WSPriceLevel is a single bid/ask level as it appears on the wire.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string         `json:"event_type"` // always "book"
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"` // condition ID
	Timestamp string         `json:"timestamp"`
	Buys      []WSPriceLevel `json:"buys"`  // bid levels
	Sells     []WSPriceLevel `json:"sells"` // ask levels
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"` // the price level that changed
	Size    string `json:"size"`  // new size at that level (0 = removed)
	Side    string `json:"side"`  // "BUY" or "SELL"
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to the market WS channel.
type WSSubscribeMsg struct {
	Type     string   `json:"type"` // always "market"
	AssetIDs []string `json:"assets_ids"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from assets
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// REST responses
// ————————————————————————————————————————————————————————————————————————

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}
