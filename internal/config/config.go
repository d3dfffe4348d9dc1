// Package config defines all configuration for the scanner. Config is
// loaded from a YAML file (default: configs/config.yaml) with fields
// overridable via SCAN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	API                    APIConfig       `mapstructure:"api"`
	WS                     WSConfig        `mapstructure:"ws"`
	Scanner                ScannerConfig   `mapstructure:"scanner"`
	Selection              SelectionConfig `mapstructure:"selection"`
	Fees                   FeesConfig      `mapstructure:"fees"`
	Simulation             SimulationConfig `mapstructure:"simulation"`
	Risk                   RiskConfig      `mapstructure:"risk"`
	Carry                  CarryConfig     `mapstructure:"carry"`
	Reporting              ReportingConfig `mapstructure:"reporting"`
	ControlAPI             ControlAPIConfig `mapstructure:"control_api"`
	Store                  StoreConfig     `mapstructure:"store"`
	Logging                LoggingConfig   `mapstructure:"logging"`
	DiagnosticLooseFilters bool            `mapstructure:"diagnostic_loose_filters"`
}

// APIConfig holds upstream Gamma/CLOB REST endpoints.
type APIConfig struct {
	GammaBaseURL    string `mapstructure:"gamma_base_url"`
	CLOBRestBaseURL string `mapstructure:"clob_rest_base_url"`
}

// WSConfig holds the upstream market-data WebSocket endpoint and the
// subscription cap enforced by the scan orchestrator.
type WSConfig struct {
	MarketURL           string `mapstructure:"market_url"`
	MaxAssetsSubscribed int    `mapstructure:"max_assets_subscribed"`
}

// ScannerConfig controls scan cadence and discovery scope.
type ScannerConfig struct {
	PollIntervalMs      int      `mapstructure:"poll_interval_ms"`
	MaxEndDateDays      int      `mapstructure:"max_end_date_days"`
	IncludeConditionIDs []string `mapstructure:"include_condition_ids"`
	IncludeSlugs        []string `mapstructure:"include_slugs"`
	IncludeKeywords     []string `mapstructure:"include_keywords"`
	ExcludeSlugs        []string `mapstructure:"exclude_slugs"`
	ExcludeKeywords     []string `mapstructure:"exclude_keywords"`
}

// SelectionConfig sets the filter evaluator's admission thresholds.
type SelectionConfig struct {
	MinNoPrice               float64 `mapstructure:"min_no_price"`
	MaxSpread                float64 `mapstructure:"max_spread"`
	MinLiquidityUSD          float64 `mapstructure:"min_liquidity_usd"`
	MaxTimeToResolutionHours float64 `mapstructure:"max_time_to_resolution_hours"`
	CaptureMinNoAsk          float64 `mapstructure:"capture_min_no_ask"`
	CaptureMaxNoAsk          float64 `mapstructure:"capture_max_no_ask"`
}

// FeesConfig sets the EV model's fee/tail-risk parameters.
type FeesConfig struct {
	FeeBps                             float64 `mapstructure:"fee_bps"`
	PTail                              float64 `mapstructure:"p_tail"`
	TailLossFraction                   float64 `mapstructure:"tail_loss_fraction"`
	AmbiguousResolutionPTailMultiplier float64 `mapstructure:"ambiguous_resolution_p_tail_multiplier"`
	EVMode                             string  `mapstructure:"ev_mode"`
}

// SimulationConfig sets the fill simulator's behavior.
type SimulationConfig struct {
	DefaultOrderSizeUSD float64 `mapstructure:"default_order_size_usd"`
	SlippageBps         float64 `mapstructure:"slippage_bps"`
	MaxFillDepthLevels  int     `mapstructure:"max_fill_depth_levels"`
}

// RiskConfig sets the risk engine's correlated-exposure caps.
type RiskConfig struct {
	MaxTotalExposureUSD         float64 `mapstructure:"max_total_exposure_usd"`
	MaxExposurePerMarketUSD     float64 `mapstructure:"max_exposure_per_market_usd"`
	MaxExposurePerCategoryUSD   float64 `mapstructure:"max_exposure_per_category_usd"`
	MaxExposurePerAssumptionUSD float64 `mapstructure:"max_exposure_per_assumption_usd"`
	MaxExposurePerWindowUSD     float64 `mapstructure:"max_exposure_per_resolution_window_usd"`
	MaxPositionsOpen            int     `mapstructure:"max_positions_open"`
	KillSwitchEnabled           bool    `mapstructure:"kill_switch_enabled"`
}

// CarryConfig sets the carry selector's policy.
type CarryConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	ROIMinPct           float64  `mapstructure:"roi_min_pct"`
	ROIMaxPct           float64  `mapstructure:"roi_max_pct"`
	MaxSpread           float64  `mapstructure:"max_spread"`
	MaxDays             float64  `mapstructure:"max_days"`
	MinDaysToResolution float64  `mapstructure:"min_days_to_resolution"`
	SpreadEdgeMaxRatio  float64  `mapstructure:"spread_edge_max_ratio"`
	SpreadEdgeMinAbs    float64  `mapstructure:"spread_edge_min_abs"`
	AllowSyntheticAsk   bool     `mapstructure:"allow_synthetic_ask"`
	SyntheticTick       float64  `mapstructure:"synthetic_tick"`
	SyntheticMaxAsk     float64  `mapstructure:"synthetic_max_ask"`
	AllowHTTPFallback   bool     `mapstructure:"allow_http_fallback"`
	AllowCategories     []string `mapstructure:"allow_categories"`
	AllowKeywords       []string `mapstructure:"allow_keywords"`
	MinAskLiquidityUSD  float64  `mapstructure:"min_ask_liquidity_usd"`
}

// ReportingConfig controls the daily summary report, generated alongside
// the control API but outside its HTTP surface.
type ReportingConfig struct {
	ReportDir            string `mapstructure:"report_dir"`
	DailyReportHourLocal int    `mapstructure:"daily_report_hour_local"`
	ReportIntervalMin    int    `mapstructure:"report_interval_minutes"`
	PrintTopN            int    `mapstructure:"print_top_n"`
}

// ControlAPIConfig sets the HTTP control-API listener and its CORS-style
// origin allowlist for /stream.
type ControlAPIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig sets where the ledger and positions snapshot are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig selects the slog handler's level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Every field
// is overridable via SCAN_<SECTION>_<KEY>, e.g. SCAN_RISK_MAX_TOTAL_EXPOSURE_USD.
// The config path itself can be set via the SCANNER_CONFIG env var, which
// takes precedence over path when set.
func Load(path string) (*Config, error) {
	if env := os.Getenv("SCANNER_CONFIG"); env != "" {
		path = env
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.clob_rest_base_url", "https://clob.polymarket.com")
	v.SetDefault("ws.market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("ws.max_assets_subscribed", 500)
	v.SetDefault("scanner.poll_interval_ms", 60_000)
	v.SetDefault("scanner.max_end_date_days", 365)
	v.SetDefault("selection.min_no_price", 0.01)
	v.SetDefault("selection.max_spread", 0.05)
	v.SetDefault("selection.min_liquidity_usd", 1000.0)
	v.SetDefault("selection.max_time_to_resolution_hours", float64(24*180))
	v.SetDefault("selection.capture_min_no_ask", 0.45)
	v.SetDefault("selection.capture_max_no_ask", 0.60)
	v.SetDefault("fees.fee_bps", 0.0)
	v.SetDefault("fees.p_tail", 0.02)
	v.SetDefault("fees.tail_loss_fraction", 0.5)
	v.SetDefault("fees.ambiguous_resolution_p_tail_multiplier", 2.0)
	v.SetDefault("fees.ev_mode", "baseline")
	v.SetDefault("simulation.default_order_size_usd", 100.0)
	v.SetDefault("simulation.slippage_bps", 50.0)
	v.SetDefault("simulation.max_fill_depth_levels", 10)
	v.SetDefault("risk.max_total_exposure_usd", 5000.0)
	v.SetDefault("risk.max_exposure_per_market_usd", 500.0)
	v.SetDefault("risk.max_exposure_per_category_usd", 1500.0)
	v.SetDefault("risk.max_exposure_per_assumption_usd", 750.0)
	v.SetDefault("risk.max_exposure_per_resolution_window_usd", 1500.0)
	v.SetDefault("risk.max_positions_open", 50)
	v.SetDefault("risk.kill_switch_enabled", true)
	v.SetDefault("carry.enabled", false)
	v.SetDefault("carry.roi_min_pct", 1.0)
	v.SetDefault("carry.roi_max_pct", 15.0)
	v.SetDefault("carry.max_spread", 0.02)
	v.SetDefault("carry.max_days", 30.0)
	v.SetDefault("carry.min_days_to_resolution", 1.0)
	v.SetDefault("carry.spread_edge_max_ratio", 0.5)
	v.SetDefault("carry.spread_edge_min_abs", 0.005)
	v.SetDefault("carry.allow_synthetic_ask", false)
	v.SetDefault("carry.synthetic_tick", 0.01)
	v.SetDefault("carry.synthetic_max_ask", 0.99)
	v.SetDefault("carry.allow_http_fallback", true)
	v.SetDefault("carry.min_ask_liquidity_usd", 500.0)
	v.SetDefault("reporting.report_dir", "./reports")
	v.SetDefault("reporting.daily_report_hour_local", 23)
	v.SetDefault("reporting.report_interval_minutes", 60)
	v.SetDefault("reporting.print_top_n", 10)
	v.SetDefault("control_api.port", 8090)
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// PollInterval returns scanner.poll_interval_ms as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scanner.PollIntervalMs) * time.Millisecond
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.API.CLOBRestBaseURL == "" {
		return fmt.Errorf("api.clob_rest_base_url is required")
	}
	if c.WS.MarketURL == "" {
		return fmt.Errorf("ws.market_url is required")
	}
	if c.Scanner.PollIntervalMs <= 0 {
		return fmt.Errorf("scanner.poll_interval_ms must be > 0")
	}
	if c.Simulation.DefaultOrderSizeUSD <= 0 {
		return fmt.Errorf("simulation.default_order_size_usd must be > 0")
	}
	if c.Risk.MaxTotalExposureUSD <= 0 {
		return fmt.Errorf("risk.max_total_exposure_usd must be > 0")
	}
	if c.Risk.MaxPositionsOpen <= 0 {
		return fmt.Errorf("risk.max_positions_open must be > 0")
	}
	switch c.Fees.EVMode {
	case "baseline", "capture":
	default:
		return fmt.Errorf("fees.ev_mode must be one of: baseline, capture")
	}
	if c.ControlAPI.Port <= 0 {
		return fmt.Errorf("control_api.port must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}
