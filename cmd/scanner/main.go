// Prediction-market scanner — a read-only scanner and paper-trading risk
// governor for binary prediction markets.
//
// Architecture:
//
//	main.go                  — entry point: safety preflight, config, wiring, signal-based shutdown
//	internal/provider         — Gamma market listing + CLOB REST/WS book ingest
//	internal/book             — local order-book mirror (component B)
//	internal/filter           — admission thresholds (component D)
//	internal/ev               — expected-value model (component E)
//	internal/fill              — fill simulator (component F)
//	internal/carry            — resolution-carry candidate selector (component G)
//	internal/risk             — correlated-exposure risk engine (component H)
//	internal/keying           — assumption/window keying (component A)
//	internal/planstore        — plan store + confirm queue (component I)
//	internal/mode             — execution-mode state machine (component J)
//	internal/scan             — scan cycle orchestrator (component K)
//	internal/api              — control API + /stream (component L)
//	internal/ledger           — append-only audit log + positions snapshot (component M)
//	internal/safety           — startup credential preflight
//
// The scanner never signs or places a real order. Every trade it "opens"
// is a PaperPosition recorded in the ledger; /confirm and the auto-execute
// path both still run it through the risk engine before opening anything.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"predict-scanner/internal/api"
	"predict-scanner/internal/book"
	"predict-scanner/internal/carry"
	"predict-scanner/internal/config"
	"predict-scanner/internal/ev"
	"predict-scanner/internal/filter"
	"predict-scanner/internal/fill"
	"predict-scanner/internal/ledger"
	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/internal/provider"
	"predict-scanner/internal/risk"
	"predict-scanner/internal/safety"
	"predict-scanner/internal/scan"
	"predict-scanner/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SCANNER_CONFIG"); p != "" {
		cfgPath = p
	}

	if violations := safety.Preflight(cfgPath); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, "safety preflight violation:", v.String())
		}
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	ledgerStore, err := ledger.Open(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}

	modeManager := mode.NewManager(func(from, to types.ModeState) {
		ledgerStore.Append(types.LedgerEntry{
			Timestamp: time.Now(),
			Action:    types.ActionModeChange,
			Metadata: map[string]any{
				"from_mode": string(from.Mode), "from_panic": from.Panic,
				"to_mode": string(to.Mode), "to_panic": to.Panic,
			},
		})
	})

	riskEngine := risk.NewEngine(risk.Config{
		MaxTotalExposureUSD:         cfg.Risk.MaxTotalExposureUSD,
		MaxExposurePerMarketUSD:     cfg.Risk.MaxExposurePerMarketUSD,
		MaxExposurePerCategoryUSD:   cfg.Risk.MaxExposurePerCategoryUSD,
		MaxExposurePerAssumptionUSD: cfg.Risk.MaxExposurePerAssumptionUSD,
		MaxExposurePerWindowUSD:     cfg.Risk.MaxExposurePerWindowUSD,
		MaxPositionsOpen:            cfg.Risk.MaxPositionsOpen,
		KillSwitchEnabled:           cfg.Risk.KillSwitchEnabled,
	}, logger)

	planStore := planstore.New()
	bookStore := book.NewStore()

	gammaClient := provider.NewGammaClient(provider.Config{
		GammaBaseURL:        cfg.API.GammaBaseURL,
		PageLimit:           100,
		RequestTimeout:      15 * time.Second,
		IncludeConditionIDs: cfg.Scanner.IncludeConditionIDs,
		IncludeSlugs:        cfg.Scanner.IncludeSlugs,
		IncludeKeywords:     cfg.Scanner.IncludeKeywords,
		ExcludeSlugs:        cfg.Scanner.ExcludeSlugs,
		ExcludeKeywords:     cfg.Scanner.ExcludeKeywords,
		MaxEndDateDays:      cfg.Scanner.MaxEndDateDays,
	}, logger)

	bookClient := provider.NewBookClient(cfg.API.CLOBRestBaseURL, 15*time.Second)
	marketFeed := provider.NewMarketFeed(cfg.WS.MarketURL, bookStore, logger)

	evMode := types.EVMode(cfg.Fees.EVMode)

	filterCfg := filter.DefaultConfig()
	filterCfg.MinNoPrice = cfg.Selection.MinNoPrice
	filterCfg.MaxSpread = cfg.Selection.MaxSpread
	filterCfg.MinLiquidityUSD = cfg.Selection.MinLiquidityUSD
	filterCfg.MaxTimeToResolutionHours = cfg.Selection.MaxTimeToResolutionHours
	filterCfg.CaptureMinNoAsk = cfg.Selection.CaptureMinNoAsk
	filterCfg.CaptureMaxNoAsk = cfg.Selection.CaptureMaxNoAsk
	filterCfg.EVMode = evMode
	if cfg.DiagnosticLooseFilters {
		filterCfg = filter.LooseConfig()
		filterCfg.Diagnostic = true
	}

	scanCfg := scan.Config{
		PollInterval:      cfg.PollInterval(),
		WSSubscriptionCap: cfg.WS.MaxAssetsSubscribed,
		OrderSizeUSD:      cfg.Simulation.DefaultOrderSizeUSD,
		Filter:            filterCfg,
		EV: ev.Config{
			FeeBps:                             cfg.Fees.FeeBps,
			PTail:                              cfg.Fees.PTail,
			TailLossFraction:                   cfg.Fees.TailLossFraction,
			AmbiguousResolutionPTailMultiplier: cfg.Fees.AmbiguousResolutionPTailMultiplier,
			EVMode:                             evMode,
		},
		Fill: fill.Config{
			DefaultOrderSizeUSD: cfg.Simulation.DefaultOrderSizeUSD,
			SlippageBps:         cfg.Simulation.SlippageBps,
			MaxFillDepthLevels:  cfg.Simulation.MaxFillDepthLevels,
		},
		Carry: carry.Config{
			Enabled:             cfg.Carry.Enabled,
			ROIMinPct:           cfg.Carry.ROIMinPct,
			ROIMaxPct:           cfg.Carry.ROIMaxPct,
			MaxSpread:           cfg.Carry.MaxSpread,
			MaxDays:             cfg.Carry.MaxDays,
			MinDaysToResolution: cfg.Carry.MinDaysToResolution,
			SpreadEdgeMaxRatio:  cfg.Carry.SpreadEdgeMaxRatio,
			SpreadEdgeMinAbs:    cfg.Carry.SpreadEdgeMinAbs,
			AllowSyntheticAsk:   cfg.Carry.AllowSyntheticAsk,
			SyntheticTick:       cfg.Carry.SyntheticTick,
			SyntheticMaxAsk:     cfg.Carry.SyntheticMaxAsk,
			AllowHTTPFallback:   cfg.Carry.AllowHTTPFallback,
			AllowCategories:     cfg.Carry.AllowCategories,
			AllowKeywords:       cfg.Carry.AllowKeywords,
			MinAskLiquidityUSD:  cfg.Carry.MinAskLiquidityUSD,
		},
	}

	orchestrator := scan.New(gammaClient, bookClient, marketFeed, bookStore, riskEngine, planStore, modeManager, ledgerStore, logger, scanCfg)

	apiServer := api.NewServer(api.Config{
		Addr:           fmt.Sprintf(":%d", cfg.ControlAPI.Port),
		BuildID:        buildID(),
		AllowedOrigins: cfg.ControlAPI.AllowedOrigins,
	}, bookStore, planStore, modeManager, riskEngine, ledgerStore, orchestrator, bookClient, scanCfg.Fill, evMode, cfg.Carry.Enabled, logger)

	ctx, cancel := context.WithCancel(context.Background())

	go marketFeed.Run(ctx)
	go orchestrator.Run(ctx)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("control api failed", "error", err)
		}
	}()

	logger.Info("scanner started",
		"control_api_port", cfg.ControlAPI.Port,
		"poll_interval", cfg.PollInterval(),
		"carry_enabled", cfg.Carry.Enabled,
		"ev_mode", string(evMode),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop control api", "error", err)
	}
	marketFeed.Close()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildID identifies the running binary for the X-Build-Id response
// header; SCANNER_BUILD_ID is set by the release pipeline, "dev" otherwise.
func buildID() string {
	if id := os.Getenv("SCANNER_BUILD_ID"); id != "" {
		return id
	}
	return "dev"
}
