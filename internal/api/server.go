package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"predict-scanner/internal/book"
	"predict-scanner/internal/carry"
	"predict-scanner/internal/fill"
	"predict-scanner/internal/ledger"
	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/internal/risk"
	"predict-scanner/pkg/types"
)

// Config holds the control API's own tunables, independent of the domain
// config so the package can be unit tested without a full config.Config.
type Config struct {
	Addr           string
	BuildID        string
	AllowedOrigins []string
}

// Server runs the control API and the observational /stream feed.
type Server struct {
	cfg      Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires every endpoint in the control API's table onto a mux,
// mirroring the teacher's server.go's flat HandleFunc registration.
func NewServer(
	cfg Config,
	store *book.Store,
	planStore *planstore.Store,
	modeManager *mode.Manager,
	riskEngine *risk.Engine,
	ledgerStore *ledger.Ledger,
	orchestrator metaProvider,
	httpFetcher carry.HTTPFetcher,
	fillCfg fill.Config,
	evMode types.EVMode,
	carryEnabled bool,
	logger *slog.Logger,
) *Server {
	handlers := NewHandlers(store, planStore, modeManager, riskEngine, ledgerStore, orchestrator, httpFetcher, fillCfg, evMode, carryEnabled, logger)
	hub := NewHub(planStore, modeManager, cfg.AllowedOrigins, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", handlers.HandleStatus)
	mux.HandleFunc("/plans", handlers.HandlePlans)
	mux.HandleFunc("/book", handlers.HandleBook)
	mux.HandleFunc("/has-book", handlers.HandleHasBook)
	mux.HandleFunc("/fill", handlers.HandleFill)
	mux.HandleFunc("/books-debug", handlers.HandleBooksDebug)
	mux.HandleFunc("/confirm", handlers.HandleConfirm)
	mux.HandleFunc("/disarm", handlers.HandleDisarm)
	mux.HandleFunc("/arm_confirm", handlers.HandleArmConfirm)
	mux.HandleFunc("/arm_auto", handlers.HandleArmAuto)
	mux.HandleFunc("/panic", handlers.HandlePanic)
	mux.HandleFunc("/stream", hub.HandleStream)

	handler := buildIDMiddleware(cfg.BuildID, accessLogMiddleware(logger, mux))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   srv,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the stream hub's poll loop and blocks serving HTTP until Stop
// shuts the server down.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("control api starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping control api")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Stop()
	return s.server.Shutdown(ctx)
}

func buildIDMiddleware(buildID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Build-Id", buildID)
		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("api request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
