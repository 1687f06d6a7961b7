// Metal Bank - Conversational Loan Dispatcher Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/metalbank/internal/api"
	"github.com/ashureev/metalbank/internal/config"
	"github.com/ashureev/metalbank/internal/convlog"
	"github.com/ashureev/metalbank/internal/delegate"
	"github.com/ashureev/metalbank/internal/gate"
	"github.com/ashureev/metalbank/internal/identity"
	"github.com/ashureev/metalbank/internal/interpreter"
	"github.com/ashureev/metalbank/internal/middleware"
	"github.com/ashureev/metalbank/internal/risk"
	"github.com/ashureev/metalbank/internal/store"
	"github.com/ashureev/metalbank/internal/workflow"
	"github.com/ashureev/metalbank/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// NL collaborator: remote when a key is configured, deterministic
	// heuristic otherwise.
	var interp interpreter.Interpreter
	if cfg.Interpreter.APIKey != "" {
		interp = interpreter.NewOpenAIClient(cfg.Interpreter.APIKey, cfg.Interpreter.Model, cfg.Interpreter.BaseURL, logger)
		slog.Info("Interpreter initialized", "mode", "remote", "model", cfg.Interpreter.Model)
	} else {
		interp = &interpreter.Heuristic{}
		slog.Info("Interpreter initialized", "mode", "heuristic")
	}

	// Background-check collaborator.
	var riskLookup risk.Lookup
	if cfg.RiskServiceURL != "" {
		riskLookup = risk.NewClient(cfg.RiskServiceURL, cfg.RemoteTimeout, logger)
		slog.Info("Background check service configured", "url", cfg.RiskServiceURL)
	} else {
		riskLookup = &risk.Static{}
		slog.Info("Background check service not configured, using static defaults")
	}

	// Clandestine delegate.
	var del delegate.Delegate
	if cfg.DelegateServiceURL != "" {
		del = delegate.NewClient(cfg.DelegateServiceURL, cfg.RemoteTimeout, logger)
		slog.Info("Delegate service configured")
	} else {
		slog.Info("Delegate service not configured")
	}

	transcript, err := convlog.New(convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	broker := workflow.NewBroker(cfg.ConfirmTimeout, logger)
	g := gate.New(cfg.Passphrase, workflow.IntentClassifier{Interp: interp})
	coord := workflow.NewCoordinator(repo, g, interp, riskLookup, del, broker, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg.FrontendURL)
	healthHandler := api.NewHealthHandler(repo)
	conversationHandler := api.NewConversationHandler(baseHandler, coord, broker, transcript)
	loanHandler := api.NewLoanHandler(baseHandler, broker)
	sockets := api.NewSocketRegistry()
	wsHandler := api.NewWebSocketHandler(baseHandler, coord, sockets, transcript, cfg.ConfirmTimeout, cfg.FrontendURL)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))
	r.Use(middleware.RateLimit(middleware.NewKeyLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute)))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	conversationHandler.RegisterRoutes(r)
	loanHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/conversation", wsHandler.ServeHTTP)

	// Serve the embedded console.
	r.Handle("/*", web.Handler())

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Turn requests may block on a confirmation round-trip, so writes
		// get no fixed deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSessionSweeper(ctx, repo, cfg.SessionSweepPeriod, cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
