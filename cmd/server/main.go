// CrewDesk - Agent Session & Concurrency Orchestrator Server
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

	"github.com/foremanlabs/crewdesk/internal/admission"
	"github.com/foremanlabs/crewdesk/internal/api"
	"github.com/foremanlabs/crewdesk/internal/backend"
	"github.com/foremanlabs/crewdesk/internal/config"
	"github.com/foremanlabs/crewdesk/internal/identity"
	"github.com/foremanlabs/crewdesk/internal/middleware"
	"github.com/foremanlabs/crewdesk/internal/notify"
	"github.com/foremanlabs/crewdesk/internal/orchestrator"
	"github.com/foremanlabs/crewdesk/internal/registry"
	"github.com/foremanlabs/crewdesk/internal/router"
	"github.com/foremanlabs/crewdesk/internal/store"
	"github.com/foremanlabs/crewdesk/internal/tier"
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

	// Tier policy table, built-in or file-defined.
	tiers := tier.Load()
	if cfg.TierPolicyPath != "" {
		tiers, err = tier.LoadFile(cfg.TierPolicyPath)
		if err != nil {
			slog.Error("Failed to load tier policy file", "path", cfg.TierPolicyPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Tier policy table loaded", "path", cfg.TierPolicyPath)
	}

	// Routing keyword table, built-in or file-defined.
	table := router.DefaultKeywordTable
	if cfg.RoutingTablePath != "" {
		table, err = router.LoadTable(cfg.RoutingTablePath)
		if err != nil {
			slog.Error("Failed to load routing table", "path", cfg.RoutingTablePath, "error", err)
			os.Exit(1)
		}
		slog.Info("Routing table loaded", "path", cfg.RoutingTablePath, "routes", len(table))
	}

	// Durable conversation history behind the in-memory registry.
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

	// Agent backend: hosted service when configured, stub otherwise.
	var agents backend.Backend
	if cfg.BackendAddr != "" {
		client, err := backend.NewHTTPClient(backend.DefaultHTTPClientConfig(cfg.BackendAddr), logger)
		if err != nil {
			slog.Error("Failed to connect to agent backend", "addr", cfg.BackendAddr, "error", err)
			os.Exit(1)
		}
		agents = client
		slog.Info("Agent backend connected", "addr", cfg.BackendAddr)
	} else {
		agents = backend.NewStub()
		slog.Info("Agent backend stubbed (AGENT_BACKEND_ADDR not set)")
	}
	defer agents.Close()

	// Core components.
	sessions := registry.New(repo)
	execs := admission.NewController(tiers.GlobalExecutionCeiling)
	hub := notify.NewHub()
	conduit := &notify.LogConduit{Next: hub}
	tierOf := identity.NewCachedTierProvider(
		identity.StaticTierProvider{Tier: cfg.DefaultTier}, tiers.TierCacheTTL)

	orch := orchestrator.New(orchestrator.Config{
		Tiers:        tiers,
		TierOf:       tierOf,
		Sessions:     sessions,
		Execs:        execs,
		Routes:       router.New(table),
		Agents:       agents,
		Conduit:      conduit,
		HistoryLimit: 50,
	})

	// Handlers.
	baseHandler := api.NewHandler(orch, repo)
	wsHandler := notify.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	api.NewHealthHandler(baseHandler).RegisterHealth(r)
	api.NewSessionHandler(baseHandler).RegisterRoutes(r)
	api.NewChatHandler(baseHandler).RegisterRoutes(r)
	api.NewExecutionHandler(baseHandler).RegisterRoutes(r)
	api.NewAccountHandler(baseHandler, hub).RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/notifications", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // notification sockets stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	// Start the execution sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	admission.StartSweeper(ctx, execs, cfg.SweepInterval)

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
