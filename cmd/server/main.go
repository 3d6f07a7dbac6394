// Lumina - Prompt Architecture Server
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

	"github.com/neelsabhaya/lumina.ai/internal/api"
	"github.com/neelsabhaya/lumina.ai/internal/config"
	"github.com/neelsabhaya/lumina.ai/internal/engine"
	"github.com/neelsabhaya/lumina.ai/internal/grader"
	"github.com/neelsabhaya/lumina.ai/internal/identity"
	"github.com/neelsabhaya/lumina.ai/internal/middleware"
	"github.com/neelsabhaya/lumina.ai/internal/store"
	"github.com/neelsabhaya/lumina.ai/internal/stream"
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

	oracle, err := grader.NewOpenAIClient(grader.OpenAIConfig{
		APIKey:  cfg.Grader.APIKey,
		Model:   cfg.Grader.Model,
		BaseURL: cfg.Grader.BaseURL,
		Timeout: cfg.Grader.Timeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize grading client", "error", err)
		os.Exit(1)
	}
	slog.Info("Grading client initialized")

	// Initialize services.
	sm := stream.NewManager()
	watcher := identity.NewWatcher()
	engines := engine.NewManager(oracle, repo, sm, cfg.HistoryLimit, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, engines, cfg.FrontendURL)
	sessionHandler := api.NewSessionHandler(baseHandler)
	authHandler := api.NewAuthHandler(baseHandler, watcher)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := stream.NewWebSocketHandler(sm, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware())

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Session and auth routes.
	sessionHandler.RegisterRoutes(r)
	authHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// React to auth events and sweep idle sessions.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engines.Watch(ctx, watcher.Subscribe())
	engines.StartJanitor(ctx, cfg.SessionTTL)
	slog.Info("Session janitor started", "session_ttl", cfg.SessionTTL)

	// Sign-out also tears down the owner's live event streams.
	streamEvents := watcher.Subscribe()
	go func() {
		for {
			select {
			case event, ok := <-streamEvents:
				if !ok {
					return
				}
				if event.Type == identity.AuthSignedOut {
					sm.CloseOwner(event.OwnerID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

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
