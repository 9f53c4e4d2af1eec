// Backchannel - narrative negotiation game server
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

	"github.com/ashureev/backchannel/internal/api"
	"github.com/ashureev/backchannel/internal/catalog"
	"github.com/ashureev/backchannel/internal/config"
	"github.com/ashureev/backchannel/internal/middleware"
	"github.com/ashureev/backchannel/internal/model"
	"github.com/ashureev/backchannel/internal/relay"
	"github.com/ashureev/backchannel/internal/screen"
	"github.com/ashureev/backchannel/internal/session"
	"github.com/ashureev/backchannel/internal/store"
	"github.com/ashureev/backchannel/internal/view"
	"github.com/ashureev/backchannel/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	// The catalog is loaded exactly once; without it there is no game.
	levels, err := catalog.Load(context.Background(), cfg.LevelsSource)
	if err != nil {
		slog.Error("Failed to load level catalog", "error", err, "source", cfg.LevelsSource)
		os.Exit(1)
	}
	slog.Info("Level catalog loaded", "levels", len(levels))

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, len(levels))
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

	// Materialize the progress record so first reads are stable.
	if _, err := repo.LoadProgress(context.Background()); err != nil {
		slog.Error("Failed to initialize player progress", "error", err)
		os.Exit(1)
	}

	// The model backend is optional at startup: without a key the relay
	// answers every turn with a failure the game surfaces in-transcript.
	var generator relay.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := model.NewGemini(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			slog.Error("Failed to initialize model client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := gemini.Close(); closeErr != nil {
				slog.Error("Failed to close model client", "error", closeErr)
			}
		}()
		generator = gemini
		slog.Info("Model client initialized", "model", cfg.GeminiModel)
	} else {
		slog.Warn("GEMINI_API_KEY not set, relay calls will fail")
	}

	// Initialize game components.
	nav := screen.NewNavigator()
	feed := view.NewFeed(cfg.IsDevelopment())
	nav.Subscribe(feed.ScreenChanged)

	controller := session.NewController(levels, repo, relay.Direct{Generator: generator}, nav, feed)

	// Initialize handlers.
	gameHandler := api.NewHandler(levels, repo, controller, nav, cfg.MaxBodyBytes)
	relayHandler := relay.NewHandler(generator, cfg.MaxBodyBytes)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	gameHandler.RegisterRoutes(r)
	relayHandler.RegisterRoutes(r)

	// WebSocket event feed for the view layer.
	r.Get("/ws/events", feed.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout; model calls and the event feed are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
