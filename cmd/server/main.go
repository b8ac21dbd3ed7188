// PASCAL Agent - Conversational CAD Assistant Server
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

	"github.com/pascalcad/pascal-agent/internal/api"
	"github.com/pascalcad/pascal-agent/internal/config"
	"github.com/pascalcad/pascal-agent/internal/conversation"
	"github.com/pascalcad/pascal-agent/internal/executor"
	"github.com/pascalcad/pascal-agent/internal/gateway"
	"github.com/pascalcad/pascal-agent/internal/host"
	"github.com/pascalcad/pascal-agent/internal/middleware"
	"github.com/pascalcad/pascal-agent/internal/session"
	"github.com/pascalcad/pascal-agent/internal/store"
	"github.com/pascalcad/pascal-agent/web"
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

	bridge := host.NewBridge(cfg.HostCallTimeout, cfg.IsDevelopment())

	llm, err := gateway.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}
	gw := gateway.New(
		llm,
		gateway.WithMaxAttempts(cfg.GatewayMaxAttempts),
		gateway.WithCallTimeout(cfg.GatewayTimeout),
		gateway.WithBackoff(cfg.GatewayBackoff),
	)

	orchestrator := conversation.New(repo, gw, executor.New(bridge))
	handler := api.NewHandler(orchestrator, repo, bridge)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Route("/api", handler.Routes)

	// The in-CAD add-in dials in here.
	r.Get("/ws/host", bridge.ServeHTTP)

	// Serve the embedded chat palette (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // turns wait on the model and the CAD host
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartTTLWorker(ctx, repo, cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

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
