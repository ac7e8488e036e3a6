// Seraph - proactive personal assistant backend
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
	"github.com/neurion-ai/seraph/internal/agent"
	"github.com/neurion-ai/seraph/internal/api"
	"github.com/neurion-ai/seraph/internal/background"
	"github.com/neurion-ai/seraph/internal/chat"
	"github.com/neurion-ai/seraph/internal/config"
	"github.com/neurion-ai/seraph/internal/insight"
	"github.com/neurion-ai/seraph/internal/llm"
	"github.com/neurion-ai/seraph/internal/memory"
	"github.com/neurion-ai/seraph/internal/middleware"
	"github.com/neurion-ai/seraph/internal/onboarding"
	"github.com/neurion-ai/seraph/internal/session"
	"github.com/neurion-ai/seraph/internal/store"
	"github.com/neurion-ai/seraph/internal/tools"
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

	client, err := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	soul := memory.NewSoulStore(cfg.SoulPath)
	if err := soul.EnsureExists(); err != nil {
		slog.Error("Failed to initialize soul document", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	sessions := session.NewManager(repo, client)
	queue := insight.NewQueue(repo, cfg.InsightExpiry)
	registry := background.NewRegistry()

	toolRegistry := tools.NewRegistry()
	for _, t := range tools.NewFileTools(cfg.WorkspaceDir) {
		toolRegistry.Register(t)
	}
	toolRegistry.Register(tools.NewTemplateTool())
	toolRegistry.Register(tools.NewWebSearchTool("", nil))
	for _, t := range tools.NewSoulTools(soul) {
		toolRegistry.Register(t)
	}

	factory := agent.NewFactory(client, toolRegistry, cfg.AgentMaxSteps)
	gate := onboarding.NewGate(repo, factory.Full(), factory.Onboarding())

	consolidator := memory.NewConsolidator(sessions, client, memoryAdder{repo}, soul, cfg.ConsolidationMinTurns)

	// Initialize handlers.
	restHandler := api.NewHandler(sessions, queue, gate)
	wsHandler := chat.NewWebSocketHandler(
		sessions, queue, gate, soul, repo, consolidator,
		func(name string, fn func(ctx context.Context) error) { registry.Track(name, fn) },
		cfg.ConsolidationThreshold, cfg.FrontendURL, cfg.IsDevelopment(),
	)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	restHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// WriteTimeout stays 0 so long-lived websocket turns are never cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Let in-flight consolidation and title generation finish.
	if err := registry.Wait(shutdownCtx); err != nil {
		slog.Warn("Background tasks still running at shutdown", "in_flight", registry.Len())
	}

	slog.Info("Server stopped successfully")
}

// memoryAdder narrows the repository to the consolidator's collaborator
// interface.
type memoryAdder struct {
	repo store.Repository
}

func (m memoryAdder) AddMemory(ctx context.Context, content string) error {
	return m.repo.AddMemory(ctx, content)
}
