// Persona Lab - persona training dialogue server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/persona-lab/internal/api"
	"github.com/ashureev/persona-lab/internal/config"
	"github.com/ashureev/persona-lab/internal/convlog"
	"github.com/ashureev/persona-lab/internal/dialogue"
	"github.com/ashureev/persona-lab/internal/events"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/janitor"
	"github.com/ashureev/persona-lab/internal/middleware"
	"github.com/ashureev/persona-lab/internal/ollama"
	"github.com/ashureev/persona-lab/internal/session"
	"github.com/ashureev/persona-lab/internal/store"
	"github.com/ashureev/persona-lab/internal/stream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := stream.NewHub()
	healthHandler := api.NewHealthHandler(repo)

	observers := []session.Observer{
		store.NewRecorder(repo, logger),
		convlog.NewObserver(conversationLogger),
		hub,
	}

	if cfg.NATS.URL != "" {
		client, err := events.NewClient(ctx, cfg.NATS.URL, cfg.NATS.Token, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, session events will not be published", "error", err)
		} else {
			defer client.Close()
			observers = append(observers, events.NewObserver(client, logger))
			healthHandler.AddCheck("nats", client.Healthy)
			slog.Info("Publishing session events", "url", cfg.NATS.URL)
		}
	}

	gen := newGenerator(cfg, logger, healthHandler)

	sessions := session.NewManager(gen, session.Timing{
		FollowUpDelay:   cfg.FollowUpDelay,
		CompletionDelay: cfg.CompletionDelay,
	}, logger, observers...)
	defer sessions.Close()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()
	suggestionLimit := middleware.RateLimit(limiter, identity.RequestKey)

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(sessions, repo, suggestionLimit)
	wsHandler := stream.NewHandler(sessions, hub, cfg.AllowedOrigins(), cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	api.RegisterCatalog(r)

	// Session routes are scoped to the anonymous identity.
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/sessions/{id}", wsHandler.ServeHTTP)

	// Generation can take several seconds, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	janitor.Start(ctx, sessions, repo, janitor.Config{
		Interval:  janitor.DefaultInterval,
		IdleTTL:   cfg.SessionIdleTTL,
		Retention: cfg.TranscriptRetention,
	})

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
	}

	slog.Info("Server stopped successfully", "live_sessions", sessions.Len())
}

// newGenerator picks the template generator, wrapped by the model-backed one
// when OLLAMA_URL is set.
func newGenerator(cfg *config.Config, logger *slog.Logger, health *api.HealthHandler) dialogue.Generator {
	latency := dialogue.LatencyConfig{}
	if cfg.SimulateLatency {
		latency = dialogue.DefaultLatency()
	}

	if cfg.Ollama.URL == "" {
		slog.Info("Using template generator", "simulate_latency", cfg.SimulateLatency)
		return dialogue.NewTemplateGenerator(dialogue.WithLatency(latency), dialogue.WithLogger(logger))
	}

	// The model already takes real time; template fallbacks should not add more.
	templates := dialogue.NewTemplateGenerator(dialogue.WithLatency(dialogue.LatencyConfig{}), dialogue.WithLogger(logger))
	client := ollama.New(cfg.Ollama.URL, cfg.Ollama.Model)
	health.AddCheck("ollama", client.Ping)
	slog.Info("Using model-backed generator", "url", cfg.Ollama.URL, "model", cfg.Ollama.Model)
	return dialogue.NewLLMGenerator(templates, client, logger)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
