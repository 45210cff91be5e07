// Onboard Guide - conversational business onboarding server
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/onboard-guide/internal/agent"
	"github.com/ashureev/onboard-guide/internal/api"
	"github.com/ashureev/onboard-guide/internal/config"
	"github.com/ashureev/onboard-guide/internal/metrics"
	"github.com/ashureev/onboard-guide/internal/middleware"
	"github.com/ashureev/onboard-guide/internal/onboarding"
	"github.com/ashureev/onboard-guide/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	db, err := store.NewSQLite(cfg.DBPath, logger)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := db.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	repo, err := store.NewCached(db, cfg.SessionCacheSize)
	if err != nil {
		slog.Error("Failed to initialize session cache", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	templates, err := agent.LoadTemplates()
	if err != nil {
		slog.Error("Failed to load prompt templates", "error", err)
		os.Exit(1)
	}

	// Live provider is optional; without it every reply comes from the fallback.
	var provider agent.Provider
	providerName := "fallback"
	if cfg.ProviderEnabled() {
		gemini, err := agent.NewGeminiProvider(ctx, agent.GeminiConfig{
			APIKey:      cfg.Provider.APIKey,
			Model:       cfg.Provider.Model,
			Temperature: cfg.Provider.Temperature,
			MaxTokens:   cfg.Provider.MaxTokens,
		})
		if err != nil {
			slog.Warn("Failed to initialize Gemini provider, using fallback replies", "error", err)
		} else {
			provider = gemini
			providerName = gemini.Name()
		}
	}
	slog.Info("Reply provider selected", "provider", providerName)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
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

	// Initialize services.
	orchestrator := agent.NewOrchestrator(provider, templates, agent.Options{
		Fallback:      agent.NewFallback(),
		HistoryWindow: cfg.Provider.HistoryWindow,
		Metrics:       m,
		Logger:        logger,
	})
	svc := onboarding.NewService(repo, orchestrator, onboarding.Options{
		ProviderTimeout: cfg.Provider.Timeout,
		HistoryWindow:   cfg.Provider.HistoryWindow,
		Metrics:         m,
		ConversationLog: conversationLogger,
		Logger:          logger,
	})

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	conns := api.NewConnRegistry()
	baseHandler := api.NewHandler(svc, limiter, logger)
	healthHandler := api.NewHealthHandler(db, providerName)
	chatSocket := api.NewChatSocket(baseHandler, conns, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.MaxBody(cfg.MaxRequestBodyBytes))

	healthHandler.RegisterHealth(r)
	baseHandler.RegisterRoutes(r)
	chatSocket.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Provider calls are bounded by PROVIDER_TIMEOUT, so the write timeout
	// only needs to cover one turn plus persistence.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Provider.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv.RegisterOnShutdown(conns.CloseAll)

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
