// Package main is the entry point for the clarification engine API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/analyzer"
	"github.com/capitalize-ai/clarification-engine/internal/builder"
	"github.com/capitalize-ai/clarification-engine/internal/config"
	"github.com/capitalize-ai/clarification-engine/internal/controller"
	"github.com/capitalize-ai/clarification-engine/internal/handler"
	"github.com/capitalize-ai/clarification-engine/internal/llm"
	"github.com/capitalize-ai/clarification-engine/internal/middleware"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	natsclient "github.com/capitalize-ai/clarification-engine/internal/nats"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
	"github.com/capitalize-ai/clarification-engine/internal/store"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
	"github.com/capitalize-ai/clarification-engine/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting clarification engine")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "clarification-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS. Without it the engine still serves HTTP, backed by
	// the in-memory store and no push channel.
	var (
		natsClient   *natsclient.Client
		presentation *natsclient.PresentationChannel
		convStore    store.Store
	)
	natsClient, err = natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("NATS unavailable, using in-memory store", zap.Error(err))
		natsClient = nil
		convStore = store.NewMemoryStore()
	} else {
		defer natsClient.Close()
		presentation = natsclient.NewPresentationChannel(natsClient)
		convStore, err = store.NewJetStreamStore(ctx, natsClient)
		if err != nil {
			log.Error("failed to initialize JetStream store", zap.Error(err))
			os.Exit(1)
		}
	}

	// Initialize LLM client. Without a key the analyzer falls back to
	// rule-based extraction.
	var llmClient llm.Client
	switch {
	case cfg.DefaultLLM == "openai" && cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, using rule-based analysis", zap.Error(err))
		llmClient = nil
	}
	if llmClient != nil {
		log.Info("LLM client ready", zap.String("provider", llmClient.Name()))
	}

	// Entity store, demo tool set and collaborators
	entities := resolver.NewMemoryStore()
	claims := tool.SeedDemoData(entities)
	tools := tool.NewRegistry()
	tool.RegisterDemoTools(tools, entities, claims, 0)

	res := resolver.New(entities, cfg.MaxOptions)
	an := analyzer.New(llmClient, res, tools, analyzer.Config{
		ConfidenceHigh: cfg.ConfidenceHigh,
		ConfidenceLow:  cfg.ConfidenceLow,
		LLMTimeout:     cfg.LLMTimeout,
	}, log)
	bl := builder.New(llmClient, tools, cfg.LLMTimeout, log)

	var presenter controller.Presenter
	if presentation != nil {
		presenter = presentation
	}
	ctrl := controller.New(convStore, an, bl, tools, presenter, controller.Config{
		RoundCap:     cfg.RoundCap,
		IterationCap: cfg.IterationCap,
		ToolRetries:  cfg.ToolRetries,
		ToolTimeout:  cfg.ToolTimeout,
	}, log)

	// Clarification responses arriving over the presentation channel feed
	// the same resume path as the HTTP endpoint.
	if presentation != nil {
		sub, err := presentation.SubscribeResponses(ctx, func(ctx context.Context, resp *model.ClarificationResponse) {
			if _, err := ctrl.HandleClarification(ctx, resp.ConversationID, resp); err != nil {
				log.Warn("clarification response over NATS rejected",
					zap.String("conversation_id", resp.ConversationID), zap.Error(err))
			}
		})
		if err != nil {
			log.Error("failed to subscribe to clarification responses", zap.Error(err))
			os.Exit(1)
		}
		defer sub.Unsubscribe()
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(ctrl, log)
	clarifyHandler := handler.NewClarifyHandler(ctrl, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Use(middleware.ConversationRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Get("/", conversationHandler.Get)
			r.Get("/turns", conversationHandler.ListTurns)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope("conversations:write"))

				r.Post("/queries", clarifyHandler.Query)
				r.Post("/clarifications", clarifyHandler.Clarify)
				r.Post("/abandon", clarifyHandler.Abandon)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
