// Package main is the entry point for the API server.
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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emberchat/companion-api/internal/config"
	"github.com/emberchat/companion-api/internal/events"
	"github.com/emberchat/companion-api/internal/handler"
	"github.com/emberchat/companion-api/internal/llm"
	"github.com/emberchat/companion-api/internal/middleware"
	"github.com/emberchat/companion-api/internal/model"
	"github.com/emberchat/companion-api/internal/prompt"
	"github.com/emberchat/companion-api/internal/relay"
	"github.com/emberchat/companion-api/internal/store"
	"github.com/emberchat/companion-api/pkg/logger"
	"github.com/emberchat/companion-api/pkg/tracing"
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

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "companion-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the message store
	st, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}

	if err := seedCompanions(ctx, st); err != nil {
		log.Error("failed to seed companions", zap.Error(err))
		os.Exit(1)
	}

	// Connect to NATS when configured; exchange events are optional
	var eventsClient *events.Client
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		eventsClient, err = events.Connect(events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer eventsClient.Close()

		publisher = events.NewPublisher(eventsClient, log)
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Initialize the completion provider
	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Error("failed to create completion client", zap.Error(err))
		os.Exit(1)
	}
	log.Info("completion provider ready", zap.String("provider", llmClient.Name()))

	assembler := prompt.NewAssembler(cfg.HistoryLimit, cfg.TokenBudget)
	rel := relay.New(st, assembler, llmClient, publisher, log, cfg.DefaultModel, cfg.UpstreamTimeout)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(eventsClient)
	companionHandler := handler.NewCompanionHandler(st, log)
	modelHandler := handler.NewModelHandler()
	conversationHandler := handler.NewConversationHandler(st, log)
	chatHandler := handler.NewChatHandler(rel, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
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

		r.Get("/companions", companionHandler.List)
		r.Get("/models", modelHandler.List)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Get("/messages", conversationHandler.Messages)
			})
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/messages", chatHandler.Send)
			r.Post("/messages/stream", chatHandler.Stream)
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

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DBDriver == "memory" {
		return store.NewMemory(), nil
	}
	return store.OpenGorm(cfg.DBDriver, cfg.DBDSN)
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	case "anthropic":
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	default:
		return llm.NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL)
	}
}

// seedCompanions writes the built-in companion roster. PutCompanion is an
// upsert, so restarting with the same roster is harmless.
func seedCompanions(ctx context.Context, st store.Store) error {
	seeds := []model.Companion{
		{
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte("companion:luna")).String(),
			Name:    "Luna",
			Persona: prompt.DefaultPersona,
		},
		{
			ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("companion:sage")).String(),
			Name: "Sage",
			Persona: "You are a thoughtful, warm AI companion who listens carefully " +
				"and responds with calm, grounded advice. Keep responses personal " +
				"and encouraging, and remember details the user shares.",
		},
	}
	for i := range seeds {
		seeds[i].CreatedAt = time.Now()
		if err := st.PutCompanion(ctx, &seeds[i]); err != nil {
			return err
		}
	}
	return nil
}
