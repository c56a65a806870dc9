package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiagentplatform/api-gateway/internal/gateway/cache"
	"github.com/aiagentplatform/api-gateway/internal/gateway/handlers"
	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
	"github.com/aiagentplatform/api-gateway/internal/gateway/ratelimit"
	"github.com/aiagentplatform/api-gateway/internal/gateway/usage"
	"github.com/aiagentplatform/api-gateway/internal/shared/config"
	"github.com/aiagentplatform/api-gateway/internal/shared/database"
	"github.com/aiagentplatform/api-gateway/internal/shared/store"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting AI Gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database (API key store)
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Connected to PostgreSQL")

	// Initialize counter/cache/ledger store
	storeClient, err := store.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}
	defer storeClient.Close()
	log.Println("✓ Connected to Redis")

	// Initialize provider registry and router
	registry := providers.NewRegistry(cfg)
	router, err := providers.NewRouter(registry)
	if err != nil {
		log.Fatalf("Failed to build provider router: %v", err)
	}
	log.Printf("✓ Initialized providers: %v", registry.Families())

	// Initialize pipeline components
	cacheService := cache.New(storeClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	limiter := ratelimit.New(storeClient, cfg.RateLimits)
	ledger := usage.NewLedger(storeClient)
	defer ledger.Close()
	log.Println("✓ Initialized cache, rate limiter and usage ledger")

	// Initialize handlers
	handler := handlers.New(router, cacheService, ledger, limiter, cfg)
	middleware := handlers.NewMiddleware(db, limiter)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes (with auth and rate limiting)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth)
		r.Use(middleware.RateLimit)

		r.Post("/chat", handler.HandleChat)
		r.Post("/summarize", handler.HandleSummarize)
		r.Post("/extract", handler.HandleExtract)
		r.Post("/classify", handler.HandleClassify)
		r.Post("/generate", handler.HandleGenerate)

		r.Get("/usage", handler.HandleUsage)
		r.Get("/usage/recent", handler.HandleRecentUsage)
		r.Get("/models", handler.HandleModels)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST /v1/chat       - Chat completions (stream: true for SSE)")
		log.Println("   POST /v1/summarize  - Text summarization")
		log.Println("   POST /v1/extract    - Structured data extraction")
		log.Println("   POST /v1/classify   - Text classification")
		log.Println("   POST /v1/generate   - Content generation")
		log.Println("   GET  /v1/usage      - Usage statistics")
		log.Println("   GET  /health        - Health check")
		log.Println("")
		log.Println("Ready to accept requests!")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
