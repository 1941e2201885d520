package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/zyra/internal/api"
	"github.com/Rrens/zyra/internal/config"
	"github.com/Rrens/zyra/internal/domain"
	"github.com/Rrens/zyra/internal/llm"
	"github.com/Rrens/zyra/internal/llm/anthropic"
	"github.com/Rrens/zyra/internal/llm/deepseek"
	"github.com/Rrens/zyra/internal/llm/gemini"
	"github.com/Rrens/zyra/internal/llm/ollama"
	"github.com/Rrens/zyra/internal/llm/openai"
	"github.com/Rrens/zyra/internal/logger"
	"github.com/Rrens/zyra/internal/pastexam"
	"github.com/Rrens/zyra/internal/repository"
	"github.com/Rrens/zyra/internal/repository/file"
	"github.com/Rrens/zyra/internal/repository/memory"
	"github.com/Rrens/zyra/internal/repository/migrations"
	"github.com/Rrens/zyra/internal/repository/mongo"
	"github.com/Rrens/zyra/internal/repository/postgres"
	"github.com/Rrens/zyra/internal/repository/redis"
	"github.com/Rrens/zyra/internal/repository/sqlstore"
	"github.com/Rrens/zyra/internal/security"
	"github.com/Rrens/zyra/internal/service"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := ""
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			envLoaded = p
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if envLoaded != "" {
		log.Debug().Str("path", envLoaded).Msg("Loaded .env")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting Zyra API server")

	ctx := context.Background()

	// Redis is shared by the redis storage backend and the rate limiter
	var redisClient *redis.Client
	if cfg.Redis.Enabled || cfg.Storage.Driver == "redis" || cfg.RateLimit.Enabled {
		redisClient, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}

	// Storage backends
	registry := repository.NewRegistry()
	registry.Register("memory", memory.Open)
	registry.Register("file", file.Open)
	registry.Register("postgres", postgres.Open)
	registry.Register("sqlite", sqlstore.OpenSQLite)
	registry.Register("mysql", sqlstore.OpenMySQL)
	registry.Register("mongo", mongo.Open)
	registry.Register("redis", func(context.Context, config.StorageConfig) (domain.KVStore, error) {
		return redis.NewStore(redisClient), nil
	})

	kv, err := registry.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Strs("drivers", registry.Drivers()).Msg("Failed to open storage")
	}
	defer kv.Close()

	// sqlite needs its directory, which OpenSQLite creates, before migrating
	if cfg.Storage.AutoMigrate && migrations.Supports(cfg.Storage.Driver) {
		if err := migrations.Up(cfg.Storage); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	llmRouter := newLLMRouter(cfg)

	store, err := service.NewChatStore(ctx, llmRouter, repository.NewSnapshotStore(kv, cfg.Storage.Key),
		service.WithSystemPrompt(cfg.LLM.SystemPrompt),
		service.WithHistoryWindow(cfg.LLM.HistoryWindow),
		service.WithDefaultMode(domain.Mode(cfg.LLM.DefaultMode)),
		service.WithCycleTimeout(cfg.LLM.RequestTimeout),
		service.WithRetryPolicy(llm.RetryPolicy{
			MaxRetries:     cfg.LLM.Retry.MaxRetries,
			InitialBackoff: cfg.LLM.Retry.InitialBackoff,
		}),
		service.WithTitleGeneration(service.TitleConfig{
			Enabled:   cfg.LLM.Title.Enabled,
			Prompt:    cfg.LLM.Title.Prompt,
			MaxTokens: cfg.LLM.Title.MaxTokens,
			Timeout:   cfg.LLM.Title.Timeout,
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load chat store")
	}

	deps := api.Dependencies{
		Store:     store,
		LLM:       llmRouter,
		Storage:   kv,
		PastExams: pastexam.NewClient(cfg.PastExam),
	}
	if cfg.Auth.JWTSecret != "" {
		deps.JWT = security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight cycles and title generation land in the snapshot
	done := make(chan struct{})
	go func() {
		store.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.LLM.Title.Timeout):
		log.Warn().Msg("Gave up waiting for background chat work")
	}

	log.Info().Msg("Server stopped")
}

func newLLMRouter(cfg *config.Config) *llm.Router {
	router := llm.NewRouter(cfg.LLM.DefaultProvider)

	log.Info().Msgf("Initializing LLM providers. Default: %s", cfg.LLM.DefaultProvider)

	if cfg.LLM.OpenAI.APIKey != "" {
		var opts []openai.Option
		if cfg.LLM.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.OpenAI.BaseURL))
		}
		router.RegisterProvider(openai.NewProvider(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, opts...))
	}
	if cfg.LLM.Anthropic.APIKey != "" {
		router.RegisterProvider(anthropic.NewProvider(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model))
	}
	if cfg.LLM.DeepSeek.APIKey != "" {
		router.RegisterProvider(deepseek.NewProvider(cfg.LLM.DeepSeek.APIKey, cfg.LLM.DeepSeek.Model))
	}
	if cfg.LLM.Gemini.APIKey != "" {
		router.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini))
	}
	if cfg.LLM.Groq.APIKey != "" {
		router.RegisterProvider(openai.NewCompatible("groq", cfg.LLM.Groq.APIKey, cfg.LLM.Groq.Model, []string{
			"llama-3.1-8b-instant",
			"llama-3.3-70b-versatile",
		}, openai.WithBaseURL(cfg.LLM.Groq.BaseURL)))
	}
	if cfg.LLM.Ollama.Host != "" {
		log.Info().Str("host", cfg.LLM.Ollama.Host).Msg("Registering Ollama provider")
		router.RegisterProvider(ollama.NewProvider(cfg.LLM.Ollama.Host, cfg.LLM.Ollama.DefaultModel))
	}

	for name, mode := range cfg.LLM.Modes {
		router.RegisterMode(domain.Mode(name), domain.ModePreset{
			Provider:    mode.Provider,
			Model:       mode.Model,
			Temperature: mode.Temperature,
			MaxTokens:   mode.MaxTokens,
		})
	}

	if len(router.ListProviders()) == 0 {
		log.Warn().Msg("No LLM provider is configured; every message will fail until an API key is set")
	}

	return router
}
