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
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/config"
	dbRedis "github.com/parleyhq/parley/internal/db/redis"
	"github.com/parleyhq/parley/internal/embcache"
	logpkg "github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/queue"
	"github.com/parleyhq/parley/internal/repository/vectors"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/synthesis"
	"github.com/parleyhq/parley/internal/transport/httpapi"
	openaiTransport "github.com/parleyhq/parley/internal/transport/openai"
	"github.com/parleyhq/parley/internal/transport/serp"
	answeruc "github.com/parleyhq/parley/internal/usecase/answer"
	"github.com/parleyhq/parley/internal/version"
)

func main() {
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting parley API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	metrics.RegisterPipelineMetrics()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	repo := vectors.New(store, cfg.Database.KeyPrefix, cfg.Embedding.Dimensions)
	if err := repo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}

	// Single queue gates every remote model call across sessions.
	requestQueue := queue.New(cfg.Queue.Concurrency, queue.RetryPolicy{
		MaxAttempts: cfg.Queue.RetryAttempts,
		BaseDelay:   time.Duration(cfg.Queue.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Queue.MaxDelayMs) * time.Millisecond,
	}, logger)
	defer requestQueue.Clear()

	// Embedder chain: provider -> queued -> cached. The cache is consulted
	// first, so only misses occupy a queue slot.
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxChars:   cfg.Embedding.MaxChars,
		Logger:     logger,
	})
	queuedEmbedder := queue.NewQueuedEmbedder(baseEmbedder, requestQueue, queue.PriorityNormal)
	cache := embcache.New(
		cfg.Cache.Capacity,
		time.Duration(cfg.Cache.TTLSec)*time.Second,
		metrics.EmbeddingCacheTotal,
	)
	defer cache.Close()
	embedder := embcache.NewCachedEmbedder(queuedEmbedder, cache)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Timeout:     time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		Logger:      logger,
	})
	queuedGenerator := queue.NewQueuedGenerator(generator, requestQueue, queue.PriorityHigh)

	sessions := session.NewStore(cfg.Retrieval.HistoryWindow)

	orchestrator := retrieval.New(embedder, repo, retrieval.Config{
		TopK:          cfg.Retrieval.TopK,
		EmbedTimeout:  time.Duration(cfg.Retrieval.EmbedTimeoutSec) * time.Second,
		SearchTimeout: time.Duration(cfg.Retrieval.SearchTimeoutSec) * time.Second,
	})

	synthesizer := synthesis.New(queuedGenerator, synthesis.Config{
		FastHitThreshold: cfg.Synthesis.FastHitThreshold,
		MinSnippetScore:  cfg.Synthesis.MinSnippetScore,
		MaxSnippets:      cfg.Synthesis.MaxSnippets,
		MaxKeywords:      cfg.Synthesis.MaxKeywords,
		MaxSentences:     cfg.Synthesis.MaxSentences,
	}, logger)

	answers := answeruc.New(orchestrator, synthesizer, sessions, answeruc.Config{
		MinScore: cfg.Retrieval.MinScore,
	})

	webSearch := serp.New(&serp.Config{
		BaseURL:        cfg.WebSearch.BaseURL,
		APIKey:         cfg.WebSearch.APIKey,
		Timeout:        time.Duration(cfg.WebSearch.TimeoutSec) * time.Second,
		Cache:          store,
		CacheKeyPrefix: cfg.Database.KeyPrefix,
		CacheTTL:       time.Duration(cfg.WebSearch.CacheTTLSec) * time.Second,
		Logger:         logger,
	})

	server := httpapi.NewServer(
		answers, generator, embedder, repo, webSearch,
		sessions, cache, requestQueue, store, baseEmbedder, logger,
	)

	rateLimiter := httpapi.NewRateLimiter(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowSec)*time.Second,
	)
	defer rateLimiter.Close()

	r := chi.NewRouter()
	r.Use(httpapi.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(httpapi.WideEventMiddleware(logger))
	r.Use(httpapi.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(rateLimiter.Middleware())
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
