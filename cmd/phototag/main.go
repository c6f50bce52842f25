package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/phototag/internal/config"
	dbRedis "github.com/kailas-cloud/phototag/internal/db/redis"
	"github.com/kailas-cloud/phototag/internal/domain"
	logpkg "github.com/kailas-cloud/phototag/internal/logger"
	"github.com/kailas-cloud/phototag/internal/metrics"
	"github.com/kailas-cloud/phototag/internal/repository/embcache"
	imagerepo "github.com/kailas-cloud/phototag/internal/repository/image"
	pineconerepo "github.com/kailas-cloud/phototag/internal/repository/pinecone"
	anthropicVision "github.com/kailas-cloud/phototag/internal/transport/anthropic"
	chiTransport "github.com/kailas-cloud/phototag/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/phototag/internal/transport/openai"
	analysisuc "github.com/kailas-cloud/phototag/internal/usecase/analysis"
	embeddinguc "github.com/kailas-cloud/phototag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/phototag/internal/usecase/health"
	matchuc "github.com/kailas-cloud/phototag/internal/usecase/match"
	searchuc "github.com/kailas-cloud/phototag/internal/usecase/search"
	"github.com/kailas-cloud/phototag/internal/version"
)

// vectorStore is what the analysis, search and health services need from a driver.
type vectorStore interface {
	analysisuc.Store
	searchuc.Repository
	healthuc.StorePinger
}

func main() {
	// Load configuration based on ENV
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

	logger.Info("Starting phototag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("vision_provider", cfg.Vision.Provider),
		zap.String("vision_model", cfg.Vision.Model),
	)

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})
	var embedder domain.Embedder = baseEmbedder

	var store vectorStore
	switch {
	case cfg.Store.IsRedisFamily():
		rs, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:      cfg.Store.Addrs,
			Username:   cfg.Store.Username,
			Password:   cfg.Store.Password,
			DB:         cfg.Store.DB,
			TextSearch: cfg.Store.Driver == config.DriverRedis,
		})
		if err != nil {
			logger.Fatal("Failed to create store", zap.Error(err))
		}
		defer rs.Close()

		// Wait for database to be ready
		if err := rs.WaitForReady(ctx, time.Duration(cfg.Store.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Store not ready", zap.Error(err))
		}
		logger.Info("Connected to store", zap.Strings("addrs", cfg.Store.Addrs))

		repo := imagerepo.New(rs, cfg.Store.KeyPrefix, cfg.Embedding.Dimensions, imagerepo.HNSWConfig{
			M:              cfg.Store.HNSWM,
			EFConstruction: cfg.Store.HNSWEFConstruct,
		})
		created, err := repo.EnsureIndex(ctx)
		if err != nil {
			logger.Fatal("Failed to ensure vector index", zap.Error(err))
		}
		logger.Info("Vector index ready", zap.String("index", repo.IndexName()), zap.Bool("created", created))
		store = redisVectorStore{Repo: repo, Store: rs}

		if cfg.Store.EmbeddingCache.Enabled {
			embedder = embcache.New(baseEmbedder, rs, embcache.Options{
				KeyPrefix:  cfg.Store.KeyPrefix,
				Model:      cfg.Embedding.Model,
				Dimensions: cfg.Embedding.Dimensions,
				TTL:        time.Duration(cfg.Store.EmbeddingCache.TTLSec) * time.Second,
			}, metrics.EmbeddingCacheTotal, logger)
			logger.Info("Embedding cache enabled", zap.Int("ttl_sec", cfg.Store.EmbeddingCache.TTLSec))
		}

	case cfg.Store.Driver == config.DriverPinecone:
		ps, err := pineconerepo.NewStore(pineconerepo.Config{
			APIKey:    cfg.Store.APIKey,
			Host:      cfg.Store.Host,
			Namespace: cfg.Store.Namespace,
		})
		if err != nil {
			logger.Fatal("Failed to create store", zap.Error(err))
		}
		logger.Info("Connected to store", zap.String("host", cfg.Store.Host))
		store = ps

	default:
		logger.Fatal("Unknown store driver", zap.String("driver", cfg.Store.Driver))
	}

	// Instrumented is outermost so cached calls are logged and counted per request.
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Embedding.Model, logger)

	analyzer, err := buildAnalyzer(cfg.Vision, logger)
	if err != nil {
		logger.Fatal("Failed to create vision analyzer", zap.Error(err))
	}

	// Create use case services
	matchSvc := matchuc.New(logger)
	analysisSvc := analysisuc.New(analyzer, embedder, store, logger).WithDimensions(cfg.Embedding.Dimensions)
	searchSvc := searchuc.New(store, embedder)
	healthSvc := healthuc.New(store, baseEmbedder, logger)

	server := chiTransport.NewServer(matchSvc, analysisSvc, searchSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// redisVectorStore joins the image repository with the connection it pings.
type redisVectorStore struct {
	*imagerepo.Repo
	*dbRedis.Store
}

func buildAnalyzer(cfg config.VisionConfig, logger *zap.Logger) (analysisuc.Analyzer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openaiTransport.NewVision(&openaiTransport.VisionConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			TagCount:  cfg.TagCount,
			Detail:    cfg.Detail,
			Logger:    logger,
		}), nil
	case config.ProviderAnthropic:
		return anthropicVision.NewVision(&anthropicVision.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			TagCount:  cfg.TagCount,
			Logger:    logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
