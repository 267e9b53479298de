package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-ocean/atlas/go/orchestrator/internal/agents"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/config"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/dispatch"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/embeddings"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/health"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/httpapi"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/llm"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pipeline"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/pricing"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/ratecontrol"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/router"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/stores"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/synthesis"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/tracing"
	"github.com/atlas-ocean/atlas/go/orchestrator/internal/vectordb"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Health endpoints come up first so probes answer while the rest starts.
	hm := health.NewManager(cfg.Health.CheckInterval, logger)
	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)

	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Timeout, logger)
	register(hm, health.NewPingChecker("llm_service", llmClient, true), logger)
	completer := newCompleter(llmClient, cfg, logger)

	registered := []agents.Agent{
		agents.NewConversationalAgent(completer, cfg.Agents.ConversationMaxTokens, logger),
	}
	structuredOpts := agents.StructuredOptions{MaxRows: cfg.Agents.MaxRows, MaxTokens: cfg.Agents.GenerationMaxTokens}

	// A store that cannot be opened leaves its agent unregistered; routed
	// queries then report it unavailable instead of failing the service.
	if profileStore, err := stores.OpenProfileStore(cfg.ProfileStore, cfg.Agents.Timeout, logger); err != nil {
		logger.Warn("Profile store unavailable", zap.String("path", cfg.ProfileStore.Path), zap.Error(err))
	} else {
		defer profileStore.Close()
		registered = append(registered, agents.NewProfileAgent(profileStore, completer, structuredOpts, logger))
		register(hm, health.NewStoreChecker("profile_store", profileStore, true), logger)
	}

	if metadataStore, err := stores.OpenMetadataStore(cfg.MetadataStore, logger); err != nil {
		logger.Warn("Metadata store unavailable", zap.String("host", cfg.MetadataStore.Host), zap.Error(err))
	} else {
		defer metadataStore.Close()
		registered = append(registered, agents.NewMetadataAgent(metadataStore, completer, structuredOpts, logger))
		register(hm, health.NewStoreChecker("metadata_store", metadataStore, true), logger)
	}

	if cfg.Vector.Enabled {
		var embedCache embeddings.Cache
		if cfg.Embeddings.RedisEnabled {
			rc, err := embeddings.NewRedisCache(cfg.Embeddings.RedisAddr, logger)
			if err != nil {
				logger.Warn("Embedding cache unavailable", zap.Error(err))
			} else {
				defer rc.Close()
				embedCache = rc
				register(hm, health.NewPingChecker("embedding_cache", rc, false), logger)
			}
		}
		embedder := embeddings.New(embeddings.Config{
			BaseURL:      cfg.Embeddings.BaseURL,
			DefaultModel: cfg.Embeddings.DefaultModel,
			Timeout:      cfg.Embeddings.Timeout,
			CacheTTL:     cfg.Embeddings.CacheTTL,
			MaxLRU:       cfg.Embeddings.MaxLRU,
		}, embedCache, logger)
		vc := vectordb.New(vectordb.Config{
			Enabled:   true,
			Host:      cfg.Vector.Host,
			Port:      cfg.Vector.Port,
			Threshold: cfg.Vector.Threshold,
			Timeout:   cfg.Vector.Timeout,
		}, logger)
		searcher := vectordb.NewLiteratureSearcher(vc, embedder, cfg.Vector.Collection)
		registered = append(registered, agents.NewRetrievalAgent(searcher, cfg.Agents.TopK, logger))
		register(hm, health.NewVectorIndexChecker(vc, cfg.Vector.Collection), logger)
	} else {
		logger.Info("Vector index disabled; literature retrieval unavailable")
	}

	var routeCache router.Cache
	if cfg.Router.CacheEnabled {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Router.RedisAddr})
		defer rc.Close()
		cache := router.NewRedisCache(rc, cfg.Router.CacheTTL, logger)
		routeCache = cache
		register(hm, health.NewPingChecker("router_cache", cache, false), logger)
	}

	prices, err := pricing.Load(cfg.Pricing.Path)
	if err != nil {
		logger.Warn("Failed to load pricing, using defaults", zap.String("path", cfg.Pricing.Path), zap.Error(err))
		prices = pricing.Default()
	}

	svc := pipeline.NewService(
		router.NewClassifier(completer, router.Options{
			MaxTokens:     cfg.Router.MaxTokens,
			MinConfidence: cfg.Router.MinConfidence,
		}, routeCache, logger),
		dispatch.New(cfg.Agents.Timeout, logger, registered...),
		synthesis.New(completer, synthesis.Options{
			MaxTokens:       cfg.Synthesis.MaxTokens,
			MaxPromptRows:   cfg.Synthesis.MaxPromptRows,
			MaxPromptBytes:  cfg.Synthesis.MaxPromptBytes,
			MaxExcerptChars: cfg.Synthesis.MaxExcerptChars,
		}, logger),
		prices,
		logger,
	)

	httpapi.NewHandler(svc, httpapi.Options{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		RequestTimeout:    cfg.Service.RequestTimeout,
	}, logger).RegisterRoutes(mux)

	if err := hm.Start(ctx); err != nil {
		logger.Warn("Failed to start health manager", zap.Error(err))
	}

	srv := httpapi.NewServer(cfg.Service.Port, mux, cfg.Service.ReadTimeout, cfg.Service.WriteTimeout)
	go func() {
		logger.Info("Starting Atlas orchestrator",
			zap.Int("port", cfg.Service.Port),
			zap.Int("agents", len(registered)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down orchestrator service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	_ = hm.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
}

// newLogger builds a production logger, or a development one at debug level.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if level == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zc.Encoding = "console"
	}
	return zc.Build()
}

func register(hm *health.Manager, c health.Checker, logger *zap.Logger) {
	if err := hm.RegisterChecker(c); err != nil {
		logger.Warn("Failed to register health checker", zap.String("checker", c.Name()), zap.Error(err))
	}
}

// newCompleter wraps the llm client in a pacer built from the
// rate_limits section of the pricing file.
func newCompleter(client *llm.Client, cfg *config.Config, logger *zap.Logger) llm.Completer {
	if !cfg.LLM.Throttle {
		return client
	}
	limits, err := ratecontrol.Load(cfg.Pricing.Path)
	if err != nil {
		logger.Warn("Failed to load rate limits, using built-in provider limits", zap.Error(err))
	}
	pacer := ratecontrol.NewPacer(limits.ForProvider(cfg.LLM.Provider), logger)
	if pacer == nil {
		return client
	}
	logger.Info("LLM pacing enabled",
		zap.String("provider", cfg.LLM.Provider),
		zap.Int("rpm", pacer.Limit().RPM),
		zap.Int("tpm", pacer.Limit().TPM),
	)
	return llm.NewThrottled(client, pacer)
}
