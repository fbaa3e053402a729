// Package app assembles the service from configuration: provider selection,
// dependency wiring, and lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	weaviateclient "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/sitesage/sitesage/internal/api"
	"github.com/sitesage/sitesage/internal/cache"
	"github.com/sitesage/sitesage/internal/chunk"
	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/config"
	"github.com/sitesage/sitesage/internal/convo"
	"github.com/sitesage/sitesage/internal/crawl"
	"github.com/sitesage/sitesage/internal/embed"
	embedgemini "github.com/sitesage/sitesage/internal/embed/gemini"
	"github.com/sitesage/sitesage/internal/id/uuid"
	"github.com/sitesage/sitesage/internal/index"
	"github.com/sitesage/sitesage/internal/kv"
	kvmemory "github.com/sitesage/sitesage/internal/kv/memory"
	kvredis "github.com/sitesage/sitesage/internal/kv/redis"
	"github.com/sitesage/sitesage/internal/llm"
	llmgemini "github.com/sitesage/sitesage/internal/llm/gemini"
	"github.com/sitesage/sitesage/internal/metrics"
	"github.com/sitesage/sitesage/internal/query"
	"github.com/sitesage/sitesage/internal/ratelimit"
	"github.com/sitesage/sitesage/internal/retrieve"
	"github.com/sitesage/sitesage/internal/vector"
	vecmemory "github.com/sitesage/sitesage/internal/vector/memory"
	vecweaviate "github.com/sitesage/sitesage/internal/vector/weaviate"
)

// App holds the assembled service.
type App struct {
	Server *api.Server

	cfg      config.Config
	logger   *zap.Logger
	genai    *genai.Client
	redis    *kvredis.Store
	renderer *crawl.ChromedpRenderer
}

// New builds the service. Providers switch on configuration: Redis and
// Weaviate when addressed, in-memory fallbacks otherwise.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	clk := clock.NewSystem()
	app := &App{cfg: cfg, logger: logger}

	var kvStore kv.Store
	if cfg.Redis.Addr != "" {
		store := kvredis.New(kvredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		app.redis = store
		kvStore = store
	} else {
		logger.Warn("redis not configured, state will not survive restarts")
		kvStore = kvmemory.New(clk)
	}

	var vectorStore vector.Store
	if cfg.Weaviate.Host != "" {
		client, err := weaviateclient.NewClient(weaviateclient.Config{
			Host:   cfg.Weaviate.Host,
			Scheme: cfg.Weaviate.Scheme,
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate client: %w", err)
		}
		store := vecweaviate.New(client, cfg.Weaviate.Class)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("weaviate schema: %w", err)
		}
		vectorStore = store
	} else {
		logger.Warn("weaviate not configured, the index will not survive restarts")
		vectorStore = vecmemory.New()
	}

	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("gemini.api_key is required")
	}
	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.Gemini.APIKey))
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	app.genai = genaiClient

	var embedder embed.Embedder = embedgemini.New(genaiClient, cfg.Gemini.EmbeddingModel)
	var completer llm.Completer = llmgemini.New(genaiClient, llmgemini.Config{
		Model:           cfg.Gemini.CompletionModel,
		Temperature:     float32(cfg.LLM.Temperature),
		MaxOutputTokens: int32(cfg.LLM.MaxOutputTokens),
	})

	chunker, err := chunk.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	indexer := index.New(chunker, embedder, vectorStore, kvStore, index.Config{
		BatchSize:   cfg.Index.BatchSize,
		Concurrency: cfg.Index.Concurrency,
	}, logger.Named("index"))

	var renderer crawl.Renderer
	if cfg.Headless.Enabled {
		chromedpRenderer, rendererErr := crawl.NewChromedpRenderer(crawl.RendererConfig{
			UserAgent:     cfg.Crawler.UserAgent,
			MaxParallel:   cfg.Headless.MaxParallel,
			RenderTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, logger.Named("renderer"))
		if rendererErr != nil {
			logger.Warn("headless renderer init failed", zap.Error(rendererErr))
		} else {
			app.renderer = chromedpRenderer
			renderer = chromedpRenderer
		}
	}

	fetcher := crawl.NewCollyFetcher(crawl.FetcherConfig{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.CrawlTimeout(),
		MaxRedirects: cfg.Crawler.MaxRedirects,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	}, logger.Named("fetcher"))
	detector := crawl.NewHeuristicDetector(cfg.Headless.PromotionThresh, crawl.DefaultJSKeywords, nil)
	hostLimiter := crawl.NewHostLimiter(cfg.Crawler.PerHostQPS)
	jobs := crawl.NewJobStore(clk)
	crawler := crawl.NewCrawler(crawl.CrawlerConfig{
		Concurrency: cfg.Crawler.Concurrency,
		MaxDepth:    cfg.Crawler.MaxDepthDefault,
		MaxPages:    cfg.Crawler.MaxPagesDefault,
	}, fetcher, renderer, detector, hostLimiter, indexer, jobs, clk, logger.Named("crawler"))

	conversations := convo.New(kvStore, clk, cfg.ConversationTTL(), logger.Named("convo"))
	responseCache := cache.New(kvStore, cfg.CacheTTL(), logger.Named("cache"))
	retriever := retrieve.New(embedder, vectorStore, logger.Named("retrieve"))
	orchestrator := query.New(responseCache, conversations, retriever, completer, query.Config{
		TopK:           cfg.Retrieval.TopK,
		MaxHistory:     cfg.LLM.MaxHistory,
		MaxPromptChars: cfg.LLM.MaxPromptChars,
		SystemPrompt:   cfg.LLM.SystemPrompt,
	}, clk, logger.Named("query"))

	rateLimiter := ratelimit.New(kvStore, clk, map[string]ratelimit.Class{
		"query":  {Ceiling: cfg.RateLimit.Query.Ceiling, Window: time.Duration(cfg.RateLimit.Query.WindowSeconds) * time.Second},
		"index":  {Ceiling: cfg.RateLimit.Index.Ceiling, Window: time.Duration(cfg.RateLimit.Index.WindowSeconds) * time.Second},
		"status": {Ceiling: cfg.RateLimit.Status.Ceiling, Window: time.Duration(cfg.RateLimit.Status.WindowSeconds) * time.Second},
	}, logger.Named("ratelimit"))

	app.Server = api.NewServer(
		ctx,
		jobs,
		crawler,
		orchestrator,
		rateLimiter,
		conversations,
		vectorStore,
		uuid.New(),
		cfg,
		logger.Named("api"),
	)
	return app, nil
}

// Close releases the app's external clients.
func (a *App) Close() {
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			a.logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if a.genai != nil {
		if err := a.genai.Close(); err != nil {
			a.logger.Warn("genai client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}
