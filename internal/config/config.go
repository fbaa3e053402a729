// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Chunk        ChunkConfig        `mapstructure:"chunk"`
	Index        IndexConfig        `mapstructure:"index"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Weaviate     WeaviateConfig     `mapstructure:"weaviate"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Cache        CacheConfig        `mapstructure:"cache"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	Concurrency     int     `mapstructure:"concurrency"`
	UserAgent       string  `mapstructure:"user_agent"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxRedirects    int     `mapstructure:"max_redirects"`
	MaxBodyBytes    int     `mapstructure:"max_body_bytes"`
	MaxDepthDefault int     `mapstructure:"max_depth_default"`
	MaxPagesDefault int     `mapstructure:"max_pages_default"`
	PerHostQPS      float64 `mapstructure:"per_host_qps"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ChunkConfig sets the fragment window.
type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// IndexConfig bounds embedding and upsert batching.
type IndexConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// RetrievalConfig tunes similarity search.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// LLMConfig tunes answer generation.
type LLMConfig struct {
	Temperature     float64 `mapstructure:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	MaxHistory      int     `mapstructure:"max_history"`
	MaxPromptChars  int     `mapstructure:"max_prompt_chars"`
	SystemPrompt    string  `mapstructure:"system_prompt"`
}

// GeminiConfig holds Google AI credentials and model names.
type GeminiConfig struct {
	APIKey          string `mapstructure:"api_key"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
	CompletionModel string `mapstructure:"completion_model"`
}

// WeaviateConfig locates the vector store. An empty host selects the
// in-memory store.
type WeaviateConfig struct {
	Host   string `mapstructure:"host"`
	Scheme string `mapstructure:"scheme"`
	Class  string `mapstructure:"class"`
}

// RedisConfig locates the KV store. An empty address selects the in-memory
// store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ConversationConfig controls session lifetime.
type ConversationConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// RateLimitClass bounds one operation class.
type RateLimitClass struct {
	Ceiling       int `mapstructure:"ceiling"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// RateLimitConfig bounds the API operation classes.
type RateLimitConfig struct {
	Query  RateLimitClass `mapstructure:"query"`
	Index  RateLimitClass `mapstructure:"index"`
	Status RateLimitClass `mapstructure:"status"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITESAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "sitesage-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_redirects", 10)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_pages_default", 200)
	v.SetDefault("crawler.per_host_qps", 2.0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 1024)
	v.SetDefault("chunk.size", 1000)
	v.SetDefault("chunk.overlap", 200)
	v.SetDefault("index.batch_size", 32)
	v.SetDefault("index.concurrency", 4)
	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 1024)
	v.SetDefault("llm.max_history", 10)
	v.SetDefault("llm.max_prompt_chars", 24000)
	v.SetDefault("gemini.embedding_model", "text-embedding-004")
	v.SetDefault("gemini.completion_model", "gemini-1.5-flash")
	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.class", "SiteFragment")
	v.SetDefault("conversation.ttl_hours", 720)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("rate_limit.query.ceiling", 60)
	v.SetDefault("rate_limit.query.window_seconds", 60)
	v.SetDefault("rate_limit.index.ceiling", 5)
	v.SetDefault("rate_limit.index.window_seconds", 60)
	v.SetDefault("rate_limit.status.ceiling", 120)
	v.SetDefault("rate_limit.status.window_seconds", 60)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be > 0")
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Conversation.TTLHours <= 0 {
		return fmt.Errorf("conversation.ttl_hours must be > 0")
	}
	return nil
}

// CrawlTimeout returns the per-request fetch timeout.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// ConversationTTL returns the session lifetime.
func (c Config) ConversationTTL() time.Duration {
	return time.Duration(c.Conversation.TTLHours) * time.Hour
}

// CacheTTL returns the response cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
