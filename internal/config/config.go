package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is used when ATLAS_CONFIG is unset.
const DefaultPath = "/app/config/atlas.yaml"

// Config is the complete service configuration. It is built once in main
// and handed to each component constructor; nothing reads it globally.
type Config struct {
	Service       ServiceConfig    `mapstructure:"service"`
	Logging       LoggingConfig    `mapstructure:"logging"`
	LLM           LLMConfig        `mapstructure:"llm"`
	Router        RouterConfig     `mapstructure:"router"`
	Agents        AgentsConfig     `mapstructure:"agents"`
	Synthesis     SynthesisConfig  `mapstructure:"synthesis"`
	MetadataStore PostgresConfig   `mapstructure:"metadata_store"`
	ProfileStore  SQLiteConfig     `mapstructure:"profile_store"`
	Vector        VectorConfig     `mapstructure:"vector"`
	Embeddings    EmbeddingsConfig `mapstructure:"embeddings"`
	Tracing       TracingConfig    `mapstructure:"tracing"`
	RateLimit     RateLimitConfig  `mapstructure:"rate_limit"`
	Health        HealthConfig     `mapstructure:"health"`
	Pricing       PricingConfig    `mapstructure:"pricing"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one API call end to end; zero disables it.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig points at the llm-service that backs classification,
// query generation, conversation and synthesis.
type LLMConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Provider string        `mapstructure:"provider"`
	// Pace outbound calls using rate_limits from the pricing file.
	Throttle bool `mapstructure:"throttle"`
}

type RouterConfig struct {
	MaxTokens     int           `mapstructure:"max_tokens"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	CacheEnabled  bool          `mapstructure:"cache_enabled"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
}

type AgentsConfig struct {
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxRows               int           `mapstructure:"max_rows"`
	TopK                  int           `mapstructure:"top_k"`
	GenerationMaxTokens   int           `mapstructure:"generation_max_tokens"`
	ConversationMaxTokens int           `mapstructure:"conversation_max_tokens"`
}

type SynthesisConfig struct {
	MaxTokens       int `mapstructure:"max_tokens"`
	MaxPromptRows   int `mapstructure:"max_prompt_rows"`
	MaxPromptBytes  int `mapstructure:"max_prompt_bytes"`
	MaxExcerptChars int `mapstructure:"max_excerpt_chars"`
}

// PostgresConfig holds the metadata store connection. Credentials live only
// here and never reach a prompt.
type PostgresConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConnections   int           `mapstructure:"max_connections"`
	IdleConnections  int           `mapstructure:"idle_connections"`
	MaxLifetime      time.Duration `mapstructure:"max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// DSN renders a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type SQLiteConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type VectorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Threshold  float64       `mapstructure:"threshold"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EmbeddingsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxLRU       int           `mapstructure:"max_lru"`
	RedisEnabled bool          `mapstructure:"redis_enabled"`
	RedisAddr    string        `mapstructure:"redis_addr"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// PricingConfig locates the model price list (models.yaml).
type PricingConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers every key so env overrides work without a file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.read_timeout", 15*time.Second)
	v.SetDefault("service.write_timeout", 120*time.Second)
	v.SetDefault("service.shutdown_timeout", 20*time.Second)
	v.SetDefault("service.request_timeout", 90*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.throttle", true)

	v.SetDefault("router.max_tokens", 200)
	v.SetDefault("router.min_confidence", 0.3)
	v.SetDefault("router.cache_enabled", false)
	v.SetDefault("router.cache_ttl", 10*time.Minute)
	v.SetDefault("router.redis_addr", "redis:6379")

	v.SetDefault("agents.timeout", 45*time.Second)
	v.SetDefault("agents.max_rows", 500)
	v.SetDefault("agents.top_k", 8)
	v.SetDefault("agents.generation_max_tokens", 800)
	v.SetDefault("agents.conversation_max_tokens", 300)

	v.SetDefault("synthesis.max_tokens", 2000)
	v.SetDefault("synthesis.max_prompt_rows", 25)
	v.SetDefault("synthesis.max_prompt_bytes", 8000)
	v.SetDefault("synthesis.max_excerpt_chars", 400)

	v.SetDefault("metadata_store.host", "postgres")
	v.SetDefault("metadata_store.port", 5432)
	v.SetDefault("metadata_store.user", "atlas_reader")
	v.SetDefault("metadata_store.password", "")
	v.SetDefault("metadata_store.database", "atlas")
	v.SetDefault("metadata_store.sslmode", "disable")
	v.SetDefault("metadata_store.max_connections", 10)
	v.SetDefault("metadata_store.idle_connections", 2)
	v.SetDefault("metadata_store.max_lifetime", 5*time.Minute)
	v.SetDefault("metadata_store.statement_timeout", 20*time.Second)

	v.SetDefault("profile_store.path", "/data/argo_profiles.db")
	v.SetDefault("profile_store.max_connections", 4)

	v.SetDefault("vector.enabled", true)
	v.SetDefault("vector.host", "qdrant")
	v.SetDefault("vector.port", 6333)
	v.SetDefault("vector.collection", "literature_chunks")
	v.SetDefault("vector.threshold", 0.0)
	v.SetDefault("vector.timeout", 5*time.Second)

	v.SetDefault("embeddings.base_url", "http://llm-service:8000")
	v.SetDefault("embeddings.default_model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 5*time.Second)
	v.SetDefault("embeddings.cache_ttl", time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)
	v.SetDefault("embeddings.redis_enabled", false)
	v.SetDefault("embeddings.redis_addr", "redis:6379")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "atlas-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("health.check_interval", 30*time.Second)
	v.SetDefault("pricing.path", "/app/config/models.yaml")
}

// Load reads the YAML file at path (ATLAS_CONFIG, then DefaultPath when
// empty) and applies ATLAS_* environment overrides. A missing file is not
// an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ATLAS_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values that would make the pipeline unusable.
func (c *Config) Validate() error {
	switch {
	case c.LLM.BaseURL == "":
		return errors.New("config: llm.base_url is required")
	case c.Agents.MaxRows <= 0:
		return errors.New("config: agents.max_rows must be positive")
	case c.Agents.TopK <= 0:
		return errors.New("config: agents.top_k must be positive")
	case c.Router.MinConfidence < 0 || c.Router.MinConfidence > 1:
		return errors.New("config: router.min_confidence must be within [0,1]")
	case c.Service.RequestTimeout < 0:
		return errors.New("config: service.request_timeout must not be negative")
	}
	return nil
}
