// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.knova/config.yaml or ./config.yaml)
//  3. Default values
//
// Categories: generation provider (model, sampling), PostgreSQL storage,
// retrieval tuning, resilience tuning (circuit breaker, rate limiting,
// response cache, retry), and the HTTP server.
//
// Validation happens in Load (fail-fast); sentinel errors support
// errors.Is() checks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the provider API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the generation model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidSimilarity indicates a similarity threshold is outside [0,1].
	ErrInvalidSimilarity = errors.New("invalid similarity threshold")

	// ErrInvalidRetrievalLimit indicates the retrieval top-k is out of range.
	ErrInvalidRetrievalLimit = errors.New("invalid retrieval limit")

	// ErrInvalidResilience indicates a resilience tuning value is invalid.
	ErrInvalidResilience = errors.New("invalid resilience setting")
)

// Defaults mirror the platform's production tuning.
const (
	// DefaultEmbeddingDimension is the vector width stored in pgvector.
	DefaultEmbeddingDimension = 384

	// DefaultMaxRetrievalDocs caps chunks fed into a single prompt.
	DefaultMaxRetrievalDocs = 5

	// DefaultMinSimilarity is the citation/search score floor.
	DefaultMinSimilarity = 0.5

	// DefaultHistoryWindow is how many prior messages feed a turn's prompt.
	DefaultHistoryWindow = 10
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in LogValue(); never log the raw
// struct.
type Config struct {
	// Generation provider
	APIKey        string  `mapstructure:"api_key"` // SENSITIVE
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature"`
	TopP          float32 `mapstructure:"top_p"`
	MaxTokens     int     `mapstructure:"max_tokens"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Retrieval
	EmbeddingDimension int     `mapstructure:"embedding_dimension"`
	MaxRetrievalDocs   int     `mapstructure:"max_retrieval_docs"`
	MinSimilarity      float64 `mapstructure:"min_similarity"`
	HistoryWindow      int     `mapstructure:"history_window"`

	// Trusted shared identity: the platform super-admin account whose
	// documents are visible to every principal regardless of scope.
	// Zero means "not configured".
	SharedIdentityID int64 `mapstructure:"shared_identity_id"`

	// Resilience
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `mapstructure:"circuit_breaker_cooldown"`
	RequestsPerMinute       int           `mapstructure:"requests_per_minute"`
	CacheSize               int           `mapstructure:"cache_size"`
	CacheTTL                time.Duration `mapstructure:"cache_ttl"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`

	// HTTP server
	ListenAddr string `mapstructure:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy"`
	RateBurst  int    `mapstructure:"rate_burst"`
}

// Load loads configuration with priority: env > config file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".knova")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Generation provider
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("top_p", 0.95)
	v.SetDefault("max_tokens", 1024)

	// PostgreSQL (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "knova")
	v.SetDefault("postgres_password", "knova_dev_password")
	v.SetDefault("postgres_db_name", "knova")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Retrieval
	v.SetDefault("embedding_dimension", DefaultEmbeddingDimension)
	v.SetDefault("max_retrieval_docs", DefaultMaxRetrievalDocs)
	v.SetDefault("min_similarity", DefaultMinSimilarity)
	v.SetDefault("history_window", DefaultHistoryWindow)

	// Resilience
	v.SetDefault("circuit_breaker_threshold", 5)
	v.SetDefault("circuit_breaker_cooldown", time.Minute)
	v.SetDefault("requests_per_minute", 30)
	v.SetDefault("cache_size", 100)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("max_retries", 3)
	v.SetDefault("request_timeout", 30*time.Second)

	// Server
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "GEMINI_API_KEY")
	mustBind("model_name", "KNOVA_MODEL_NAME")
	mustBind("postgres_host", "KNOVA_POSTGRES_HOST")
	mustBind("postgres_password", "KNOVA_POSTGRES_PASSWORD")
	mustBind("listen_addr", "KNOVA_LISTEN_ADDR")
	mustBind("trust_proxy", "KNOVA_TRUST_PROXY")
	mustBind("shared_identity_id", "KNOVA_SHARED_IDENTITY_ID")
}

// Validate checks configuration ranges. Called by Load; exported so tests and
// manual construction can fail fast too.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return ErrInvalidModelName
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0,2])", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSimilarity, c.MinSimilarity)
	}
	if c.MaxRetrievalDocs <= 0 || c.MaxRetrievalDocs > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidRetrievalLimit, c.MaxRetrievalDocs)
	}
	if c.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("%w: circuit breaker threshold %d", ErrInvalidResilience, c.CircuitBreakerThreshold)
	}
	if c.CircuitBreakerCooldown <= 0 {
		return fmt.Errorf("%w: circuit breaker cooldown %v", ErrInvalidResilience, c.CircuitBreakerCooldown)
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: requests per minute %d", ErrInvalidResilience, c.RequestsPerMinute)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d", ErrInvalidResilience, c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout %v", ErrInvalidResilience, c.RequestTimeout)
	}
	return nil
}

// ConnString builds the PostgreSQL connection string for pgx.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// LogValue implements slog.LogValuer, masking sensitive fields.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model_name", c.ModelName),
		slog.String("embedder_model", c.EmbedderModel),
		slog.String("postgres_host", c.PostgresHost),
		slog.Int("postgres_port", c.PostgresPort),
		slog.String("postgres_db_name", c.PostgresDBName),
		slog.String("api_key", mask(c.APIKey)),
		slog.String("postgres_password", mask(c.PostgresPassword)),
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "████████"
}
