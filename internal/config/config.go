package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the parley API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	Cache      CacheConfig      `yaml:"cache"`
	Queue      QueueConfig      `yaml:"queue"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the Redis vector store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	MaxChars   int    `yaml:"max_chars"` // input clamp before encoding
}

// GenerationConfig holds language-model settings.
type GenerationConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// RetrievalConfig holds fan-out search settings.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	MinScore         float64 `yaml:"min_score"`          // merge-time similarity cutoff
	EmbedTimeoutSec  int     `yaml:"embed_timeout_sec"`  // shared-embedding budget
	SearchTimeoutSec int     `yaml:"search_timeout_sec"` // per-namespace search budget
	HistoryWindow    int     `yaml:"history_window"`     // messages kept per session
}

// SynthesisConfig holds grounded-answer settings.
type SynthesisConfig struct {
	FastHitThreshold float64 `yaml:"fast_hit_threshold"` // single trusted hit short-circuit
	MinSnippetScore  float64 `yaml:"min_snippet_score"`  // pre-tagging cutoff
	MaxSnippets      int     `yaml:"max_snippets"`
	MaxKeywords      int     `yaml:"max_keywords"`
	MaxSentences     int     `yaml:"max_sentences"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
	TTLSec   int `yaml:"ttl_sec"`
}

// QueueConfig holds request queue settings.
type QueueConfig struct {
	Concurrency   int `yaml:"concurrency"`
	RetryAttempts int `yaml:"retry_attempts"`
	BaseDelayMs   int `yaml:"base_delay_ms"`
	MaxDelayMs    int `yaml:"max_delay_ms"`
}

// RateLimitConfig holds fixed-window rate limiter settings.
type RateLimitConfig struct {
	MaxRequests int `yaml:"max_requests"`
	WindowSec   int `yaml:"window_sec"`
}

// WebSearchConfig holds external search-engine proxy settings.
type WebSearchConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 15
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Generous: /ai/stream holds the response open while tokens arrive.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "parley:"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 768
	}
	if c.Embedding.MaxChars <= 0 {
		c.Embedding.MaxChars = 8000
	}
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = 0.7
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 4096
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 45
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.MinScore <= 0 {
		c.Retrieval.MinScore = 0.5
	}
	if c.Retrieval.EmbedTimeoutSec <= 0 {
		c.Retrieval.EmbedTimeoutSec = 5
	}
	if c.Retrieval.SearchTimeoutSec <= 0 {
		c.Retrieval.SearchTimeoutSec = 20
	}
	if c.Retrieval.HistoryWindow <= 0 {
		c.Retrieval.HistoryWindow = 20
	}
	if c.Synthesis.FastHitThreshold <= 0 {
		c.Synthesis.FastHitThreshold = 0.88
	}
	if c.Synthesis.MinSnippetScore <= 0 {
		c.Synthesis.MinSnippetScore = 0.7
	}
	if c.Synthesis.MaxSnippets <= 0 {
		c.Synthesis.MaxSnippets = 12
	}
	if c.Synthesis.MaxKeywords <= 0 {
		c.Synthesis.MaxKeywords = 12
	}
	if c.Synthesis.MaxSentences <= 0 {
		c.Synthesis.MaxSentences = 4
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 1000
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 3600
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 4
	}
	if c.Queue.RetryAttempts <= 0 {
		c.Queue.RetryAttempts = 3
	}
	if c.Queue.BaseDelayMs <= 0 {
		c.Queue.BaseDelayMs = 500
	}
	if c.Queue.MaxDelayMs <= 0 {
		c.Queue.MaxDelayMs = 10000
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.WebSearch.BaseURL == "" {
		c.WebSearch.BaseURL = "https://serpapi.com/search.json"
	}
	if c.WebSearch.TimeoutSec <= 0 {
		c.WebSearch.TimeoutSec = 20
	}
	if c.WebSearch.CacheTTLSec <= 0 {
		c.WebSearch.CacheTTLSec = 600
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Synthesis.FastHitThreshold > 1 {
		return fmt.Errorf("synthesis.fast_hit_threshold must be in (0,1], got %v", c.Synthesis.FastHitThreshold)
	}
	if c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be in (0,1], got %v", c.Retrieval.MinScore)
	}
	if c.Queue.MaxDelayMs < c.Queue.BaseDelayMs {
		return fmt.Errorf("queue.max_delay_ms must be >= queue.base_delay_ms")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
