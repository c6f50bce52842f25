package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverRedis    = "redis"
	DriverValkey   = "valkey"
	DriverPinecone = "pinecone"
)

// Vision providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds the phototag configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Vision    VisionConfig    `yaml:"vision"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // redis, valkey, pinecone (default: redis)

	// redis / valkey
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`

	// pinecone
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	Namespace string `yaml:"namespace"`

	EmbeddingCache EmbeddingCacheConfig `yaml:"embedding_cache"`
}

// EmbeddingCacheConfig controls the KV embedding cache (redis and valkey only).
type EmbeddingCacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"` // 0 = no expiry
}

// VisionConfig holds the multimodal model settings.
type VisionConfig struct {
	Provider  string `yaml:"provider"` // openai, anthropic (default: openai)
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	TagCount  int    `yaml:"tag_count"`
	Detail    string `yaml:"detail"` // openai only: low, high, auto
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// IsRedisFamily reports whether the store driver speaks the Redis protocol.
func (s StoreConfig) IsRedisFamily() bool {
	return s.Driver == DriverRedis || s.Driver == DriverValkey
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory is loaded first; it never overrides variables already set.
func Load(env string) (Config, error) {
	_ = godotenv.Load()

	return LoadFile(findConfigPath(env))
}

// LoadFile reads, expands, defaults and validates the config at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
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

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverRedis
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
	if c.Store.HNSWM <= 0 {
		c.Store.HNSWM = 16
	}
	if c.Store.HNSWEFConstruct <= 0 {
		c.Store.HNSWEFConstruct = 200
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "phototag:"
	}

	if c.Vision.Provider == "" {
		c.Vision.Provider = ProviderOpenAI
	}
	if c.Vision.Model == "" {
		switch c.Vision.Provider {
		case ProviderAnthropic:
			c.Vision.Model = "claude-sonnet-4-20250514"
		default:
			c.Vision.Model = "gpt-4-turbo"
		}
	}
	if c.Vision.MaxTokens <= 0 {
		c.Vision.MaxTokens = 512
	}
	if c.Vision.TagCount <= 0 {
		c.Vision.TagCount = 15
	}
	if c.Vision.Detail == "" {
		c.Vision.Detail = "low"
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Store.Driver {
	case DriverRedis, DriverValkey:
		if len(c.Store.Addrs) == 0 {
			return errors.New("store.addrs is required")
		}
	case DriverPinecone:
		if c.Store.APIKey == "" {
			return errors.New("store.api_key is required for pinecone")
		}
		if c.Store.Host == "" {
			return errors.New("store.host is required for pinecone")
		}
		if c.Store.EmbeddingCache.Enabled {
			return errors.New("store.embedding_cache requires the redis or valkey driver")
		}
	default:
		return fmt.Errorf("store.driver must be redis, valkey or pinecone, got %q", c.Store.Driver)
	}
	if c.Store.EmbeddingCache.TTLSec < 0 {
		return fmt.Errorf("store.embedding_cache.ttl_sec must not be negative, got %d", c.Store.EmbeddingCache.TTLSec)
	}

	switch c.Vision.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("vision.provider must be openai or anthropic, got %q", c.Vision.Provider)
	}
	if c.Vision.APIKey == "" {
		return errors.New("vision.api_key is required")
	}
	switch c.Vision.Detail {
	case "low", "high", "auto":
	default:
		return fmt.Errorf("vision.detail must be low, high or auto, got %q", c.Vision.Detail)
	}

	if c.Embedding.APIKey == "" {
		return errors.New("embedding.api_key is required")
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
