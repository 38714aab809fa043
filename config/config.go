package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retrieval engine and its tools.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Judge     JudgeConfig     `yaml:"judge"`
	Index     IndexConfig     `yaml:"index"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider" validate:"oneof=ollama openai mock"`
	Model         string        `yaml:"model" validate:"required"`
	BaseURL       string        `yaml:"base_url"`
	APIKeyEnv     string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension     int           `yaml:"dimension" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts   int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gte=0"`
	Concurrency   int           `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// JudgeConfig holds the relevance-judgment LLM configuration.
type JudgeConfig struct {
	Provider  string        `yaml:"provider" validate:"oneof=ollama openai"`
	Model     string        `yaml:"model" validate:"required"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

// IndexConfig holds indexing and persistence configuration.
type IndexConfig struct {
	Dir           string   `yaml:"dir"`
	Collection    string   `yaml:"collection" validate:"required,excludesall=/\\"`
	Backend       string   `yaml:"backend" validate:"oneof=hnsw flat"`
	HNSWM         int      `yaml:"hnsw_m" validate:"gte=2"`
	HNSWEfSearch  int      `yaml:"hnsw_ef_search" validate:"gte=1"`
	ProgressEvery int      `yaml:"progress_every" validate:"gte=1"`
	Includes      []string `yaml:"includes"`
	Excludes      []string `yaml:"excludes"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK              int           `yaml:"top_k" validate:"gte=1"`
	Overfetch         int           `yaml:"overfetch" validate:"gte=1"`
	MinScoreThreshold float64       `yaml:"min_score_threshold" validate:"gte=-1,lte=1"` // Context items below this score are dropped
	CacheSize         int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// RerankConfig holds LLM reranking configuration.
type RerankConfig struct {
	Enabled   bool    `yaml:"enabled"`
	TopN      int     `yaml:"top_n" validate:"gte=2"`
	Threshold float64 `yaml:"threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// ServerConfig holds the HTTP server configuration for `rag serve`.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:      "ollama",
			Model:         "all-minilm",
			BaseURL:       "http://localhost:11434",
			APIKeyEnv:     "OPENAI_API_KEY",
			Dimension:     384,
			Timeout:       30 * time.Second,
			MaxAttempts:   3,
			RetryInterval: 500 * time.Millisecond,
			Concurrency:   4,
		},
		Judge: JudgeConfig{
			Provider:  "ollama",
			Model:     "qwen:7b",
			BaseURL:   "http://localhost:11434",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   60 * time.Second,
		},
		Index: IndexConfig{
			Dir:           ".rag",
			Collection:    "document_index",
			Backend:       "hnsw",
			HNSWM:         16,
			HNSWEfSearch:  64,
			ProgressEvery: 50,
			Includes:      []string{"**/*.jsonl"},
			Excludes:      []string{"**/.rag/**", "**/.git/**", "**/node_modules/**"},
		},
		Retrieve: RetrieveConfig{
			TopK:              20,
			Overfetch:         3,
			MinScoreThreshold: 0.6,
			CacheSize:         100,
			CacheTTL:          5 * time.Minute,
		},
		Rerank: RerankConfig{
			Enabled:   false,
			TopN:      5,
			Threshold: 0.3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
	}
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for rag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "rag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".rag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexRoot returns the directory holding persisted index units for the
// configured collection. A relative index.dir is resolved against dir.
func (c *Config) IndexRoot(dir string) string {
	root := c.Index.Dir
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}
	return filepath.Join(root, c.Index.Collection)
}

// EnsureIndexDir ensures the index directory for the collection exists.
func (c *Config) EnsureIndexDir(dir string) error {
	return os.MkdirAll(c.IndexRoot(dir), 0755)
}
