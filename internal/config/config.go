package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"report-rag/internal/models"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Processing ProcessingConfig `yaml:"processing"`
	Retry      RetryConfig      `yaml:"retry"`
	Server     ServerConfig     `yaml:"server"`

	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	SkipExisting      bool    `yaml:"skip_existing"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type DatabaseConfig struct {
	// Driver is "memory", "pgdriver" or "pq".
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
	SeedFile string `yaml:"seed_file"`
}

type EmbeddingsConfig struct {
	// Provider is "openai", "ollama" or "local".
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Dimension    int           `yaml:"dimension"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ChunkingConfig struct {
	MaxTokens          int    `yaml:"max_tokens"`
	OverlapTokens      int    `yaml:"overlap_tokens"`
	PreserveParagraphs bool   `yaml:"preserve_paragraphs"`
	Tokenizer          string `yaml:"tokenizer"` // word or tiktoken
	Encoding           string `yaml:"encoding"`
	// OfflineEncoding loads tiktoken ranks bundled with the binary.
	OfflineEncoding    bool   `yaml:"offline_encoding"`
}

type IndexConfig struct {
	// Backend is "memory" or "chromem".
	Backend string `yaml:"backend"`
	Metric  string `yaml:"metric"`
}

type SearchConfig struct {
	DefaultTopK          int     `yaml:"default_top_k"`
	DefaultMinSimilarity float64 `yaml:"default_min_similarity"`
	QueryCacheSize       int     `yaml:"query_cache_size"`
}

type ProcessingConfig struct {
	// OnBusy is "reject" or "queue".
	OnBusy string `yaml:"on_busy"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	TokenizerWord     = "word"
	TokenizerTiktoken = "tiktoken"

	BackendMemory  = "memory"
	BackendChromem = "chromem"

	OnBusyReject = "reject"
	OnBusyQueue  = "queue"

	MetricCosine = "cosine"
)

// LoadConfig reads path, expands ${VAR} references from the environment
// (after loading an optional .env file), applies defaults and validates.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", models.ErrConfiguration, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration that runs fully offline.
func Default() *Config {
	cfg := &Config{
		Log:      LogConfig{Level: "info", Format: "console"},
		Database: DatabaseConfig{Driver: "memory"},
		Embeddings: EmbeddingsConfig{
			Provider:  ProviderLocal,
			Model:     "hash-v1",
			Dimension: 256,
			Timeout:   30 * time.Second,
		},
		Chunking: ChunkingConfig{
			MaxTokens:          1000,
			OverlapTokens:      200,
			PreserveParagraphs: true,
			Tokenizer:          TokenizerWord,
			OfflineEncoding:    true,
		},
		Index:      IndexConfig{Backend: BackendMemory, Metric: MetricCosine},
		Search:     SearchConfig{DefaultTopK: 10, DefaultMinSimilarity: 0.5, QueryCacheSize: 256},
		Processing: ProcessingConfig{OnBusy: OnBusyReject},
		Retry:      RetryConfig{MaxAttempts: 3, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
		Server:     ServerConfig{Addr: ":8080", ReadTimeout: 15 * time.Second, WriteTimeout: 10 * time.Minute},

		BatchSize:    32,
		Concurrency:  2,
		SkipExisting: true,
	}
	return cfg
}

func (c *Config) applyDefaults() {
	c.Embeddings.Provider = strings.ToLower(strings.TrimSpace(c.Embeddings.Provider))
	if c.Embeddings.BaseURL == "" {
		switch c.Embeddings.Provider {
		case ProviderOpenAI:
			c.Embeddings.BaseURL = "https://api.openai.com/v1"
		case ProviderOllama:
			c.Embeddings.BaseURL = "http://localhost:11434"
		}
	}
	if c.Embeddings.Provider == ProviderOpenAI && c.Embeddings.MaxBatchSize == 0 {
		c.Embeddings.MaxBatchSize = 2048
	}
	if c.Chunking.Tokenizer == TokenizerTiktoken && c.Chunking.Encoding == "" {
		c.Chunking.Encoding = "cl100k_base"
	}
	if c.Index.Metric == "" {
		c.Index.Metric = MetricCosine
	}
}

// Validate rejects invalid option combinations with ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Embeddings.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderLocal:
	default:
		add("embeddings.provider %q is not supported", c.Embeddings.Provider)
	}
	if strings.TrimSpace(c.Embeddings.Model) == "" {
		add("embeddings.model is required")
	}
	if c.Embeddings.Provider == ProviderLocal && c.Embeddings.Dimension <= 0 {
		add("embeddings.dimension must be greater than zero for the local provider")
	}
	if c.Embeddings.Dimension < 0 {
		add("embeddings.dimension cannot be negative")
	}
	if c.Embeddings.Timeout < 0 {
		add("embeddings.timeout cannot be negative")
	}
	if c.Chunking.MaxTokens <= 0 {
		add("chunking.max_tokens must be greater than zero")
	}
	if c.Chunking.OverlapTokens < 0 {
		add("chunking.overlap_tokens cannot be negative")
	}
	if c.Chunking.MaxTokens > 0 && c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		add("chunking.overlap_tokens (%d) must be smaller than chunking.max_tokens (%d)",
			c.Chunking.OverlapTokens, c.Chunking.MaxTokens)
	}
	switch c.Chunking.Tokenizer {
	case TokenizerWord, TokenizerTiktoken:
	default:
		add("chunking.tokenizer %q is not supported", c.Chunking.Tokenizer)
	}
	if c.BatchSize < 1 {
		add("batch_size must be at least 1")
	}
	if c.Concurrency < 1 {
		add("concurrency must be at least 1")
	}
	if c.RequestsPerSecond < 0 {
		add("requests_per_second cannot be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseBackoff <= 0 {
		add("retry.base_backoff must be greater than zero")
	}
	if c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		add("retry.max_backoff must not be smaller than retry.base_backoff")
	}
	switch c.Index.Backend {
	case BackendMemory, BackendChromem:
	default:
		add("index.backend %q is not supported", c.Index.Backend)
	}
	if c.Index.Metric != MetricCosine {
		add("index.metric %q is not supported", c.Index.Metric)
	}
	if c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > 50 {
		add("search.default_top_k must be between 1 and 50")
	}
	if c.Search.DefaultMinSimilarity < 0 || c.Search.DefaultMinSimilarity > 1 {
		add("search.default_min_similarity must be between 0 and 1")
	}
	if c.Search.QueryCacheSize < 0 {
		add("search.query_cache_size cannot be negative")
	}
	switch c.Processing.OnBusy {
	case OnBusyReject, OnBusyQueue:
	default:
		add("processing.on_busy %q is not supported", c.Processing.OnBusy)
	}
	switch c.Database.Driver {
	case "memory":
	case "pgdriver", "pq":
		if c.Database.DSN == "" {
			add("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		add("database.driver %q is not supported", c.Database.Driver)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Fingerprint describes the settings that change how a document is chunked
// or embedded. It salts document fingerprints so that a settings change
// forces reprocessing.
func (c *Config) Fingerprint() string {
	return fmt.Sprintf("%s/%s|%s/%d/%d/%t",
		c.Embeddings.Provider, c.Embeddings.Model,
		c.Chunking.Tokenizer, c.Chunking.MaxTokens, c.Chunking.OverlapTokens, c.Chunking.PreserveParagraphs)
}
