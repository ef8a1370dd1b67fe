package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-rag/internal/models"
)

func TestParse(t *testing.T) {
	t.Run("Should apply defaults to an empty document", func(t *testing.T) {
		cfg, err := Parse([]byte("{}"))
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, cfg.Embeddings.Provider)
		assert.Equal(t, 1000, cfg.Chunking.MaxTokens)
		assert.Equal(t, 200, cfg.Chunking.OverlapTokens)
		assert.Equal(t, 2, cfg.Concurrency)
		assert.True(t, cfg.SkipExisting)
		assert.Equal(t, OnBusyReject, cfg.Processing.OnBusy)
		assert.Equal(t, MetricCosine, cfg.Index.Metric)
		assert.True(t, cfg.Chunking.OfflineEncoding)
	})

	t.Run("Should read every section", func(t *testing.T) {
		t.Setenv("RAG_TEST_KEY", "sk-test")
		cfg, err := Parse([]byte(`
log:
  level: debug
  format: json
embeddings:
  provider: OpenAI
  model: text-embedding-3-small
  api_key: ${RAG_TEST_KEY}
  dimension: 1536
  timeout: 20s
chunking:
  max_tokens: 500
  overlap_tokens: 50
  tokenizer: tiktoken
  offline_encoding: false
batch_size: 16
concurrency: 4
requests_per_second: 2.5
retry:
  max_attempts: 5
  base_backoff: 250ms
  max_backoff: 5s
skip_existing: false
processing:
  on_busy: queue
index:
  backend: chromem
search:
  default_top_k: 5
  default_min_similarity: 0.3
`))
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, cfg.Embeddings.Provider)
		assert.Equal(t, "sk-test", cfg.Embeddings.APIKey)
		assert.Equal(t, "https://api.openai.com/v1", cfg.Embeddings.BaseURL)
		assert.Equal(t, 2048, cfg.Embeddings.MaxBatchSize)
		assert.Equal(t, 20*time.Second, cfg.Embeddings.Timeout)
		assert.Equal(t, "cl100k_base", cfg.Chunking.Encoding)
		assert.False(t, cfg.Chunking.OfflineEncoding)
		assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseBackoff)
		assert.Equal(t, 2.5, cfg.RequestsPerSecond)
		assert.False(t, cfg.SkipExisting)
		assert.Equal(t, OnBusyQueue, cfg.Processing.OnBusy)
		assert.Equal(t, BackendChromem, cfg.Index.Backend)
	})

	for name, doc := range map[string]string{
		"overlap not below max":   "chunking: {max_tokens: 100, overlap_tokens: 100}",
		"non-positive max":        "chunking: {max_tokens: 0}",
		"negative overlap":        "chunking: {overlap_tokens: -1}",
		"zero batch size":         "batch_size: 0",
		"unknown provider":        "embeddings: {provider: cohere}",
		"unknown backend":         "index: {backend: faiss}",
		"unsupported metric":      "index: {metric: dot}",
		"similarity out of range": "search: {default_min_similarity: 1.5}",
		"unknown busy policy":     "processing: {on_busy: drop}",
		"postgres without dsn":    "database: {driver: pgdriver}",
		"malformed yaml":          "chunking: [",
	} {
		t.Run("Should reject "+name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("Should load a file from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("batch_size: 8\n"), 0o600))
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.BatchSize)
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	a := Default()
	b := Default()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	b.Chunking.OverlapTokens = 100
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	b = Default()
	b.Embeddings.Model = "other"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
