package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

// Remote is a Provider backed by a langchaingo embedder.
type Remote struct {
	name      string
	model     string
	maxBatch  int
	timeout   time.Duration
	dimension atomic.Int64
	impl      embeddings.Embedder
}

type RemoteOptions struct {
	Name         string
	Model        string
	Dimension    int
	MaxBatchSize int
	Timeout      time.Duration
}

// NewRemote wraps an existing langchaingo embedder.
func NewRemote(impl embeddings.Embedder, opts RemoteOptions) (*Remote, error) {
	if impl == nil {
		return nil, fmt.Errorf("%w: embedder implementation is required", models.ErrConfiguration)
	}
	if opts.Dimension < 0 || opts.MaxBatchSize < 0 || opts.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative embedder option", models.ErrConfiguration)
	}
	r := &Remote{
		name:     opts.Name,
		model:    opts.Model,
		maxBatch: opts.MaxBatchSize,
		timeout:  opts.Timeout,
		impl:     impl,
	}
	r.dimension.Store(int64(opts.Dimension))
	return r, nil
}

// NewOpenAIEmbedder creates an embedder for any OpenAI compatible endpoint.
func NewOpenAIEmbedder(cfg config.EmbeddingsConfig) (*Remote, error) {
	log.Debug().
		Str("base_url", cfg.BaseURL).
		Str("embedding_model", cfg.Model).
		Msg("Creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: init openai client: %v", models.ErrConfiguration, err)
	}
	return newRemoteFromClient(llm, cfg, config.ProviderOpenAI)
}

// NewOllamaEmbedder creates an embedder for a local Ollama server.
func NewOllamaEmbedder(cfg config.EmbeddingsConfig) (*Remote, error) {
	log.Debug().
		Str("base_url", cfg.BaseURL).
		Str("embedding_model", cfg.Model).
		Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: init ollama client: %v", models.ErrConfiguration, err)
	}
	return newRemoteFromClient(llm, cfg, config.ProviderOllama)
}

func newRemoteFromClient(client embeddings.EmbedderClient, cfg config.EmbeddingsConfig, name string) (*Remote, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if cfg.MaxBatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.MaxBatchSize))
	}
	impl, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create embedder: %v", models.ErrConfiguration, err)
	}
	return NewRemote(impl, RemoteOptions{
		Name:         name + "/" + cfg.Model,
		Model:        cfg.Model,
		Dimension:    cfg.Dimension,
		MaxBatchSize: cfg.MaxBatchSize,
		Timeout:      cfg.Timeout,
	})
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) Dimension() int { return int(r.dimension.Load()) }

func (r *Remote) MaxBatchSize() int { return r.maxBatch }

// Embed sends one request for texts. The per-call timeout is applied on top
// of ctx; cancellation of ctx itself is returned unclassified.
func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if r.maxBatch > 0 && len(texts) > r.maxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds provider maximum %d",
			models.ErrPermanentProvider, len(texts), r.maxBatch)
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	vectors, err := r.impl.EmbedDocuments(callCtx, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		classified := classify(err)
		log.Debug().Err(err).Str("provider", r.name).Int("texts", len(texts)).Msg("Embedding request failed")
		return nil, classified
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			models.ErrPermanentProvider, len(vectors), len(texts))
	}
	if err := r.checkDimension(vectors); err != nil {
		return nil, err
	}
	log.Debug().
		Str("provider", r.name).
		Int("texts", len(texts)).
		Dur("took", time.Since(start)).
		Msg("Embedded batch")
	return vectors, nil
}

func (r *Remote) checkDimension(vectors [][]float32) error {
	want := r.Dimension()
	if want == 0 && len(vectors) > 0 {
		r.dimension.CompareAndSwap(0, int64(len(vectors[0])))
		want = r.Dimension()
	}
	for _, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: provider %s returned %d dimensions, expected %d",
				models.ErrDimensionMismatch, r.name, len(v), want)
		}
	}
	return nil
}

// classify maps a provider error to the transient or permanent class.
func classify(err error) error {
	if errors.Is(err, models.ErrTransientProvider) || errors.Is(err, models.ErrPermanentProvider) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTransientProvider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrTransientProvider, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "429"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "504"):
		return fmt.Errorf("%w: %v", models.ErrTransientProvider, err)
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "forbidden"),
		strings.Contains(lower, "auth"),
		strings.Contains(lower, "invalid"),
		strings.Contains(lower, "bad request"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "400"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "404"),
		strings.Contains(lower, "422"):
		return fmt.Errorf("%w: %v", models.ErrPermanentProvider, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrTransientProvider, err)
	}
}
