// Package embedding turns chunk text into fixed-dimension vectors.
package embedding

import (
	"context"
	"fmt"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

// Provider embeds a batch of texts. Implementations return exactly one
// vector per input, in input order, and classify failures as
// models.ErrTransientProvider or models.ErrPermanentProvider.
type Provider interface {
	Name() string
	// Dimension is the vector size, or 0 while it is still unknown.
	Dimension() int
	// MaxBatchSize is the largest batch accepted by Embed, or 0 for no limit.
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		return NewLocal(cfg.Model, cfg.Dimension)
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown embeddings provider %q", models.ErrConfiguration, cfg.Provider)
	}
}

// Probe discovers the provider's dimension by embedding a trivial text.
// A provider configured with a dimension fails the probe with
// models.ErrDimensionMismatch if it returns vectors of another size.
func Probe(ctx context.Context, p Provider) (int, error) {
	vectors, err := p.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", p.Name(), err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("probe %s: %w: empty vector", p.Name(), models.ErrPermanentProvider)
	}
	got := len(vectors[0])
	if want := p.Dimension(); want > 0 && want != got {
		return 0, fmt.Errorf("probe %s: %w: expected %d, got %d", p.Name(), models.ErrDimensionMismatch, want, got)
	}
	return got, nil
}
