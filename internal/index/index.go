// Package index stores chunk vectors and answers similarity queries.
package index

import (
	"context"
	"fmt"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

// Index holds the embedded chunks of every processed document.
type Index interface {
	// Insert replaces all chunks of documentID. Readers see either the old
	// or the new set, never a mix.
	Insert(ctx context.Context, documentID string, chunks []models.Chunk) error
	// AllVectors returns an immutable snapshot of the indexed chunks.
	AllVectors(ctx context.Context) (Snapshot, error)
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]models.SearchResult, error)
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	// Dimension is the vector size of the index, or 0 while still unset.
	Dimension() int
	Close() error
}

type SearchOptions struct {
	TopK          int
	MinSimilarity float64
}

func (o SearchOptions) Validate() error {
	if o.TopK < 1 {
		return fmt.Errorf("%w: topK must be at least 1, got %d", models.ErrValidation, o.TopK)
	}
	if o.MinSimilarity < 0 || o.MinSimilarity > 1 {
		return fmt.Errorf("%w: minSimilarity must be between 0 and 1, got %v", models.ErrValidation, o.MinSimilarity)
	}
	return nil
}

type Stats struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
	Dimension     int `json:"dimension"`
}

// Entry is one indexed chunk. Seq orders entries by insertion.
type Entry struct {
	Chunk    models.Chunk
	Seq      uint64
	Metadata map[string]string
}

// Snapshot is a point-in-time view of the index. It must not be modified.
type Snapshot struct {
	Dimension int
	Entries   []Entry
}

// New builds the backend selected by cfg.Backend. dimension is the provider's
// vector size, or 0 to adopt the size of the first insert.
func New(cfg config.IndexConfig, dimension int) (Index, error) {
	if cfg.Metric != "" && cfg.Metric != config.MetricCosine {
		return nil, fmt.Errorf("%w: unsupported metric %q", models.ErrConfiguration, cfg.Metric)
	}
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemory(dimension), nil
	case config.BackendChromem:
		return NewChromem(dimension)
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", models.ErrConfiguration, cfg.Backend)
	}
}

func checkDimension(want int, chunks []models.Chunk) (int, error) {
	for _, c := range chunks {
		if want == 0 {
			want = len(c.Vector)
		}
		if len(c.Vector) == 0 || len(c.Vector) != want {
			return 0, fmt.Errorf("%w: chunk %s has %d dimensions, index expects %d",
				models.ErrDimensionMismatch, c.ID, len(c.Vector), want)
		}
	}
	return want, nil
}
