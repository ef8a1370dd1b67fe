package index

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

func chunk(doc string, i int, text string, vector ...float32) models.Chunk {
	return models.Chunk{
		ID:         fmt.Sprintf("%s-%d", doc, i),
		DocumentID: doc,
		Index:      i,
		Text:       text,
		Vector:     vector,
		Metadata:   map[string]string{models.MetaDocumentID: doc, models.MetaRegion: "EU"},
	}
}

func unit(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0}
}

func backends(t *testing.T, dimension int) map[string]Index {
	t.Helper()
	chromemIdx, err := NewChromem(dimension)
	require.NoError(t, err)
	return map[string]Index{
		"memory":  NewMemory(dimension),
		"chromem": chromemIdx,
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 3) {
		t.Run(name+": Should return only the relevant chunk above the threshold", func(t *testing.T) {
			relevant := unit(math.Acos(0.9))
			unrelated := []float32{0.1, 0, float32(math.Sqrt(1 - 0.01))}
			require.NoError(t, idx.Insert(ctx, "report", []models.Chunk{
				chunk("report", 0, "Scope 1 carbon emissions decreased by 12%", relevant...),
				chunk("report", 1, "The cafeteria menu changed in spring", unrelated...),
			}))

			results, err := idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 5, MinSimilarity: 0.5})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "report-0", results[0].ChunkID)
			assert.Equal(t, "report", results[0].DocumentID)
			assert.InDelta(t, 0.9, results[0].Similarity, 1e-4)
			assert.Equal(t, "EU", results[0].Metadata[models.MetaRegion])
		})
	}

	for name, idx := range backends(t, 3) {
		t.Run(name+": Should order by similarity then insertion", func(t *testing.T) {
			require.NoError(t, idx.Insert(ctx, "a", []models.Chunk{
				chunk("a", 0, "low", unit(1.0)...),
				chunk("a", 1, "tie-first", unit(0.5)...),
			}))
			require.NoError(t, idx.Insert(ctx, "b", []models.Chunk{
				chunk("b", 0, "best", unit(0.1)...),
				chunk("b", 1, "tie-second", unit(0.5)...),
			}))

			results, err := idx.Search(ctx, unit(0), SearchOptions{TopK: 3, MinSimilarity: 0})
			require.NoError(t, err)
			require.Len(t, results, 3)
			assert.Equal(t, "best", results[0].Content)
			assert.Equal(t, "tie-first", results[1].Content)
			assert.Equal(t, "tie-second", results[2].Content)
			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
			}
		})
	}

	for name, idx := range backends(t, 3) {
		t.Run(name+": Should return an empty result for an empty index", func(t *testing.T) {
			results, err := idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 5, MinSimilarity: 0.5})
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}

	for name, idx := range backends(t, 3) {
		t.Run(name+": Should reject invalid options", func(t *testing.T) {
			_, err := idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 0})
			require.ErrorIs(t, err, models.ErrValidation)
			_, err = idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1, MinSimilarity: 1.5})
			require.ErrorIs(t, err, models.ErrValidation)
		})
	}

	for name, idx := range backends(t, 3) {
		t.Run(name+": Should reject a query of the wrong dimension", func(t *testing.T) {
			require.NoError(t, idx.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "x", 1, 0, 0)}))
			_, err := idx.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
			require.ErrorIs(t, err, models.ErrDimensionMismatch)
		})
	}
}

func TestInsert(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 0) {
		t.Run(name+": Should replace the chunks of a document", func(t *testing.T) {
			require.NoError(t, idx.Insert(ctx, "a", []models.Chunk{
				chunk("a", 0, "old-0", 1, 0),
				chunk("a", 1, "old-1", 0, 1),
			}))
			require.NoError(t, idx.Insert(ctx, "b", []models.Chunk{chunk("b", 0, "other", 1, 1)}))
			require.NoError(t, idx.Insert(ctx, "a", []models.Chunk{
				{ID: "a-new", DocumentID: "a", Text: "new", Vector: []float32{1, 0}, Metadata: map[string]string{}},
			}))

			stats, err := idx.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{DocumentCount: 2, ChunkCount: 2, Dimension: 2}, stats)

			snap, err := idx.AllVectors(ctx)
			require.NoError(t, err)
			require.Len(t, snap.Entries, 2)
			assert.Equal(t, "other", snap.Entries[0].Chunk.Text)
			assert.Equal(t, "new", snap.Entries[1].Chunk.Text)
		})
	}

	for name, idx := range backends(t, 3) {
		t.Run(name+": Should refuse vectors of another dimension", func(t *testing.T) {
			err := idx.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "x", 1, 0)})
			require.ErrorIs(t, err, models.ErrDimensionMismatch)
			stats, err := idx.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.ChunkCount)
		})
	}

	for name, idx := range backends(t, 2) {
		t.Run(name+": Should clear everything on reset", func(t *testing.T) {
			require.NoError(t, idx.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "x", 1, 0)}))
			require.NoError(t, idx.Reset(ctx))

			stats, err := idx.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Dimension: 2}, stats)

			require.NoError(t, idx.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "y", 0, 1)}))
			results, err := idx.Search(ctx, []float32{0, 1}, SearchOptions{TopK: 1})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "y", results[0].Content)
		})
	}
}

func TestChromemReplace(t *testing.T) {
	ctx := context.Background()

	t.Run("Should keep the previous chunks when adding the new ones fails", func(t *testing.T) {
		c, err := NewChromem(2)
		require.NoError(t, err)
		require.NoError(t, c.Insert(ctx, "a", []models.Chunk{
			chunk("a", 0, "old-0", 1, 0),
			chunk("a", 1, "old-1", 0, 1),
		}))

		broken := chunk("a", 1, "new-1", 0, 1)
		broken.ID = ""
		err = c.Insert(ctx, "a", []models.Chunk{chunk("a", 5, "new-0", 1, 0), broken})
		require.Error(t, err)

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{DocumentCount: 1, ChunkCount: 2, Dimension: 2}, stats)

		snap, err := c.AllVectors(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Entries, 2)
		assert.Equal(t, "old-0", snap.Entries[0].Chunk.Text)
		assert.Equal(t, "old-1", snap.Entries[1].Chunk.Text)
	})

	t.Run("Should keep chunks re-inserted under the same ids", func(t *testing.T) {
		c, err := NewChromem(2)
		require.NoError(t, err)
		require.NoError(t, c.Insert(ctx, "a", []models.Chunk{
			chunk("a", 0, "old-0", 1, 0),
			chunk("a", 1, "old-1", 0, 1),
		}))
		require.NoError(t, c.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "new-0", 1, 0)}))

		snap, err := c.AllVectors(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Entries, 1)
		assert.Equal(t, "a-0", snap.Entries[0].Chunk.ID)
		assert.Equal(t, "new-0", snap.Entries[0].Chunk.Text)
	})

	t.Run("Should drop a document inserted with no chunks", func(t *testing.T) {
		c, err := NewChromem(2)
		require.NoError(t, err)
		require.NoError(t, c.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "x", 1, 0)}))
		require.NoError(t, c.Insert(ctx, "a", nil))

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.ChunkCount)
		assert.Zero(t, stats.DocumentCount)
	})
}

func TestMemorySnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Insert(ctx, "a", []models.Chunk{chunk("a", 0, "x", 1, 0)}))

	before, err := m.AllVectors(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Insert(ctx, "b", []models.Chunk{chunk("b", 0, "y", 0, 1)}))
	assert.Len(t, before.Entries, 1)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := fmt.Sprintf("doc-%d", i)
			_ = m.Insert(ctx, doc, []models.Chunk{chunk(doc, 0, "a", 1, 1), chunk(doc, 1, "b", 1, 1)})
		}()
	}
	for range 50 {
		snap, err := m.AllVectors(ctx)
		require.NoError(t, err)
		per := map[string]int{}
		for _, e := range snap.Entries {
			per[e.Chunk.DocumentID]++
		}
		for doc, n := range per {
			if doc != "a" && doc != "b" {
				assert.Equal(t, 2, n, "document %s partially visible", doc)
			}
		}
	}
	wg.Wait()

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.DocumentCount)
	assert.Equal(t, 18, stats.ChunkCount)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
}

func TestNew(t *testing.T) {
	t.Run("Should build the chromem backend", func(t *testing.T) {
		idx, err := New(config.IndexConfig{Backend: config.BackendChromem, Metric: config.MetricCosine}, 8)
		require.NoError(t, err)
		assert.IsType(t, &Chromem{}, idx)
		assert.Equal(t, 8, idx.Dimension())
	})
	t.Run("Should reject unsupported metrics", func(t *testing.T) {
		_, err := New(config.IndexConfig{Backend: config.BackendMemory, Metric: "dot"}, 8)
		require.ErrorIs(t, err, models.ErrConfiguration)
	})
}
