package index

import (
	"math"
	"sort"

	"report-rag/internal/models"
)

type scored struct {
	entry Entry
	score float64
}

// Cosine returns the cosine similarity of a and b. Zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores every entry against query and returns the matches ordered by
// similarity descending, ties broken by insertion order.
func Rank(query []float32, entries []Entry, opts SearchOptions) []models.SearchResult {
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, scored{entry: e, score: Cosine(query, e.Chunk.Vector)})
	}
	return rankScored(candidates, opts)
}

func rankScored(candidates []scored, opts SearchOptions) []models.SearchResult {
	kept := candidates[:0]
	for _, c := range candidates {
		if math.IsNaN(c.score) {
			c.score = 0
		}
		if c.score < opts.MinSimilarity {
			continue
		}
		kept = append(kept, c)
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].entry.Seq < kept[j].entry.Seq
	})
	if opts.TopK > 0 && len(kept) > opts.TopK {
		kept = kept[:opts.TopK]
	}

	results := make([]models.SearchResult, len(kept))
	for i, c := range kept {
		results[i] = models.SearchResult{
			ChunkID:    c.entry.Chunk.ID,
			DocumentID: c.entry.Chunk.DocumentID,
			Content:    c.entry.Chunk.Text,
			Similarity: c.score,
			Metadata:   cloneMetadata(c.entry.Metadata),
		}
	}
	return results
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
}
