package models

// Chunk is a bounded span of a document's text together with its embedding.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	TokenCount int               `json:"token_count"`
	Page       int               `json:"page,omitempty"`
	Vector     []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchResult is a ranked chunk returned by a similarity search.
type SearchResult struct {
	ChunkID    string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata"`
}

// Preview returns content truncated to limit runes with an ellipsis marker.
func Preview(content string, limit int) string {
	runes := []rune(content)
	if limit <= 0 || len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + EllipsisMarker
}
