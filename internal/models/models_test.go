package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveMetadata(t *testing.T) {
	doc := Document{ID: "d1", Metadata: DocumentMetadata{Filename: "r.pdf", Region: "EU"}}
	chunk := Chunk{Index: 2, TokenCount: 120, Page: 3, Metadata: map[string]string{MetaRegion: "EU-West", MetaStandard: ""}}

	got := ResolveMetadata(DocumentMetadataMap(doc), ChunkMetadataMap(chunk))
	assert.Equal(t, map[string]string{
		MetaDocumentID: "d1",
		MetaFilename:   "r.pdf",
		MetaRegion:     "EU-West",
		MetaChunkIndex: "2",
		MetaTokenCount: "120",
		MetaPage:       "3",
	}, got)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 10))
	assert.Equal(t, "ab...", Preview("abcdef", 2))
	assert.Equal(t, "ünï...", Preview("ünïcode", 3))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("wrap: %w", ErrDimensionMismatch)))
	assert.True(t, IsFatal(ErrConfiguration))
	assert.False(t, IsFatal(ErrPermanentProvider))
	assert.False(t, IsFatal(errors.New("other")))
}

func TestProcessingStatsAdd(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := ProcessingStats{Processed: 2, ChunksCreated: 10, StartedAt: first, Elapsed: time.Second}
	total.Add(ProcessingStats{Processed: 1, Skipped: 2, Failed: 1, ChunksCreated: 4, StartedAt: first.Add(time.Hour), Elapsed: time.Second})

	assert.Equal(t, 3, total.Processed)
	assert.Equal(t, 2, total.Skipped)
	assert.Equal(t, 1, total.Failed)
	assert.Equal(t, 14, total.ChunksCreated)
	assert.Equal(t, 2*time.Second, total.Elapsed)
	assert.Equal(t, first.Add(time.Hour), total.StartedAt)
}
