package index

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"report-rag/internal/models"
)

const (
	chromemCollection = "chunks"
	metaSeq           = "_seq"
)

var errNoEmbedder = errors.New("chromem collection only accepts precomputed embeddings")

// Chromem keeps chunks in an in-process chromem-go collection. chromem-go
// normalizes stored vectors, so AllVectors returns unit-length vectors.
type Chromem struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	configured int
	docs       map[string][]string
	seq        uint64
}

func NewChromem(dimension int) (*Chromem, error) {
	db := chromem.NewDB()
	c := &Chromem{db: db, dimension: dimension, configured: dimension, docs: map[string][]string{}}
	if err := c.createCollection(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chromem) createCollection() error {
	col, err := c.db.GetOrCreateCollection(chromemCollection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedder
	})
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	c.collection = col
	return nil
}

func (c *Chromem) Insert(ctx context.Context, documentID string, chunks []models.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dim, err := checkDimension(c.dimension, chunks)
	if err != nil {
		return err
	}

	old := c.docs[documentID]
	if len(chunks) == 0 {
		if err := c.deleteIDs(ctx, old); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
		}
		delete(c.docs, documentID)
		return nil
	}

	docs := make([]chromem.Document, len(chunks))
	ids := make([]string, len(chunks))
	seq := c.seq
	for i, chunk := range chunks {
		seq++
		meta := cloneMetadata(chunk.Metadata)
		meta[models.MetaDocumentID] = documentID
		meta[models.MetaChunkIndex] = strconv.Itoa(chunk.Index)
		meta[metaSeq] = strconv.FormatUint(seq, 10)
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  meta,
			Embedding: append([]float32(nil), chunk.Vector...),
		}
		ids[i] = chunk.ID
	}

	// New chunks go in before the old ones are removed, so a failed add
	// leaves the previous version searchable.
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		if cleanupErr := c.deleteIDs(ctx, without(ids, old)); cleanupErr != nil {
			log.Warn().Err(cleanupErr).Str("document_id", documentID).Msg("Failed to remove partially added chunks")
		}
		return fmt.Errorf("failed to add chunks of %s: %w", documentID, err)
	}
	if err := c.deleteIDs(ctx, without(old, ids)); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	c.docs[documentID] = ids
	c.seq = seq
	c.dimension = dim
	log.Debug().Str("document_id", documentID).Int("chunks", len(docs)).Msg("Stored chunks in chromem collection")
	return nil
}

func (c *Chromem) deleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.collection.Delete(ctx, nil, nil, ids...)
}

// without returns the ids not listed in exclude.
func without(ids, exclude []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(exclude, id) {
			out = append(out, id)
		}
	}
	return out
}

func (c *Chromem) AllVectors(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, c.collection.Count())
	for _, ids := range c.docs {
		for _, id := range ids {
			doc, err := c.collection.GetByID(ctx, id)
			if err != nil {
				return Snapshot{}, fmt.Errorf("failed to read chunk %s: %w", id, err)
			}
			entries = append(entries, toEntry(doc.ID, doc.Content, doc.Metadata, doc.Embedding))
		}
	}
	sortEntries(entries)
	return Snapshot{Dimension: c.dimension, Entries: entries}, nil
}

func (c *Chromem) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]models.SearchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.collection.Count()
	if n == 0 {
		return []models.SearchResult{}, nil
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			models.ErrDimensionMismatch, len(vector), c.dimension)
	}

	res, err := c.collection.QueryEmbedding(ctx, append([]float32(nil), vector...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	candidates := make([]scored, len(res))
	for i, r := range res {
		candidates[i] = scored{
			entry: toEntry(r.ID, r.Content, r.Metadata, nil),
			score: float64(r.Similarity),
		}
	}
	return rankScored(candidates, opts), nil
}

func (c *Chromem) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(chromemCollection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c.docs = map[string][]string{}
	c.dimension = c.configured
	return c.createCollection()
}

func (c *Chromem) Stats(_ context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{DocumentCount: len(c.docs), ChunkCount: c.collection.Count(), Dimension: c.dimension}, nil
}

func (c *Chromem) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

func (c *Chromem) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Reset()
}

func toEntry(id, content string, meta map[string]string, vector []float32) Entry {
	seq, _ := strconv.ParseUint(meta[metaSeq], 10, 64)
	index, _ := strconv.Atoi(meta[models.MetaChunkIndex])
	public := make(map[string]string, len(meta))
	for k, v := range meta {
		if k != metaSeq {
			public[k] = v
		}
	}
	return Entry{
		Chunk: models.Chunk{
			ID:         id,
			DocumentID: meta[models.MetaDocumentID],
			Index:      index,
			Text:       content,
			Vector:     vector,
		},
		Seq:      seq,
		Metadata: public,
	}
}
