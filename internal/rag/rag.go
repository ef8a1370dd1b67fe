// Package rag runs the ingestion pipeline (chunk, embed, index) over the
// document store and serves similarity search over the result.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"report-rag/internal/batch"
	"report-rag/internal/chunker"
	"report-rag/internal/embedding"
	"report-rag/internal/fingerprint"
	"report-rag/internal/helper"
	"report-rag/internal/index"
	"report-rag/internal/models"
)

// DocumentStore is the part of the document store the processor needs.
type DocumentStore interface {
	ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
}

type Dependencies struct {
	Store        DocumentStore
	Chunker      *chunker.Chunker
	Provider     embedding.Provider
	Orchestrator *batch.Orchestrator
	Index        index.Index
	Fingerprints fingerprint.Store
	Metrics      *Metrics
}

type Options struct {
	SkipExisting bool
	// RejectWhenBusy makes a second concurrent run or reset fail with
	// models.ErrProcessingInProgress instead of waiting.
	RejectWhenBusy bool
	Filter         models.DocumentFilter
	// Salt is mixed into every fingerprint; it should describe the chunking
	// and embedding settings.
	Salt           string
	QueryCacheSize int
}

// Stats is the processor state reported by GetStats.
type Stats struct {
	Documents    int                     `json:"documents"`
	Chunks       int                     `json:"chunks"`
	Dimension    int                     `json:"dimension"`
	Provider     string                  `json:"provider"`
	Tokenizer    string                  `json:"tokenizer"`
	Fingerprints int                     `json:"fingerprints"`
	Processing   bool                    `json:"processing"`
	Runs         int                     `json:"runs"`
	LastRun      *models.ProcessingStats `json:"last_run,omitempty"`
	Totals       models.ProcessingStats  `json:"totals"`
}

type RAG struct {
	store        DocumentStore
	chunker      *chunker.Chunker
	provider     embedding.Provider
	queries      *embedding.Cached
	orchestrator *batch.Orchestrator
	index        index.Index
	fingerprints fingerprint.Store
	metrics      *Metrics
	opts         Options

	runMu   sync.Mutex
	running atomic.Bool
	closed  atomic.Bool

	statsMu sync.RWMutex
	lastRun *models.ProcessingStats
	totals  models.ProcessingStats
	runs    int
}

func NewRAG(deps Dependencies, opts Options) (*RAG, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: document store is required", models.ErrConfiguration)
	case deps.Chunker == nil:
		return nil, fmt.Errorf("%w: chunker is required", models.ErrConfiguration)
	case deps.Provider == nil:
		return nil, fmt.Errorf("%w: embedding provider is required", models.ErrConfiguration)
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("%w: batch orchestrator is required", models.ErrConfiguration)
	case deps.Index == nil:
		return nil, fmt.Errorf("%w: vector index is required", models.ErrConfiguration)
	}
	if deps.Fingerprints == nil {
		deps.Fingerprints = fingerprint.NewMemory()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	queries, err := embedding.NewCached(deps.Provider, opts.QueryCacheSize)
	if err != nil {
		return nil, err
	}

	r := &RAG{
		store:        deps.Store,
		chunker:      deps.Chunker,
		provider:     deps.Provider,
		queries:      queries,
		orchestrator: deps.Orchestrator,
		index:        deps.Index,
		fingerprints: deps.Fingerprints,
		metrics:      deps.Metrics,
		opts:         opts,
	}
	r.orchestrator.OnGroup(r.metrics.observeGroup)
	return r, nil
}

func (r *RAG) acquire() error {
	if r.closed.Load() {
		return fmt.Errorf("%w: processor is closed", models.ErrConfiguration)
	}
	if r.opts.RejectWhenBusy {
		if !r.runMu.TryLock() {
			return models.ErrProcessingInProgress
		}
		return nil
	}
	r.runMu.Lock()
	return nil
}

// ProcessAllDocuments indexes every new or changed document. A failing
// document is counted and skipped; configuration and dimension errors stop
// the run. The returned stats are valid even when an error is returned.
func (r *RAG) ProcessAllDocuments(ctx context.Context) (*models.ProcessingStats, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.runMu.Unlock()
	r.running.Store(true)
	defer r.running.Store(false)

	stats := &models.ProcessingStats{StartedAt: time.Now().UTC()}
	runErr := r.run(ctx, stats)
	stats.Elapsed = time.Since(stats.StartedAt)
	r.record(stats, runErr)

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Int("scanned", stats.Scanned).
		Int("processed", stats.Processed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("chunks", stats.ChunksCreated).
		Bool("cancelled", stats.Cancelled).
		Dur("elapsed", stats.Elapsed).
		Msg("Processing run finished")
	return stats, runErr
}

func (r *RAG) run(ctx context.Context, stats *models.ProcessingStats) error {
	docs, err := r.store.ListDocuments(ctx, r.opts.Filter)
	if err != nil {
		if ctx.Err() != nil {
			stats.Cancelled = true
			return ctx.Err()
		}
		return fmt.Errorf("list documents: %w", err)
	}
	log.Info().Int("documents", len(docs)).Msg("Starting processing run")

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			stats.Cancelled = true
			return err
		}
		stats.Scanned++

		res, err := r.processDocument(ctx, doc)
		switch {
		case err != nil && ctx.Err() != nil:
			stats.Cancelled = true
			log.Warn().Str("document_id", doc.ID).Msg("Run cancelled, discarding in-flight document")
			return ctx.Err()
		case err != nil:
			stats.Failed++
			stats.ChunksFailed += res.chunksFailed
			r.metrics.documents.WithLabelValues("failed").Inc()
			if models.IsFatal(err) {
				return fmt.Errorf("document %s: %w", doc.ID, err)
			}
			log.Warn().Err(err).Str("document_id", doc.ID).Msg("Failed to process document")
		case res.skipped:
			stats.Skipped++
			r.metrics.documents.WithLabelValues("skipped").Inc()
		default:
			stats.Processed++
			stats.ChunksCreated += res.chunks
			r.metrics.documents.WithLabelValues("processed").Inc()
		}
	}
	return nil
}

type documentResult struct {
	skipped      bool
	chunks       int
	chunksFailed int
}

func (r *RAG) processDocument(ctx context.Context, doc models.Document) (documentResult, error) {
	computed := fingerprint.Compute(doc.Text, r.opts.Salt)
	entry, found, err := r.fingerprints.Get(ctx, doc.ID)
	if err != nil {
		return documentResult{}, fmt.Errorf("read fingerprint: %w", err)
	}
	if fingerprint.Decide(entry, found, doc, computed, r.opts.SkipExisting) == fingerprint.Skip {
		log.Debug().Str("document_id", doc.ID).Msg("Document unchanged, skipping")
		return documentResult{skipped: true}, nil
	}

	segments := r.chunker.Chunk(doc.Text)
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	outcomes := r.orchestrator.Embed(ctx, texts)
	vectors, failed, err := batch.Vectors(outcomes)
	if err != nil {
		return documentResult{chunksFailed: failed}, fmt.Errorf("embed %d of %d chunks: %w", failed, len(texts), err)
	}

	docMeta := models.DocumentMetadataMap(doc)
	chunks := make([]models.Chunk, len(segments))
	for i, seg := range segments {
		id, err := helper.GenerateUUID()
		if err != nil {
			return documentResult{}, err
		}
		c := models.Chunk{
			ID:         id,
			DocumentID: doc.ID,
			Index:      seg.Index,
			Text:       seg.Text,
			TokenCount: seg.TokenCount,
			Page:       seg.Page,
			Vector:     vectors[i],
		}
		c.Metadata = models.ResolveMetadata(docMeta, models.ChunkMetadataMap(c))
		chunks[i] = c
	}

	if err := r.index.Insert(ctx, doc.ID, chunks); err != nil {
		return documentResult{chunksFailed: len(chunks)}, fmt.Errorf("index chunks: %w", err)
	}
	if err := r.fingerprints.Put(ctx, fingerprint.Entry{
		DocumentID:  doc.ID,
		Fingerprint: computed,
		Chunks:      len(chunks),
		IndexedAt:   time.Now().UTC(),
	}); err != nil {
		return documentResult{}, fmt.Errorf("store fingerprint: %w", err)
	}
	if err := r.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentStatus{Fingerprint: computed, Processed: true}); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("Failed to update document status")
	}

	log.Debug().Str("document_id", doc.ID).Int("chunks", len(chunks)).Msg("Indexed document")
	return documentResult{chunks: len(chunks)}, nil
}

func (r *RAG) record(stats *models.ProcessingStats, runErr error) {
	r.statsMu.Lock()
	snapshot := *stats
	r.lastRun = &snapshot
	r.totals.Add(*stats)
	r.runs++
	r.statsMu.Unlock()

	result := "ok"
	switch {
	case stats.Cancelled:
		result = "cancelled"
	case runErr != nil:
		result = "error"
	}
	r.metrics.runs.WithLabelValues(result).Inc()
	r.refreshGauges(context.Background())
}

func (r *RAG) refreshGauges(ctx context.Context) {
	if s, err := r.index.Stats(ctx); err == nil {
		r.metrics.indexedChunks.Set(float64(s.ChunkCount))
		r.metrics.indexedDocuments.Set(float64(s.DocumentCount))
	}
}

// Search embeds query and returns the most similar chunks.
func (r *RAG) Search(ctx context.Context, query string, opts index.SearchOptions) ([]models.SearchResult, error) {
	start := time.Now()
	results, err := r.search(ctx, query, opts)
	r.metrics.observeSearch(time.Since(start), err)
	return results, err
}

func (r *RAG) search(ctx context.Context, query string, opts index.SearchOptions) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", models.ErrValidation)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	vector, err := r.queries.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if dim := r.index.Dimension(); dim > 0 && len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", models.ErrDimensionMismatch, len(vector), dim)
	}
	results, err := r.index.Search(ctx, vector, opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("query", query).Int("results", len(results)).Msg("Search finished")
	return results, nil
}

// GetStats reports index counts and run history without side effects.
func (r *RAG) GetStats(ctx context.Context) (Stats, error) {
	idx, err := r.index.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("index stats: %w", err)
	}
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()

	s := Stats{
		Documents:    idx.DocumentCount,
		Chunks:       idx.ChunkCount,
		Dimension:    idx.Dimension,
		Provider:     r.provider.Name(),
		Tokenizer:    r.chunker.Tokenizer().Name(),
		Fingerprints: r.fingerprints.Len(),
		Processing:   r.running.Load(),
		Runs:         r.runs,
		Totals:       r.totals,
	}
	if r.lastRun != nil {
		last := *r.lastRun
		s.LastRun = &last
	}
	return s, nil
}

// Reset drops every indexed chunk and fingerprint, so the next run treats
// all documents as new.
func (r *RAG) Reset(ctx context.Context) error {
	if err := r.acquire(); err != nil {
		return err
	}
	defer r.runMu.Unlock()

	if err := r.index.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	if err := r.fingerprints.Reset(ctx); err != nil {
		return fmt.Errorf("reset fingerprints: %w", err)
	}
	r.queries.Purge()

	r.statsMu.Lock()
	r.lastRun = nil
	r.totals = models.ProcessingStats{}
	r.runs = 0
	r.statsMu.Unlock()

	r.refreshGauges(ctx)
	log.Info().Msg("Index reset")
	return nil
}

// Close waits for a running job and releases the index.
func (r *RAG) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.index.Close()
}
