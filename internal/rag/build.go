package rag

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"report-rag/internal/batch"
	"report-rag/internal/chunker"
	"report-rag/internal/config"
	"report-rag/internal/embedding"
	"report-rag/internal/fingerprint"
	"report-rag/internal/index"
)

// Build wires a processor from configuration. The provider is probed once so
// the index is created with the provider's real dimension.
func Build(ctx context.Context, cfg *config.Config, store DocumentStore, reg prometheus.Registerer) (*RAG, error) {
	tok, err := chunker.NewTokenizer(cfg.Chunking.Tokenizer, cfg.Chunking.Encoding, cfg.Chunking.OfflineEncoding)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(chunker.Settings{
		MaxTokens:          cfg.Chunking.MaxTokens,
		OverlapTokens:      cfg.Chunking.OverlapTokens,
		PreserveParagraphs: cfg.Chunking.PreserveParagraphs,
	}, tok)
	if err != nil {
		return nil, err
	}

	provider, err := embedding.New(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	dim, err := embedding.Probe(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("discover embedding dimension: %w", err)
	}
	log.Info().Str("provider", provider.Name()).Int("dimension", dim).Msg("Embedding provider ready")

	orch, err := batch.New(provider, batch.Options{
		BatchSize:         cfg.BatchSize,
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseBackoff:       cfg.Retry.BaseBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
	})
	if err != nil {
		return nil, err
	}

	idx, err := index.New(cfg.Index, dim)
	if err != nil {
		return nil, err
	}

	return NewRAG(Dependencies{
		Store:        store,
		Chunker:      ch,
		Provider:     provider,
		Orchestrator: orch,
		Index:        idx,
		Fingerprints: fingerprint.NewMemory(),
		Metrics:      NewMetrics(reg),
	}, Options{
		SkipExisting:   cfg.SkipExisting,
		RejectWhenBusy: cfg.Processing.OnBusy != config.OnBusyQueue,
		Salt:           cfg.Fingerprint(),
		QueryCacheSize: cfg.Search.QueryCacheSize,
	})
}
