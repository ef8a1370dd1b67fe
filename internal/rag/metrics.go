package rag

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"report-rag/internal/batch"
	"report-rag/internal/models"
)

type Metrics struct {
	runs             *prometheus.CounterVec
	documents        *prometheus.CounterVec
	groups           *prometheus.CounterVec
	groupAttempts    prometheus.Histogram
	searches         *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	indexedChunks    prometheus.Gauge
	indexedDocuments prometheus.Gauge
}

// NewMetrics creates the processor metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "processing_runs_total",
			Help:      "Processing runs by result.",
		}, []string{"result"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "documents_total",
			Help:      "Documents handled by processing runs, by outcome.",
		}, []string{"outcome"}),
		groups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "embedding_groups_total",
			Help:      "Embedding groups sent to the provider, by result.",
		}, []string{"result"}),
		groupAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rag",
			Name:      "embedding_group_attempts",
			Help:      "Provider calls needed per embedding group.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "searches_total",
			Help:      "Search requests by result.",
		}, []string{"result"}),
		searchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rag",
			Name:      "search_duration_seconds",
			Help:      "Search latency including query embedding.",
			Buckets:   prometheus.DefBuckets,
		}),
		indexedChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rag",
			Name:      "indexed_chunks",
			Help:      "Chunks currently in the vector index.",
		}),
		indexedDocuments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rag",
			Name:      "indexed_documents",
			Help:      "Documents currently in the vector index.",
		}),
	}
}

func (m *Metrics) observeGroup(r batch.GroupResult) {
	result := "ok"
	switch {
	case r.Err == nil:
	case errors.Is(r.Err, models.ErrTransientProvider):
		result = "transient"
	case errors.Is(r.Err, models.ErrPermanentProvider), errors.Is(r.Err, models.ErrDimensionMismatch):
		result = "permanent"
	default:
		result = "aborted"
	}
	m.groups.WithLabelValues(result).Inc()
	if r.Attempts > 0 {
		m.groupAttempts.Observe(float64(r.Attempts))
	}
}

func (m *Metrics) observeSearch(d time.Duration, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrValidation):
		result = "invalid"
	default:
		result = "error"
	}
	m.searches.WithLabelValues(result).Inc()
	m.searchDuration.Observe(d.Seconds())
}
