// Package server exposes the processor over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"report-rag/internal/config"
	"report-rag/internal/index"
	"report-rag/internal/models"
	"report-rag/internal/rag"
)

// Processor is the subset of *rag.RAG served over HTTP.
type Processor interface {
	ProcessAllDocuments(ctx context.Context) (*models.ProcessingStats, error)
	Search(ctx context.Context, query string, opts index.SearchOptions) ([]models.SearchResult, error)
	GetStats(ctx context.Context) (rag.Stats, error)
	Reset(ctx context.Context) error
}

type Options struct {
	DefaultTopK          int
	DefaultMinSimilarity float64
	Gatherer             prometheus.Gatherer
}

type Server struct {
	processor Processor
	opts      Options
	validate  *validator.Validate
	router    chi.Router
}

func New(processor Processor, opts Options) *Server {
	if opts.DefaultTopK == 0 {
		opts.DefaultTopK = 10
	}
	s := &Server{processor: processor, opts: opts, validate: validator.New()}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"status": "ok"}})
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/rag", func(api chi.Router) {
		api.Post("/search", s.handleSearch)
		api.Get("/stats", s.handleStats)
		api.Post("/process", s.handleProcess)
		api.Delete("/reset", s.handleReset)
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
