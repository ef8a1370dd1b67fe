package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"report-rag/internal/index"
	"report-rag/internal/models"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type searchRequest struct {
	Query         string   `json:"query" validate:"required,min=1,max=1000"`
	TopK          *int     `json:"topK" validate:"omitempty,min=1,max=50"`
	MinSimilarity *float64 `json:"minSimilarity" validate:"omitempty,min=0,max=1"`
}

type searchResult struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", models.ErrValidation, describeValidation(err)))
		return
	}

	opts := index.SearchOptions{TopK: s.opts.DefaultTopK, MinSimilarity: s.opts.DefaultMinSimilarity}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.MinSimilarity != nil {
		opts.MinSimilarity = *req.MinSimilarity
	}
	if err := opts.Validate(); err != nil {
		writeError(w, err)
		return
	}

	results, err := s.processor.Search(r.Context(), req.Query, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := searchResponse{Query: req.Query, Results: make([]searchResult, len(results))}
	for i, res := range results {
		resp.Results[i] = searchResult{
			ID:         res.ChunkID,
			DocumentID: res.DocumentID,
			Content:    models.Preview(res.Content, models.ContentPreviewLimit),
			Similarity: res.Similarity,
			Metadata:   res.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: resp})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.processor.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	stats, err := s.processor.ProcessAllDocuments(r.Context())
	if err != nil {
		if stats != nil {
			writeJSON(w, statusFor(err), envelope{Success: false, Data: stats, Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.processor.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"message": "RAG index reset"}})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrProcessingInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
}
