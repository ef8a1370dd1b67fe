package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"report-rag/internal/models"
)

// MemoryStore keeps documents in insertion order in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]models.Document
	order []string
}

func NewMemoryStore(docs ...models.Document) *MemoryStore {
	s := &MemoryStore{docs: make(map[string]models.Document)}
	for _, d := range docs {
		_ = s.UpsertDocument(context.Background(), d)
	}
	return s
}

// LoadSeed reads a JSON array of documents from path.
func (s *MemoryStore) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var docs []models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("decode seed file %s: %w", path, err)
	}
	for _, d := range docs {
		if err := s.UpsertDocument(context.Background(), d); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Document, 0, len(s.order))
	for _, id := range s.order {
		d := s.docs[id]
		if matches(d, filter) {
			out = append(out, d)
		}
	}
	return out, nil
}

func matches(d models.Document, f models.DocumentFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, d.ID) {
		return false
	}
	if f.Region != "" && d.Metadata.Region != f.Region {
		return false
	}
	if f.Organization != "" && d.Metadata.Organization != f.Organization {
		return false
	}
	if f.Standard != "" && d.Metadata.Standard != f.Standard {
		return false
	}
	return true
}

func (s *MemoryStore) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("update document %s: %w", id, models.ErrNotFound)
	}
	d.Fingerprint = status.Fingerprint
	d.Processed = status.Processed
	d.UpdatedAt = time.Now().UTC()
	s.docs[id] = d
	return nil
}

// UpsertDocument stores doc. Replacing an existing document keeps its
// processing status so the fingerprint decides whether it is re-embedded.
func (s *MemoryStore) UpsertDocument(_ context.Context, doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", models.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.docs[doc.ID]; ok {
		doc.CreatedAt = prev.CreatedAt
		doc.Fingerprint = prev.Fingerprint
		doc.Processed = prev.Processed
	} else {
		s.order = append(s.order, doc.ID)
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
	}
	doc.UpdatedAt = now
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) Purge(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]models.Document)
	s.order = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
