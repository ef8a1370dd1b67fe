package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"report-rag/internal/models"
)

type memoryState struct {
	dimension int
	byDoc     map[string][]Entry
	all       []Entry
}

// Memory is an exact, brute-force index. Writers build a new state and
// publish it atomically; readers work on whichever state they loaded.
type Memory struct {
	mu        sync.Mutex
	state     atomic.Pointer[memoryState]
	seq       uint64
	dimension int
}

func NewMemory(dimension int) *Memory {
	m := &Memory{dimension: dimension}
	m.state.Store(&memoryState{dimension: dimension, byDoc: map[string][]Entry{}})
	return m
}

func (m *Memory) Insert(ctx context.Context, documentID string, chunks []models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Load()
	dim, err := checkDimension(cur.dimension, chunks)
	if err != nil {
		return err
	}

	byDoc := make(map[string][]Entry, len(cur.byDoc)+1)
	for id, entries := range cur.byDoc {
		if id != documentID {
			byDoc[id] = entries
		}
	}
	if len(chunks) > 0 {
		entries := make([]Entry, len(chunks))
		for i, c := range chunks {
			m.seq++
			c.Vector = append([]float32(nil), c.Vector...)
			entries[i] = Entry{Chunk: c, Seq: m.seq, Metadata: c.Metadata}
		}
		byDoc[documentID] = entries
	}

	all := make([]Entry, 0, len(cur.all)+len(chunks))
	for _, entries := range byDoc {
		all = append(all, entries...)
	}
	sortEntries(all)

	m.state.Store(&memoryState{dimension: dim, byDoc: byDoc, all: all})
	return nil
}

func (m *Memory) AllVectors(_ context.Context) (Snapshot, error) {
	s := m.state.Load()
	return Snapshot{Dimension: s.dimension, Entries: s.all}, nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]models.SearchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := m.state.Load()
	if len(s.all) == 0 {
		return []models.SearchResult{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			models.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Rank(vector, s.all, opts), nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Store(&memoryState{dimension: m.dimension, byDoc: map[string][]Entry{}})
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	s := m.state.Load()
	return Stats{DocumentCount: len(s.byDoc), ChunkCount: len(s.all), Dimension: s.dimension}, nil
}

func (m *Memory) Dimension() int { return m.state.Load().dimension }

func (m *Memory) Close() error { return nil }
