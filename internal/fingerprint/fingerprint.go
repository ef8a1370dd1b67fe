// Package fingerprint records a content hash per indexed document so that
// unchanged documents are never embedded twice.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"report-rag/internal/models"
)

// Compute hashes whitespace-normalized text. salt describes the chunking and
// embedding settings, so changing either yields a different fingerprint.
func Compute(text, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(normalize(text)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Join(strings.Fields(text), " ")
}

type Decision int

const (
	Process Decision = iota
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "process"
}

type Entry struct {
	DocumentID  string
	Fingerprint string
	Chunks      int
	IndexedAt   time.Time
}

// Decide skips a document only when skipping is enabled, a stored entry
// matches the computed fingerprint and the document is marked processed.
func Decide(entry Entry, found bool, doc models.Document, computed string, skipExisting bool) Decision {
	if skipExisting && found && entry.Fingerprint == computed && doc.Processed {
		return Skip
	}
	return Process
}

type Store interface {
	Get(ctx context.Context, documentID string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Reset(ctx context.Context) error
	Len() int
}

// Memory is a Store kept in process memory, matching the lifetime of the
// in-memory vector index.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, documentID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[documentID]
	return e, ok, nil
}

func (m *Memory) Put(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.DocumentID] = entry
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
