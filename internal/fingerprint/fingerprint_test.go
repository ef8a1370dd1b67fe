package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-rag/internal/models"
)

func TestCompute(t *testing.T) {
	t.Run("Should ignore whitespace differences", func(t *testing.T) {
		a := Compute("Scope 1\r\n\r\nemissions  fell ", "salt")
		b := Compute(" Scope 1\n\nemissions fell", "salt")
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})
	t.Run("Should change with the text", func(t *testing.T) {
		assert.NotEqual(t, Compute("emissions fell", "salt"), Compute("emissions rose", "salt"))
	})
	t.Run("Should change with the settings salt", func(t *testing.T) {
		assert.NotEqual(t, Compute("emissions fell", "word/1000/200"), Compute("emissions fell", "word/500/100"))
	})
}

func TestDecide(t *testing.T) {
	doc := models.Document{ID: "d1", Processed: true}
	entry := Entry{DocumentID: "d1", Fingerprint: "abc"}

	t.Run("Should skip an unchanged processed document", func(t *testing.T) {
		assert.Equal(t, Skip, Decide(entry, true, doc, "abc", true))
	})
	t.Run("Should process when the fingerprint changed", func(t *testing.T) {
		assert.Equal(t, Process, Decide(entry, true, doc, "def", true))
	})
	t.Run("Should process when no entry exists", func(t *testing.T) {
		assert.Equal(t, Process, Decide(Entry{}, false, doc, "abc", true))
	})
	t.Run("Should process when the document is not marked processed", func(t *testing.T) {
		unprocessed := doc
		unprocessed.Processed = false
		assert.Equal(t, Process, Decide(entry, true, unprocessed, "abc", true))
	})
	t.Run("Should process everything when skipping is disabled", func(t *testing.T) {
		assert.Equal(t, Process, Decide(entry, true, doc, "abc", false))
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	t.Run("Should store, replace and reset entries", func(t *testing.T) {
		m := NewMemory()
		_, ok, err := m.Get(ctx, "d1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, m.Put(ctx, Entry{DocumentID: "d1", Fingerprint: "a"}))
		require.NoError(t, m.Put(ctx, Entry{DocumentID: "d1", Fingerprint: "b"}))
		e, ok, err := m.Get(ctx, "d1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "b", e.Fingerprint)
		assert.Equal(t, 1, m.Len())

		require.NoError(t, m.Reset(ctx))
		assert.Zero(t, m.Len())
	})
}
