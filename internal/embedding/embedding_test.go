package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

type fakeEmbedder struct {
	calls int
	dim   int
	err   error
	wait  time.Duration
	drop  bool
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.drop {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("Should adopt the dimension of the first response", func(t *testing.T) {
		r, err := NewRemote(&fakeEmbedder{dim: 4}, RemoteOptions{Name: "fake"})
		require.NoError(t, err)
		assert.Equal(t, 0, r.Dimension())

		dim, err := Probe(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, 4, dim)
		assert.Equal(t, 4, r.Dimension())
	})

	t.Run("Should reject vectors of an unexpected dimension", func(t *testing.T) {
		r, err := NewRemote(&fakeEmbedder{dim: 4}, RemoteOptions{Name: "fake", Dimension: 8})
		require.NoError(t, err)
		_, err = r.Embed(ctx, []string{"a"})
		require.ErrorIs(t, err, models.ErrDimensionMismatch)
		_, err = Probe(ctx, r)
		require.ErrorIs(t, err, models.ErrDimensionMismatch)
	})

	t.Run("Should refuse batches above the provider maximum", func(t *testing.T) {
		fake := &fakeEmbedder{dim: 2}
		r, err := NewRemote(fake, RemoteOptions{Name: "fake", MaxBatchSize: 2})
		require.NoError(t, err)
		_, err = r.Embed(ctx, []string{"a", "b", "c"})
		require.ErrorIs(t, err, models.ErrPermanentProvider)
		assert.Zero(t, fake.calls)
	})

	t.Run("Should treat a vector count mismatch as permanent", func(t *testing.T) {
		r, err := NewRemote(&fakeEmbedder{dim: 2, drop: true}, RemoteOptions{Name: "fake"})
		require.NoError(t, err)
		_, err = r.Embed(ctx, []string{"a", "b"})
		require.ErrorIs(t, err, models.ErrPermanentProvider)
	})

	t.Run("Should classify a per-call timeout as transient", func(t *testing.T) {
		r, err := NewRemote(&fakeEmbedder{dim: 2, wait: time.Second}, RemoteOptions{Name: "fake", Timeout: 10 * time.Millisecond})
		require.NoError(t, err)
		_, err = r.Embed(ctx, []string{"a"})
		require.ErrorIs(t, err, models.ErrTransientProvider)
	})

	t.Run("Should return cancellation of the caller unclassified", func(t *testing.T) {
		r, err := NewRemote(&fakeEmbedder{dim: 2, wait: time.Second}, RemoteOptions{Name: "fake"})
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = r.Embed(cctx, []string{"a"})
		require.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, models.ErrTransientProvider)
	})

	t.Run("Should return nothing for an empty batch", func(t *testing.T) {
		fake := &fakeEmbedder{dim: 2}
		r, err := NewRemote(fake, RemoteOptions{Name: "fake"})
		require.NoError(t, err)
		v, err := r.Embed(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Zero(t, fake.calls)
	})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"API returned unexpected status code: 429", models.ErrTransientProvider},
		{"rate limit exceeded", models.ErrTransientProvider},
		{"API returned unexpected status code: 503", models.ErrTransientProvider},
		{"read tcp: connection reset by peer", models.ErrTransientProvider},
		{"API returned unexpected status code: 401", models.ErrPermanentProvider},
		{"invalid input: empty string", models.ErrPermanentProvider},
		{"API returned unexpected status code: 422", models.ErrPermanentProvider},
		{"something odd happened", models.ErrTransientProvider},
	}
	for _, tc := range cases {
		t.Run("Should classify "+tc.msg, func(t *testing.T) {
			assert.ErrorIs(t, classify(errors.New(tc.msg)), tc.want)
		})
	}

	t.Run("Should keep already classified errors", func(t *testing.T) {
		err := classify(models.ErrPermanentProvider)
		assert.Same(t, models.ErrPermanentProvider, err)
	})
}

func TestLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject a non-positive dimension", func(t *testing.T) {
		_, err := NewLocal("hash-v1", 0)
		require.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("Should embed deterministically with unit length", func(t *testing.T) {
		l, err := NewLocal("", 64)
		require.NoError(t, err)
		a, err := l.Embed(ctx, []string{"Carbon emissions fell", "carbon EMISSIONS fell!"})
		require.NoError(t, err)
		require.Len(t, a, 2)
		assert.Equal(t, a[0], a[1])
		assert.Len(t, a[0], 64)

		var norm float64
		for _, x := range a[0] {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("Should map text without words to the zero vector", func(t *testing.T) {
		l, err := NewLocal("", 8)
		require.NoError(t, err)
		v, err := l.Embed(ctx, []string{"  ...  "})
		require.NoError(t, err)
		assert.Equal(t, make([]float32, 8), v[0])
	})
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	t.Run("Should serve repeated queries from the cache", func(t *testing.T) {
		fake := &fakeEmbedder{dim: 3}
		r, err := NewRemote(fake, RemoteOptions{Name: "fake"})
		require.NoError(t, err)
		c, err := NewCached(r, 4)
		require.NoError(t, err)

		first, err := c.EmbedQuery(ctx, "scope 3")
		require.NoError(t, err)
		first[1] = 42
		second, err := c.EmbedQuery(ctx, "scope 3")
		require.NoError(t, err)

		assert.Equal(t, 1, fake.calls)
		assert.Equal(t, float32(0), second[1])
		assert.Equal(t, 1, c.Len())

		c.Purge()
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Should call the provider every time when disabled", func(t *testing.T) {
		fake := &fakeEmbedder{dim: 3}
		r, err := NewRemote(fake, RemoteOptions{Name: "fake"})
		require.NoError(t, err)
		c, err := NewCached(r, 0)
		require.NoError(t, err)

		for range 3 {
			_, err := c.EmbedQuery(ctx, "scope 3")
			require.NoError(t, err)
		}
		assert.Equal(t, 3, fake.calls)
	})
}

func TestNew(t *testing.T) {
	t.Run("Should build the local provider", func(t *testing.T) {
		p, err := New(config.EmbeddingsConfig{Provider: config.ProviderLocal, Model: "hash-v1", Dimension: 16})
		require.NoError(t, err)
		assert.Equal(t, "local/hash-v1", p.Name())
		assert.Equal(t, 16, p.Dimension())
	})

	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := New(config.EmbeddingsConfig{Provider: "cohere"})
		require.ErrorIs(t, err, models.ErrConfiguration)
	})
}
