package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"report-rag/internal/models"
)

// Local is an offline Provider that embeds text by feature hashing word
// unigrams and bigrams into a fixed number of buckets. Vectors are
// L2-normalized; texts without words map to the zero vector.
type Local struct {
	model     string
	dimension int
}

func NewLocal(model string, dimension int) (*Local, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: local embedder dimension must be greater than zero", models.ErrConfiguration)
	}
	if model == "" {
		model = "hash-v1"
	}
	return &Local{model: model, dimension: dimension}, nil
}

func (l *Local) Name() string { return "local/" + l.model }

func (l *Local) Dimension() int { return l.dimension }

func (l *Local) MaxBatchSize() int { return 0 }

func (l *Local) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(text)
	}
	return out, nil
}

func (l *Local) vector(text string) []float32 {
	v := make([]float32, l.dimension)
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, term := range terms {
		l.add(v, term)
		if i > 0 {
			l.add(v, terms[i-1]+" "+term)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func (l *Local) add(v []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(l.dimension))
	if sum>>63 == 1 {
		v[bucket]--
		return
	}
	v[bucket]++
}
