// Package local registers a deterministic, dependency-free Embedder used for
// local-file mode and tests: a hashed bag-of-tokens vector, normalized to
// unit length so cosine similarity behaves sensibly. Selected when
// config.EmbedderModel is "local" (the default).
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
	registryembed "github.com/bao243092078-crypto/memory-anchor/internal/registry/embed"
)

const (
	modelName  = "local-hashed-bow"
	defaultDim = 384
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "local",
		Loader: load,
	})
}

// load sizes the hashed vector to the collection's configured dimension
// rather than a fixed constant, so a deployment that changes VectorDim
// doesn't hit a DimensionMismatch the first time it writes.
func load(ctx context.Context) (registryembed.Embedder, error) {
	dim := defaultDim
	if cfg := config.FromContext(ctx); cfg != nil && cfg.VectorDim > 0 {
		dim = cfg.VectorDim
	}
	return &Embedder{dim: dim}, nil
}

type Embedder struct {
	dim int
}

func (e *Embedder) ModelName() string { return modelName }

func (e *Embedder) Dimension() int { return e.dim }

func (e *Embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = e.embedOne(text)
	}
	return results, nil
}

func (e *Embedder) embedOne(text string) []float32 {
	vector := make([]float32, e.dim)
	tokens := tokenize(text)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		i := int(h.Sum64() % uint64(e.dim))
		vector[i] += 1
	}
	norm := float32(0)
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ registryembed.Embedder = (*Embedder)(nil)
