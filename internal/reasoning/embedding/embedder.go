// Package embedding turns query text into fixed-length vectors for knowledge
// retrieval.
package embedding

import (
	"context"
	"fmt"
	"math"
	"unicode"
	"unicode/utf16"

	"github.com/opsguide/opsguide-ai/internal/cache"
)

// DefaultDimensions matches the knowledge index dimension.
const DefaultDimensions = 1536

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// hashEmbedder derives a deterministic vector from the text's 32-bit string
// hash. It carries no semantics; identical text always gives an identical
// vector.
type hashEmbedder struct {
	dims  int
	cache *cache.Cache[string, []float32]
}

var _ Embedder = (*hashEmbedder)(nil)

// NewHashEmbedder creates a deterministic embedder. cacheSize <= 0 disables
// the vector cache.
func NewHashEmbedder(dims, cacheSize int) (Embedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dims)
	}
	return &hashEmbedder{
		dims:  dims,
		cache: cache.New[string, []float32]("embedding", cacheSize, 0),
	}, nil
}

// Embed returns the vector for text. The returned slice is owned by the
// caller.
func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if v, ok := e.cache.Get(text); ok {
		return cloneVector(v), nil
	}

	h := stringHash(text)
	vec := make([]float32, e.dims)
	for i := range vec {
		// int32 multiplication wraps, which spreads the values.
		x := float64(h*int32(i+1)) * 0.001
		vec[i] = float32(math.Sin(x)) * 0.5
	}

	e.cache.Add(text, vec)
	return cloneVector(vec), nil
}

func (e *hashEmbedder) Dimensions() int { return e.dims }

// stringHash is the classic s[0]*31^(n-1) + ... + s[n-1] hash over UTF-16
// code units, wrapping at 32 bits.
func stringHash(s string) int32 {
	var h int32
	for _, r := range s {
		if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
			h = 31*h + int32(r1)
			h = 31*h + int32(r2)
			continue
		}
		h = 31*h + int32(r)
	}
	return h
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
