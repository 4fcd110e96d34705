// Package embedding turns text into fixed-dimension vectors for the semantic index.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultDimension is the vector size used when none is configured.
const DefaultDimension = 384

// Embedder converts text into a vector. Implementations must be safe for concurrent use
// and return vectors of Dimension() components.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashingEmbedder is a deterministic bag-of-words embedder using the hashing trick.
// Each lower-cased token and each adjacent token pair is hashed into one of dim buckets
// with a hash-derived sign, and the result is L2-normalised. Texts sharing vocabulary
// score a positive cosine similarity; texts with no tokens in common score close to 0.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns a hashing embedder producing vectors of dim components.
func NewHashingEmbedder(dim int) (*HashingEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	return &HashingEmbedder{dim: dim}, nil
}

// Dimension returns the vector size.
func (e *HashingEmbedder) Dimension() int {
	return e.dim
}

// Embed returns the normalised hashed feature vector of text.
// Text without any word characters yields the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dim)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec, nil
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e *HashingEmbedder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	bucket := int(h % uint64(e.dim))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

// Tokenize splits text into lower-cased runs of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
