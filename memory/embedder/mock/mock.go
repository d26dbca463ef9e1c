// Package mock provides a deterministic placeholder embedder. The vectors
// carry no semantic meaning; they exist so the index mirror and retrieval
// plumbing can be exercised without a real model. Identical text always
// maps to the identical vector, which keeps tests stable.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder is a hash-seeded placeholder memory.Embedder.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder. dimensions defaults to 384 when zero,
// matching all-MiniLM-L6-v2 so it can stand in for the ONNX embedder.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed derives a unit vector from the FNV hash of text via a linear
// congruential generator.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v * inv
	}
	return vec
}
