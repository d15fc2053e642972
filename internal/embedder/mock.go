package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimensions = 384

// MockEmbedder produces deterministic pseudo-random unit vectors from a
// hash of the input text. Identical text always maps to the identical
// vector, so similarity search stays meaningful in tests and in installs
// that have no embedding provider configured.
type MockEmbedder struct{}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

func (e *MockEmbedder) Name() string {
	return "mock"
}

func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, mockDimensions)
	var norm float64
	for i := range vec {
		// Linear congruential generator keyed on the content hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11))/float64(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
