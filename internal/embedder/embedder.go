// Package embedder turns memory content into vectors for similarity search.
package embedder

import (
	"context"
	"fmt"
	"os"
)

// Embedder generates a vector embedding for a piece of text.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g., "mock", "openai").
	Name() string
}

// New builds an embedder by provider name. An empty name selects the
// deterministic local embedder, which needs no network or credentials.
func New(provider, model string) (Embedder, error) {
	switch provider {
	case "", "mock":
		return NewMockEmbedder(), nil
	case "ollama":
		return NewOllamaEmbedder(model)
	case "openai":
		return NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"), model)
	case "gemini":
		return NewGeminiEmbedder(os.Getenv("GEMINI_API_KEY"), model)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", provider)
	}
}
