package embedder

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(model string) (*OllamaEmbedder, error) {
	if model == "" {
		model = "nomic-embed-text"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, _ := url.Parse(baseURL)
	client := api.NewClient(uri, http.DefaultClient)

	return &OllamaEmbedder{
		client: client,
		model:  model,
	}, nil
}

func (e *OllamaEmbedder) Name() string {
	return "ollama"
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	}
	resp, err := e.client.Embeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
