package embedder

import (
	"context"
	"math"
	"testing"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder()

	a, err := e.Embed(ctx, "authentication uses JWT with RS256")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := e.Embed(ctx, "authentication uses JWT with RS256")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(a) != mockDimensions {
		t.Fatalf("dimension = %d, want %d", len(a), mockDimensions)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestMockEmbedderDistinctInputs(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder()

	a, _ := e.Embed(ctx, "first text")
	b, _ := e.Embed(ctx, "second text")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different inputs produced identical vectors")
	}
}

func TestMockEmbedderUnitNorm(t *testing.T) {
	e := NewMockEmbedder()
	vec, err := e.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("vector norm = %f, want 1", norm)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{provider: "", wantName: "mock"},
		{provider: "mock", wantName: "mock"},
		{provider: "ollama", wantName: "ollama"},
		{provider: "does-not-exist", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("provider_"+tt.provider, func(t *testing.T) {
			e, err := New(tt.provider, "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unknown provider")
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.provider, err)
			}
			if e.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", e.Name(), tt.wantName)
			}
		})
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder("", "", ""); err == nil {
		t.Error("expected error without API key")
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGeminiEmbedder("", ""); err == nil {
		t.Error("expected error without API key")
	}
}
