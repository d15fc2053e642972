package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	s, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !s.Enabled {
		t.Error("Expected enabled by default")
	}
	if s.SimilarityThreshold != 0.3 {
		t.Errorf("Expected threshold 0.3, got %v", s.SimilarityThreshold)
	}
	if s.MinContentLength != 50 {
		t.Errorf("Expected min content length 50, got %d", s.MinContentLength)
	}
}

func TestLoad_File(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	cfg := `enabled: true
similarity_threshold: 0.55
default_limit: 3
min_content_length: 20
excluded_tools: ["Read", "mcp__*"]
embedder:
  provider: ollama
  model: nomic-embed-text
`
	os.WriteFile(filepath.Join(tmpDir, FileName), []byte(cfg), 0600)

	s, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.SimilarityThreshold != 0.55 {
		t.Errorf("Expected threshold 0.55, got %v", s.SimilarityThreshold)
	}
	if s.DefaultLimit != 3 {
		t.Errorf("Expected limit 3, got %d", s.DefaultLimit)
	}
	if s.Embedder.Provider != "ollama" || s.Embedder.Model != "nomic-embed-text" {
		t.Errorf("Unexpected embedder settings: %+v", s.Embedder)
	}
	if len(s.ExcludedTools) != 2 {
		t.Errorf("Expected 2 excluded tools, got %d", len(s.ExcludedTools))
	}
}

func TestLoad_Clamping(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	cfg := `similarity_threshold: 1.8
default_limit: -1
min_content_length: -5
lock_timeout_ms: 0
`
	os.WriteFile(filepath.Join(tmpDir, FileName), []byte(cfg), 0600)

	s, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.SimilarityThreshold != 1 {
		t.Errorf("Expected threshold clamped to 1, got %v", s.SimilarityThreshold)
	}
	if s.DefaultLimit != 5 {
		t.Errorf("Expected limit reset to default, got %d", s.DefaultLimit)
	}
	if s.MinContentLength != 0 {
		t.Errorf("Expected min length clamped to 0, got %d", s.MinContentLength)
	}
	if s.LockTimeoutMS != 2000 {
		t.Errorf("Expected lock timeout reset to default, got %d", s.LockTimeoutMS)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "config-test-*")
	defer os.RemoveAll(tmpDir)

	os.WriteFile(filepath.Join(tmpDir, FileName), []byte("{not yaml: ["), 0600)

	s, err := Load(tmpDir)
	if err == nil {
		t.Error("Expected parse error for corrupt config")
	}
	// Caller still receives usable defaults.
	if s.DefaultLimit != 5 {
		t.Errorf("Expected default settings on corruption, got %+v", s)
	}
}

func TestProjectKey(t *testing.T) {
	k1 := ProjectKey("/home/dev/My Service")
	k2 := ProjectKey("/srv/other/My Service")

	if !strings.HasPrefix(k1, "my_service-") {
		t.Errorf("Unexpected key format: %s", k1)
	}
	if k1 == k2 {
		t.Error("Same basename in different paths must not collide")
	}
	if k1 != ProjectKey("/home/dev/My Service") {
		t.Error("Key derivation must be deterministic")
	}
}
