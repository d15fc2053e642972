// Package config loads and clamps the per-project memory settings.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the per-project configuration file, looked up in the project root.
const FileName = ".engram.yaml"

// EmbedderSettings selects the external embedding function.
type EmbedderSettings struct {
	Provider string `yaml:"provider"` // mock, ollama, openai, gemini
	Model    string `yaml:"model"`
}

// Settings is the configuration surface consumed by the engine and adapters.
// It is passed explicitly into every call path; there are no package globals.
type Settings struct {
	Enabled             bool             `yaml:"enabled"`
	SimilarityThreshold float64          `yaml:"similarity_threshold"`
	DefaultLimit        int              `yaml:"default_limit"`
	MinContentLength    int              `yaml:"min_content_length"`
	MaxSuggestions      int              `yaml:"max_suggestions"`
	DedupWindow         int              `yaml:"dedup_window"`
	ExcludedTools       []string         `yaml:"excluded_tools"`
	LockTimeoutMS       int              `yaml:"lock_timeout_ms"`
	StateMaxAgeMinutes  int              `yaml:"state_max_age_minutes"`
	DataDir             string           `yaml:"data_dir"`
	Embedder            EmbedderSettings `yaml:"embedder"`
}

// Default returns the settings used when no config file is present.
func Default() Settings {
	return Settings{
		Enabled:             true,
		SimilarityThreshold: 0.3,
		DefaultLimit:        5,
		MinContentLength:    50,
		MaxSuggestions:      5,
		DedupWindow:         10,
		ExcludedTools:       []string{"Read", "LS", "Glob", "TodoWrite", "NotebookRead"},
		LockTimeoutMS:       2000,
		StateMaxAgeMinutes:  60,
		Embedder:            EmbedderSettings{Provider: "mock"},
	}
}

// Load reads projectRoot/.engram.yaml if present, falling back to defaults.
// Values outside their documented bounds are clamped, never rejected.
func Load(projectRoot string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(filepath.Join(projectRoot, FileName)) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("failed to parse config: %w", err)
	}

	s.Clamp()
	return s, nil
}

// Clamp forces every numeric setting back into its valid range.
func (s *Settings) Clamp() {
	if s.SimilarityThreshold < 0 {
		s.SimilarityThreshold = 0
	}
	if s.SimilarityThreshold > 1 {
		s.SimilarityThreshold = 1
	}
	if s.DefaultLimit <= 0 {
		s.DefaultLimit = Default().DefaultLimit
	}
	if s.MinContentLength < 0 {
		s.MinContentLength = 0
	}
	if s.MaxSuggestions <= 0 {
		s.MaxSuggestions = Default().MaxSuggestions
	}
	if s.DedupWindow < 0 {
		s.DedupWindow = 0
	}
	if s.LockTimeoutMS <= 0 {
		s.LockTimeoutMS = Default().LockTimeoutMS
	}
	if s.StateMaxAgeMinutes <= 0 {
		s.StateMaxAgeMinutes = Default().StateMaxAgeMinutes
	}
}

// LockTimeout returns the shared-state lock acquisition bound.
func (s Settings) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutMS) * time.Millisecond
}

// StateMaxAge returns the retention window for session-state entries.
func (s Settings) StateMaxAge() time.Duration {
	return time.Duration(s.StateMaxAgeMinutes) * time.Minute
}

// ProjectKey derives the namespace identifier for a project root.
// The basename keeps keys readable; the path hash keeps two directories
// with the same basename from sharing a namespace.
func ProjectKey(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	sum := sha256.Sum256([]byte(abs))

	base := strings.ToLower(filepath.Base(abs))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, base)

	return base + "-" + hex.EncodeToString(sum[:4])
}

// ProjectDir returns the data directory for a project, creating it if needed.
// All persisted state (metadata db, vector index, shared state) lives here.
func (s Settings) ProjectDir(projectRoot string) (string, error) {
	root := s.DataDir
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".engram", "projects")
	}

	dir := filepath.Join(root, ProjectKey(projectRoot))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}
	return dir, nil
}
