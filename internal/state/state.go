// Package state provides the cross-invocation shared session state.
//
// Every lifecycle event is served by a freshly started process, so the
// state lives in a single JSON document guarded by an advisory file lock.
// Readers that cannot acquire the lock within the configured bound proceed
// with a fresh state instead of stalling the host tool.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when the shared state lock could not be
// acquired within the bounded wait. Callers proceed with degraded state.
var ErrLockTimeout = errors.New("state: lock acquisition timed out")

// maxExecutions caps the tool execution log.
const maxExecutions = 100

// lockRetryDelay is the poll interval while waiting on the advisory lock.
const lockRetryDelay = 10 * time.Millisecond

// ToolExecution is one entry in the append-only tool usage log.
type ToolExecution struct {
	Tool       string    `json:"tool"`
	Timestamp  time.Time `json:"timestamp"`
	FilePath   string    `json:"file_path,omitempty"`
	Command    string    `json:"command,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// ToolMetric aggregates execution-time samples for one tool.
type ToolMetric struct {
	Count   int   `json:"count"`
	TotalMS int64 `json:"total_ms"`
	AvgMS   int64 `json:"avg_ms"`
	MaxMS   int64 `json:"max_ms"`
}

// PatternHit records when a detected pattern last fired, so the same
// suggestion is not repeated every invocation.
type PatternHit struct {
	LastSeen time.Time `json:"last_seen"`
	Count    int       `json:"count"`
}

// SessionState is the process-spanning session document.
type SessionState struct {
	SessionID      string                 `json:"session_id,omitempty"`
	ToolExecutions []ToolExecution        `json:"tool_executions"`
	ToolMetrics    map[string]*ToolMetric `json:"tool_metrics"`
	PatternCache   map[string]PatternHit  `json:"pattern_cache"`
	LastUpdated    time.Time              `json:"last_updated"`
}

// NewSessionState returns an empty, usable state document.
func NewSessionState() *SessionState {
	return &SessionState{
		ToolMetrics:  make(map[string]*ToolMetric),
		PatternCache: make(map[string]PatternHit),
	}
}

// normalize repairs nil maps after JSON decoding of partial documents.
func (s *SessionState) normalize() {
	if s.ToolMetrics == nil {
		s.ToolMetrics = make(map[string]*ToolMetric)
	}
	if s.PatternCache == nil {
		s.PatternCache = make(map[string]PatternHit)
	}
}

// RecordExecution appends a tool execution and updates its metrics.
// The execution log keeps only the most recent entries.
func (s *SessionState) RecordExecution(ex ToolExecution) {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	s.ToolExecutions = append(s.ToolExecutions, ex)
	if len(s.ToolExecutions) > maxExecutions {
		s.ToolExecutions = s.ToolExecutions[len(s.ToolExecutions)-maxExecutions:]
	}

	m, ok := s.ToolMetrics[ex.Tool]
	if !ok {
		m = &ToolMetric{}
		s.ToolMetrics[ex.Tool] = m
	}
	m.Count++
	if ex.DurationMS > 0 {
		m.TotalMS += ex.DurationMS
		m.AvgMS = m.TotalMS / int64(m.Count)
		if ex.DurationMS > m.MaxMS {
			m.MaxMS = ex.DurationMS
		}
	}
}

// RecentExecutions returns executions for tool within the window.
// An empty tool name matches all tools.
func (s *SessionState) RecentExecutions(tool string, window time.Duration) []ToolExecution {
	cutoff := time.Now().Add(-window)
	var recent []ToolExecution
	for _, ex := range s.ToolExecutions {
		if ex.Timestamp.Before(cutoff) {
			continue
		}
		if tool != "" && ex.Tool != tool {
			continue
		}
		recent = append(recent, ex)
	}
	return recent
}

// MarkPattern records that a pattern suggestion was emitted now.
func (s *SessionState) MarkPattern(key string) {
	hit := s.PatternCache[key]
	hit.LastSeen = time.Now()
	hit.Count++
	s.PatternCache[key] = hit
}

// PatternSeenWithin reports whether the pattern fired inside the cooldown.
func (s *SessionState) PatternSeenWithin(key string, cooldown time.Duration) bool {
	hit, ok := s.PatternCache[key]
	return ok && time.Since(hit.LastSeen) < cooldown
}

// Prune drops execution entries older than maxAge and stale pattern hits.
func (s *SessionState) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	kept := s.ToolExecutions[:0]
	for _, ex := range s.ToolExecutions {
		if ex.Timestamp.After(cutoff) {
			kept = append(kept, ex)
		}
	}
	s.ToolExecutions = kept

	for key, hit := range s.PatternCache {
		if hit.LastSeen.Before(cutoff) {
			delete(s.PatternCache, key)
		}
	}
}

// Manager persists SessionState through a lock-guarded file.
type Manager struct {
	dir      string
	path     string
	lockPath string
	timeout  time.Duration
}

// NewManager creates a manager for the state document under dir.
func NewManager(dir string, timeout time.Duration) *Manager {
	return &Manager{
		dir:      dir,
		path:     filepath.Join(dir, "state.json"),
		lockPath: filepath.Join(dir, "state.lock"),
		timeout:  timeout,
	}
}

// acquire takes the exclusive advisory lock with a bounded wait.
// The returned release func is safe on all exit paths.
func (m *Manager) acquire() (release func(), err error) {
	fl := flock.New(m.lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, ErrLockTimeout
	}
	return func() { _ = fl.Unlock() }, nil
}

// read loads the document without locking. Corrupted or missing state
// is treated as absent state, never as a failure.
func (m *Manager) read() *SessionState {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return NewSessionState()
	}
	st := NewSessionState()
	if err := json.Unmarshal(data, st); err != nil {
		return NewSessionState()
	}
	st.normalize()
	return st
}

// write persists the document via tmp-file rename so a crashed writer
// never leaves a torn document behind.
func (m *Manager) write(st *SessionState) error {
	st.LastUpdated = time.Now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

// Load returns the persisted state. The second result is false when the
// lock timed out and a fresh state was returned instead.
func (m *Manager) Load() (*SessionState, bool) {
	release, err := m.acquire()
	if err != nil {
		return NewSessionState(), false
	}
	defer release()

	return m.read(), true
}

// Save persists the state under the lock.
func (m *Manager) Save(st *SessionState) error {
	release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()

	return m.write(st)
}

// Update applies fn to the current state inside a single lock hold and
// persists the result. On lock timeout fn is still applied to a fresh
// in-memory state so the caller can proceed, but ErrLockTimeout is
// returned and nothing is persisted.
func (m *Manager) Update(fn func(*SessionState)) (*SessionState, error) {
	release, err := m.acquire()
	if err != nil {
		st := NewSessionState()
		fn(st)
		return st, ErrLockTimeout
	}
	defer release()

	st := m.read()
	fn(st)
	if err := m.write(st); err != nil {
		return st, err
	}
	return st, nil
}
