package store

import (
	"errors"
	"time"
)

// Memory record types. The set is closed; the extractor only ever
// produces these.
const (
	TypeCodePattern            = "code_pattern"
	TypeErrorSolution          = "error_solution"
	TypeProjectContext         = "project_context"
	TypePerformanceInsight     = "performance_insight"
	TypeArchitecturalDecision  = "architectural_decision"
	TypeSessionSummary         = "session_summary"
	TypeSubagentSummary        = "subagent_summary"
	TypeSubagentDiscovery      = "subagent_discovery"
	TypeSecurityFinding        = "security_finding"
	TypeCodeQuality            = "code_quality"
	TypeCompactionPreservation = "compaction_preservation"
)

// ErrNotFound is returned when a record id has no row.
var ErrNotFound = errors.New("store: record not found")

// Record is the unit of storage. Records are immutable once inserted;
// corrections are new records. The vector for a record lives in the
// vector index under the same id.
type Record struct {
	ID           string
	ProjectKey   string
	Type         string
	Content      string
	Importance   float64
	Tags         []string
	Metadata     map[string]string
	SessionID    string
	CreatedAt    time.Time
	AccessCount  int
	LastAccessed time.Time
}

// Filters narrows a metadata query. Zero values match everything.
type Filters struct {
	Type          string
	Tag           string
	MinImportance float64
	Since         time.Time
	Until         time.Time
	SessionID     string
}

// Session tracks one host session's lifetime for summary bookkeeping.
type Session struct {
	ID          string
	ProjectKey  string
	StartedAt   time.Time
	EndedAt     time.Time
	Summary     string
	MemoryCount int
}

// TypeStat is the per-type slice of ProjectStats.
type TypeStat struct {
	Count     int
	AvgAccess float64
}

// ProjectStats aggregates a project's stored memories.
type ProjectStats struct {
	ProjectKey string
	Total      int
	ByType     map[string]TypeStat
}
