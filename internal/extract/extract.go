// Package extract classifies raw lifecycle event payloads into candidate
// memory records. Classification is deterministic and rule based: an
// ordered list of independent rules, each mapping one observable pattern
// to one record type, so every rule is testable on its own.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/engram-sh/engram/internal/store"
)

// EventKind names a lifecycle event delivered by the host.
type EventKind string

const (
	EventUserPrompt   EventKind = "user_prompt"
	EventPreTool      EventKind = "pre_tool"
	EventPostTool     EventKind = "post_tool"
	EventNotification EventKind = "notification"
	EventStop         EventKind = "stop"
	EventSubagentStop EventKind = "subagent_stop"
	EventPreCompact   EventKind = "pre_compact"
)

// Payload carries the event fields the rules inspect. Unused fields stay
// zero; each rule checks only what it needs.
type Payload struct {
	ToolName         string
	ToolInput        map[string]any
	ToolResponse     string
	AgentType        string
	TaskDescription  string
	Result           string
	Success          bool
	NotificationType string
	Message          string
	Severity         string
	DurationMS       int64
}

// Candidate is one potential memory record produced by a rule. The
// engine applies gating (length, dedup, excluded tools) afterwards.
type Candidate struct {
	Type       string
	Content    string
	Importance float64
	Tags       []string
	Metadata   map[string]string
}

// Rule maps one observable pattern in a payload to candidates.
type Rule struct {
	Name  string
	Kinds []EventKind
	Apply func(p Payload) []Candidate
}

// typeImportance carries the default importance weight per record type.
var typeImportance = map[string]float64{
	store.TypeSecurityFinding:        0.9,
	store.TypeArchitecturalDecision:  0.9,
	store.TypeErrorSolution:          0.8,
	store.TypePerformanceInsight:     0.7,
	store.TypeSubagentSummary:        0.7,
	store.TypeCodeQuality:            0.65,
	store.TypeCodePattern:            0.6,
	store.TypeSubagentDiscovery:      0.6,
	store.TypeSessionSummary:         0.5,
	store.TypeProjectContext:         0.4,
	store.TypeCompactionPreservation: 0.8,
}

// Importance returns the default weight for a record type, 0.5 when the
// type has no configured weight. The result is always within [0, 1].
func Importance(recordType string) float64 {
	if w, ok := typeImportance[recordType]; ok {
		return w
	}
	return 0.5
}

const (
	minCodeMatch     = 50
	maxCodeMatch     = 1000
	maxCodeMatches   = 3
	minInsightMatch  = 30
	maxInsightMatch  = 5
	slowToolMS       = 5000
	maxSubagentCode  = 3
	minSubagentCode  = 20
	maxSubagentCodeL = 500
)

var (
	pythonDefRe   = regexp.MustCompile(`(?ms)^\s*def\s+\w+\s*\([^)]*\):.*?(?:\n\S|\z)`)
	classRe       = regexp.MustCompile(`(?ms)^\s*(?:type|class)\s+\w+.*?(?:\n\S|\z)`)
	jsFunctionRe  = regexp.MustCompile(`(?ms)(?:async\s+)?function\s+\w+\s*\([^)]*\).*?(?:\n\}|\z)`)
	goFuncRe      = regexp.MustCompile(`(?ms)^func\s+(?:\(\w+ [^)]+\)\s+)?\w+\s*\([^)]*\).*?(?:\n\}|\z)`)
	errorLineRe   = regexp.MustCompile(`(?i)(error|exception|traceback|panic)`)
	fencedCodeRe  = regexp.MustCompile("(?s)```[\\w]*\\n(.*?)\\n```")
)

// agentRule ties one subagent type to its insight patterns and type.
type agentRule struct {
	patterns   []*regexp.Regexp
	recordType string
}

var agentRules = map[string]agentRule{
	"code-reviewer": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)issue found:?\s*(.+)`),
			regexp.MustCompile(`(?i)recommendation:?\s*(.+)`),
			regexp.MustCompile(`(?i)best practice:?\s*(.+)`),
		},
		recordType: store.TypeCodeQuality,
	},
	"security-auditor": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)vulnerability:?\s*(.+)`),
			regexp.MustCompile(`(?i)security issue:?\s*(.+)`),
			regexp.MustCompile(`(?i)(CVE-\d{4}-\d+.*)`),
		},
		recordType: store.TypeSecurityFinding,
	},
	"performance-engineer": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)bottleneck:?\s*(.+)`),
			regexp.MustCompile(`(?i)optimization:?\s*(.+)`),
			regexp.MustCompile(`(?i)(performance.*?\d+%.*)`),
		},
		recordType: store.TypePerformanceInsight,
	},
	"debugger": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)root cause:?\s*(.+)`),
			regexp.MustCompile(`(?i)fix:?\s*(.+)`),
			regexp.MustCompile(`(?i)solution:?\s*(.+)`),
		},
		recordType: store.TypeErrorSolution,
	},
}

// Extractor runs the rule list against an event. Safe for concurrent use.
type Extractor struct {
	rules []Rule
}

// New builds the default rule set.
func New() *Extractor {
	return &Extractor{rules: defaultRules()}
}

// Extract returns every candidate any rule produced for the event, in
// rule order. An event no rule matches yields an empty slice.
func (e *Extractor) Extract(kind EventKind, p Payload) []Candidate {
	var out []Candidate
	for _, r := range e.rules {
		if !ruleApplies(r, kind) {
			continue
		}
		out = append(out, r.Apply(p)...)
	}
	return out
}

func ruleApplies(r Rule, kind EventKind) bool {
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func defaultRules() []Rule {
	return []Rule{
		{
			Name:  "code-edit-definitions",
			Kinds: []EventKind{EventPostTool},
			Apply: extractCodeDefinitions,
		},
		{
			Name:  "execution-errors",
			Kinds: []EventKind{EventPostTool},
			Apply: extractExecutionErrors,
		},
		{
			Name:  "search-success",
			Kinds: []EventKind{EventPostTool},
			Apply: extractSearchSuccess,
		},
		{
			Name:  "slow-execution",
			Kinds: []EventKind{EventPostTool},
			Apply: extractSlowExecution,
		},
		{
			Name:  "notification",
			Kinds: []EventKind{EventNotification},
			Apply: extractNotification,
		},
		{
			Name:  "subagent-insights",
			Kinds: []EventKind{EventSubagentStop},
			Apply: extractSubagentInsights,
		},
		{
			Name:  "subagent-summary",
			Kinds: []EventKind{EventSubagentStop},
			Apply: extractSubagentSummary,
		},
	}
}

// extractCodeDefinitions pulls function and type definitions out of
// Edit/Write tool input.
func extractCodeDefinitions(p Payload) []Candidate {
	if p.ToolName != "Edit" && p.ToolName != "Write" {
		return nil
	}

	content := stringField(p.ToolInput, "new_string")
	if content == "" {
		content = stringField(p.ToolInput, "content")
	}
	if content == "" {
		return nil
	}

	filePath := stringField(p.ToolInput, "file_path")
	if filePath == "" {
		filePath = "unknown"
	}

	var out []Candidate
	for _, re := range []*regexp.Regexp{pythonDefRe, goFuncRe, jsFunctionRe, classRe} {
		for _, match := range re.FindAllString(content, -1) {
			if len(out) >= maxCodeMatches {
				return out
			}
			match = strings.TrimSpace(match)
			if len(match) < minCodeMatch || len(match) > maxCodeMatch {
				continue
			}
			out = append(out, Candidate{
				Type:       store.TypeCodePattern,
				Content:    match,
				Importance: Importance(store.TypeCodePattern),
				Tags:       []string{"code-edit"},
				Metadata: map[string]string{
					"tool":      p.ToolName,
					"file_path": filePath,
				},
			})
		}
	}
	return out
}

// extractExecutionErrors captures the context window around the first
// error line of a command's output.
func extractExecutionErrors(p Payload) []Candidate {
	if p.ToolName != "Bash" && p.ToolName != "Debug" {
		return nil
	}
	if p.ToolResponse == "" || !errorLineRe.MatchString(p.ToolResponse) {
		return nil
	}

	ctx := errorContext(p.ToolResponse)
	if ctx == "" {
		return nil
	}

	return []Candidate{{
		Type:       store.TypeErrorSolution,
		Content:    ctx,
		Importance: Importance(store.TypeErrorSolution),
		Tags:       []string{classifyError(ctx)},
		Metadata: map[string]string{
			"tool":    p.ToolName,
			"command": stringField(p.ToolInput, "command"),
		},
	}}
}

// errorContext returns up to two lines before and after the first line
// mentioning an error.
func errorContext(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !errorLineRe.MatchString(line) {
			continue
		}
		start := i - 2
		if start < 0 {
			start = 0
		}
		end := i + 3
		if end > len(lines) {
			end = len(lines)
		}
		return strings.Join(lines[start:end], "\n")
	}
	return ""
}

func classifyError(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "syntax"):
		return "syntax_error"
	case strings.Contains(lower, "type"):
		return "type_error"
	case strings.Contains(lower, "import"), strings.Contains(lower, "module"):
		return "import_error"
	case strings.Contains(lower, "permission"):
		return "permission_error"
	default:
		return "general_error"
	}
}

// extractSearchSuccess notes which search patterns find results in the
// project. Useful as lightweight navigation context.
func extractSearchSuccess(p Payload) []Candidate {
	if p.ToolName != "Grep" && p.ToolName != "find_symbol" && p.ToolName != "search_for_pattern" {
		return nil
	}
	if p.ToolResponse == "" || !strings.Contains(p.ToolResponse, "result") {
		return nil
	}

	pattern := stringField(p.ToolInput, "pattern")
	if pattern == "" {
		pattern = stringField(p.ToolInput, "name_path")
	}
	if pattern == "" {
		return nil
	}

	return []Candidate{{
		Type:       store.TypeProjectContext,
		Content:    fmt.Sprintf("Search pattern %q found results in project", pattern),
		Importance: Importance(store.TypeProjectContext),
		Tags:       []string{"search"},
		Metadata: map[string]string{
			"tool":    p.ToolName,
			"pattern": pattern,
		},
	}}
}

// extractSlowExecution records commands that ran noticeably long.
func extractSlowExecution(p Payload) []Candidate {
	if p.ToolName != "Bash" || p.DurationMS < slowToolMS {
		return nil
	}
	command := stringField(p.ToolInput, "command")
	if command == "" {
		return nil
	}

	return []Candidate{{
		Type:       store.TypePerformanceInsight,
		Content:    fmt.Sprintf("Command took %dms: %s", p.DurationMS, command),
		Importance: Importance(store.TypePerformanceInsight),
		Tags:       []string{"slow-command"},
		Metadata: map[string]string{
			"tool":        p.ToolName,
			"command":     command,
			"duration_ms": fmt.Sprintf("%d", p.DurationMS),
		},
	}}
}

// extractNotification maps host notifications to memory types by
// severity and message content.
func extractNotification(p Payload) []Candidate {
	if p.Message == "" {
		return nil
	}
	// Routine info notifications are noise unless they mention an error.
	if p.Severity == "info" && !strings.Contains(strings.ToLower(p.Message), "error") {
		return nil
	}

	recordType := store.TypeProjectContext
	switch {
	case p.Severity == "error" || strings.Contains(strings.ToLower(p.NotificationType), "error"):
		recordType = store.TypeErrorSolution
	case strings.Contains(strings.ToLower(p.Message), "performance"):
		recordType = store.TypePerformanceInsight
	}

	severity := p.Severity
	if severity == "" {
		severity = "info"
	}

	return []Candidate{{
		Type:       recordType,
		Content:    fmt.Sprintf("[%s] %s: %s", strings.ToUpper(severity), p.NotificationType, p.Message),
		Importance: Importance(recordType),
		Tags:       []string{"notification"},
		Metadata: map[string]string{
			"notification_type": p.NotificationType,
			"severity":          severity,
		},
	}}
}

// extractSubagentInsights mines a subagent's result text with the
// pattern set registered for its agent type, plus any fenced code.
func extractSubagentInsights(p Payload) []Candidate {
	if p.Result == "" {
		return nil
	}

	var out []Candidate
	if ar, ok := agentRules[p.AgentType]; ok {
		matched := 0
		for _, re := range ar.patterns {
			for _, m := range re.FindAllStringSubmatch(p.Result, -1) {
				if matched >= maxInsightMatch {
					break
				}
				text := strings.TrimSpace(m[len(m)-1])
				if len(text) < minInsightMatch {
					continue
				}
				out = append(out, Candidate{
					Type:       ar.recordType,
					Content:    text,
					Importance: Importance(ar.recordType),
					Tags:       []string{"subagent", p.AgentType},
					Metadata: map[string]string{
						"agent_type": p.AgentType,
						"task":       truncate(p.TaskDescription, 100),
					},
				})
				matched++
			}
		}
	}

	blocks := 0
	for _, m := range fencedCodeRe.FindAllStringSubmatch(p.Result, -1) {
		if blocks >= maxSubagentCode {
			break
		}
		code := m[1]
		if len(code) <= minSubagentCode || len(code) >= maxSubagentCodeL {
			continue
		}
		out = append(out, Candidate{
			Type:       store.TypeCodePattern,
			Content:    code,
			Importance: Importance(store.TypeCodePattern),
			Tags:       []string{"subagent", p.AgentType},
			Metadata: map[string]string{
				"agent_type": p.AgentType,
			},
		})
		blocks++
	}

	return out
}

// extractSubagentSummary always emits one summary record per completed
// subagent so the session keeps a trace of delegated work.
func extractSubagentSummary(p Payload) []Candidate {
	if p.Result == "" {
		return nil
	}

	agentType := p.AgentType
	if agentType == "" {
		agentType = "general-purpose"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subagent [%s] completed: %s", agentType, truncate(p.TaskDescription, 100))
	if !p.Success {
		b.WriteString("\nStatus: FAILED")
	}
	fmt.Fprintf(&b, "\nResult: %s", truncate(p.Result, 400))

	return []Candidate{{
		Type:       store.TypeSubagentSummary,
		Content:    b.String(),
		Importance: Importance(store.TypeSubagentSummary),
		Tags:       []string{"subagent", agentType},
		Metadata: map[string]string{
			"agent_type": agentType,
			"task":       truncate(p.TaskDescription, 100),
		},
	}}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
