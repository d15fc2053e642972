package extract

import (
	"strings"
	"testing"

	"github.com/engram-sh/engram/internal/store"
)

func TestExtractCodeDefinitions(t *testing.T) {
	e := New()

	goCode := `func validateToken(raw string) (*Claims, error) {
	token, err := jwt.Parse(raw, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return token.Claims.(*Claims), nil
}`

	cands := e.Extract(EventPostTool, Payload{
		ToolName: "Write",
		ToolInput: map[string]any{
			"file_path": "internal/auth/token.go",
			"content":   goCode,
		},
	})

	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	c := cands[0]
	if c.Type != store.TypeCodePattern {
		t.Errorf("Type = %s, want %s", c.Type, store.TypeCodePattern)
	}
	if c.Metadata["file_path"] != "internal/auth/token.go" {
		t.Errorf("file_path metadata = %s", c.Metadata["file_path"])
	}
	if !strings.Contains(c.Content, "validateToken") {
		t.Errorf("content missing definition: %q", c.Content)
	}
}

func TestExtractCodeDefinitionsLimits(t *testing.T) {
	e := New()

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{name: "too_short", content: "func a() {}", want: 0},
		{name: "wrong_tool", content: "irrelevant", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := e.Extract(EventPostTool, Payload{
				ToolName:  "Edit",
				ToolInput: map[string]any{"new_string": tt.content},
			})
			if len(cands) != tt.want {
				t.Errorf("got %d candidates, want %d", len(cands), tt.want)
			}
		})
	}
}

func TestExtractCodeDefinitionsCap(t *testing.T) {
	e := New()

	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString("def handler_")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString("(request, response):\n    body = request.json()\n    return respond(body, status=200)\n\n")
	}

	cands := e.Extract(EventPostTool, Payload{
		ToolName:  "Write",
		ToolInput: map[string]any{"content": b.String()},
	})
	if len(cands) > maxCodeMatches {
		t.Errorf("got %d candidates, want at most %d", len(cands), maxCodeMatches)
	}
}

func TestExtractExecutionErrors(t *testing.T) {
	e := New()

	output := `running tests
collecting items
ImportError: No module named 'redis'
  at line 4 of worker.py
build failed`

	cands := e.Extract(EventPostTool, Payload{
		ToolName:     "Bash",
		ToolInput:    map[string]any{"command": "pytest"},
		ToolResponse: output,
	})

	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	c := cands[0]
	if c.Type != store.TypeErrorSolution {
		t.Errorf("Type = %s, want %s", c.Type, store.TypeErrorSolution)
	}
	if !strings.Contains(c.Content, "ImportError") {
		t.Errorf("content missing error line: %q", c.Content)
	}
	// Context window includes surrounding lines.
	if !strings.Contains(c.Content, "collecting items") {
		t.Errorf("content missing preceding context: %q", c.Content)
	}
	if len(c.Tags) == 0 || c.Tags[0] != "import_error" {
		t.Errorf("tags = %v, want [import_error]", c.Tags)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"SyntaxError: invalid syntax", "syntax_error"},
		{"TypeError: cannot add", "type_error"},
		{"no module named foo", "import_error"},
		{"permission denied", "permission_error"},
		{"something broke", "general_error"},
	}

	for _, tt := range tests {
		if got := classifyError(tt.text); got != tt.want {
			t.Errorf("classifyError(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestExtractCleanOutputNoCandidates(t *testing.T) {
	e := New()

	cands := e.Extract(EventPostTool, Payload{
		ToolName:     "Bash",
		ToolInput:    map[string]any{"command": "go build ./..."},
		ToolResponse: "ok\nall packages compiled",
	})
	if len(cands) != 0 {
		t.Errorf("clean output produced %d candidates", len(cands))
	}
}

func TestExtractSearchSuccess(t *testing.T) {
	e := New()

	cands := e.Extract(EventPostTool, Payload{
		ToolName:     "Grep",
		ToolInput:    map[string]any{"pattern": "func NewServer"},
		ToolResponse: "3 results found",
	})

	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	if cands[0].Type != store.TypeProjectContext {
		t.Errorf("Type = %s, want %s", cands[0].Type, store.TypeProjectContext)
	}
	if !strings.Contains(cands[0].Content, "func NewServer") {
		t.Errorf("content = %q", cands[0].Content)
	}
}

func TestExtractSlowExecution(t *testing.T) {
	e := New()

	cands := e.Extract(EventPostTool, Payload{
		ToolName:   "Bash",
		ToolInput:  map[string]any{"command": "npm run build"},
		DurationMS: 12000,
	})
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	if cands[0].Type != store.TypePerformanceInsight {
		t.Errorf("Type = %s, want %s", cands[0].Type, store.TypePerformanceInsight)
	}

	fast := e.Extract(EventPostTool, Payload{
		ToolName:   "Bash",
		ToolInput:  map[string]any{"command": "ls"},
		DurationMS: 40,
	})
	if len(fast) != 0 {
		t.Errorf("fast command produced %d candidates", len(fast))
	}
}

func TestExtractNotification(t *testing.T) {
	e := New()

	t.Run("error severity", func(t *testing.T) {
		cands := e.Extract(EventNotification, Payload{
			NotificationType: "tool_failure",
			Message:          "command exited non-zero",
			Severity:         "error",
		})
		if len(cands) != 1 {
			t.Fatalf("got %d candidates, want 1", len(cands))
		}
		if cands[0].Type != store.TypeErrorSolution {
			t.Errorf("Type = %s, want %s", cands[0].Type, store.TypeErrorSolution)
		}
		if !strings.HasPrefix(cands[0].Content, "[ERROR]") {
			t.Errorf("content = %q", cands[0].Content)
		}
	})

	t.Run("info is skipped", func(t *testing.T) {
		cands := e.Extract(EventNotification, Payload{
			NotificationType: "progress",
			Message:          "halfway done",
			Severity:         "info",
		})
		if len(cands) != 0 {
			t.Errorf("info notification produced %d candidates", len(cands))
		}
	})

	t.Run("performance warning", func(t *testing.T) {
		cands := e.Extract(EventNotification, Payload{
			NotificationType: "resource",
			Message:          "performance degraded under load",
			Severity:         "warning",
		})
		if len(cands) != 1 {
			t.Fatalf("got %d candidates, want 1", len(cands))
		}
		if cands[0].Type != store.TypePerformanceInsight {
			t.Errorf("Type = %s, want %s", cands[0].Type, store.TypePerformanceInsight)
		}
	})
}

func TestExtractSubagentInsights(t *testing.T) {
	e := New()

	result := `Security review complete.
Vulnerability: SQL injection possible in the user search endpoint handler
Security issue: session cookies are missing the Secure and HttpOnly flags
All other checks passed.`

	cands := e.Extract(EventSubagentStop, Payload{
		AgentType:       "security-auditor",
		TaskDescription: "audit auth endpoints",
		Result:          result,
		Success:         true,
	})

	var findings, summaries int
	for _, c := range cands {
		switch c.Type {
		case store.TypeSecurityFinding:
			findings++
		case store.TypeSubagentSummary:
			summaries++
		}
	}
	if findings != 2 {
		t.Errorf("got %d security findings, want 2", findings)
	}
	if summaries != 1 {
		t.Errorf("got %d summaries, want 1", summaries)
	}
}

func TestExtractSubagentUnknownAgentStillSummarizes(t *testing.T) {
	e := New()

	cands := e.Extract(EventSubagentStop, Payload{
		AgentType: "docs-writer",
		Result:    "Rewrote the getting started guide with installation steps for all platforms.",
		Success:   true,
	})
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	if cands[0].Type != store.TypeSubagentSummary {
		t.Errorf("Type = %s, want %s", cands[0].Type, store.TypeSubagentSummary)
	}
}

func TestExtractSubagentCodeBlocks(t *testing.T) {
	e := New()

	result := "Root cause: the cache key omitted the tenant id so responses leaked\n" +
		"```go\nkey := fmt.Sprintf(\"%s:%s\", tenantID, path)\ncache.Set(key, resp)\n```\n"

	cands := e.Extract(EventSubagentStop, Payload{
		AgentType: "debugger",
		Result:    result,
		Success:   true,
	})

	var code, fixes int
	for _, c := range cands {
		switch c.Type {
		case store.TypeCodePattern:
			code++
		case store.TypeErrorSolution:
			fixes++
		}
	}
	if code != 1 {
		t.Errorf("got %d code patterns, want 1", code)
	}
	if fixes != 1 {
		t.Errorf("got %d error solutions, want 1", fixes)
	}
}

func TestImportanceWeights(t *testing.T) {
	if got := Importance(store.TypeSecurityFinding); got != 0.9 {
		t.Errorf("security importance = %f, want 0.9", got)
	}
	if got := Importance("unheard_of_type"); got != 0.5 {
		t.Errorf("default importance = %f, want 0.5", got)
	}
	for typ, w := range typeImportance {
		if w < 0 || w > 1 {
			t.Errorf("importance for %s out of range: %f", typ, w)
		}
	}
}

func TestExtractWrongEventKindIgnored(t *testing.T) {
	e := New()

	cands := e.Extract(EventUserPrompt, Payload{
		ToolName:     "Bash",
		ToolResponse: "Error: should not be captured",
	})
	if len(cands) != 0 {
		t.Errorf("user prompt event produced %d candidates", len(cands))
	}
}
