package guard

import (
	"testing"
	"time"

	"github.com/engram-sh/engram/internal/state"
)

func recordReads(st *state.SessionState, file string, n int) {
	for i := 0; i < n; i++ {
		st.RecordExecution(state.ToolExecution{
			Tool:      "Read",
			FilePath:  file,
			Timestamp: time.Now(),
		})
	}
}

func TestCheckRedundantReadBlocks(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	recordReads(st, "main.go", 3)

	violations := g.Check(st, "Read", map[string]any{"file_path": "main.go"})
	if len(violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(violations))
	}
	v := violations[0]
	if v.Rule != "redundant_read" {
		t.Errorf("Rule = %s, want redundant_read", v.Rule)
	}
	if !v.Block {
		t.Error("redundant read should block")
	}
}

func TestCheckRedundantReadBelowLimit(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	recordReads(st, "main.go", 2)

	if vs := g.Check(st, "Read", map[string]any{"file_path": "main.go"}); len(vs) != 0 {
		t.Errorf("got %d violations below the limit", len(vs))
	}
}

func TestCheckRedundantReadDifferentFile(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	recordReads(st, "main.go", 5)

	if vs := g.Check(st, "Read", map[string]any{"file_path": "other.go"}); len(vs) != 0 {
		t.Errorf("different file triggered %d violations", len(vs))
	}
}

func TestCheckRedundantReadOutsideWindow(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	old := time.Now().Add(-2 * time.Minute)
	for i := 0; i < 5; i++ {
		st.RecordExecution(state.ToolExecution{Tool: "Read", FilePath: "main.go", Timestamp: old})
	}

	if vs := g.Check(st, "Read", map[string]any{"file_path": "main.go"}); len(vs) != 0 {
		t.Errorf("stale reads triggered %d violations", len(vs))
	}
}

func TestCheckGitSequenceAdvisory(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	st.RecordExecution(state.ToolExecution{Tool: "Bash", Command: "git status", Timestamp: time.Now()})
	st.RecordExecution(state.ToolExecution{Tool: "Bash", Command: "git diff", Timestamp: time.Now()})

	violations := g.Check(st, "Bash", map[string]any{"command": "git log"})
	if len(violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(violations))
	}
	if violations[0].Block {
		t.Error("git sequence should be advisory, not blocking")
	}
	if violations[0].Rule != "sequential_git" {
		t.Errorf("Rule = %s, want sequential_git", violations[0].Rule)
	}
}

func TestCheckGitSequenceCooldown(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	st.RecordExecution(state.ToolExecution{Tool: "Bash", Command: "git status", Timestamp: time.Now()})
	st.RecordExecution(state.ToolExecution{Tool: "Bash", Command: "git diff", Timestamp: time.Now()})

	first := g.Check(st, "Bash", map[string]any{"command": "git log"})
	if len(first) != 1 {
		t.Fatalf("first check: got %d violations, want 1", len(first))
	}

	// The same suggestion must not repeat inside the cooldown.
	second := g.Check(st, "Bash", map[string]any{"command": "git push"})
	if len(second) != 0 {
		t.Errorf("second check inside cooldown: got %d violations", len(second))
	}
}

func TestCheckRepeatedSearch(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	for i := 0; i < 3; i++ {
		st.RecordExecution(state.ToolExecution{Tool: "Grep", Timestamp: time.Now()})
	}

	violations := g.Check(st, "Grep", map[string]any{"pattern": "handler"})
	if len(violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(violations))
	}
	if violations[0].Block {
		t.Error("repeated search should be advisory")
	}
}

func TestCheckNonGitBashIgnored(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()
	st.RecordExecution(state.ToolExecution{Tool: "Bash", Command: "git status", Timestamp: time.Now()})
	st.RecordExecution(state.ToolExecution{Tool: "Bash", Command: "git diff", Timestamp: time.Now()})

	if vs := g.Check(st, "Bash", map[string]any{"command": "go test ./..."}); len(vs) != 0 {
		t.Errorf("non-git command triggered %d violations", len(vs))
	}
}

func TestCheckEmptyInput(t *testing.T) {
	g := New(DefaultPolicy)
	st := state.NewSessionState()

	if vs := g.Check(st, "Read", nil); len(vs) != 0 {
		t.Errorf("nil input triggered %d violations", len(vs))
	}
}
