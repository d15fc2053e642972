// Package guard detects wasteful tool usage patterns across a session
// and turns them into blocking or advisory violations.
package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/engram-sh/engram/internal/state"
)

// Policy defines the detection windows and limits for one session.
type Policy struct {
	ReadRepeatWindow   time.Duration `json:"read_repeat_window"`
	ReadRepeatLimit    int           `json:"read_repeat_limit"`
	GitSequenceWindow  time.Duration `json:"git_sequence_window"`
	GitSequenceLimit   int           `json:"git_sequence_limit"`
	SearchRepeatWindow time.Duration `json:"search_repeat_window"`
	SearchRepeatLimit  int           `json:"search_repeat_limit"`
	SuggestionCooldown time.Duration `json:"suggestion_cooldown"`
}

// DefaultPolicy provides the stock detection thresholds.
var DefaultPolicy = Policy{
	ReadRepeatWindow:   30 * time.Second,
	ReadRepeatLimit:    3,
	GitSequenceWindow:  10 * time.Second,
	GitSequenceLimit:   2,
	SearchRepeatWindow: 60 * time.Second,
	SearchRepeatLimit:  3,
	SuggestionCooldown: 5 * time.Minute,
}

// Violation represents one detected pattern. Block distinguishes hard
// stops from advisory suggestions.
type Violation struct {
	Rule    string
	Message string
	Block   bool
}

// Guard evaluates tool invocations against the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Check inspects an imminent tool invocation against the session's
// execution history. It may mutate the state's pattern cache to record
// which suggestions fired, so callers should run it inside the same
// locked state update that persists the execution log.
func (g *Guard) Check(st *state.SessionState, tool string, input map[string]any) []*Violation {
	var out []*Violation

	if v := g.checkRedundantRead(st, tool, input); v != nil {
		out = append(out, v)
	}
	if v := g.checkGitSequence(st, tool, input); v != nil {
		out = append(out, v)
	}
	if v := g.checkRepeatedSearch(st, tool); v != nil {
		out = append(out, v)
	}

	return out
}

// checkRedundantRead blocks re-reading the same file several times in
// a short window. This is the only blocking rule; everything else is
// advice.
func (g *Guard) checkRedundantRead(st *state.SessionState, tool string, input map[string]any) *Violation {
	if tool != "Read" {
		return nil
	}
	filePath, _ := input["file_path"].(string)
	if filePath == "" {
		return nil
	}

	sameFile := 0
	for _, ex := range st.RecentExecutions("Read", g.policy.ReadRepeatWindow) {
		if ex.FilePath == filePath {
			sameFile++
		}
	}
	if sameFile < g.policy.ReadRepeatLimit {
		return nil
	}

	return &Violation{
		Rule:    "redundant_read",
		Message: fmt.Sprintf("File %s was already read %d times in the last %s. Reuse the earlier content.", filePath, sameFile, g.policy.ReadRepeatWindow),
		Block:   true,
	}
}

// checkGitSequence suggests batching when git commands run back to back.
func (g *Guard) checkGitSequence(st *state.SessionState, tool string, input map[string]any) *Violation {
	if tool != "Bash" {
		return nil
	}
	command, _ := input["command"].(string)
	if !strings.Contains(command, "git") {
		return nil
	}

	gitRuns := 0
	for _, ex := range st.RecentExecutions("Bash", g.policy.GitSequenceWindow) {
		if strings.Contains(ex.Command, "git") {
			gitRuns++
		}
	}
	if gitRuns < g.policy.GitSequenceLimit {
		return nil
	}
	if st.PatternSeenWithin("sequential_git", g.policy.SuggestionCooldown) {
		return nil
	}
	st.MarkPattern("sequential_git")

	return &Violation{
		Rule:    "sequential_git",
		Message: "Sequential git commands detected. Combine them into one invocation.",
	}
}

// checkRepeatedSearch suggests broader tooling after several searches.
func (g *Guard) checkRepeatedSearch(st *state.SessionState, tool string) *Violation {
	if tool != "Grep" && tool != "search_for_pattern" {
		return nil
	}

	searches := len(st.RecentExecutions(tool, g.policy.SearchRepeatWindow))
	if searches < g.policy.SearchRepeatLimit {
		return nil
	}
	if st.PatternSeenWithin("repeated_searches", g.policy.SuggestionCooldown) {
		return nil
	}
	st.MarkPattern("repeated_searches")

	return &Violation{
		Rule:    "repeated_searches",
		Message: "Multiple searches detected in a short window. Consider delegating the exploration to a subagent.",
	}
}
