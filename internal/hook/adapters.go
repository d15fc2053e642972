package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/engram-sh/engram/internal/config"
	"github.com/engram-sh/engram/internal/engine"
	"github.com/engram-sh/engram/internal/extract"
	"github.com/engram-sh/engram/internal/guard"
	"github.com/engram-sh/engram/internal/observe"
	"github.com/engram-sh/engram/internal/state"
	"github.com/engram-sh/engram/internal/store"
)

// Adapters binds one project's engine, shared state, and guard to the
// lifecycle events. Every adapter fails soft: a memory-system problem
// degrades to an allow with no context, never to a failed tool call.
type Adapters struct {
	Engine    *engine.Engine
	State     *state.Manager
	Guard     *guard.Guard
	Extractor *extract.Extractor
	Settings  config.Settings
	Obs       *observe.Observer
}

// UserPrompt retrieves memories relevant to a new prompt and surfaces
// them as advisory context.
func (a *Adapters) UserPrompt(ctx context.Context, ev *Event) Response {
	if ev == nil || ev.Prompt == "" {
		return allow()
	}

	if ev.SessionID != "" {
		if err := a.Engine.StartSession(ev.SessionID); err != nil {
			a.Obs.Log().Warn().Err(err).Msg("session registration failed")
		}
	}

	types := intentTypes(ev.Prompt)
	results, err := a.Engine.Retrieve(ctx, ev.Prompt, a.Settings.MaxSuggestions, 0, types...)
	if err != nil {
		a.Obs.Log().Warn().Err(err).Msg("prompt retrieval failed")
		return allow()
	}

	resp := allow()
	resp.Context = FormatTips(results)
	return resp
}

// PreTool checks the imminent tool call against the session's history.
// Guard evaluation and the pattern-cooldown bookkeeping run inside one
// locked state update so concurrent invocations agree on what fired.
func (a *Adapters) PreTool(ctx context.Context, ev *Event) Response {
	if ev == nil || ev.ToolName == "" {
		return allow()
	}

	var violations []*guard.Violation
	_, err := a.State.Update(func(st *state.SessionState) {
		violations = a.Guard.Check(st, ev.ToolName, ev.ToolInput)
	})
	if err != nil {
		if errors.Is(err, state.ErrLockTimeout) {
			// Degraded path: no history, so no violations either.
			a.Obs.Log().Warn().Msg("state lock timed out, skipping guard checks")
		} else {
			a.Obs.Log().Warn().Err(err).Msg("state update failed")
		}
	}

	var advice []string
	for _, v := range violations {
		if v.Block {
			return Response{Decision: DecisionBlock, Reason: v.Message}
		}
		advice = append(advice, v.Message)
	}

	advice = append(advice, a.commandSuggestions(ctx, ev)...)

	resp := allow()
	if len(advice) > 0 {
		resp.Context = "Suggestions:\n  " + strings.Join(advice, "\n  ")
	}
	return resp
}

// commandSuggestions surfaces past error solutions before test, build,
// or lint commands run again.
func (a *Adapters) commandSuggestions(ctx context.Context, ev *Event) []string {
	if ev.ToolName != "Bash" {
		return nil
	}
	command, _ := ev.ToolInput["command"].(string)
	if command == "" {
		return nil
	}
	if !strings.Contains(command, "test") && !strings.Contains(command, "build") && !strings.Contains(command, "lint") {
		return nil
	}

	results, err := a.Engine.Retrieve(ctx, command+" error", 2, 0, store.TypeErrorSolution)
	if err != nil {
		a.Obs.Log().Warn().Err(err).Msg("suggestion retrieval failed")
		return nil
	}

	var out []string
	for _, r := range results {
		preview := strings.ReplaceAll(r.Content, "\n", " ")
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		out = append(out, "Previous issue: "+preview)
	}
	return out
}

// PostTool records the execution in shared state and captures whatever
// the extractor finds in the outcome.
func (a *Adapters) PostTool(ctx context.Context, ev *Event) Response {
	if ev == nil || ev.ToolName == "" {
		return allow()
	}

	// Hosts do not always send a session id; the shared state mints one
	// so captures from the same session still group together.
	sessionID := ev.SessionID
	filePath, _ := ev.ToolInput["file_path"].(string)
	command, _ := ev.ToolInput["command"].(string)
	if _, err := a.State.Update(func(st *state.SessionState) {
		if sessionID != "" {
			st.SessionID = sessionID
		} else if st.SessionID == "" {
			st.SessionID = uuid.NewString()
		}
		sessionID = st.SessionID
		st.RecordExecution(state.ToolExecution{
			Tool:       ev.ToolName,
			FilePath:   filePath,
			Command:    command,
			DurationMS: ev.DurationMS,
		})
	}); err != nil {
		a.Obs.Log().Warn().Err(err).Msg("failed to record execution")
	}

	a.capture(ctx, ev, extract.EventPostTool, sessionID)
	return allow()
}

// Notification captures warning and error notifications.
func (a *Adapters) Notification(ctx context.Context, ev *Event) Response {
	if ev == nil || ev.Message == "" {
		return allow()
	}
	a.capture(ctx, ev, extract.EventNotification, ev.SessionID)
	return allow()
}

// Stop summarizes the ending session and prunes stale state.
func (a *Adapters) Stop(ctx context.Context, ev *Event) Response {
	if ev == nil {
		return allow()
	}

	if err := a.Engine.SummarizeSession(ctx, ev.SessionID); err != nil && !errors.Is(err, engine.ErrDisabled) {
		a.Obs.Log().Warn().Err(err).Msg("session summary failed")
	}

	if _, err := a.State.Update(func(st *state.SessionState) {
		st.Prune(a.Settings.StateMaxAge())
	}); err != nil {
		a.Obs.Log().Warn().Err(err).Msg("state prune failed")
	}

	return allow()
}

// SubagentStop captures insights from a completed subagent task.
// Results too short to mean anything are ignored.
func (a *Adapters) SubagentStop(ctx context.Context, ev *Event) Response {
	if ev == nil || len(ev.Result) < 50 {
		return allow()
	}
	a.capture(ctx, ev, extract.EventSubagentStop, ev.SessionID)
	return allow()
}

// PreCompact preserves the most valuable recent memories before the
// host compacts its context. A user-requested compaction gets a short
// confirmation back; automatic ones stay silent.
func (a *Adapters) PreCompact(ctx context.Context, ev *Event) Response {
	if ev == nil {
		return allow()
	}

	reason := ev.Reason
	if reason == "" {
		reason = "context_limit"
	}

	_, preserved, err := a.Engine.Preserve(ctx, ev.SessionID, reason)
	if err != nil {
		if !errors.Is(err, engine.ErrDisabled) {
			a.Obs.Log().Warn().Err(err).Msg("preservation failed")
		}
		return allow()
	}

	resp := allow()
	if reason == "user_requested" {
		resp.Context = fmt.Sprintf("Preserved %d important memories before compaction.", preserved)
	}
	return resp
}

func (a *Adapters) capture(ctx context.Context, ev *Event, kind extract.EventKind, sessionID string) {
	cands := a.Extractor.Extract(kind, ev.payload())
	if len(cands) == 0 {
		return
	}
	stored, err := a.Engine.Capture(ctx, sessionID, cands)
	if err != nil && !errors.Is(err, engine.ErrDisabled) {
		a.Obs.Log().Warn().Err(err).Msg("capture failed")
		return
	}
	if stored > 0 {
		a.Obs.Log().Info().Int("stored", stored).Str("event", string(kind)).Msg("captured memories")
	}
}

// intentTypes maps prompt wording to the record types most likely to
// help, narrowing retrieval noise.
func intentTypes(prompt string) []string {
	lower := strings.ToLower(prompt)

	checks := []struct {
		words []string
		types []string
	}{
		{words: []string{"error", "exception", "bug", "fix", "issue", "problem", "traceback"}, types: []string{store.TypeErrorSolution}},
		{words: []string{"implement", "create", "add", "write", "function", "class", "method"}, types: []string{store.TypeCodePattern, store.TypeProjectContext}},
		{words: []string{"performance", "optimize", "slow", "speed", "fast", "efficient"}, types: []string{store.TypePerformanceInsight}},
		{words: []string{"find", "search", "where", "locate"}, types: []string{store.TypeProjectContext, store.TypeCodePattern}},
	}

	seen := make(map[string]bool)
	var types []string
	for _, c := range checks {
		for _, w := range c.words {
			if !strings.Contains(lower, w) {
				continue
			}
			for _, t := range c.types {
				if !seen[t] {
					seen[t] = true
					types = append(types, t)
				}
			}
			break
		}
	}
	return types
}

// FormatTips renders retrieved memories as advisory text. An empty
// result renders as an empty string, which callers treat as no context.
func FormatTips(results []engine.Result) string {
	if len(results) == 0 {
		return ""
	}

	prefixes := map[string]string{
		store.TypeErrorSolution:      "Previous error solution",
		store.TypeCodePattern:        "Code pattern",
		store.TypePerformanceInsight: "Performance insight",
		store.TypeProjectContext:     "Project context",
	}

	var b strings.Builder
	b.WriteString("Relevant memories from this project:\n")
	for _, r := range results {
		prefix, ok := prefixes[r.Type]
		if !ok {
			prefix = "Memory"
		}

		content := strings.ReplaceAll(r.Content, "\n", " ")
		if len(content) > 150 {
			content = content[:150] + "..."
		}

		fmt.Fprintf(&b, "- %s (similarity %.0f%%): %s\n", prefix, r.Similarity*100, content)
		if fp := r.Metadata["file_path"]; fp != "" {
			fmt.Fprintf(&b, "  Related file: %s\n", fp)
		}
	}
	return b.String()
}
