package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engram-sh/engram/internal/hook"
)

// hookCmd groups the lifecycle entry points the host tool invokes. Each
// subcommand reads exactly one JSON event from stdin. Stdout and stderr
// belong to the host protocol: stdout carries advisory context, stderr
// with exit code 2 carries a block reason. Everything else exits 0 so a
// memory problem never fails the host's tool call.
var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Lifecycle event entry points (read one JSON event from stdin)",
}

type handler func(*hook.Adapters, context.Context, *hook.Event) hook.Response

func runHook(fn handler) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		ev, err := hook.DecodeEvent(os.Stdin)
		if err != nil {
			// Malformed input is the host's bug, not grounds to block it.
			os.Exit(0)
		}

		adapters, cleanup, err := openProject()
		if err != nil {
			os.Exit(0)
		}
		defer cleanup()

		resp := fn(adapters, cmd.Context(), ev)

		if resp.Blocked() {
			fmt.Fprintln(os.Stderr, resp.Reason)
			cleanup()
			os.Exit(2)
		}
		if resp.Context != "" {
			fmt.Println(resp.Context)
		}
	}
}

var hookUserPromptCmd = &cobra.Command{
	Use:   "user-prompt",
	Short: "Inject relevant memories when a prompt is submitted",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.UserPrompt(ctx, ev)
	}),
}

var hookPreToolCmd = &cobra.Command{
	Use:   "pre-tool",
	Short: "Check an imminent tool call against session history",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.PreTool(ctx, ev)
	}),
}

var hookPostToolCmd = &cobra.Command{
	Use:   "post-tool",
	Short: "Record a finished tool call and capture what it taught",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.PostTool(ctx, ev)
	}),
}

var hookNotificationCmd = &cobra.Command{
	Use:   "notification",
	Short: "Capture warning and error notifications",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.Notification(ctx, ev)
	}),
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Summarize the ending session",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.Stop(ctx, ev)
	}),
}

var hookSubagentStopCmd = &cobra.Command{
	Use:   "subagent-stop",
	Short: "Capture insights from a completed subagent task",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.SubagentStop(ctx, ev)
	}),
}

var hookPreCompactCmd = &cobra.Command{
	Use:   "pre-compact",
	Short: "Preserve important memories before context compaction",
	Run: runHook(func(a *hook.Adapters, ctx context.Context, ev *hook.Event) hook.Response {
		return a.PreCompact(ctx, ev)
	}),
}

func init() {
	hookCmd.AddCommand(hookUserPromptCmd)
	hookCmd.AddCommand(hookPreToolCmd)
	hookCmd.AddCommand(hookPostToolCmd)
	hookCmd.AddCommand(hookNotificationCmd)
	hookCmd.AddCommand(hookStopCmd)
	hookCmd.AddCommand(hookSubagentStopCmd)
	hookCmd.AddCommand(hookPreCompactCmd)
}
