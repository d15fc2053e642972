package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/engram-sh/engram/internal/store"
)

func TestRootCommandsRegistered(t *testing.T) {
	want := []string{"hook", "list", "search", "add", "delete", "clear", "stats"}

	registered := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		registered[cmd.Name()] = true
	}

	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestHookSubcommandsRegistered(t *testing.T) {
	want := []string{
		"user-prompt", "pre-tool", "post-tool", "notification",
		"stop", "subagent-stop", "pre-compact",
	}

	registered := make(map[string]bool)
	for _, cmd := range hookCmd.Commands() {
		registered[cmd.Name()] = true
	}

	for _, name := range want {
		if !registered[name] {
			t.Errorf("hook subcommand %q not registered", name)
		}
	}
}

func TestResolveProjectRootFlag(t *testing.T) {
	old := projectRoot
	defer func() { projectRoot = old }()

	projectRoot = "/tmp/somewhere"
	if got := resolveProjectRoot(); got != "/tmp/somewhere" {
		t.Errorf("resolveProjectRoot() = %s", got)
	}

	projectRoot = ""
	if got := resolveProjectRoot(); got == "" {
		t.Error("resolveProjectRoot() empty without flag")
	}
}

func TestPrintRecordTruncates(t *testing.T) {
	rec := &store.Record{
		ID:        "abcd1234abcd1234",
		Type:      store.TypeCodePattern,
		Content:   strings.Repeat("x", 500),
		CreatedAt: time.Now(),
	}
	// Must not panic on long content; output goes to stdout.
	printRecord(rec, 0.87)
	printRecord(rec, -1)
}
