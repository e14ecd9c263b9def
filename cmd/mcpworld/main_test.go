package main

import (
	"testing"

	"github.com/mcpworld/harness/internal/evaluator"
	"github.com/mcpworld/harness/internal/tasks"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "env", "serve", "doctor", "tasks"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("flag value not honored: %q", got)
	}

	t.Setenv("MCPWORLD_CONFIG", "/etc/mcpworld.yaml")
	if got := resolveConfigPath(""); got != "/etc/mcpworld.yaml" {
		t.Errorf("env value not honored: %q", got)
	}

	t.Setenv("MCPWORLD_CONFIG", "")
	if got := resolveConfigPath(""); got != "mcpworld.yaml" {
		t.Errorf("default not honored: %q", got)
	}
}

func TestBuildChecker(t *testing.T) {
	if c, err := buildChecker(nil); err != nil || c != nil {
		t.Errorf("nil spec: checker=%v err=%v", c, err)
	}

	c, err := buildChecker(&tasks.CheckerSpec{
		Type:       "composite",
		RequireAll: true,
		Checkers: []tasks.CheckerSpec{
			{Type: "command", Command: "true"},
			{Type: "file", Path: "/tmp/x", Contains: "done"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	composite, ok := c.(*evaluator.CompositeChecker)
	if !ok {
		t.Fatalf("checker type = %T", c)
	}
	if len(composite.Checkers) != 2 || !composite.RequireAll {
		t.Errorf("composite = %+v", composite)
	}

	if _, err := buildChecker(&tasks.CheckerSpec{Type: "telepathy"}); err == nil {
		t.Error("unknown checker type should error")
	}
}

func TestRunLogDirFlattensTaskID(t *testing.T) {
	dir := runLogDir("logs", "github/star_repo")
	if dir == "logs" {
		t.Fatal("no run subdirectory created")
	}
	for _, r := range dir[len("logs/"):] {
		if r == '/' {
			t.Errorf("task id separator leaked into path: %q", dir)
		}
	}
}
