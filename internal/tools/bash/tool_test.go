package bash

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func runCommand(t *testing.T, tool *Tool, command string) (string, bool) {
	t.Helper()
	input, _ := json.Marshal(map[string]string{"command": command})
	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return result.Content, result.IsError
}

func TestExecuteSuccess(t *testing.T) {
	tool := NewTool(Config{})
	content, isErr := runCommand(t, tool, "echo hello")
	if isErr {
		t.Fatalf("unexpected error: %s", content)
	}
	if strings.TrimSpace(content) != "hello" {
		t.Errorf("content = %q", content)
	}
}

func TestExecuteFailure(t *testing.T) {
	tool := NewTool(Config{})
	content, isErr := runCommand(t, tool, "echo oops >&2; exit 3")
	if !isErr {
		t.Fatal("expected error result")
	}
	if !strings.Contains(content, "oops") || !strings.Contains(content, "exit status") {
		t.Errorf("content = %q", content)
	}
}

func TestExecuteTimeout(t *testing.T) {
	tool := NewTool(Config{Timeout: 200 * time.Millisecond})
	content, isErr := runCommand(t, tool, "sleep 5")
	if !isErr {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(content, "timed out") {
		t.Errorf("content = %q", content)
	}
}

func TestExecuteWorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	tool := NewTool(Config{WorkDir: dir, Env: map[string]string{"MCPWORLD_TEST": "yes"}})

	content, isErr := runCommand(t, tool, "pwd; echo $MCPWORLD_TEST")
	if isErr {
		t.Fatalf("unexpected error: %s", content)
	}
	if !strings.Contains(content, dir) || !strings.Contains(content, "yes") {
		t.Errorf("content = %q", content)
	}
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	tool := NewTool(Config{})
	if _, isErr := runCommand(t, tool, "  "); !isErr {
		t.Error("expected error for empty command")
	}
}

func TestCapOutput(t *testing.T) {
	small := "small"
	if got := capOutput(small); got != small {
		t.Errorf("small output changed: %q", got)
	}

	big := strings.Repeat("a", maxOutputBytes*2)
	got := capOutput(big)
	if len(got) >= len(big) {
		t.Error("big output not truncated")
	}
	if !strings.Contains(got, "(output truncated)") {
		t.Error("missing truncation marker")
	}
}
