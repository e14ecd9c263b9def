package tasks

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseTaskID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"github/star_repo", false},
		{"office-tools/edit_doc", false},
		{"a/b", false},
		{"noslash", true},
		{"too/many/parts", true},
		{"/missing-category", true},
		{"missing-id/", true},
		{"bad chars/task", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, _, err := ParseTaskID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTaskID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func writeTask(t *testing.T, dir, id, body string) {
	t.Helper()
	path := filepath.Join(dir, id+".yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadTask(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "github/star_repo", `
description: Star a repository
instruction: Open the browser and star the repository.
exec_mode: gui
max_turns: 15
checker:
  type: file
  path: /tmp/starred.txt
mcp_servers:
  - id: github
    transport: stdio
    command: mcp-server-github
`)

	task, err := LoadTask(filepath.Join(dir, "github", "star_repo.yaml"), "github/star_repo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if task.Category != "github" || task.Name != "star_repo" {
		t.Errorf("category/name = %s/%s", task.Category, task.Name)
	}
	if task.ExecMode != "gui" || task.MaxTurns != 15 {
		t.Errorf("exec_mode = %q, max_turns = %d", task.ExecMode, task.MaxTurns)
	}
	if task.Checker == nil || task.Checker.Type != "file" {
		t.Errorf("checker = %+v", task.Checker)
	}
	if len(task.MCPServers) != 1 || task.MCPServers[0].ID != "github" {
		t.Errorf("mcp_servers = %+v", task.MCPServers)
	}
}

func TestLoadTaskValidation(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"missing instruction", "description: no instruction here\n"},
		{"bad exec mode", "instruction: do it\nexec_mode: turbo\n"},
		{"bad checker", "instruction: do it\nchecker:\n  type: command\n"},
		{"unsafe mcp command", "instruction: do it\nmcp_servers:\n  - id: x\n    transport: stdio\n    command: \"sh; rm -rf /\"\n"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "cat/task" + string(rune('a'+i))
			writeTask(t, dir, id, tt.body)
			if _, err := LoadTask(filepath.Join(dir, id+".yaml"), id); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCheckerSpecComposite(t *testing.T) {
	spec := CheckerSpec{
		Type:       "composite",
		RequireAll: true,
		Checkers: []CheckerSpec{
			{Type: "file", Path: "/tmp/a"},
			{Type: "command", Command: "true"},
		},
	}
	if err := spec.Validate(); err != nil {
		t.Errorf("valid composite rejected: %v", err)
	}

	spec.Checkers[1].Command = ""
	if err := spec.Validate(); err == nil {
		t.Error("composite with invalid child should fail")
	}
}
