package editor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, tool *Tool, input map[string]any) (string, bool) {
	t.Helper()
	raw, _ := json.Marshal(input)
	result, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return result.Content, result.IsError
}

func TestCreateAndView(t *testing.T) {
	tool := NewTool()
	path := filepath.Join(t.TempDir(), "notes.txt")

	content, isErr := run(t, tool, map[string]any{
		"command": "create", "path": path, "file_text": "alpha\nbeta\ngamma",
	})
	if isErr {
		t.Fatalf("create failed: %s", content)
	}

	content, isErr = run(t, tool, map[string]any{"command": "view", "path": path})
	if isErr {
		t.Fatalf("view failed: %s", content)
	}
	if !strings.Contains(content, "1\talpha") || !strings.Contains(content, "3\tgamma") {
		t.Errorf("view output = %q", content)
	}

	// Creating over an existing file is rejected.
	if _, isErr := run(t, tool, map[string]any{
		"command": "create", "path": path, "file_text": "x",
	}); !isErr {
		t.Error("create over existing file should fail")
	}
}

func TestViewRange(t *testing.T) {
	tool := NewTool()
	path := filepath.Join(t.TempDir(), "r.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, isErr := run(t, tool, map[string]any{
		"command": "view", "path": path, "view_range": []int{2, 3},
	})
	if isErr {
		t.Fatalf("view failed: %s", content)
	}
	if strings.Contains(content, "one") || !strings.Contains(content, "two") || !strings.Contains(content, "three") || strings.Contains(content, "four") {
		t.Errorf("range view = %q", content)
	}

	if _, isErr := run(t, tool, map[string]any{
		"command": "view", "path": path, "view_range": []int{9, 10},
	}); !isErr {
		t.Error("out-of-range view should fail")
	}
}

func TestStrReplace(t *testing.T) {
	tool := NewTool()
	path := filepath.Join(t.TempDir(), "s.txt")
	if err := os.WriteFile(path, []byte("hello old world"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, isErr := run(t, tool, map[string]any{
		"command": "str_replace", "path": path, "old_str": "old", "new_str": "new",
	})
	if isErr {
		t.Fatalf("replace failed: %s", content)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "hello new world" {
		t.Errorf("file = %q", data)
	}

	// Missing and ambiguous old_str are rejected.
	if _, isErr := run(t, tool, map[string]any{
		"command": "str_replace", "path": path, "old_str": "absent", "new_str": "x",
	}); !isErr {
		t.Error("missing old_str should fail")
	}

	if err := os.WriteFile(path, []byte("dup dup"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, isErr := run(t, tool, map[string]any{
		"command": "str_replace", "path": path, "old_str": "dup", "new_str": "x",
	}); !isErr {
		t.Error("ambiguous old_str should fail")
	}
}

func TestInsert(t *testing.T) {
	tool := NewTool()
	path := filepath.Join(t.TempDir(), "i.txt")
	if err := os.WriteFile(path, []byte("a\nc"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, isErr := run(t, tool, map[string]any{
		"command": "insert", "path": path, "insert_line": 1, "new_str": "b",
	})
	if isErr {
		t.Fatalf("insert failed: %s", content)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\nc" {
		t.Errorf("file = %q", data)
	}
}

func TestUndoEdit(t *testing.T) {
	tool := NewTool()
	path := filepath.Join(t.TempDir(), "u.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	if content, isErr := run(t, tool, map[string]any{
		"command": "str_replace", "path": path, "old_str": "original", "new_str": "changed",
	}); isErr {
		t.Fatalf("replace failed: %s", content)
	}

	if content, isErr := run(t, tool, map[string]any{
		"command": "undo_edit", "path": path,
	}); isErr {
		t.Fatalf("undo failed: %s", content)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("file after undo = %q", data)
	}

	// Nothing left to undo.
	if _, isErr := run(t, tool, map[string]any{
		"command": "undo_edit", "path": path,
	}); !isErr {
		t.Error("undo with empty history should fail")
	}
}

func TestRejectsRelativePath(t *testing.T) {
	tool := NewTool()
	if _, isErr := run(t, tool, map[string]any{
		"command": "view", "path": "relative/path.txt",
	}); !isErr {
		t.Error("relative path should fail")
	}
}
