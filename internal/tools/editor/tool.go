// Package editor implements the `str_replace_editor` tool: file view,
// create, string replacement, and line insertion.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mcpworld/harness/internal/agent"
)

const (
	maxViewBytes = 64 * 1024
	snippetLines = 4
)

// Tool edits files on the local filesystem.
type Tool struct {
	mu sync.Mutex
	// history holds pre-edit contents per path for undo_edit.
	history map[string][]string
}

// NewTool creates an editor tool.
func NewTool() *Tool {
	return &Tool{history: make(map[string][]string)}
}

func (t *Tool) Name() string { return "str_replace_editor" }

func (t *Tool) Description() string {
	return "View, create, and edit files: view, create, str_replace, insert, undo_edit."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {
      "type": "string",
      "enum": ["view", "create", "str_replace", "insert", "undo_edit"],
      "description": "The edit command to run."
    },
    "path": {
      "type": "string",
      "description": "Absolute path to the file."
    },
    "file_text": {
      "type": "string",
      "description": "Content for the create command."
    },
    "old_str": {
      "type": "string",
      "description": "Exact text to replace (must be unique in the file)."
    },
    "new_str": {
      "type": "string",
      "description": "Replacement text."
    },
    "insert_line": {
      "type": "integer",
      "description": "Line number after which to insert (0 for start of file)."
    },
    "view_range": {
      "type": "array",
      "items": {"type": "integer"},
      "minItems": 2,
      "maxItems": 2,
      "description": "Line range [start, end] for view; end -1 means end of file."
    }
  },
  "required": ["command", "path"]
}`)
}

type editInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine *int   `json:"insert_line"`
	ViewRange  []int  `json:"view_range"`
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input editInput
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult(fmt.Sprintf("invalid input: %v", err)), nil
	}
	if input.Path == "" || !filepath.IsAbs(input.Path) {
		return errResult("path must be absolute"), nil
	}

	switch input.Command {
	case "view":
		return t.view(input)
	case "create":
		return t.create(input)
	case "str_replace":
		return t.strReplace(input)
	case "insert":
		return t.insert(input)
	case "undo_edit":
		return t.undo(input)
	default:
		return errResult(fmt.Sprintf("unknown command %q", input.Command)), nil
	}
}

func (t *Tool) view(input editInput) (*agent.ToolResult, error) {
	info, err := os.Stat(input.Path)
	if err != nil {
		return errResult(fmt.Sprintf("cannot view %s: %v", input.Path, err)), nil
	}

	if info.IsDir() {
		entries, err := os.ReadDir(input.Path)
		if err != nil {
			return errResult(fmt.Sprintf("read dir: %v", err)), nil
		}
		var b strings.Builder
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			b.WriteString(name + "\n")
		}
		return &agent.ToolResult{Content: b.String()}, nil
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return errResult(fmt.Sprintf("read file: %v", err)), nil
	}
	lines := strings.Split(string(data), "\n")

	start, end := 1, len(lines)
	if len(input.ViewRange) == 2 {
		start = input.ViewRange[0]
		end = input.ViewRange[1]
		if end == -1 {
			end = len(lines)
		}
		if start < 1 || start > len(lines) || end < start {
			return errResult(fmt.Sprintf("invalid view_range [%d, %d] for %d lines", start, end, len(lines))), nil
		}
		if end > len(lines) {
			end = len(lines)
		}
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i, lines[i-1])
		if b.Len() > maxViewBytes {
			b.WriteString("... (view truncated)\n")
			break
		}
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

func (t *Tool) create(input editInput) (*agent.ToolResult, error) {
	if _, err := os.Stat(input.Path); err == nil {
		return errResult(fmt.Sprintf("%s already exists; use str_replace to edit it", input.Path)), nil
	}
	if err := os.MkdirAll(filepath.Dir(input.Path), 0o755); err != nil {
		return errResult(fmt.Sprintf("create parent dirs: %v", err)), nil
	}
	if err := os.WriteFile(input.Path, []byte(input.FileText), 0o644); err != nil {
		return errResult(fmt.Sprintf("write file: %v", err)), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("File created successfully at: %s", input.Path)}, nil
}

func (t *Tool) strReplace(input editInput) (*agent.ToolResult, error) {
	if input.OldStr == "" {
		return errResult("old_str is required"), nil
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return errResult(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)

	count := strings.Count(content, input.OldStr)
	if count == 0 {
		return errResult(fmt.Sprintf("old_str not found in %s", input.Path)), nil
	}
	if count > 1 {
		return errResult(fmt.Sprintf("old_str occurs %d times in %s; it must be unique", count, input.Path)), nil
	}

	updated := strings.Replace(content, input.OldStr, input.NewStr, 1)
	t.pushHistory(input.Path, content)
	if err := os.WriteFile(input.Path, []byte(updated), 0o644); err != nil {
		return errResult(fmt.Sprintf("write file: %v", err)), nil
	}

	return &agent.ToolResult{Content: t.snippetAround(updated, input.NewStr, input.Path)}, nil
}

func (t *Tool) insert(input editInput) (*agent.ToolResult, error) {
	if input.InsertLine == nil {
		return errResult("insert_line is required"), nil
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return errResult(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)
	lines := strings.Split(content, "\n")

	at := *input.InsertLine
	if at < 0 || at > len(lines) {
		return errResult(fmt.Sprintf("insert_line %d out of range for %d lines", at, len(lines))), nil
	}

	inserted := strings.Split(input.NewStr, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:at]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[at:]...)

	t.pushHistory(input.Path, content)
	if err := os.WriteFile(input.Path, []byte(strings.Join(updated, "\n")), 0o644); err != nil {
		return errResult(fmt.Sprintf("write file: %v", err)), nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf("Inserted %d line(s) after line %d in %s", len(inserted), at, input.Path)}, nil
}

func (t *Tool) undo(input editInput) (*agent.ToolResult, error) {
	t.mu.Lock()
	stack := t.history[input.Path]
	if len(stack) == 0 {
		t.mu.Unlock()
		return errResult(fmt.Sprintf("no edits to undo for %s", input.Path)), nil
	}
	prev := stack[len(stack)-1]
	t.history[input.Path] = stack[:len(stack)-1]
	t.mu.Unlock()

	if err := os.WriteFile(input.Path, []byte(prev), 0o644); err != nil {
		return errResult(fmt.Sprintf("write file: %v", err)), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Last edit to %s undone", input.Path)}, nil
}

func (t *Tool) pushHistory(path, content string) {
	t.mu.Lock()
	t.history[path] = append(t.history[path], content)
	t.mu.Unlock()
}

// snippetAround shows the replaced region with line numbers for
// context.
func (t *Tool) snippetAround(content, needle, path string) string {
	lines := strings.Split(content, "\n")
	target := 0
	if needle != "" {
		if idx := strings.Index(content, needle); idx >= 0 {
			target = strings.Count(content[:idx], "\n")
		}
	}

	start := target - snippetLines
	if start < 0 {
		start = 0
	}
	end := target + snippetLines
	if end >= len(lines) {
		end = len(lines) - 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Edited %s:\n", path)
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return b.String()
}

func errResult(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}
