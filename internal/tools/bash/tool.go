// Package bash implements the `bash` tool: shell command execution
// with a timeout and output capping.
package bash

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mcpworld/harness/internal/agent"
)

const (
	defaultTimeout = 120 * time.Second
	maxOutputBytes = 16 * 1024
)

// Config controls command execution.
type Config struct {
	// Timeout bounds each command. Zero uses the default.
	Timeout time.Duration

	// WorkDir is the working directory for commands. Empty inherits the
	// process working directory.
	WorkDir string

	// Env adds environment variables on top of the process environment.
	Env map[string]string
}

// Tool executes shell commands.
type Tool struct {
	config Config
}

// NewTool creates a bash tool.
func NewTool(cfg Config) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Tool{config: cfg}
}

func (t *Tool) Name() string { return "bash" }

func (t *Tool) Description() string {
	return "Run a bash command and return its output."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {
      "type": "string",
      "description": "The bash command to run."
    }
  },
  "required": ["command"]
}`)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return &agent.ToolResult{Content: "command is required", IsError: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", input.Command)
	cmd.Dir = t.config.WorkDir
	cmd.Env = os.Environ()
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()
	content := capOutput(string(out))

	if ctx.Err() == context.DeadlineExceeded {
		return &agent.ToolResult{
			Content: fmt.Sprintf("command timed out after %v\n%s", t.config.Timeout, content),
			IsError: true,
		}, nil
	}
	if err != nil {
		if content == "" {
			content = err.Error()
		} else {
			content = fmt.Sprintf("%s\nexit status: %v", content, err)
		}
		return &agent.ToolResult{Content: content, IsError: true}, nil
	}

	return &agent.ToolResult{Content: content}, nil
}

// capOutput keeps the head and tail of oversized output.
func capOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	half := maxOutputBytes / 2
	return s[:half] + "\n... (output truncated) ...\n" + s[len(s)-half:]
}
