// Package tasks loads and serves the benchmark task suite. Tasks are
// YAML files laid out as <tasks-dir>/<category>/<id>.yaml and addressed
// by the ID "category/id".
package tasks

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpworld/harness/internal/mcp"
)

var taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9_-]+$`)

// ParseTaskID splits "category/id" and validates both parts.
func ParseTaskID(id string) (category, name string, err error) {
	if !taskIDPattern.MatchString(id) {
		return "", "", fmt.Errorf("invalid task ID %q: expected category/id", id)
	}
	parts := strings.SplitN(id, "/", 2)
	return parts[0], parts[1], nil
}

// CheckerSpec declares how task completion is verified.
type CheckerSpec struct {
	// Type is "command", "file", or "composite".
	Type string `yaml:"type"`

	// Command checker fields.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// File checker fields.
	Path     string `yaml:"path,omitempty"`
	Contains string `yaml:"contains,omitempty"`

	// Composite checker fields.
	RequireAll bool          `yaml:"require_all,omitempty"`
	Checkers   []CheckerSpec `yaml:"checkers,omitempty"`
}

// Validate checks the spec is well formed.
func (c *CheckerSpec) Validate() error {
	switch c.Type {
	case "command":
		if c.Command == "" {
			return fmt.Errorf("command checker requires a command")
		}
	case "file":
		if c.Path == "" {
			return fmt.Errorf("file checker requires a path")
		}
	case "composite":
		if len(c.Checkers) == 0 {
			return fmt.Errorf("composite checker requires children")
		}
		for i := range c.Checkers {
			if err := c.Checkers[i].Validate(); err != nil {
				return fmt.Errorf("checker %d: %w", i, err)
			}
		}
	case "":
		return fmt.Errorf("checker type is required")
	default:
		return fmt.Errorf("unknown checker type %q", c.Type)
	}
	return nil
}

// AppSpec is the application under test launched for the task.
type AppSpec struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args,omitempty"`
	Teardown string   `yaml:"teardown,omitempty"`
}

// Task is one benchmark task definition.
type Task struct {
	// ID is "category/id", derived from the file location.
	ID       string `yaml:"-"`
	Category string `yaml:"-"`
	Name     string `yaml:"-"`

	// Description is shown by `mcpworld tasks list`.
	Description string `yaml:"description,omitempty"`

	// Instruction is the default instruction sent to the agent when the
	// operator provides none.
	Instruction string `yaml:"instruction"`

	// ExecMode overrides the run's exec mode for this task. Empty keeps
	// the operator's choice.
	ExecMode string `yaml:"exec_mode,omitempty"`

	// App is launched before the agent starts.
	App *AppSpec `yaml:"app,omitempty"`

	// MCPServers are connected for mixed/api mode runs.
	MCPServers []mcp.ServerConfig `yaml:"mcp_servers,omitempty"`

	// Checker verifies goal state.
	Checker *CheckerSpec `yaml:"checker,omitempty"`

	// Timeout and MaxTurns override run defaults when positive.
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	MaxTurns int           `yaml:"max_turns,omitempty"`
}

// Validate checks the loaded task definition.
func (t *Task) Validate() error {
	if t.Instruction == "" {
		return fmt.Errorf("task %s: instruction is required", t.ID)
	}
	if t.ExecMode != "" {
		switch t.ExecMode {
		case "mixed", "gui", "api":
		default:
			return fmt.Errorf("task %s: invalid exec_mode %q", t.ID, t.ExecMode)
		}
	}
	if t.Checker != nil {
		if err := t.Checker.Validate(); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	for i := range t.MCPServers {
		if err := t.MCPServers[i].Validate(); err != nil {
			return fmt.Errorf("task %s: mcp server %d: %w", t.ID, i, err)
		}
	}
	return nil
}

// LoadTask parses one task file. id must be the "category/id" the file
// location implies.
func LoadTask(path, id string) (*Task, error) {
	category, name, err := ParseTaskID(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}

	var task Task
	if err := yaml.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parse task %s: %w", id, err)
	}

	task.ID = id
	task.Category = category
	task.Name = name

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &task, nil
}
