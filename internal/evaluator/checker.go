package evaluator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Checker decides whether the task's goal state has been reached. It
// inspects the environment directly rather than trusting the agent's
// own report.
type Checker interface {
	// Check returns whether the goal is met and a short reason.
	Check(ctx context.Context) (bool, string, error)
}

// CommandChecker runs a command and treats exit status 0 as success.
type CommandChecker struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// Check runs the command.
func (c *CommandChecker) Check(ctx context.Context) (bool, string, error) {
	if c.Command == "" {
		return false, "", fmt.Errorf("checker command is empty")
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return false, "", fmt.Errorf("checker timed out after %v", timeout)
		}
		if _, isExit := err.(*exec.ExitError); isExit {
			return false, strings.TrimSpace(string(out)), nil
		}
		return false, "", fmt.Errorf("run checker: %w", err)
	}

	return true, strings.TrimSpace(string(out)), nil
}

// FileChecker succeeds when a file exists, optionally requiring a
// substring of its content.
type FileChecker struct {
	Path     string
	Contains string
}

// Check inspects the file.
func (c *FileChecker) Check(ctx context.Context) (bool, string, error) {
	if c.Path == "" {
		return false, "", fmt.Errorf("checker path is empty")
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("file %s does not exist", c.Path), nil
		}
		return false, "", fmt.Errorf("read %s: %w", c.Path, err)
	}

	if c.Contains != "" && !strings.Contains(string(data), c.Contains) {
		return false, fmt.Sprintf("file %s does not contain expected content", c.Path), nil
	}

	return true, fmt.Sprintf("file %s matches", c.Path), nil
}

// CompositeChecker combines checkers. With RequireAll set, every child
// must pass; otherwise one passing child suffices.
type CompositeChecker struct {
	Checkers   []Checker
	RequireAll bool
}

// Check evaluates the children in order.
func (c *CompositeChecker) Check(ctx context.Context) (bool, string, error) {
	if len(c.Checkers) == 0 {
		return false, "", fmt.Errorf("composite checker has no children")
	}

	var reasons []string
	passed := 0
	for _, child := range c.Checkers {
		ok, reason, err := child.Check(ctx)
		if err != nil {
			return false, "", err
		}
		if reason != "" {
			reasons = append(reasons, reason)
		}
		if ok {
			passed++
			if !c.RequireAll {
				return true, reason, nil
			}
		} else if c.RequireAll {
			return false, reason, nil
		}
	}

	if c.RequireAll {
		return true, strings.Join(reasons, "; "), nil
	}
	return false, strings.Join(reasons, "; "), nil
}
