package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/mcpworld/harness/internal/tasks"
)

// runTasksList prints the task suite, optionally filtered by category.
func runTasksList(configPath, category string) error {
	registry, err := openTaskRegistry(configPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tMODE\tCHECKER\tDESCRIPTION")
	count := 0
	for _, task := range registry.List() {
		if category != "" && task.Category != category {
			continue
		}
		mode := task.ExecMode
		if mode == "" {
			mode = "mixed"
		}
		checker := "none"
		if task.Checker != nil {
			checker = task.Checker.Type
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", task.ID, mode, checker, task.Description)
		count++
	}
	w.Flush()
	fmt.Printf("\n%d tasks\n", count)
	return nil
}

// runTasksShow prints one task definition as YAML.
func runTasksShow(configPath, taskID string) error {
	registry, err := openTaskRegistry(configPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	task, ok := registry.Get(taskID)
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}

	out, err := yaml.Marshal(task)
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s", task.ID, out)
	return nil
}

func openTaskRegistry(configPath string) (*tasks.Registry, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	registry, err := tasks.NewRegistry(cfg.Tasks.Dir, newLogger(cfg))
	if err != nil {
		return nil, fmt.Errorf("load task suite: %w", err)
	}
	return registry, nil
}
