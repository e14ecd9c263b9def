// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it
// to its handler.
package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// runOptions carries the `run` command flags.
type runOptions struct {
	configPath   string
	apiKey       string
	model        string
	taskID       string
	logDir       string
	execMode     string
	toolVersion  string
	maxTokens    int
	maxTurns     int
	timeout      time.Duration
	systemSuffix string
	keepImages   int
	appPath      string
	noEval       bool
}

// buildRunCmd creates the "run" command: the headless task runner with
// evaluation.
func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark task with a computer-using agent",
		Long: `Run a computer-using agent against a benchmark task.

The first instruction comes from the task definition when stdin input
is empty. After each agent turn, enter a follow-up instruction, or
'quit'/'exit' (or EOF) to end the session. SIGINT stops the evaluator
cleanly and prints final metrics.`,
		Example: `  # Run a task with the default instruction
  mcpworld run --task_id github/star_repo

  # API-only mode with a custom model and log dir
  mcpworld run --task_id github/star_repo --exec_mode api \
    --model claude-3-7-sonnet-20250219 --log_dir ./logs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = resolveConfigPath(opts.configPath)
			return runTask(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&opts.apiKey, "api_key", "", "Anthropic API key (default: ANTHROPIC_API_KEY)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model name override")
	cmd.Flags().StringVar(&opts.taskID, "task_id", "", "Task to run, as category/id (required)")
	cmd.Flags().StringVar(&opts.logDir, "log_dir", "", "Directory for event logs and results")
	cmd.Flags().StringVar(&opts.execMode, "exec_mode", "mixed", "Tool surface: mixed, gui, or api")
	cmd.Flags().StringVar(&opts.toolVersion, "tool_version", "computer_use_20250124", "Tool generation: computer_use_20250124, computer_use_20241022, computer_only")
	cmd.Flags().IntVar(&opts.maxTokens, "max_tokens", 0, "Max tokens per model response")
	cmd.Flags().IntVar(&opts.maxTurns, "max_turns", 0, "Max assistant turns per instruction")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Wall clock limit for the run")
	cmd.Flags().StringVar(&opts.systemSuffix, "system_prompt_suffix", "", "Text appended to the system prompt")
	cmd.Flags().IntVar(&opts.keepImages, "keep_recent_images", 3, "Screenshots kept in the transcript (0 disables truncation)")
	cmd.Flags().StringVar(&opts.appPath, "app_path", "", "Application launch command, overriding the task's app spec")
	cmd.Flags().BoolVar(&opts.noEval, "no_eval", false, "Run without the evaluator")
	_ = cmd.MarkFlagRequired("task_id")

	return cmd
}

// =============================================================================
// Env Commands
// =============================================================================

// buildEnvCmd creates the "env" command group for the desktop
// environment container.
func buildEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage the containerized desktop environment",
	}
	cmd.AddCommand(buildEnvUpCmd(), buildEnvDownCmd(), buildEnvStatusCmd())
	return cmd
}

func buildEnvUpCmd() *cobra.Command {
	var configPath string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Launch the desktop environment container",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvUp(cmd.Context(), resolveConfigPath(configPath), dryRun)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the docker run command without executing")
	return cmd
}

func buildEnvDownCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the desktop environment container",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvDown(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildEnvStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the container state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvStatus(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command: the static content HTTPS
// server and noVNC bridge.
func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve static content over HTTPS and bridge noVNC",
		Long: `Start the supervised in-environment services:

  - static content HTTPS server (self-signed cert generated on demand)
  - noVNC websocket bridge resolving the VNC endpoint from config

Graceful shutdown on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Doctor Command
// =============================================================================

// buildDoctorCmd creates the "doctor" command for preflight probes.
func buildDoctorCmd() *cobra.Command {
	var configPath string
	var execMode string
	var checkPorts bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the installation: credentials, display, binaries, ports, tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), resolveConfigPath(configPath), execMode, checkPorts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&execMode, "exec_mode", "", "Planned exec mode (skips display probes for api)")
	cmd.Flags().BoolVar(&checkPorts, "ports", false, "Probe service port availability")
	return cmd
}

// =============================================================================
// Tasks Commands
// =============================================================================

// buildTasksCmd creates the "tasks" command group for suite inspection.
func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the benchmark task suite",
	}
	cmd.AddCommand(buildTasksListCmd(), buildTasksShowCmd())
	return cmd
}

func buildTasksListCmd() *cobra.Command {
	var configPath string
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksList(resolveConfigPath(configPath), category)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	return cmd
}

func buildTasksShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <task_id>",
		Short: "Show one task definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksShow(resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
