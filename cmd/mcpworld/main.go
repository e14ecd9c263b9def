// Package main provides the CLI entry point for the MCPWorld harness.
//
// MCPWorld benchmarks computer-using agents: it runs a model-driven
// agent against tasks inside a containerized VNC desktop and judges
// completion with white-box checkers.
//
// # Basic Usage
//
// Run a task headlessly with evaluation:
//
//	mcpworld run --task_id github/star_repo --exec_mode mixed
//
// Bring the desktop environment up and check the installation:
//
//	mcpworld env up
//	mcpworld doctor
//
// # Environment Variables
//
//   - MCPWORLD_CONFIG: Path to configuration file (default: mcpworld.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - DISPLAY: X display for gui/mixed mode runs
//   - STREAMLIT_SERVER_PORT: UI port override (default: 8501)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpworld/harness/internal/config"
	"github.com/mcpworld/harness/internal/observability"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcpworld",
		Short: "MCPWorld - benchmarking platform for computer-using agents",
		Long: `MCPWorld runs computer-using agents against benchmark tasks in a
containerized VNC desktop and evaluates completion with white-box
checkers driven by internal application state.

Exec modes: mixed (GUI + MCP tools), gui (desktop only), api (MCP only).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildEnvCmd(),
		buildServeCmd(),
		buildDoctorCmd(),
		buildTasksCmd(),
	)
	return rootCmd
}

// resolveConfigPath honors the flag first, then MCPWORLD_CONFIG.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("MCPWORLD_CONFIG"); env != "" {
		return env
	}
	return "mcpworld.yaml"
}

// loadConfig loads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "mcpworld.yaml" && os.Getenv("MCPWORLD_CONFIG") == "" {
			return config.Default(), nil
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}
