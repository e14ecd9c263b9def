package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcpworld/harness/internal/doctor"
	"github.com/mcpworld/harness/internal/env"
)

// runEnvUp launches the desktop environment container and waits for it
// to accept connections.
func runEnvUp(ctx context.Context, configPath string, dryRun bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	runner := env.NewDockerRunner(cfg, logger)

	if dryRun {
		fmt.Println("docker " + strings.Join(runner.RunArgs(), " "))
		return nil
	}

	probes := doctor.EnvProbes(cfg)
	for _, p := range probes {
		if p.Status != doctor.StatusOK {
			fmt.Printf("[%s] %s: %s\n", p.Status, p.Name, p.Detail)
		}
	}
	if !doctor.Healthy(probes) {
		return fmt.Errorf("environment preflight failed")
	}

	if err := runner.Up(ctx); err != nil {
		return err
	}
	fmt.Printf("Container %s is up.\n", cfg.Environment.ContainerName)
	fmt.Printf("  entry:  http://localhost:%d\n", cfg.Environment.EntryPort)
	fmt.Printf("  noVNC:  http://localhost:%d\n", cfg.Services.NoVNC.Port)
	fmt.Printf("  VNC:    localhost:%d\n", cfg.Display.VNCPort)
	fmt.Printf("  UI:     http://localhost:%d\n", cfg.Services.UIPort)
	return nil
}

// runEnvDown stops and removes the container.
func runEnvDown(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	runner := env.NewDockerRunner(cfg, logger)

	if err := runner.Down(ctx); err != nil {
		return err
	}
	fmt.Printf("Container %s removed.\n", cfg.Environment.ContainerName)
	return nil
}

// runEnvStatus prints the container state.
func runEnvStatus(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	runner := env.NewDockerRunner(cfg, logger)

	status, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", cfg.Environment.ContainerName, status)
	return nil
}
