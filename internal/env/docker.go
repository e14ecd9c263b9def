package env

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mcpworld/harness/internal/config"
	"github.com/mcpworld/harness/internal/observability"
)

// DockerRunner starts and stops the desktop environment container.
type DockerRunner struct {
	config *config.Config
	logger *observability.Logger

	// docker is the binary name, overridable in tests.
	docker string
}

// NewDockerRunner creates a runner over the given configuration.
func NewDockerRunner(cfg *config.Config, logger *observability.Logger) *DockerRunner {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &DockerRunner{
		config: cfg,
		logger: logger,
		docker: "docker",
	}
}

// RunArgs builds the `docker run` argument list for the configured
// environment. Exposed separately so `env up --dry-run` and tests can
// inspect it without a Docker daemon.
func (r *DockerRunner) RunArgs() []string {
	cfg := r.config
	args := []string{
		"run", "-d",
		"--name", cfg.Environment.ContainerName,
	}

	if cfg.Environment.GPU {
		if cfg.Environment.LegacyNvidiaRuntime {
			args = append(args, "--runtime=nvidia")
		} else {
			args = append(args, "--gpus", "all")
		}
	}

	ports := []int{
		cfg.Environment.EntryPort,
		cfg.Services.NoVNC.Port,
		cfg.Display.VNCPort,
		cfg.Services.UIPort,
	}
	for _, p := range ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", p, p))
	}

	extra := make([]int, 0, len(cfg.Environment.ExtraPorts))
	for host := range cfg.Environment.ExtraPorts {
		extra = append(extra, host)
	}
	sort.Ints(extra)
	for _, host := range extra {
		args = append(args, "-p", fmt.Sprintf("%d:%d", host, cfg.Environment.ExtraPorts[host]))
	}

	args = append(args,
		"-e", fmt.Sprintf("DISPLAY=%s", cfg.DisplayEnv()),
		"-e", fmt.Sprintf("STREAMLIT_SERVER_PORT=%d", cfg.Services.UIPort),
		cfg.Environment.Image,
	)
	return args
}

// Up launches the container and waits for the entry port to accept
// connections.
func (r *DockerRunner) Up(ctx context.Context) error {
	if status, _ := r.Status(ctx); status == "running" {
		r.logger.Info(ctx, "container already running",
			"container", r.config.Environment.ContainerName)
		return nil
	}

	// A stopped container with the same name blocks `docker run`.
	_ = r.remove(ctx)

	args := r.RunArgs()
	r.logger.Info(ctx, "starting desktop environment",
		"image", r.config.Environment.Image,
		"container", r.config.Environment.ContainerName)

	out, err := exec.CommandContext(ctx, r.docker, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	if err := WaitForPort(waitCtx, "127.0.0.1", r.config.Environment.EntryPort, time.Second); err != nil {
		return fmt.Errorf("environment did not become ready: %w", err)
	}

	r.logger.Info(ctx, "desktop environment ready",
		"entry_port", r.config.Environment.EntryPort,
		"novnc_port", r.config.Services.NoVNC.Port,
		"vnc_port", r.config.Display.VNCPort)
	return nil
}

// Down stops and removes the container.
func (r *DockerRunner) Down(ctx context.Context) error {
	name := r.config.Environment.ContainerName
	out, err := exec.CommandContext(ctx, r.docker, "stop", name).CombinedOutput()
	if err != nil && !isNoSuchContainer(string(out)) {
		return fmt.Errorf("docker stop: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return r.remove(ctx)
}

// Status returns the container state reported by docker inspect:
// "running", "exited", "absent", etc.
func (r *DockerRunner) Status(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.docker,
		"inspect", "--format", "{{.State.Status}}", r.config.Environment.ContainerName).CombinedOutput()
	if err != nil {
		if isNoSuchContainer(string(out)) {
			return "absent", nil
		}
		return "", fmt.Errorf("docker inspect: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *DockerRunner) remove(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, r.docker,
		"rm", "-f", r.config.Environment.ContainerName).CombinedOutput()
	if err != nil && !isNoSuchContainer(string(out)) {
		return fmt.Errorf("docker rm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func isNoSuchContainer(out string) bool {
	return strings.Contains(out, "No such container") ||
		strings.Contains(out, "No such object")
}
