// Package doctor runs preflight probes for the harness: credentials,
// display, external binaries, ports, and the task suite.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mcpworld/harness/internal/config"
	"github.com/mcpworld/harness/internal/env"
	"github.com/mcpworld/harness/internal/tasks"
)

// Status is a probe outcome.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Probe is one preflight check result.
type Probe struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Options select which probes run and against what.
type Options struct {
	Config *config.Config

	// ExecMode is the planned run mode; gui/mixed require a display and
	// the desktop binaries.
	ExecMode string

	// CheckPorts probes whether the service ports are free. Skipped for
	// runs against an already-launched environment.
	CheckPorts bool
}

// Run executes all applicable probes.
func Run(ctx context.Context, opts Options) []Probe {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	needsDisplay := opts.ExecMode == "" || opts.ExecMode == "mixed" || opts.ExecMode == "gui"

	probes := []Probe{
		probeAPIKey(cfg),
	}
	if needsDisplay {
		probes = append(probes,
			probeDisplay(),
			probeBinary("xdotool", "desktop actions unavailable without it"),
			probeBinary("scrot", "screenshots unavailable without it"),
		)
	}
	probes = append(probes,
		probeBinary("docker", "environment orchestration unavailable without it"),
		probeTasksDir(cfg.Tasks.Dir),
	)
	if opts.CheckPorts {
		probes = append(probes, probePorts(cfg)...)
	}
	return probes
}

// EnvProbes runs the probes environment launch needs: the docker
// binary and the service ports. Port conflicts are warnings because the
// container may already be running and launch skips it.
func EnvProbes(cfg *config.Config) []Probe {
	if cfg == nil {
		cfg = config.Default()
	}
	probes := []Probe{
		probeBinary("docker", "environment orchestration unavailable without it"),
	}
	return append(probes, probePorts(cfg)...)
}

// Healthy reports whether no probe failed.
func Healthy(probes []Probe) bool {
	for _, p := range probes {
		if p.Status == StatusFail {
			return false
		}
	}
	return true
}

func probeAPIKey(cfg *config.Config) Probe {
	key := cfg.LLM.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if strings.TrimSpace(key) == "" {
		return Probe{
			Name:   "api_key",
			Status: StatusFail,
			Detail: "no API key: set ANTHROPIC_API_KEY or llm.api_key",
		}
	}
	return Probe{Name: "api_key", Status: StatusOK}
}

func probeDisplay() Probe {
	display := os.Getenv("DISPLAY")
	if display == "" {
		return Probe{
			Name:   "display",
			Status: StatusFail,
			Detail: "DISPLAY is not set; gui and mixed modes need an X display",
		}
	}
	return Probe{Name: "display", Status: StatusOK, Detail: display}
}

func probeBinary(name, consequence string) Probe {
	if _, err := exec.LookPath(name); err != nil {
		return Probe{
			Name:   name,
			Status: StatusFail,
			Detail: fmt.Sprintf("%s not found in PATH: %s", name, consequence),
		}
	}
	return Probe{Name: name, Status: StatusOK}
}

func probeTasksDir(dir string) Probe {
	registry, err := tasks.NewRegistry(dir, nil)
	if err != nil {
		return Probe{
			Name:   "tasks",
			Status: StatusWarn,
			Detail: fmt.Sprintf("task suite unavailable: %v", err),
		}
	}
	defer registry.Close()

	count := len(registry.List())
	if count == 0 {
		return Probe{
			Name:   "tasks",
			Status: StatusWarn,
			Detail: fmt.Sprintf("no tasks found under %s", dir),
		}
	}
	return Probe{Name: "tasks", Status: StatusOK, Detail: fmt.Sprintf("%d tasks", count)}
}

func probePorts(cfg *config.Config) []Probe {
	checks := []struct {
		name string
		port int
	}{
		{"entry_port", cfg.Environment.EntryPort},
		{"novnc_port", cfg.Services.NoVNC.Port},
		{"vnc_port", cfg.Display.VNCPort},
		{"ui_port", cfg.Services.UIPort},
	}

	probes := make([]Probe, 0, len(checks))
	for _, c := range checks {
		if env.PortFree(c.port) {
			probes = append(probes, Probe{
				Name:   c.name,
				Status: StatusOK,
				Detail: fmt.Sprintf("%d free", c.port),
			})
		} else {
			probes = append(probes, Probe{
				Name:   c.name,
				Status: StatusWarn,
				Detail: fmt.Sprintf("%d already in use", c.port),
			})
		}
	}
	return probes
}
