package env

import (
	"strings"
	"testing"

	"github.com/mcpworld/harness/internal/config"
)

func TestRunArgsDefaults(t *testing.T) {
	cfg := config.Default()
	r := NewDockerRunner(cfg, nil)

	args := r.RunArgs()
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-p 8083:8083",
		"-p 6080:6080",
		"-p 5904:5904",
		"-p 8501:8501",
		"-e DISPLAY=:4",
		"mcpworld/desktop:latest",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	if strings.Contains(joined, "--gpus") || strings.Contains(joined, "--runtime=nvidia") {
		t.Errorf("GPU flags present without GPU config: %s", joined)
	}
}

func TestRunArgsGPU(t *testing.T) {
	cfg := config.Default()
	cfg.Environment.GPU = true
	joined := strings.Join(NewDockerRunner(cfg, nil).RunArgs(), " ")
	if !strings.Contains(joined, "--gpus all") {
		t.Errorf("missing --gpus all: %s", joined)
	}

	cfg.Environment.LegacyNvidiaRuntime = true
	joined = strings.Join(NewDockerRunner(cfg, nil).RunArgs(), " ")
	if !strings.Contains(joined, "--runtime=nvidia") {
		t.Errorf("missing legacy runtime flag: %s", joined)
	}
	if strings.Contains(joined, "--gpus") {
		t.Errorf("both GPU flags present: %s", joined)
	}
}

func TestRunArgsEntryPortVariant(t *testing.T) {
	cfg := config.Default()
	cfg.Environment.EntryPort = 8081
	joined := strings.Join(NewDockerRunner(cfg, nil).RunArgs(), " ")
	if !strings.Contains(joined, "-p 8081:8081") {
		t.Errorf("entry port variant not mapped: %s", joined)
	}
}

func TestRunArgsExtraPortsSorted(t *testing.T) {
	cfg := config.Default()
	cfg.Environment.ExtraPorts = map[int]int{9000: 9001, 8500: 8502}
	joined := strings.Join(NewDockerRunner(cfg, nil).RunArgs(), " ")

	first := strings.Index(joined, "-p 8500:8502")
	second := strings.Index(joined, "-p 9000:9001")
	if first == -1 || second == -1 || first > second {
		t.Errorf("extra ports not in sorted order: %s", joined)
	}
}

func TestIsNoSuchContainer(t *testing.T) {
	if !isNoSuchContainer("Error response from daemon: No such container: x") {
		t.Error("missed docker stop message")
	}
	if isNoSuchContainer("permission denied") {
		t.Error("false positive")
	}
}
