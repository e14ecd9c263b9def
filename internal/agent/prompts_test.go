package agent

import (
	"strings"
	"testing"
	"time"
)

func TestSystemPromptVariants(t *testing.T) {
	cfg := PromptConfig{Display: ":4", Now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}

	full := SystemPrompt(ToolVersion20250124, ExecModeMixed, cfg)
	if !strings.Contains(full, "bash tool") {
		t.Error("mixed prompt should mention the bash tool")
	}
	if !strings.Contains(full, "firefox icon") {
		t.Error("mixed prompt should mention the desktop")
	}
	if !strings.Contains(full, "DISPLAY=:4") {
		t.Error("mixed prompt should carry the configured display")
	}
	if !strings.Contains(full, "Monday, June 2, 2025") {
		t.Error("prompt should carry the current date")
	}

	apiOnly := SystemPrompt(ToolVersion20250124, ExecModeAPI, cfg)
	if strings.Contains(apiOnly, "firefox icon") {
		t.Error("api prompt should not mention the desktop")
	}
	if !strings.Contains(apiOnly, "bash tool") {
		t.Error("api prompt keeps the bash guidance")
	}

	noBash := SystemPrompt(ToolVersionComputerOnly, ExecModeMixed, cfg)
	if strings.Contains(noBash, "bash tool") {
		t.Error("computer_only prompt should not mention the bash tool")
	}
	if !strings.Contains(noBash, "firefox icon") {
		t.Error("computer_only prompt keeps the desktop guidance")
	}

	minimal := SystemPrompt(ToolVersionComputerOnly, ExecModeAPI, cfg)
	if strings.Contains(minimal, "bash tool") || strings.Contains(minimal, "firefox") {
		t.Error("computer_only api prompt should be the minimal variant")
	}
	if strings.Contains(minimal, "<IMPORTANT>") {
		t.Error("minimal variant has no IMPORTANT block")
	}
}

func TestSystemPromptSuffix(t *testing.T) {
	got := SystemPrompt(ToolVersion20250124, ExecModeMixed, PromptConfig{
		Display: ":4",
		Suffix:  "Focus on the browser.",
	})
	if !strings.HasSuffix(got, " Focus on the browser.") {
		t.Errorf("suffix not appended: %q", got[len(got)-60:])
	}
}

func TestExecModeValid(t *testing.T) {
	for _, mode := range []ExecMode{ExecModeMixed, ExecModeGUI, ExecModeAPI} {
		if !mode.Valid() {
			t.Errorf("%s should be valid", mode)
		}
	}
	if ExecMode("yolo").Valid() {
		t.Error("unknown mode should be invalid")
	}
}
