package computeruse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
)

// fakeRunner records display commands and writes a fake screenshot when
// scrot is invoked.
type fakeRunner struct {
	calls [][]string
	fail  string
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if f.fail != "" && name == f.fail {
		return nil, fmt.Errorf("%s exploded", name)
	}
	if name == "scrot" {
		// Last arg is the output path.
		path := args[len(args)-1]
		if err := os.WriteFile(path, []byte("PNGDATA"), 0o644); err != nil {
			return nil, err
		}
	}
	if name == "xdotool" && len(args) > 0 && args[0] == "getmouselocation" {
		return []byte("X=42\nY=77\nSCREEN=0\nWINDOW=123\n"), nil
	}
	return nil, nil
}

func testTool(t *testing.T) (*Tool, *fakeRunner) {
	t.Helper()
	tool := NewTool(Config{Display: ":4", DisplayWidthPx: 1024, DisplayHeightPx: 768, DisplayNumber: 4})
	runner := &fakeRunner{}
	tool.run = runner.run
	return tool, runner
}

func execTool(t *testing.T, tool *Tool, input string) (content, image string, isErr bool) {
	t.Helper()
	result, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return result.Content, result.Base64Image, result.IsError
}

func TestScreenshot(t *testing.T) {
	tool, runner := testTool(t)

	content, image, isErr := execTool(t, tool, `{"action":"screenshot"}`)
	if isErr {
		t.Fatalf("unexpected error: %s", content)
	}
	if content != "[Screenshot Taken]" {
		t.Errorf("content = %q", content)
	}
	want := base64.StdEncoding.EncodeToString([]byte("PNGDATA"))
	if image != want {
		t.Errorf("image = %q, want %q", image, want)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "scrot" {
		t.Errorf("calls = %v", runner.calls)
	}
}

func TestClickMovesThenClicks(t *testing.T) {
	tool, runner := testTool(t)

	_, image, isErr := execTool(t, tool, `{"action":"left_click","coordinate":[100,200]}`)
	if isErr {
		t.Fatal("click failed")
	}
	if image == "" {
		t.Error("click should capture a screenshot")
	}

	if len(runner.calls) != 3 {
		t.Fatalf("calls = %v", runner.calls)
	}
	move := strings.Join(runner.calls[0], " ")
	if move != "xdotool mousemove --sync 100 200" {
		t.Errorf("move = %q", move)
	}
	click := strings.Join(runner.calls[1], " ")
	if click != "xdotool click 1" {
		t.Errorf("click = %q", click)
	}
	if runner.calls[2][0] != "scrot" {
		t.Errorf("final call = %v", runner.calls[2])
	}
}

func TestClickButtons(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"right_click", "xdotool click 3"},
		{"middle_click", "xdotool click 2"},
		{"double_click", "xdotool click --repeat 2 --delay 50 1"},
		{"triple_click", "xdotool click --repeat 3 --delay 50 1"},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			tool, runner := testTool(t)
			_, _, isErr := execTool(t, tool, `{"action":"`+tt.action+`"}`)
			if isErr {
				t.Fatal("action failed")
			}
			got := strings.Join(runner.calls[0], " ")
			if got != tt.want {
				t.Errorf("command = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypeAction(t *testing.T) {
	tool, runner := testTool(t)

	_, _, isErr := execTool(t, tool, `{"action":"type","text":"hello"}`)
	if isErr {
		t.Fatal("type failed")
	}
	got := strings.Join(runner.calls[0], " ")
	if got != "xdotool type --delay 12 -- hello" {
		t.Errorf("command = %q", got)
	}
}

func TestScroll(t *testing.T) {
	tool, runner := testTool(t)

	_, _, isErr := execTool(t, tool, `{"action":"scroll","scroll_direction":"down","scroll_amount":5,"coordinate":[10,20]}`)
	if isErr {
		t.Fatal("scroll failed")
	}
	// mousemove, click --repeat 5 5, scrot
	click := strings.Join(runner.calls[1], " ")
	if click != "xdotool click --repeat 5 5" {
		t.Errorf("scroll command = %q", click)
	}
}

func TestCursorPosition(t *testing.T) {
	tool, _ := testTool(t)

	content, _, isErr := execTool(t, tool, `{"action":"cursor_position"}`)
	if isErr {
		t.Fatal("cursor_position failed")
	}
	if content != "X=42,Y=77" {
		t.Errorf("content = %q", content)
	}
}

func TestDrag(t *testing.T) {
	tool, runner := testTool(t)

	_, _, isErr := execTool(t, tool, `{"action":"left_click_drag","start_coordinate":[1,2],"coordinate":[3,4]}`)
	if isErr {
		t.Fatal("drag failed")
	}

	want := []string{
		"xdotool mousemove --sync 1 2",
		"xdotool mousedown 1",
		"xdotool mousemove --sync 3 4",
		"xdotool mouseup 1",
	}
	for i, w := range want {
		if got := strings.Join(runner.calls[i], " "); got != w {
			t.Errorf("step %d = %q, want %q", i, got, w)
		}
	}
}

func TestInvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown action", `{"action":"levitate"}`},
		{"key without text", `{"action":"key"}`},
		{"bad coordinate", `{"action":"mouse_move","coordinate":[1]}`},
		{"negative coordinate", `{"action":"mouse_move","coordinate":[-1,5]}`},
		{"bad scroll direction", `{"action":"scroll","scroll_direction":"diagonal"}`},
		{"wait too long", `{"action":"wait","duration":300}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, _ := testTool(t)
			content, _, isErr := execTool(t, tool, tt.input)
			if !isErr {
				t.Errorf("expected error result, got %q", content)
			}
		})
	}
}

func TestCommandFailureIsToolError(t *testing.T) {
	tool, runner := testTool(t)
	runner.fail = "xdotool"

	content, _, isErr := execTool(t, tool, `{"action":"key","text":"Return"}`)
	if !isErr {
		t.Errorf("expected error result, got %q", content)
	}
}

func TestComputerUseConfig(t *testing.T) {
	tool, _ := testTool(t)
	cfg := tool.ComputerUseConfig()
	if cfg.DisplayWidthPx != 1024 || cfg.DisplayHeightPx != 768 || cfg.DisplayNumber != 4 {
		t.Errorf("config = %+v", cfg)
	}
}
