// Package computeruse implements the `computer` tool: screen, mouse,
// and keyboard actions executed against an X display with xdotool and
// scrot.
package computeruse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mcpworld/harness/internal/agent"
)

// scroll buttons per X11 convention: 4 up, 5 down, 6 left, 7 right.
var scrollButtons = map[string]string{
	"up":    "4",
	"down":  "5",
	"left":  "6",
	"right": "7",
}

const (
	typeDelayMs     = 12
	screenshotDelay = 500 * time.Millisecond
	maxWaitSeconds  = 30
)

// Config describes the display the tool drives.
type Config struct {
	// Display is the X display, e.g. ":4".
	Display         string
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
}

// Tool executes computer use actions via xdotool and scrot.
type Tool struct {
	config Config

	// run executes a display command and returns combined output.
	// Replaceable in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewTool creates a computer use tool for the configured display.
func NewTool(cfg Config) *Tool {
	t := &Tool{config: cfg}
	t.run = t.runDisplayCommand
	return t
}

func (t *Tool) Name() string { return "computer" }

func (t *Tool) Description() string {
	return "Control the desktop via mouse/keyboard/screenshot actions."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(SchemaJSON)
}

// ComputerUseConfig implements agent.ComputerUseConfigProvider so the
// provider emits the typed computer-use tool definition.
func (t *Tool) ComputerUseConfig() *agent.ComputerUseConfig {
	return &agent.ComputerUseConfig{
		DisplayWidthPx:  t.config.DisplayWidthPx,
		DisplayHeightPx: t.config.DisplayHeightPx,
		DisplayNumber:   t.config.DisplayNumber,
	}
}

type actionInput struct {
	Action          string  `json:"action"`
	Coordinate      []int   `json:"coordinate"`
	StartCoordinate []int   `json:"start_coordinate"`
	Text            string  `json:"text"`
	ScrollDirection string  `json:"scroll_direction"`
	ScrollAmount    int     `json:"scroll_amount"`
	Duration        float64 `json:"duration"`
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input actionInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}

	switch input.Action {
	case "screenshot":
		return t.screenshot(ctx)

	case "key":
		if input.Text == "" {
			return errResult("key action requires text"), nil
		}
		return t.simple(ctx, "xdotool", "key", "--clearmodifiers", input.Text)

	case "type":
		if input.Text == "" {
			return errResult("type action requires text"), nil
		}
		return t.simple(ctx, "xdotool", "type", "--delay", strconv.Itoa(typeDelayMs), "--", input.Text)

	case "mouse_move":
		x, y, err := coords(input.Coordinate)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return t.simple(ctx, "xdotool", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))

	case "left_click", "right_click", "middle_click", "double_click", "triple_click":
		return t.click(ctx, input)

	case "left_click_drag":
		return t.drag(ctx, input)

	case "scroll":
		return t.scroll(ctx, input)

	case "wait":
		seconds := input.Duration
		if seconds <= 0 {
			seconds = 1
		}
		if seconds > maxWaitSeconds {
			return errResult(fmt.Sprintf("wait duration %g exceeds %d seconds", seconds, maxWaitSeconds)), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(seconds * float64(time.Second))):
		}
		return t.screenshot(ctx)

	case "cursor_position":
		out, err := t.run(ctx, "xdotool", "getmouselocation", "--shell")
		if err != nil {
			return errResult(fmt.Sprintf("xdotool failed: %v", err)), nil
		}
		x, y := parseMouseLocation(string(out))
		return &agent.ToolResult{Content: fmt.Sprintf("X=%d,Y=%d", x, y)}, nil

	default:
		return errResult(fmt.Sprintf("unknown action %q", input.Action)), nil
	}
}

func (t *Tool) click(ctx context.Context, input actionInput) (*agent.ToolResult, error) {
	if len(input.Coordinate) == 2 {
		x, y, err := coords(input.Coordinate)
		if err != nil {
			return errResult(err.Error()), nil
		}
		if _, err := t.run(ctx, "xdotool", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
			return errResult(fmt.Sprintf("mousemove failed: %v", err)), nil
		}
	}

	button := "1"
	repeat := "1"
	switch input.Action {
	case "right_click":
		button = "3"
	case "middle_click":
		button = "2"
	case "double_click":
		repeat = "2"
	case "triple_click":
		repeat = "3"
	}

	args := []string{"click"}
	if repeat != "1" {
		args = append(args, "--repeat", repeat, "--delay", "50")
	}
	args = append(args, button)
	if _, err := t.run(ctx, "xdotool", args...); err != nil {
		return errResult(fmt.Sprintf("click failed: %v", err)), nil
	}

	// Give the UI a beat to react before capturing.
	time.Sleep(screenshotDelay)
	return t.screenshot(ctx)
}

func (t *Tool) drag(ctx context.Context, input actionInput) (*agent.ToolResult, error) {
	sx, sy, err := coords(input.StartCoordinate)
	if err != nil {
		return errResult("left_click_drag requires start_coordinate"), nil
	}
	ex, ey, err := coords(input.Coordinate)
	if err != nil {
		return errResult("left_click_drag requires coordinate"), nil
	}

	steps := [][]string{
		{"mousemove", "--sync", strconv.Itoa(sx), strconv.Itoa(sy)},
		{"mousedown", "1"},
		{"mousemove", "--sync", strconv.Itoa(ex), strconv.Itoa(ey)},
		{"mouseup", "1"},
	}
	for _, step := range steps {
		if _, err := t.run(ctx, "xdotool", step...); err != nil {
			return errResult(fmt.Sprintf("drag failed at %s: %v", step[0], err)), nil
		}
	}

	time.Sleep(screenshotDelay)
	return t.screenshot(ctx)
}

func (t *Tool) scroll(ctx context.Context, input actionInput) (*agent.ToolResult, error) {
	button, ok := scrollButtons[input.ScrollDirection]
	if !ok {
		return errResult(fmt.Sprintf("invalid scroll_direction %q", input.ScrollDirection)), nil
	}
	amount := input.ScrollAmount
	if amount <= 0 {
		amount = 3
	}

	if len(input.Coordinate) == 2 {
		x, y, err := coords(input.Coordinate)
		if err != nil {
			return errResult(err.Error()), nil
		}
		if _, err := t.run(ctx, "xdotool", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
			return errResult(fmt.Sprintf("mousemove failed: %v", err)), nil
		}
	}

	if _, err := t.run(ctx, "xdotool", "click", "--repeat", strconv.Itoa(amount), button); err != nil {
		return errResult(fmt.Sprintf("scroll failed: %v", err)), nil
	}

	time.Sleep(screenshotDelay)
	return t.screenshot(ctx)
}

// simple runs one display command and follows it with a screenshot.
func (t *Tool) simple(ctx context.Context, name string, args ...string) (*agent.ToolResult, error) {
	if _, err := t.run(ctx, name, args...); err != nil {
		return errResult(fmt.Sprintf("%s failed: %v", name, err)), nil
	}
	time.Sleep(screenshotDelay)
	return t.screenshot(ctx)
}

// screenshot captures the display with scrot and returns it as base64
// PNG.
func (t *Tool) screenshot(ctx context.Context) (*agent.ToolResult, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("mcpworld_screenshot_%d.png", time.Now().UnixNano()))
	defer os.Remove(path)

	if _, err := t.run(ctx, "scrot", "-o", path); err != nil {
		return errResult(fmt.Sprintf("scrot failed: %v", err)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errResult(fmt.Sprintf("read screenshot: %v", err)), nil
	}

	return &agent.ToolResult{
		Content:     "[Screenshot Taken]",
		Base64Image: base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (t *Tool) runDisplayCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+t.config.Display)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func coords(c []int) (int, int, error) {
	if len(c) != 2 {
		return 0, 0, fmt.Errorf("coordinate must be [x, y]")
	}
	if c[0] < 0 || c[1] < 0 {
		return 0, 0, fmt.Errorf("coordinate must not be negative")
	}
	return c[0], c[1], nil
}

func parseMouseLocation(out string) (int, int) {
	var x, y int
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "X="); ok {
			x, _ = strconv.Atoi(strings.TrimSpace(v))
		}
		if v, ok := strings.CutPrefix(line, "Y="); ok {
			y, _ = strconv.Atoi(strings.TrimSpace(v))
		}
	}
	return x, y
}

func errResult(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}
