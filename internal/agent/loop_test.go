package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mcpworld/harness/internal/observability"
)

// scriptedProvider plays back canned turns: each turn is the list of
// chunks to emit for one Complete call.
type scriptedProvider struct {
	turns    [][]*CompletionChunk
	requests []*CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1

	ch := make(chan *CompletionChunk)
	go func() {
		defer close(ch)
		if idx >= len(p.turns) {
			ch <- &CompletionChunk{Done: true}
			return
		}
		for _, chunk := range p.turns[idx] {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// echoTool returns its input back as text.
type echoTool struct {
	name  string
	calls []json.RawMessage
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes input" }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls = append(t.calls, params)
	return &ToolResult{Content: "echo: " + string(params)}, nil
}

func userMessage(text string) []Message {
	return []Message{{Role: "user", Content: text}}
}

func TestLoopCompletesWithoutTools(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "All "},
			{Text: "done."},
			{Done: true, InputTokens: 10, OutputTokens: 5},
		},
	}}

	loop := NewLoop(provider, NewRegistry(), nil, nil, nil, LoopConfig{
		ExecMode:    ExecModeMixed,
		ToolVersion: ToolVersion20250124,
	})

	result, err := loop.Run(context.Background(), userMessage("do the thing"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.StopReason != StopCompleted {
		t.Errorf("stop reason = %q, want completed", result.StopReason)
	}
	if result.Turns != 1 {
		t.Errorf("turns = %d, want 1", result.Turns)
	}
	if result.InputTokens != 10 || result.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", result.InputTokens, result.OutputTokens)
	}

	last := result.Messages[len(result.Messages)-1]
	if last.Role != "assistant" || last.Content != "All done." {
		t.Errorf("final message = %+v", last)
	}
}

func TestLoopExecutesToolsThenFinishes(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{ToolCall: &ToolCall{ID: "t1", Name: "echo", Input: json.RawMessage(`{"v":1}`)}},
			{Done: true},
		},
		{
			{Text: "finished"},
			{Done: true},
		},
	}}

	tool := &echoTool{name: "echo"}
	registry := NewRegistry()
	if err := registry.Register(tool, ToolKindNative); err != nil {
		t.Fatal(err)
	}

	loop := NewLoop(provider, registry, nil, nil, nil, LoopConfig{
		ExecMode:    ExecModeMixed,
		ToolVersion: ToolVersion20250124,
	})

	result, err := loop.Run(context.Background(), userMessage("go"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.StopReason != StopCompleted {
		t.Errorf("stop reason = %q, want completed", result.StopReason)
	}
	if result.Turns != 2 {
		t.Errorf("turns = %d, want 2", result.Turns)
	}
	if len(tool.calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(tool.calls))
	}
	if result.ToolCalls["echo"] != 1 {
		t.Errorf("tool call count = %d, want 1", result.ToolCalls["echo"])
	}

	// The tool result must appear as a user message between the two
	// assistant turns.
	var found bool
	for _, msg := range result.Messages {
		for _, block := range msg.ToolResults {
			if block.ToolCallID == "t1" && strings.HasPrefix(block.Content, "echo:") {
				found = true
			}
		}
	}
	if !found {
		t.Error("tool result block not found in transcript")
	}
}

func TestLoopUnknownToolReturnsErrorBlock(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{ToolCall: &ToolCall{ID: "t1", Name: "missing", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{
			{Text: "ok"},
			{Done: true},
		},
	}}

	loop := NewLoop(provider, NewRegistry(), nil, nil, nil, LoopConfig{
		ExecMode:    ExecModeMixed,
		ToolVersion: ToolVersion20250124,
	})

	result, err := loop.Run(context.Background(), userMessage("go"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var block *ToolResultBlock
	for _, msg := range result.Messages {
		for i := range msg.ToolResults {
			if msg.ToolResults[i].ToolCallID == "t1" {
				block = &msg.ToolResults[i]
			}
		}
	}
	if block == nil {
		t.Fatal("no result block for unknown tool")
	}
	if !block.IsError {
		t.Error("unknown tool result should be an error")
	}
}

func TestLoopStopsAtMaxTurns(t *testing.T) {
	// Every turn requests another tool call, so only MaxTurns stops it.
	turn := []*CompletionChunk{
		{ToolCall: &ToolCall{ID: "t", Name: "echo", Input: json.RawMessage(`{}`)}},
		{Done: true},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{turn, turn, turn, turn, turn}}

	registry := NewRegistry()
	if err := registry.Register(&echoTool{name: "echo"}, ToolKindNative); err != nil {
		t.Fatal(err)
	}

	loop := NewLoop(provider, registry, nil, nil, nil, LoopConfig{
		ExecMode:    ExecModeMixed,
		ToolVersion: ToolVersion20250124,
		MaxTurns:    3,
	})

	result, err := loop.Run(context.Background(), userMessage("go"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.StopReason != StopMaxTurns {
		t.Errorf("stop reason = %q, want max_turns", result.StopReason)
	}
	if result.Turns != 3 {
		t.Errorf("turns = %d, want 3", result.Turns)
	}
}

func TestLoopTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	provider := &scriptedProvider{}
	loop := NewLoop(provider, NewRegistry(), nil, nil, nil, LoopConfig{
		ExecMode:    ExecModeMixed,
		ToolVersion: ToolVersion20250124,
	})

	result, err := loop.Run(ctx, userMessage("go"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.StopReason != StopTimeout {
		t.Errorf("stop reason = %q, want timeout", result.StopReason)
	}
	if len(provider.requests) != 0 {
		t.Error("no model request should be made after the deadline")
	}
}

func TestSummarizeToolResult(t *testing.T) {
	long := strings.Repeat("x", 1500)

	tests := []struct {
		name string
		res  ToolResult
		want string
	}{
		{"short output", ToolResult{Content: "hello"}, "hello"},
		{"long output", ToolResult{Content: long}, long[:500] + "... (truncated)"},
		{"screenshot", ToolResult{Base64Image: "abc"}, "[Screenshot Taken]"},
		{"error", ToolResult{Content: "boom", IsError: true}, "boom"},
		{"empty", ToolResult{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summarizeToolResult(&tt.res); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeToolResultKeepsValidUTF8(t *testing.T) {
	got := summarizeToolResult(&ToolResult{Content: strings.Repeat("ñ", 800)})
	if !utf8.ValidString(got) {
		t.Errorf("summary is not valid UTF-8: %q", got[:20])
	}
	if !strings.HasSuffix(got, "... (truncated)") {
		t.Errorf("missing truncation marker: %q", got)
	}
}

func TestFilterToRecentImages(t *testing.T) {
	img := func(id string) ToolResultBlock {
		return ToolResultBlock{ToolCallID: id, Base64Image: "data-" + id}
	}
	messages := []Message{
		{Role: "user", ToolResults: []ToolResultBlock{img("1"), img("2")}},
		{Role: "user", ToolResults: []ToolResultBlock{img("3"), img("4"), img("5")}},
	}

	filterToRecentImages(messages, 2)

	var kept []string
	for _, msg := range messages {
		for _, block := range msg.ToolResults {
			if block.Base64Image != "" {
				kept = append(kept, block.ToolCallID)
			}
		}
	}

	// 5 images, keep 2: 3 to remove rounds down to 2 (chunks of keep),
	// so the oldest two go.
	want := []string{"3", "4", "5"}
	if len(kept) != len(want) {
		t.Fatalf("kept %v, want %v", kept, want)
	}
	for i := range want {
		if kept[i] != want[i] {
			t.Errorf("kept[%d] = %q, want %q", i, kept[i], want[i])
		}
	}
}

func TestFilterToRecentImagesUnderLimit(t *testing.T) {
	messages := []Message{
		{Role: "user", ToolResults: []ToolResultBlock{{ToolCallID: "1", Base64Image: "a"}}},
	}
	filterToRecentImages(messages, 3)
	if messages[0].ToolResults[0].Base64Image == "" {
		t.Error("image under the limit must not be removed")
	}
}

func TestLoopRecordsTokenMetrics(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "ok"},
			{Done: true, InputTokens: 42, OutputTokens: 7},
		},
	}}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	loop := NewLoop(provider, NewRegistry(), nil, nil, metrics, LoopConfig{
		Model:       "claude-test",
		ExecMode:    ExecModeMixed,
		ToolVersion: ToolVersion20250124,
	})

	if _, err := loop.Run(context.Background(), userMessage("go")); err != nil {
		t.Fatalf("run: %v", err)
	}

	prompt := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("scripted", "claude-test", "prompt"))
	completion := testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("scripted", "claude-test", "completion"))
	if prompt != 42 || completion != 7 {
		t.Errorf("token counters = %v/%v, want 42/7", prompt, completion)
	}
}
