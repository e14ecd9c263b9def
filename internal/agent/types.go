// Package agent implements the sampling loop that drives a computer-using
// agent against a benchmark task: streaming model completions, tool
// dispatch across native and MCP tools, and transcript maintenance.
package agent

import (
	"context"
	"encoding/json"
)

// ExecMode controls which tool surfaces a task run exposes to the model.
type ExecMode string

const (
	// ExecModeMixed offers both GUI tools and MCP tools.
	ExecModeMixed ExecMode = "mixed"
	// ExecModeGUI offers only the desktop tools; MCP servers are not
	// connected.
	ExecModeGUI ExecMode = "gui"
	// ExecModeAPI offers MCP tools plus bash/editor, but no computer
	// (screen) tool.
	ExecModeAPI ExecMode = "api"
)

// Valid reports whether the mode is one of mixed, gui, or api.
func (m ExecMode) Valid() bool {
	switch m {
	case ExecModeMixed, ExecModeGUI, ExecModeAPI:
		return true
	}
	return false
}

// ToolVersion selects the tool generation sent to the model.
type ToolVersion string

const (
	ToolVersion20250124     ToolVersion = "computer_use_20250124"
	ToolVersion20241022     ToolVersion = "computer_use_20241022"
	ToolVersionComputerOnly ToolVersion = "computer_only"
)

// LLMProvider is the interface to a model backend.
//
// Implementations must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model is the model ID. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation so far, oldest first.
	Messages []Message `json:"messages"`

	// Tools are the tools the model may call this turn.
	Tools []Tool `json:"-"`

	// MaxTokens caps the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature for sampling. Benchmark runs use 0 for determinism.
	Temperature float64 `json:"temperature"`
}

// Message is one entry in the conversation transcript.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the text content, possibly empty for tool-only turns.
	Content string `json:"content,omitempty"`

	// ToolCalls holds tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults holds results for earlier tool calls (user role).
	ToolResults []ToolResultBlock `json:"tool_results,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock carries a tool result back to the model, keyed by the
// originating call ID.
type ToolResultBlock struct {
	ToolCallID  string `json:"tool_call_id"`
	Content     string `json:"content,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
	IsError     bool   `json:"is_error,omitempty"`
}

// CompletionChunk is one element of a streaming response.
type CompletionChunk struct {
	// Text is partial response text.
	Text string `json:"text,omitempty"`

	// Thinking is partial extended-thinking text. It is not part of
	// the transcript.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens are populated on the Done chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Tool is an executable agent tool.
type Tool interface {
	// Name returns the tool name used for function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Errors the model should see are returned
	// inside ToolResult with IsError set; a non-nil error means the
	// harness itself failed.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of one tool execution.
type ToolResult struct {
	// Content is the textual output.
	Content string `json:"content"`

	// Base64Image is a PNG screenshot, when the tool produced one.
	Base64Image string `json:"base64_image,omitempty"`

	// IsError marks the result as an error the model should handle.
	IsError bool `json:"is_error,omitempty"`
}

// ComputerUseConfig describes the display a computer-use tool operates
// on. Providers that support the native computer-use tool type read it
// to emit the typed tool definition instead of a plain schema.
type ComputerUseConfig struct {
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
}

// ComputerUseConfigProvider is implemented by tools that map to the
// model API's built-in computer-use tool.
type ComputerUseConfigProvider interface {
	ComputerUseConfig() *ComputerUseConfig
}

// Recorder receives lifecycle events from the loop. The evaluator
// implements it; a nil Recorder disables recording.
type Recorder interface {
	// RecordLLMQueryStart is called before each model request.
	RecordLLMQueryStart(ctx context.Context)

	// RecordLLMQueryEnd is called after the stream finishes, with token
	// usage when available.
	RecordLLMQueryEnd(ctx context.Context, inputTokens, outputTokens int, err error)

	// RecordToolCallStart is called before each tool execution.
	RecordToolCallStart(ctx context.Context, toolName string, input json.RawMessage)

	// RecordToolCallEnd is called after each tool execution with a
	// truncated result summary.
	RecordToolCallEnd(ctx context.Context, toolName string, result string, success bool, errMsg string)

	// RecordAssistantText is called for each assistant text block.
	RecordAssistantText(ctx context.Context, text string)
}
