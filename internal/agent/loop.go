package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcpworld/harness/internal/observability"
)

// Stop reasons reported by the loop.
const (
	StopCompleted = "completed"
	StopMaxTurns  = "max_turns"
	StopTimeout   = "timeout"
	StopCancelled = "cancelled"
	StopError     = "error"
)

// toolResultMaxLen is the length above which recorded tool results are
// truncated for the event log.
const toolResultMaxLen = 1000

// toolResultTruncLen is the prefix kept when truncating.
const toolResultTruncLen = 500

// LoopConfig configures one agent run.
type LoopConfig struct {
	// Model is the model ID. Empty selects the provider default.
	Model string

	// MaxTokens caps each model response.
	MaxTokens int

	// MaxTurns caps the number of assistant turns. 0 means unlimited.
	MaxTurns int

	// ExecMode selects the tool surfaces for this run.
	ExecMode ExecMode

	// ToolVersion selects the tool generation and prompt variant.
	ToolVersion ToolVersion

	// SystemSuffix is appended to the system prompt.
	SystemSuffix string

	// Display is the DISPLAY value inside the environment, e.g. ":4".
	Display string

	// KeepRecentImages keeps only the N most recent screenshots in the
	// transcript. 0 disables truncation.
	KeepRecentImages int
}

// RunResult summarizes a finished run.
type RunResult struct {
	// Messages is the final transcript.
	Messages []Message

	// Turns is the number of assistant turns taken.
	Turns int

	// StopReason is one of the Stop* constants.
	StopReason string

	// InputTokens and OutputTokens are totals across all model calls.
	InputTokens  int
	OutputTokens int

	// ToolCalls counts tool executions by tool name.
	ToolCalls map[string]int
}

// Loop runs the assistant/tool interaction for one task.
type Loop struct {
	provider LLMProvider
	registry *Registry
	recorder Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   LoopConfig
}

// NewLoop creates a loop. recorder and metrics may be nil.
func NewLoop(provider LLMProvider, registry *Registry, recorder Recorder, logger *observability.Logger, metrics *observability.Metrics, config LoopConfig) *Loop {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Loop{
		provider: provider,
		registry: registry,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		config:   config,
	}
}

// Run executes the sampling loop starting from the given transcript,
// which must end with a user message. It returns the final transcript
// and run totals. Timeouts are driven by the context deadline.
func (l *Loop) Run(ctx context.Context, messages []Message) (*RunResult, error) {
	result := &RunResult{
		Messages:  messages,
		ToolCalls: make(map[string]int),
	}

	tools := l.registry.ForExecMode(l.config.ExecMode)
	system := SystemPrompt(l.config.ToolVersion, l.config.ExecMode, PromptConfig{
		Display: l.config.Display,
		Suffix:  l.config.SystemSuffix,
	})

	for {
		if err := ctx.Err(); err != nil {
			result.StopReason = stopReasonFromContext(err)
			return result, nil
		}
		if l.config.MaxTurns > 0 && result.Turns >= l.config.MaxTurns {
			result.StopReason = StopMaxTurns
			return result, nil
		}

		if l.config.KeepRecentImages > 0 {
			filterToRecentImages(result.Messages, l.config.KeepRecentImages)
		}

		req := &CompletionRequest{
			Model:       l.config.Model,
			System:      system,
			Messages:    result.Messages,
			Tools:       tools,
			MaxTokens:   l.config.MaxTokens,
			Temperature: 0,
		}

		assistant, inTok, outTok, err := l.completeOnce(ctx, req)
		result.InputTokens += inTok
		result.OutputTokens += outTok
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.StopReason = stopReasonFromContext(ctxErr)
				return result, nil
			}
			result.StopReason = StopError
			return result, fmt.Errorf("model request: %w", err)
		}

		result.Messages = append(result.Messages, *assistant)
		result.Turns++

		if len(assistant.ToolCalls) == 0 {
			result.StopReason = StopCompleted
			return result, nil
		}

		var blocks []ToolResultBlock
		for _, call := range assistant.ToolCalls {
			result.ToolCalls[call.Name]++
			blocks = append(blocks, l.executeCall(ctx, call))
		}

		result.Messages = append(result.Messages, Message{
			Role:        "user",
			ToolResults: blocks,
		})
	}
}

// completeOnce performs one streaming model call and assembles the
// assistant message from the chunks.
func (l *Loop) completeOnce(ctx context.Context, req *CompletionRequest) (*Message, int, int, error) {
	l.recorder.RecordLLMQueryStart(ctx)
	start := time.Now()

	chunks, err := l.provider.Complete(ctx, req)
	if err != nil {
		l.recorder.RecordLLMQueryEnd(ctx, 0, 0, err)
		l.observeLLM(req.Model, start, err)
		return nil, 0, 0, err
	}

	var text strings.Builder
	var toolCalls []ToolCall
	var inTok, outTok int

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			l.recorder.RecordLLMQueryEnd(ctx, inTok, outTok, chunk.Error)
			l.observeLLM(req.Model, start, chunk.Error)
			return nil, inTok, outTok, chunk.Error
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
		case chunk.Done:
			inTok = chunk.InputTokens
			outTok = chunk.OutputTokens
		}
	}

	l.recorder.RecordLLMQueryEnd(ctx, inTok, outTok, nil)
	l.observeLLM(req.Model, start, nil)
	if l.metrics != nil {
		model := req.Model
		if model == "" {
			model = "default"
		}
		l.metrics.LLMTokensUsed.WithLabelValues(l.provider.Name(), model, "prompt").Add(float64(inTok))
		l.metrics.LLMTokensUsed.WithLabelValues(l.provider.Name(), model, "completion").Add(float64(outTok))
	}

	if content := text.String(); content != "" {
		l.recorder.RecordAssistantText(ctx, content)
	}

	return &Message{
		Role:      "assistant",
		Content:   text.String(),
		ToolCalls: toolCalls,
	}, inTok, outTok, nil
}

// executeCall runs one tool call and converts the outcome to a result
// block, recording start and end events.
func (l *Loop) executeCall(ctx context.Context, call ToolCall) ToolResultBlock {
	ctx = observability.WithTool(ctx, call.Name)
	l.recorder.RecordToolCallStart(ctx, call.Name, call.Input)
	start := time.Now()

	tool, ok := l.registry.Get(call.Name)

	var res *ToolResult
	if !ok {
		res = &ToolResult{
			Content: fmt.Sprintf("unknown tool %q", call.Name),
			IsError: true,
		}
	} else {
		var err error
		res, err = tool.Execute(ctx, call.Input)
		if err != nil {
			res = &ToolResult{Content: err.Error(), IsError: true}
		}
		if res == nil {
			res = &ToolResult{Content: "tool returned no result", IsError: true}
		}
	}

	summary := summarizeToolResult(res)
	errMsg := ""
	if res.IsError {
		errMsg = res.Content
	}
	l.recorder.RecordToolCallEnd(ctx, call.Name, summary, !res.IsError, errMsg)

	if l.metrics != nil {
		status := "success"
		if res.IsError {
			status = "error"
		}
		kind := string(l.registry.Kind(call.Name))
		if kind == "" {
			kind = string(ToolKindNative)
		}
		l.metrics.ToolCallCounter.WithLabelValues(call.Name, kind, status).Inc()
		l.metrics.ToolCallDuration.WithLabelValues(call.Name, kind).Observe(time.Since(start).Seconds())
	}

	l.logger.Debug(ctx, "tool call finished",
		"tool", call.Name,
		"success", !res.IsError,
		"duration_ms", time.Since(start).Milliseconds())

	return ToolResultBlock{
		ToolCallID:  call.ID,
		Content:     res.Content,
		Base64Image: res.Base64Image,
		IsError:     res.IsError,
	}
}

func (l *Loop) observeLLM(model string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	if model == "" {
		model = "default"
	}
	l.metrics.LLMRequestCounter.WithLabelValues(l.provider.Name(), model, status).Inc()
	l.metrics.LLMRequestDuration.WithLabelValues(l.provider.Name(), model).Observe(time.Since(start).Seconds())
}

// summarizeToolResult produces the event-log form of a tool result:
// long outputs are truncated, screenshots become a placeholder.
func summarizeToolResult(res *ToolResult) string {
	if res.IsError {
		return res.Content
	}
	if res.Content != "" {
		if len(res.Content) > toolResultMaxLen {
			cut := toolResultTruncLen
			for cut > 0 && !utf8.RuneStart(res.Content[cut]) {
				cut--
			}
			return res.Content[:cut] + "... (truncated)"
		}
		return res.Content
	}
	if res.Base64Image != "" {
		return "[Screenshot Taken]"
	}
	return ""
}

// filterToRecentImages removes all but the final keep screenshots from
// tool result blocks, in place. Screenshots lose value as the run
// progresses while dominating the context window. Removal happens in
// chunks of keep so the implicit prompt cache breaks less often.
func filterToRecentImages(messages []Message, keep int) {
	if keep <= 0 {
		return
	}

	total := 0
	for _, msg := range messages {
		for _, block := range msg.ToolResults {
			if block.Base64Image != "" {
				total++
			}
		}
	}

	toRemove := total - keep
	if toRemove <= 0 {
		return
	}
	toRemove -= toRemove % keep
	if toRemove <= 0 {
		return
	}

	for mi := range messages {
		for bi := range messages[mi].ToolResults {
			block := &messages[mi].ToolResults[bi]
			if block.Base64Image == "" {
				continue
			}
			if toRemove > 0 {
				block.Base64Image = ""
				toRemove--
			}
		}
	}
}

func stopReasonFromContext(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return StopTimeout
	}
	return StopCancelled
}

// noopRecorder is used when no evaluator is attached.
type noopRecorder struct{}

func (noopRecorder) RecordLLMQueryStart(context.Context)                             {}
func (noopRecorder) RecordLLMQueryEnd(context.Context, int, int, error)              {}
func (noopRecorder) RecordToolCallStart(context.Context, string, json.RawMessage)    {}
func (noopRecorder) RecordToolCallEnd(context.Context, string, string, bool, string) {}
func (noopRecorder) RecordAssistantText(context.Context, string)                     {}
