// Package providers implements model backends for the agent loop.
//
// The Anthropic provider streams beta messages with the computer-use
// tool type, converts between the loop's transcript format and the API
// format, and retries transient failures with exponential backoff.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/mcpworld/harness/internal/agent"
	"github.com/mcpworld/harness/internal/retry"
)

// maxEmptyStreamEvents bounds consecutive empty SSE events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

// promptCacheBreakpoints is the number of recent user turns marked as
// cache breakpoints. One implicit breakpoint covers the system prompt
// and tools, shared across runs.
const promptCacheBreakpoints = 3

// AnthropicProvider implements agent.LLMProvider against the Anthropic
// API. Safe for concurrent use; each Complete call owns its stream.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures the provider. APIKey is required.
type AnthropicConfig struct {
	// APIKey authenticates against the API. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the API endpoint (proxies, test servers).
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures.
	// Default 4.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default 1s.
	RetryDelay time.Duration

	// DefaultModel is used when a request leaves Model empty.
	DefaultModel string
}

// NewAnthropicProvider validates the config and builds the SDK client.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 4
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-3-7-sonnet-20250219"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends the request and returns a channel of streamed chunks.
// The channel is closed when the stream ends. Stream creation failures
// are retried with exponential backoff; errors after the stream opens
// are delivered as a chunk with Error set.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		tools, err := p.convertTools(req.Tools)
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: fmt.Errorf("anthropic: failed to convert tools: %w", err)}
			return
		}

		var stream *ssestream.Stream[anthropic.BetaRawMessageStreamEventUnion]
		result := retry.Do(ctx, retry.Config{
			MaxAttempts:  p.maxRetries,
			InitialDelay: p.retryDelay,
			MaxDelay:     30 * time.Second,
			Factor:       2.0,
			Jitter:       true,
		}, func() error {
			var streamErr error
			stream, streamErr = p.createStream(ctx, req, tools)
			if streamErr == nil {
				return nil
			}
			if !isRetryableError(streamErr) {
				return retry.Permanent(streamErr)
			}
			return streamErr
		})
		if result.Err != nil {
			chunks <- &agent.CompletionChunk{Error: fmt.Errorf("anthropic: request failed after %d attempts: %w", result.Attempts, result.Err)}
			return
		}

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

// createStream converts the request and opens a beta message stream.
func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest, tools []anthropic.BetaToolUnionParam) (*ssestream.Stream[anthropic.BetaRawMessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}
	injectPromptCaching(messages)

	params := anthropic.BetaMessageNewParams{
		Model:       anthropic.Model(p.getModel(req.Model)),
		Messages:    messages,
		MaxTokens:   int64(p.getMaxTokens(req.MaxTokens)),
		Temperature: anthropic.Float(req.Temperature),
		Betas:       []anthropic.AnthropicBeta{anthropic.AnthropicBetaComputerUse2025_01_24},
	}

	if req.System != "" {
		params.System = []anthropic.BetaTextBlockParam{
			{
				Type:         "text",
				Text:         req.System,
				CacheControl: ephemeralCache(),
			},
		}
	}

	if len(tools) > 0 {
		params.Tools = tools
	}

	return p.client.Beta.Messages.NewStreaming(ctx, params), nil
}

// processStream converts SSE events into completion chunks. Tool calls
// arrive as a start block plus JSON deltas and are emitted once
// complete.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.BetaRawMessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) {
	var currentToolCall *agent.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens int
	var outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			if contentBlockStart.ContentBlock.Type == "tool_use" {
				toolUse := contentBlockStart.ContentBlock.AsToolUse()
				currentToolCall = &agent.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			contentBlockDelta := event.AsContentBlockDelta()
			chunk, processed := deltaChunk(contentBlockDelta.Delta, &currentToolInput)
			if chunk != nil {
				chunks <- chunk
			}
			eventProcessed = processed

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &agent.CompletionChunk{
				Error: errors.New("anthropic: stream error"),
			}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &agent.CompletionChunk{
					Error: fmt.Errorf("anthropic: stream appears malformed: %d consecutive empty events", emptyEventCount),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: fmt.Errorf("anthropic: stream: %w", err)}
	}
}

// deltaChunk maps one content block delta onto a chunk. Tool input
// fragments accumulate in toolInput instead of producing a chunk.
// Thinking and signature deltas count as processed so a long thinking
// stretch cannot trip the malformed-stream guard.
func deltaChunk(delta anthropic.BetaRawContentBlockDeltaUnion, toolInput *strings.Builder) (*agent.CompletionChunk, bool) {
	switch delta.Type {
	case "text_delta":
		if delta.Text != "" {
			return &agent.CompletionChunk{Text: delta.Text}, true
		}
	case "thinking_delta":
		if delta.Thinking != "" {
			return &agent.CompletionChunk{Thinking: delta.Thinking}, true
		}
	case "signature_delta":
		return nil, true
	case "input_json_delta":
		if delta.PartialJSON != "" {
			toolInput.WriteString(delta.PartialJSON)
			return nil, true
		}
	}
	return nil, false
}

// injectPromptCaching marks the most recent user turns as cache
// breakpoints. Cached reads are a fraction of the input price, so every
// request re-marks the tail of the conversation.
func injectPromptCaching(messages []anthropic.BetaMessageParam) {
	remaining := promptCacheBreakpoints
	for i := len(messages) - 1; i >= 0 && remaining > 0; i-- {
		if messages[i].Role != anthropic.BetaMessageParamRoleUser || len(messages[i].Content) == 0 {
			continue
		}
		setCacheBreakpoint(&messages[i].Content[len(messages[i].Content)-1])
		remaining--
	}
}

// setCacheBreakpoint sets ephemeral cache control on whichever block
// the union holds.
func setCacheBreakpoint(block *anthropic.BetaContentBlockParamUnion) {
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = ephemeralCache()
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = ephemeralCache()
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = ephemeralCache()
	case block.OfImage != nil:
		block.OfImage.CacheControl = ephemeralCache()
	}
}

func ephemeralCache() anthropic.BetaCacheControlEphemeralParam {
	return anthropic.BetaCacheControlEphemeralParam{Type: "ephemeral"}
}

// convertMessages maps transcript messages onto beta message params.
// Tool results become tool_result blocks on user messages; screenshots
// become base64 PNG image blocks inside the tool result.
func (p *AnthropicProvider) convertMessages(messages []agent.Message) ([]anthropic.BetaMessageParam, error) {
	var result []anthropic.BetaMessageParam

	for _, msg := range messages {
		var content []anthropic.BetaContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewBetaTextBlock(msg.Content))
		}

		for _, block := range msg.ToolResults {
			toolBlock := anthropic.BetaToolResultBlockParam{
				ToolUseID: block.ToolCallID,
			}
			if block.IsError {
				toolBlock.IsError = anthropic.Bool(true)
			}

			var toolContent []anthropic.BetaToolResultBlockParamContentUnion
			if block.Content != "" {
				toolContent = append(toolContent, anthropic.BetaToolResultBlockParamContentUnion{
					OfText: &anthropic.BetaTextBlockParam{Text: block.Content},
				})
			}
			if block.Base64Image != "" {
				toolContent = append(toolContent, anthropic.BetaToolResultBlockParamContentUnion{
					OfImage: &anthropic.BetaImageBlockParam{
						Source: anthropic.BetaImageBlockParamSourceUnion{
							OfBase64: &anthropic.BetaBase64ImageSourceParam{
								Data:      block.Base64Image,
								MediaType: anthropic.BetaBase64ImageSourceMediaTypeImagePNG,
							},
						},
					},
				})
			}
			if len(toolContent) > 0 {
				toolBlock.Content = toolContent
			}

			content = append(content, anthropic.BetaContentBlockParamUnion{
				OfToolResult: &toolBlock,
			})
		}

		for _, call := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(call.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewBetaToolUseBlock(call.ID, input, call.Name))
		}

		role := anthropic.BetaMessageParamRoleUser
		if msg.Role == "assistant" {
			role = anthropic.BetaMessageParamRoleAssistant
		}
		result = append(result, anthropic.BetaMessageParam{
			Role:    role,
			Content: content,
		})
	}

	return result, nil
}

// convertTools maps agent tools onto beta tool params. A tool exposing
// a ComputerUseConfig becomes the typed computer-use tool; all others
// are plain schema tools.
func (p *AnthropicProvider) convertTools(tools []agent.Tool) ([]anthropic.BetaToolUnionParam, error) {
	var result []anthropic.BetaToolUnionParam
	computerUseAdded := false

	for _, tool := range tools {
		if provider, ok := tool.(agent.ComputerUseConfigProvider); ok && !computerUseAdded {
			if cfg := provider.ComputerUseConfig(); cfg != nil && cfg.DisplayWidthPx > 0 && cfg.DisplayHeightPx > 0 {
				param := anthropic.BetaToolUnionParamOfComputerUseTool20250124(int64(cfg.DisplayHeightPx), int64(cfg.DisplayWidthPx))
				if param.OfComputerUseTool20250124 != nil && cfg.DisplayNumber > 0 {
					param.OfComputerUseTool20250124.DisplayNumber = anthropic.Int(int64(cfg.DisplayNumber))
				}
				result = append(result, param)
				computerUseAdded = true
				continue
			}
		}

		var schema anthropic.BetaToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.BetaToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// isRetryableError classifies transient failures: rate limits, 5xx
// responses, timeouts, and connection resets retry; auth and validation
// errors do not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return true
		case 400, 401, 403, 404, 413, 422:
			return false
		}
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "rate_limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "too many requests") {
		return true
	}

	if strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "504") ||
		strings.Contains(errMsg, "overloaded") ||
		strings.Contains(errMsg, "internal server error") ||
		strings.Contains(errMsg, "bad gateway") ||
		strings.Contains(errMsg, "service unavailable") ||
		strings.Contains(errMsg, "gateway timeout") {
		return true
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return true
	}

	if strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") {
		return true
	}

	return false
}
