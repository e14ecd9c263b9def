package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcpworld/harness/internal/agent"
	"github.com/mcpworld/harness/internal/agent/providers"
	"github.com/mcpworld/harness/internal/config"
	"github.com/mcpworld/harness/internal/evaluator"
	"github.com/mcpworld/harness/internal/mcp"
	"github.com/mcpworld/harness/internal/observability"
	"github.com/mcpworld/harness/internal/tasks"
	"github.com/mcpworld/harness/internal/tools/bash"
	"github.com/mcpworld/harness/internal/tools/computeruse"
	"github.com/mcpworld/harness/internal/tools/editor"
)

// runTask is the headless task runner with evaluation.
func runTask(ctx context.Context, opts runOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyRunOverrides(cfg, &opts)

	logger := newLogger(cfg)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	category, _, err := tasks.ParseTaskID(opts.taskID)
	if err != nil {
		return err
	}

	registry, err := tasks.NewRegistry(cfg.Tasks.Dir, logger)
	if err != nil {
		return fmt.Errorf("load task suite: %w", err)
	}
	defer registry.Close()

	task, ok := registry.Get(opts.taskID)
	if !ok {
		return fmt.Errorf("task %s not found under %s", opts.taskID, cfg.Tasks.Dir)
	}

	execMode := agent.ExecMode(opts.execMode)
	if task.ExecMode != "" {
		execMode = agent.ExecMode(task.ExecMode)
	}
	if !execMode.Valid() {
		return fmt.Errorf("invalid exec mode %q", execMode)
	}
	toolVersion := agent.ToolVersion(opts.toolVersion)
	switch toolVersion {
	case agent.ToolVersion20250124, agent.ToolVersion20241022, agent.ToolVersionComputerOnly:
	default:
		return fmt.Errorf("invalid tool version %q", toolVersion)
	}

	if execMode != agent.ExecModeAPI && os.Getenv("DISPLAY") == "" {
		return fmt.Errorf("DISPLAY is not set; %s mode needs an X display", execMode)
	}

	ctx = observability.WithTaskID(ctx, opts.taskID)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tool surface.
	toolRegistry := agent.NewRegistry()
	computer := computeruse.NewTool(computeruse.Config{
		Display:         cfg.DisplayEnv(),
		DisplayWidthPx:  cfg.Display.WidthPx,
		DisplayHeightPx: cfg.Display.HeightPx,
		DisplayNumber:   cfg.Display.Number,
	})
	if err := toolRegistry.Register(computer, agent.ToolKindNative); err != nil {
		return err
	}
	if toolVersion != agent.ToolVersionComputerOnly {
		if err := toolRegistry.Register(bash.NewTool(bash.Config{}), agent.ToolKindNative); err != nil {
			return err
		}
		if err := toolRegistry.Register(editor.NewTool(), agent.ToolKindNative); err != nil {
			return err
		}
	}

	// MCP servers (not connected in gui mode).
	if execMode != agent.ExecModeGUI && len(task.MCPServers) > 0 {
		configs := make([]*mcp.ServerConfig, len(task.MCPServers))
		for i := range task.MCPServers {
			configs[i] = &task.MCPServers[i]
		}
		manager, err := mcp.NewManager(configs, logger.Slog())
		if err != nil {
			return fmt.Errorf("mcp manager: %w", err)
		}
		if err := manager.ConnectAll(ctx); err != nil {
			return fmt.Errorf("connect mcp servers: %w", err)
		}
		defer manager.CloseAll()
		if err := toolRegistry.RegisterMCP(manager); err != nil {
			return err
		}
	}

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		MaxRetries:   cfg.LLM.MaxRetries,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		return err
	}

	timeout := cfg.Evaluator.Timeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	maxTurns := cfg.Evaluator.MaxTurns
	if task.MaxTurns > 0 {
		maxTurns = task.MaxTurns
	}

	// Evaluator.
	var eval *evaluator.Evaluator
	var recorder agent.Recorder
	if !opts.noEval {
		checker, err := buildChecker(task.Checker)
		if err != nil {
			return err
		}
		evalConfig := evaluator.Config{
			TaskID:       opts.taskID,
			Category:     category,
			Model:        cfg.LLM.Model,
			ExecMode:     string(execMode),
			LogDir:       runLogDir(cfg.Evaluator.LogDir, opts.taskID),
			HistoryPath:  cfg.Evaluator.ResultsDB,
			AllowedTools: allowedToolNames(toolRegistry, execMode),
			Checker:      checker,
		}
		if task.App != nil {
			evalConfig.SetupCommand = strings.TrimSpace(task.App.Command + " " + strings.Join(task.App.Args, " "))
			evalConfig.TeardownCommand = task.App.Teardown
		}
		if opts.appPath != "" {
			evalConfig.SetupCommand = opts.appPath
		}
		eval, err = evaluator.New(evalConfig, logger, metrics)
		if err != nil {
			return err
		}
		eval.OnCompletion(func(cb evaluator.CallbackEvent) {
			logger.Info(ctx, "run verdict", "type", cb.Type, "message", cb.Message)
		})
		if err := eval.Start(ctx); err != nil {
			return err
		}
		recorder = eval
	}

	loop := agent.NewLoop(provider, toolRegistry, recorder, logger, metrics, agent.LoopConfig{
		Model:            cfg.LLM.Model,
		MaxTokens:        cfg.LLM.MaxTokens,
		MaxTurns:         maxTurns,
		ExecMode:         execMode,
		ToolVersion:      toolVersion,
		SystemSuffix:     opts.systemSuffix,
		Display:          cfg.DisplayEnv(),
		KeepRecentImages: opts.keepImages,
	})

	var done func() bool
	if eval != nil {
		done = eval.ReportedCompletion
	}
	result, runErr := runConversation(ctx, loop, task, timeout, done)

	if eval != nil {
		results, stopErr := eval.Stop(context.WithoutCancel(ctx), result.StopReason, result.Turns, runErr)
		if stopErr != nil {
			logger.Error(ctx, "evaluator stop failed", "error", stopErr)
		} else {
			printResults(results)
		}
	}
	return runErr
}

// runConversation drives the interactive multi-turn session. The first
// empty input uses the task's default instruction; quit/exit/EOF or the
// agent reporting completion ends the session.
func runConversation(ctx context.Context, loop *agent.Loop, task *tasks.Task, timeout time.Duration, done func() bool) (*agent.RunResult, error) {
	total := &agent.RunResult{
		StopReason: agent.StopCompleted,
		ToolCalls:  make(map[string]int),
	}
	var messages []agent.Message

	reader := bufio.NewReader(os.Stdin)
	firstTurn := true

	for {
		if ctx.Err() != nil {
			total.StopReason = agent.StopCancelled
			return total, nil
		}

		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			return total, fmt.Errorf("read instruction: %w", err)
		}
		instruction := strings.TrimSpace(line)

		atEOF := errors.Is(err, io.EOF)
		if instruction == "quit" || instruction == "exit" {
			return total, nil
		}
		if instruction == "" {
			if firstTurn {
				instruction = task.Instruction
				fmt.Printf("Using task instruction: %s\n", instruction)
			} else if atEOF {
				return total, nil
			} else {
				continue
			}
		}
		firstTurn = false

		messages = append(messages, agent.Message{Role: "user", Content: instruction})

		runCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		result, runErr := loop.Run(runCtx, messages)
		if cancel != nil {
			cancel()
		}

		messages = result.Messages
		total.Messages = messages
		total.Turns += result.Turns
		total.InputTokens += result.InputTokens
		total.OutputTokens += result.OutputTokens
		for name, n := range result.ToolCalls {
			total.ToolCalls[name] += n
		}
		total.StopReason = result.StopReason

		if runErr != nil {
			return total, runErr
		}

		printAssistantReply(messages)

		if done != nil && done() {
			fmt.Println("Agent reported the task complete; ending session.")
			return total, nil
		}

		switch result.StopReason {
		case agent.StopTimeout, agent.StopCancelled:
			return total, nil
		}
		if atEOF {
			return total, nil
		}
	}
}

// printAssistantReply prints the text of the trailing assistant turn.
func printAssistantReply(messages []agent.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			if messages[i].Content != "" {
				fmt.Println(messages[i].Content)
			}
			return
		}
	}
}

// printResults prints the final run metrics.
func printResults(results *evaluator.Results) {
	m := results.ComputedMetrics
	fmt.Println()
	fmt.Println("=== Run results ===")
	fmt.Printf("Task:        %s\n", results.TaskID)
	fmt.Printf("Status:      %s", m.Completion.Status)
	if m.Completion.Reason != "" {
		fmt.Printf(" (%s)", m.Completion.Reason)
	}
	fmt.Println()
	fmt.Printf("Duration:    %.1fs\n", m.DurationSecs)
	fmt.Printf("Turns:       %d\n", m.Turns)
	fmt.Printf("LLM queries: %d (%d errors)\n", m.LLMQueries, m.LLMErrors)
	fmt.Printf("Tool calls:  %d (%d errors)\n", m.ToolCalls, m.ToolErrors)
	fmt.Printf("Tokens:      %d prompt, %d completion\n", m.PromptTokens, m.CompletionTokens)
	if len(m.ModeViolations) > 0 {
		fmt.Printf("Violations:  %s\n", strings.Join(m.ModeViolations, ", "))
	}
}

// applyRunOverrides folds run flags into the loaded config.
func applyRunOverrides(cfg *config.Config, opts *runOptions) {
	if opts.apiKey != "" {
		cfg.LLM.APIKey = opts.apiKey
	}
	if opts.model != "" {
		cfg.LLM.Model = opts.model
	}
	if opts.logDir != "" {
		cfg.Evaluator.LogDir = opts.logDir
	}
	if opts.maxTokens > 0 {
		cfg.LLM.MaxTokens = opts.maxTokens
	}
	if opts.maxTurns > 0 {
		cfg.Evaluator.MaxTurns = opts.maxTurns
	}
	if opts.timeout > 0 {
		cfg.Evaluator.Timeout = opts.timeout
	}
}

// runLogDir returns a per-run directory under the base log dir.
func runLogDir(base, taskID string) string {
	stamp := time.Now().Format("20060102-150405")
	return filepath.Join(base, strings.ReplaceAll(taskID, "/", "_")+"-"+stamp)
}

// allowedToolNames returns the tool names the exec mode permits.
func allowedToolNames(r *agent.Registry, mode agent.ExecMode) []string {
	tools := r.ForExecMode(mode)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name())
	}
	return names
}

// buildChecker converts a task checker spec into a checker.
func buildChecker(spec *tasks.CheckerSpec) (evaluator.Checker, error) {
	if spec == nil {
		return nil, nil
	}
	switch spec.Type {
	case "command":
		return &evaluator.CommandChecker{Command: spec.Command, Args: spec.Args}, nil
	case "file":
		return &evaluator.FileChecker{Path: spec.Path, Contains: spec.Contains}, nil
	case "composite":
		children := make([]evaluator.Checker, 0, len(spec.Checkers))
		for i := range spec.Checkers {
			child, err := buildChecker(&spec.Checkers[i])
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &evaluator.CompositeChecker{Checkers: children, RequireAll: spec.RequireAll}, nil
	default:
		return nil, fmt.Errorf("unknown checker type %q", spec.Type)
	}
}
