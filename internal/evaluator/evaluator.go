package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mcpworld/harness/internal/observability"
)

// maxEventValueLen caps string values stored in event payloads so that
// screenshots and large tool output do not bloat the event log.
const (
	maxEventValueLen   = 1000
	eventValueTruncLen = 500
)

// Config configures one evaluated run.
type Config struct {
	// TaskID identifies the task, "category/id".
	TaskID string

	// Category is the task category, used for metrics labels.
	Category string

	// Model is the model ID recorded in results and run history.
	Model string

	// ExecMode is the tool surface mode of this run.
	ExecMode string

	// LogDir receives events.jsonl and results.json.
	LogDir string

	// HistoryPath is the SQLite run history. Empty disables persistence.
	HistoryPath string

	// AllowedTools restricts which tool names the exec mode permits.
	// Empty means no restriction.
	AllowedTools []string

	// Checker verifies goal state after the agent stops. Nil means the
	// run is judged by the agent's own completion report.
	Checker Checker

	// SetupCommand runs before the agent starts (shell syntax).
	SetupCommand string

	// TeardownCommand runs after the run finishes.
	TeardownCommand string
}

// Evaluator records lifecycle events for one task run and judges
// completion. It implements the agent loop's Recorder interface.
type Evaluator struct {
	config  Config
	logger  *observability.Logger
	metrics *observability.Metrics

	stopMu sync.Mutex

	mu        sync.Mutex
	events    []Event
	seq       int
	started   bool
	stopped   bool
	startedAt time.Time
	results   *Results

	eventFile *os.File
	callbacks []func(CallbackEvent)

	allowed map[string]bool
}

// New creates an evaluator for one run.
func New(config Config, logger *observability.Logger, metrics *observability.Metrics) (*Evaluator, error) {
	if config.TaskID == "" {
		return nil, fmt.Errorf("task ID is required")
	}
	if config.LogDir == "" {
		config.LogDir = "logs_computer_use_eval"
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	allowed := make(map[string]bool, len(config.AllowedTools))
	for _, name := range config.AllowedTools {
		allowed[name] = true
	}

	return &Evaluator{
		config:  config,
		logger:  logger,
		metrics: metrics,
		allowed: allowed,
	}, nil
}

// OnCompletion registers a callback fired once when the run's verdict
// is known. Must be called before Start.
func (e *Evaluator) OnCompletion(fn func(CallbackEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

// Start opens the event log, runs the setup command, and records the
// task_start event. Calling Start twice is an error.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("evaluator already started")
	}
	e.started = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	if err := os.MkdirAll(e.config.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.Create(filepath.Join(e.config.LogDir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	e.mu.Lock()
	e.eventFile = f
	e.mu.Unlock()

	if e.config.SetupCommand != "" {
		if err := e.runCommand(ctx, e.config.SetupCommand); err != nil {
			return fmt.Errorf("setup command: %w", err)
		}
	}

	e.record(EventTaskStart, map[string]any{
		"timestamp": e.startedAt.Format(time.RFC3339),
		"task_id":   e.config.TaskID,
		"exec_mode": e.config.ExecMode,
	})

	e.logger.Info(ctx, "evaluation started",
		"task_id", e.config.TaskID,
		"log_dir", e.config.LogDir)
	return nil
}

// RecordLLMQueryStart implements agent.Recorder.
func (e *Evaluator) RecordLLMQueryStart(ctx context.Context) {
	e.record(EventLLMQueryStart, map[string]any{
		"timestamp":  time.Now().Format(time.RFC3339),
		"model_name": e.config.Model,
	})
}

// RecordLLMQueryEnd implements agent.Recorder.
func (e *Evaluator) RecordLLMQueryEnd(ctx context.Context, inputTokens, outputTokens int, err error) {
	data := map[string]any{
		"timestamp":         time.Now().Format(time.RFC3339),
		"status":            "success",
		"prompt_tokens":     inputTokens,
		"completion_tokens": outputTokens,
	}
	if err != nil {
		data["status"] = "error"
		data["error"] = err.Error()
	}
	e.record(EventLLMQueryEnd, data)
}

// RecordToolCallStart implements agent.Recorder.
func (e *Evaluator) RecordToolCallStart(ctx context.Context, toolName string, input json.RawMessage) {
	var args any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			args = truncateEventValue(string(input))
		}
	}
	e.record(EventToolCallStart, map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"tool_name": toolName,
		"args":      args,
	})
}

// RecordToolCallEnd implements agent.Recorder.
func (e *Evaluator) RecordToolCallEnd(ctx context.Context, toolName string, result string, success bool, errMsg string) {
	data := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"tool_name": toolName,
		"success":   success,
		"result":    truncateEventValue(result),
	}
	if errMsg != "" {
		data["error"] = truncateEventValue(errMsg)
	}
	e.record(EventToolCallEnd, data)
}

// RecordAssistantText implements agent.Recorder.
func (e *Evaluator) RecordAssistantText(ctx context.Context, text string) {
	e.record(EventAssistantMessage, map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"text":      truncateEventValue(text),
	})
	if reportsCompletion(text) {
		e.record(EventAgentReportedCompletion, map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// Stop judges the run, records task_end, writes results.json, persists
// to the run history, and runs the teardown command. stopReason is the
// loop's stop reason (completed, max_turns, timeout, cancelled, error);
// runErr is a harness failure, if any. Stop is idempotent: repeated
// calls return the first verdict.
func (e *Evaluator) Stop(ctx context.Context, stopReason string, turns int, runErr error) (*Results, error) {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("evaluator not started")
	}
	if e.stopped {
		results := e.results
		e.mu.Unlock()
		return results, nil
	}
	e.stopped = true
	e.mu.Unlock()

	status, reason := e.judge(ctx, stopReason, runErr)

	finishedAt := time.Now()
	e.record(EventTaskEnd, map[string]any{
		"timestamp": finishedAt.Format(time.RFC3339),
		"status":    status,
		"reason":    reason,
	})

	e.mu.Lock()
	events := make([]Event, len(e.events))
	copy(events, e.events)
	if e.eventFile != nil {
		e.eventFile.Close()
		e.eventFile = nil
	}
	callbacks := e.callbacks
	e.mu.Unlock()

	metrics := computeMetrics(events, e.startedAt, finishedAt, e.allowed)
	metrics.Turns = turns
	metrics.Completion = CompletionStatus{Status: status, Reason: reason}
	if len(metrics.ModeViolations) > 0 && status == StatusCompleted {
		metrics.Completion.Status = StatusFailed
		metrics.Completion.Reason = fmt.Sprintf("exec mode violated by tools: %s",
			strings.Join(metrics.ModeViolations, ", "))
		status = StatusFailed
		reason = metrics.Completion.Reason
	}

	results := &Results{
		TaskID:          e.config.TaskID,
		Category:        e.config.Category,
		Model:           e.config.Model,
		ExecMode:        e.config.ExecMode,
		StartedAt:       e.startedAt,
		FinishedAt:      finishedAt,
		ComputedMetrics: metrics,
		Events:          events,
	}
	e.mu.Lock()
	e.results = results
	e.mu.Unlock()

	path, err := writeResults(e.config.LogDir, results)
	if err != nil {
		e.logger.Error(ctx, "failed to write results", "error", err)
	} else {
		e.logger.Info(ctx, "results written", "path", path, "status", status)
	}

	if e.metrics != nil {
		e.metrics.TaskRunCounter.WithLabelValues(e.config.Category, status).Inc()
		e.metrics.TaskRunDuration.WithLabelValues(e.config.Category).Observe(finishedAt.Sub(e.startedAt).Seconds())
	}

	if e.config.HistoryPath != "" {
		if err := e.persist(ctx, results, status, reason); err != nil {
			e.logger.Error(ctx, "failed to persist run history", "error", err)
		}
	}

	if e.config.TeardownCommand != "" {
		if err := e.runCommand(ctx, e.config.TeardownCommand); err != nil {
			e.logger.Warn(ctx, "teardown command failed", "error", err)
		}
	}

	cb := CallbackEvent{Type: "task_completed", Message: reason}
	if status != StatusCompleted {
		cb = CallbackEvent{Type: "task_error", Message: reason}
	}
	for _, fn := range callbacks {
		fn(cb)
	}

	return results, nil
}

// Events returns a copy of the events recorded so far.
func (e *Evaluator) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// judge maps the loop outcome and checker verdict to a run status.
func (e *Evaluator) judge(ctx context.Context, stopReason string, runErr error) (string, string) {
	if runErr != nil {
		return StatusError, runErr.Error()
	}

	switch stopReason {
	case "timeout":
		return StatusTimeout, "run exceeded its time limit"
	case "cancelled":
		return StatusStopped, "run was cancelled"
	case "max_turns":
		// The agent may still have finished the work before running out
		// of turns; let the checker decide when one is configured.
		if e.config.Checker == nil {
			return StatusFailed, "maximum turns reached"
		}
	case "error":
		return StatusError, "agent loop error"
	}

	if e.config.Checker == nil {
		if e.ReportedCompletion() {
			return StatusCompleted, "agent reported completion"
		}
		return StatusCompleted, "agent finished"
	}

	ok, reason, err := e.config.Checker.Check(ctx)
	if err != nil {
		return StatusError, fmt.Sprintf("checker failed: %v", err)
	}
	if !ok {
		if reason == "" {
			reason = "goal state not reached"
		}
		return StatusFailed, reason
	}
	if reason == "" {
		reason = "checker verified goal state"
	}
	return StatusCompleted, reason
}

// ReportedCompletion reports whether the agent has claimed the task is
// done. The run loop uses it to end the session; the checker verdict
// still decides the final status.
func (e *Evaluator) ReportedCompletion() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.Type == EventAgentReportedCompletion {
			return true
		}
	}
	return false
}

// persist saves the run and its events to the SQLite history.
func (e *Evaluator) persist(ctx context.Context, results *Results, status, reason string) error {
	store, err := NewStore(e.config.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	run := &RunRecord{
		TaskID:       results.TaskID,
		Category:     results.Category,
		Model:        results.Model,
		ExecMode:     results.ExecMode,
		Status:       status,
		Reason:       reason,
		Turns:        results.ComputedMetrics.Turns,
		InputTokens:  results.ComputedMetrics.PromptTokens,
		OutputTokens: results.ComputedMetrics.CompletionTokens,
		DurationSecs: results.ComputedMetrics.DurationSecs,
		StartedAt:    results.StartedAt,
		FinishedAt:   results.FinishedAt,
	}
	return store.SaveRun(ctx, run, results.Events)
}

// record appends an event and streams it to events.jsonl.
func (e *Evaluator) record(typ EventType, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ev := Event{
		Seq:       e.seq,
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
	e.events = append(e.events, ev)

	if e.eventFile != nil {
		line, err := json.Marshal(ev)
		if err == nil {
			e.eventFile.Write(append(line, '\n'))
		}
	}
}

// runCommand executes a setup or teardown shell command.
func (e *Evaluator) runCommand(ctx context.Context, command string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// truncateEventValue keeps the head of long values in event payloads.
// The cut backs up to a rune boundary so the JSON stays valid UTF-8.
func truncateEventValue(s string) string {
	if len(s) <= maxEventValueLen {
		return s
	}
	cut := eventValueTruncLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... (truncated)"
}

// reportsCompletion detects an explicit completion claim in assistant
// text.
func reportsCompletion(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range []string{
		"task complete",
		"task is complete",
		"task has been completed",
		"i have completed",
		"i've completed",
		"successfully completed",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
