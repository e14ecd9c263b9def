package evaluator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CompletionStatus is the checker's verdict on a finished run.
type CompletionStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ComputedMetrics summarizes a run from its recorded events.
type ComputedMetrics struct {
	DurationSecs     float64          `json:"duration_secs"`
	Turns            int              `json:"turns"`
	LLMQueries       int              `json:"llm_queries"`
	LLMErrors        int              `json:"llm_errors"`
	ToolCalls        int              `json:"tool_calls"`
	ToolErrors       int              `json:"tool_errors"`
	ToolCallsByName  map[string]int   `json:"tool_calls_by_name,omitempty"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	ModeViolations   []string         `json:"mode_violations,omitempty"`
	Completion       CompletionStatus `json:"task_completion_status"`
}

// Results is the run summary written to the log directory.
type Results struct {
	TaskID          string          `json:"task_id"`
	Category        string          `json:"category,omitempty"`
	Model           string          `json:"model,omitempty"`
	ExecMode        string          `json:"exec_mode,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	ComputedMetrics ComputedMetrics `json:"computed_metrics"`
	Events          []Event         `json:"events"`
}

// computeMetrics derives run metrics from the event log. allowedTools,
// when non-empty, is the set of tool names the exec mode permits; calls
// outside it are reported as mode violations.
func computeMetrics(events []Event, started, finished time.Time, allowedTools map[string]bool) ComputedMetrics {
	m := ComputedMetrics{
		DurationSecs:    finished.Sub(started).Seconds(),
		ToolCallsByName: make(map[string]int),
	}

	for _, ev := range events {
		switch ev.Type {
		case EventLLMQueryStart:
			m.LLMQueries++
			m.Turns++
		case EventLLMQueryEnd:
			if status, _ := ev.Data["status"].(string); status == "error" {
				m.LLMErrors++
			}
			m.PromptTokens += intField(ev.Data, "prompt_tokens")
			m.CompletionTokens += intField(ev.Data, "completion_tokens")
		case EventToolCallStart:
			m.ToolCalls++
			name, _ := ev.Data["tool_name"].(string)
			if name != "" {
				m.ToolCallsByName[name]++
				if len(allowedTools) > 0 && !allowedTools[name] {
					m.ModeViolations = append(m.ModeViolations, name)
				}
			}
		case EventToolCallEnd:
			if success, ok := ev.Data["success"].(bool); ok && !success {
				m.ToolErrors++
			}
		}
	}

	if len(m.ToolCallsByName) == 0 {
		m.ToolCallsByName = nil
	}
	return m
}

// intField reads a numeric event field that may have round-tripped
// through JSON as float64.
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// writeResults writes the run summary as results.json in dir.
func writeResults(dir string, results *Results) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, "results.json")
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}

	return path, nil
}
