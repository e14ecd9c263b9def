// Package evaluator records agent lifecycle events during a benchmark
// run, evaluates task completion with white-box checkers, computes run
// metrics, and persists results to the log directory and a SQLite run
// history.
package evaluator

import (
	"time"
)

// EventType identifies an agent lifecycle event.
type EventType string

const (
	EventTaskStart               EventType = "task_start"
	EventTaskEnd                 EventType = "task_end"
	EventLLMQueryStart           EventType = "llm_query_start"
	EventLLMQueryEnd             EventType = "llm_query_end"
	EventToolCallStart           EventType = "tool_call_start"
	EventToolCallEnd             EventType = "tool_call_end"
	EventAssistantMessage        EventType = "assistant_message"
	EventAgentReportedCompletion EventType = "agent_reported_completion"
)

// Event is one recorded lifecycle event.
type Event struct {
	Seq       int            `json:"seq"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Run statuses reported in results and the run history.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

// CallbackEvent is delivered to completion callbacks when the checker
// reaches a verdict.
type CallbackEvent struct {
	// Type is "task_completed" or "task_error".
	Type string
	// Message is a human-readable explanation.
	Message string
}
