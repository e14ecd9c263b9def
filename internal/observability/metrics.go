package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides a centralized interface for collecting harness metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM query performance, outcomes, and token consumption
//   - Tool execution patterns by kind (native vs MCP) and outcome
//   - Task run outcomes for benchmark suites
//   - Supervised service restarts in the desktop environment
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.LLMRequestCounter.WithLabelValues("anthropic", model, "success").Inc()
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolCallCounter counts tool invocations.
	// Labels: tool, kind (native|mcp), status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool, kind
	ToolCallDuration *prometheus.HistogramVec

	// TaskRunCounter counts completed task runs.
	// Labels: category, status (completed|failed|timeout|stopped)
	TaskRunCounter *prometheus.CounterVec

	// TaskRunDuration measures end-to-end task run duration in seconds.
	// Labels: category
	TaskRunDuration *prometheus.HistogramVec

	// ServiceRestarts counts supervised service restarts.
	// Labels: service
	ServiceRestarts *prometheus.CounterVec
}

// NewMetrics creates all harness metrics and registers them with reg.
// Call once at startup; passing a fresh registry keeps tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto{reg}

	return &Metrics{
		LLMRequestDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "mcpworld_llm_request_duration_seconds",
			Help:    "Duration of LLM API requests in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMRequestCounter: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpworld_llm_requests_total",
			Help: "Total number of LLM requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		LLMTokensUsed: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpworld_llm_tokens_total",
			Help: "Total number of tokens used by provider, model, and type",
		}, []string{"provider", "model", "type"}),

		ToolCallCounter: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpworld_tool_calls_total",
			Help: "Total number of tool invocations by tool, kind, and status",
		}, []string{"tool", "kind", "status"}),

		ToolCallDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "mcpworld_tool_call_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool", "kind"}),

		TaskRunCounter: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpworld_task_runs_total",
			Help: "Total number of task runs by category and final status",
		}, []string{"category", "status"}),

		TaskRunDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "mcpworld_task_run_duration_seconds",
			Help:    "End-to-end task run duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		}, []string{"category"}),

		ServiceRestarts: factory.counterVec(prometheus.CounterOpts{
			Name: "mcpworld_service_restarts_total",
			Help: "Supervised service restarts by service name",
		}, []string{"service"}),
	}
}

// promauto mirrors the promauto package against an explicit registerer so
// tests can use isolated registries without global state.
type promauto struct {
	reg prometheus.Registerer
}

func (p promauto) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(opts, labels)
	p.reg.MustRegister(v)
	return v
}

func (p promauto) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	v := prometheus.NewHistogramVec(opts, labels)
	p.reg.MustRegister(v)
	return v
}
