package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters and latencies for the orchestration core.
//
// Tracked series:
//   - LLM request counts and durations by provider/model/status
//   - token consumption by provider/model/type
//   - tool execution counts and durations by tool/status
//   - active world gauge
type Metrics struct {
	// LLMRequestCounter counts LLM calls.
	// Labels: provider, model, status (success|error|canceled)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveWorlds tracks currently subscribed worlds.
	ActiveWorlds prometheus.Gauge
}

// NewMetrics creates the metric set and registers it with the given
// registerer (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		LLMRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_llm_requests_total",
			Help: "LLM requests by provider, model, and outcome.",
		}, []string{"provider", "model", "status"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentworld_llm_request_duration_seconds",
			Help:    "LLM request latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_llm_tokens_total",
			Help: "Tokens consumed by provider, model, and type.",
		}, []string{"provider", "model", "type"}),
		ToolExecutionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentworld_tool_executions_total",
			Help: "Tool executions by name and outcome.",
		}, []string{"tool_name", "status"}),
		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentworld_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		ActiveWorlds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentworld_active_worlds",
			Help: "Worlds with an active subscription.",
		}),
	}
	reg.MustRegister(
		m.LLMRequestCounter,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolExecutionCounter,
		m.ToolExecutionDuration,
		m.ActiveWorlds,
	)
	return m
}
